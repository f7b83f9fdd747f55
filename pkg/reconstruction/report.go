package reconstruction

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Report is the YAML summary of a batch run.
type Report struct {
	RunID     string        `yaml:"run_id"`
	CreatedAt time.Time     `yaml:"created_at"`
	Groups    []GroupReport `yaml:"groups"`
	Failed    int           `yaml:"failed"`
}

// GroupReport is one group's entry in a Report.
type GroupReport struct {
	Name    string   `yaml:"name"`
	Slices  int      `yaml:"slices"`
	Output  string   `yaml:"output,omitempty"`
	Status  string   `yaml:"status"`
	Error   string   `yaml:"error,omitempty"`
	Metrics *Metrics `yaml:"metrics,omitempty"`
}

// NewReport builds a report for results under a fresh run id.
func NewReport(results []GroupResult) *Report {
	report := &Report{
		RunID:     uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Groups:    make([]GroupReport, 0, len(results)),
		Failed:    Failed(results),
	}
	for _, res := range results {
		entry := GroupReport{
			Name:   res.Name,
			Slices: res.Slices,
			Status: "ok",
		}
		if res.Err != nil {
			entry.Status = "failed"
			entry.Error = res.Err.Error()
		} else {
			m := res.Metrics
			entry.Output = res.OutputFile
			entry.Metrics = &m
		}
		report.Groups = append(report.Groups, entry)
	}
	return report
}

// WriteReport saves a YAML report of results to path.
func WriteReport(path string, results []GroupResult) (*Report, error) {
	report := NewReport(results)
	data, err := yaml.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return report, nil
}
