package reconstruction

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dcmsurface/internal/models"
	"dcmsurface/pkg/slicesource"
	"dcmsurface/pkg/surface"
	"dcmsurface/pkg/visualization"
)

// BatchOptions configures RunGroups. Every group gets its own Params built
// from these settings.
type BatchOptions struct {
	// OutputDir receives one <name>/<name>.stl per group, where name is the
	// sanitized group ID made unique within the batch.
	OutputDir string

	// NumCores bounds the number of groups processed at once. Values <= 0
	// use runtime.NumCPU().
	NumCores int

	MinSlices   int
	SmoothSigma float64
	IsoLevel    *float64

	SaveIntermediaryResults bool
	IntermediaryDir         string

	// SlicesDir receives x, y and z sections of each successfully
	// reconstructed volume under <SlicesDir>/<name>/<axis> when set.
	SlicesDir string

	Extractor surface.Extractor
}

// GroupResult is the outcome of one group in a batch.
type GroupResult struct {
	Name       string
	Slices     int
	OutputFile string
	Metrics    Metrics
	Err        error
}

// unnamedGroup replaces group names that cannot be used as a directory.
const unnamedGroup = "unnamed"

// groupDirName is the directory name used for a group's outputs.
func groupDirName(name string) string {
	name = slicesource.SanitizeName(name)
	switch name {
	case "", ".", "..":
		return unnamedGroup
	}
	return name
}

// OutputPath is where RunGroups writes the mesh of group name when no other
// group in the batch maps to the same directory.
func OutputPath(outputDir, name string) string {
	name = groupDirName(name)
	return filepath.Join(outputDir, name, name+".stl")
}

// uniqueDirNames assigns every group its own directory name. Later groups
// whose name collides with an earlier one, ignoring case, get a numeric
// suffix.
func uniqueDirNames(groups []slicesource.Group) []string {
	names := make([]string, len(groups))
	used := make(map[string]bool, len(groups))
	for i, g := range groups {
		base := groupDirName(g.ID)
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

// RunGroups reconstructs every group. A failing group is logged and recorded
// in its result while the others continue. Results are returned in the order
// of groups. Groups not yet started when ctx is cancelled fail with the
// context error.
func RunGroups(ctx context.Context, groups []slicesource.Group, opts BatchOptions) []GroupResult {
	results := make([]GroupResult, len(groups))
	dirNames := uniqueDirNames(groups)

	numCores := opts.NumCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(numCores)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			results[i] = runGroup(ctx, group, dirNames[i], opts)
			return nil
		})
	}
	g.Wait()

	return results
}

func runGroup(ctx context.Context, group slicesource.Group, dirName string, opts BatchOptions) GroupResult {
	result := GroupResult{
		Name:       group.ID,
		Slices:     len(group.Slices),
		OutputFile: filepath.Join(opts.OutputDir, dirName, dirName+".stl"),
	}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	params := &Params{
		Name:                    group.ID,
		Slices:                  group.Slices,
		OutputFile:              result.OutputFile,
		MinSlices:               opts.MinSlices,
		SmoothSigma:             opts.SmoothSigma,
		IsoLevel:                opts.IsoLevel,
		SaveIntermediaryResults: opts.SaveIntermediaryResults,
		IntermediaryDir:         filepath.Join(opts.IntermediaryDir, dirName),
		Extractor:               opts.Extractor,
	}

	start := time.Now()
	r := NewReconstructor(params)
	if err := r.Process(); err != nil {
		Logf("[%s] failed after %v: %v", group.ID, time.Since(start).Round(time.Millisecond), err)
		result.Err = err
	}
	result.Metrics = r.GetMetrics()

	if result.Err == nil && opts.SlicesDir != "" {
		dir := filepath.Join(opts.SlicesDir, dirName)
		if err := saveSections(r.GetVolumeData(), dir); err != nil {
			Logf("[%s] warning: failed to save slices: %v", group.ID, err)
		}
	}
	return result
}

// saveSections writes every section of vol along each axis to dir/<axis>.
func saveSections(vol *models.Volume, dir string) error {
	viewer := visualization.NewViewer(vol)
	for _, axis := range []string{"x", "y", "z"} {
		if err := viewer.SaveSliceSequence(axis, filepath.Join(dir, axis)); err != nil {
			return err
		}
	}
	return nil
}

// Failed counts the results that carry an error.
func Failed(results []GroupResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
