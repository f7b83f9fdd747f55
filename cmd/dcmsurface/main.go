package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/lumberjack"
	"github.com/unixpickle/essentials"

	"dcmsurface/pkg/config"
	"dcmsurface/pkg/reconstruction"
	"dcmsurface/pkg/slicesource"
	"dcmsurface/pkg/surface"
)

func main() {
	defaults := config.DefaultConfig()

	// Parse command line arguments
	configPath := flag.String("config", "", "YAML or TOML configuration file")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this path and exit")
	inputDir := flag.String("input", "", "Directory containing DICOM files or 2D image slices")
	outputDir := flag.String("output", defaults.Output.Dir, "Directory to write one STL per series into")
	numCores := flag.Int("cores", defaults.Processing.NumCores, "Number of series to reconstruct in parallel")
	smooth := flag.Float64("smooth", defaults.Processing.SmoothSigma, "Gaussian smoothing sigma in voxels (0 disables)")
	isoLevel := flag.String("iso-level", "", "Surface threshold (empty selects it with Otsu's method)")
	minSlices := flag.Int("min-slices", defaults.Processing.MinSlices, "Minimum number of slices per series")
	splitBy := flag.String("split-by", defaults.Input.SplitBy,
		"DICOM attribute used to split series: series-number, series-uid, acquisition-number, description, orientation, stack-id")
	sliceGap := flag.Float64("gap", defaults.Processing.SliceGap, "Slice thickness in mm for JPEG/PNG inputs")
	resolution := flag.Float64("resolution", defaults.Extraction.Resolution, "Marching cubes cell size relative to the finest voxel spacing")
	saveIntermediary := flag.Bool("save-intermediary", defaults.Output.SaveIntermediaryResults, "Save intermediary results during processing")
	intermediaryDir := flag.String("intermediary-dir", defaults.Output.IntermediaryDir, "Directory to save intermediary results")
	slicesDir := flag.String("slices-dir", "", "Save x, y and z sections of each reconstructed volume to this directory")
	reportPath := flag.String("report", "", "Write a YAML run report to this path")
	logFile := flag.String("log-file", "", "Also write log messages to this rotating file")
	flag.Parse()

	if *writeConfig != "" {
		essentials.Must(config.CreateDefaultConfigFile(*writeConfig))
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	cfg := defaults
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		essentials.Must(err)
	}

	// Flags given on the command line override the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output.Dir = *outputDir
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "smooth":
			cfg.Processing.SmoothSigma = *smooth
		case "iso-level":
			if *isoLevel == "" {
				cfg.Processing.IsoLevel = nil
				return
			}
			level, err := strconv.ParseFloat(*isoLevel, 64)
			if err != nil {
				essentials.Die("invalid -iso-level:", err)
			}
			cfg.Processing.IsoLevel = &level
		case "min-slices":
			cfg.Processing.MinSlices = *minSlices
		case "split-by":
			cfg.Input.SplitBy = *splitBy
		case "gap":
			cfg.Processing.SliceGap = *sliceGap
		case "resolution":
			cfg.Extraction.Resolution = *resolution
		case "save-intermediary":
			cfg.Output.SaveIntermediaryResults = *saveIntermediary
		case "intermediary-dir":
			cfg.Output.IntermediaryDir = *intermediaryDir
		case "slices-dir":
			cfg.Output.SlicesDir = *slicesDir
		case "report":
			cfg.Output.Report = *reportPath
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	essentials.Must(cfg.Validate())

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	setupLogging(cfg)

	groups, err := slicesource.Discover(*inputDir, slicesource.DiscoverOptions{
		SplitBy:  slicesource.SplitBy(cfg.Input.SplitBy),
		SliceGap: cfg.Processing.SliceGap,
	})
	essentials.Must(err)
	if len(groups) == 0 {
		essentials.Die("No DICOM or image files found in", *inputDir)
	}
	log.Printf("Found %d series in %s", len(groups), *inputDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	results := reconstruction.RunGroups(ctx, groups, reconstruction.BatchOptions{
		OutputDir:               cfg.Output.Dir,
		NumCores:                cfg.Processing.NumCores,
		MinSlices:               cfg.Processing.MinSlices,
		SmoothSigma:             cfg.Processing.SmoothSigma,
		IsoLevel:                cfg.Processing.IsoLevel,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
		SlicesDir:               cfg.Output.SlicesDir,
		Extractor: &surface.MarchingCubes{
			Resolution:  cfg.Extraction.Resolution,
			SearchIters: cfg.Extraction.SearchIters,
		},
	})

	printSummary(results, time.Since(startTime))

	if cfg.Output.Report != "" {
		report, err := reconstruction.WriteReport(cfg.Output.Report, results)
		if err != nil {
			log.Printf("Warning: %v", err)
		} else {
			fmt.Printf("Run report %s written to %s\n", report.RunID, cfg.Output.Report)
		}
	}

	if reconstruction.Failed(results) > 0 {
		os.Exit(1)
	}
}

// setupLogging sends log messages to stdout and, when configured, to a
// rotating log file. Progress messages are muted unless verbose.
func setupLogging(cfg *config.Config) {
	log.SetOutput(os.Stdout)
	if cfg.Log.File != "" {
		fmt.Printf("Sending log messages to: %s\n", cfg.Log.File)
		l := &lumberjack.Logger{
			Filename: cfg.Log.File,
			MaxSize:  cfg.Log.MaxSize, // megabytes
			MaxAge:   cfg.Log.MaxAge,  // days
		}
		log.SetOutput(io.MultiWriter(os.Stdout, l))
	}
	if !cfg.Output.Verbose {
		reconstruction.SetLogger(nil)
	}
}

func printSummary(results []reconstruction.GroupResult, elapsed time.Duration) {
	fmt.Println("================================")
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("✗ %s (%d slices): %v\n", res.Name, res.Slices, res.Err)
			continue
		}
		m := res.Metrics
		fmt.Printf("✓ %s (%d slices): %d triangles, threshold %.2f, %s -> %s\n",
			res.Name, res.Slices, m.Triangles, m.Threshold,
			humanize.Bytes(uint64(m.OutputBytes)), res.OutputFile)
	}
	failed := reconstruction.Failed(results)
	fmt.Printf("%d of %d series reconstructed in %.2f seconds\n",
		len(results)-failed, len(results), elapsed.Seconds())
}
