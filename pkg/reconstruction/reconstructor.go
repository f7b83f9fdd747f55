// Package reconstruction runs the slice-stack to surface-mesh pipeline:
// volume assembly, smoothing, threshold selection, isosurface extraction and
// STL output.
package reconstruction

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"dcmsurface/internal/models"
	"dcmsurface/pkg/slicesource"
	"dcmsurface/pkg/smoothing"
	"dcmsurface/pkg/stl"
	"dcmsurface/pkg/surface"
	"dcmsurface/pkg/threshold"
	"dcmsurface/pkg/volume"
)

// DefaultSmoothSigma is the Gaussian sigma, in voxels, used when none is
// configured.
const DefaultSmoothSigma = 1.0

// Params holds the reconstruction parameters for one slice group.
type Params struct {
	// Name identifies the group in logs and reports.
	Name string

	// Slices is the stack, already sorted along the reconstruction axis.
	Slices []slicesource.Slice

	// OutputFile is the path where the resulting mesh will be saved in STL
	// format. Its directory is created if needed.
	OutputFile string

	// MinSlices is the minimum stack size; values <= 0 use
	// volume.DefaultMinSlices.
	MinSlices int

	// SmoothSigma is the Gaussian sigma in voxels. Zero or negative disables
	// smoothing.
	SmoothSigma float64

	// IsoLevel overrides automatic Otsu threshold selection when set.
	IsoLevel *float64

	// SaveIntermediaryResults determines whether to save intermediary processing results.
	// When enabled, volume sections and the intensity histogram are written
	// to IntermediaryDir.
	SaveIntermediaryResults bool
	IntermediaryDir         string

	// Extractor produces the isosurface. Nil uses surface.NewMarchingCubes().
	Extractor surface.Extractor
}

// Metrics summarizes one reconstruction.
type Metrics struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Depth  int `yaml:"depth"`

	// Spacing is the voxel size in mm along X, Y and Z.
	Spacing [3]float64 `yaml:"spacing,flow"`

	// Mean and StdDev describe the intensities the threshold was chosen on.
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stddev"`

	Threshold     float64 `yaml:"threshold"`
	AutoThreshold bool    `yaml:"auto_threshold"`

	Vertices  int `yaml:"vertices"`
	Triangles int `yaml:"triangles"`

	OutputBytes int64         `yaml:"output_bytes"`
	Duration    time.Duration `yaml:"duration"`
}

// EmptyMeshError is returned when the isosurface at Threshold has no
// triangles. No output file is written in that case.
type EmptyMeshError struct {
	Threshold float64
}

func (e *EmptyMeshError) Error() string {
	return fmt.Sprintf("marching cubes produced no triangles; try adjusting the iso level (current: %.2f)", e.Threshold)
}

// Reconstructor turns one slice group into an STL surface.
type Reconstructor struct {
	params *Params

	// volume holds the assembled intensities, smoothed holds the values the
	// surface was extracted from
	volume   *models.Volume
	smoothed *models.Volume

	metrics Metrics
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{params: params}
}

// Process runs the complete reconstruction pipeline
func (r *Reconstructor) Process() error {
	start := time.Now()
	p := r.params

	// Step 1: assemble the volume
	Logf("[%s] building 3D volume from %d slices", p.Name, len(p.Slices))
	vol, err := volume.Assemble(p.Slices, volume.Options{MinSlices: p.MinSlices})
	if err != nil {
		return err
	}
	r.volume = vol
	r.metrics.Width, r.metrics.Height, r.metrics.Depth = vol.Width, vol.Height, vol.Depth
	r.metrics.Spacing = [3]float64{vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z}
	Logf("[%s] volume: %dx%dx%d (spacing: %.2fx%.2fx%.2f mm)", p.Name,
		vol.Width, vol.Height, vol.Depth, vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z)

	// Step 2: smooth
	r.smoothed = vol
	if p.SmoothSigma > 0 {
		Logf("[%s] applying Gaussian smoothing (sigma=%.2f)", p.Name, p.SmoothSigma)
		r.smoothed = smoothing.SmoothVolume(vol, p.SmoothSigma)
	}
	r.metrics.Mean, r.metrics.StdDev = stat.MeanStdDev(r.smoothed.Data, nil)

	// Step 3: choose the iso level
	if p.IsoLevel != nil {
		r.metrics.Threshold = *p.IsoLevel
		Logf("[%s] using user-specified iso level: %.2f", p.Name, r.metrics.Threshold)
	} else {
		r.metrics.Threshold = threshold.Otsu(r.smoothed.Data)
		r.metrics.AutoThreshold = true
		Logf("[%s] auto-detected Otsu threshold: %.2f", p.Name, r.metrics.Threshold)
	}

	if p.SaveIntermediaryResults {
		if err := r.saveIntermediaryResults(); err != nil {
			Logf("[%s] warning: failed to save intermediary results: %v", p.Name, err)
		}
	}

	// Step 4: extract the surface
	extractor := p.Extractor
	if extractor == nil {
		extractor = surface.NewMarchingCubes()
	}
	Logf("[%s] running marching cubes", p.Name)
	mesh, err := extractor.Extract(surface.GridFromVolume(r.smoothed, r.smoothed.Data), r.metrics.Threshold)
	if err != nil {
		return fmt.Errorf("surface extraction failed: %w", err)
	}
	if mesh == nil {
		return fmt.Errorf("surface extraction failed: %w: extractor returned no mesh", models.ErrMalformedMesh)
	}
	if err := mesh.Validate(); err != nil {
		return fmt.Errorf("surface extraction failed: %w", err)
	}
	r.metrics.Vertices = len(mesh.Vertices)
	r.metrics.Triangles = mesh.TriangleCount()
	if r.metrics.Triangles == 0 {
		return &EmptyMeshError{Threshold: r.metrics.Threshold}
	}
	Logf("[%s] mesh: %d vertices, %d triangles", p.Name, r.metrics.Vertices, r.metrics.Triangles)

	// Step 5: write the STL
	if dir := filepath.Dir(p.OutputFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := stl.WriteMesh(p.OutputFile, mesh); err != nil {
		return err
	}
	r.metrics.OutputBytes = stl.FileSize(r.metrics.Triangles)
	r.metrics.Duration = time.Since(start)
	Logf("[%s] STL saved to %s (%s) in %v", p.Name, p.OutputFile,
		humanize.Bytes(uint64(r.metrics.OutputBytes)), r.metrics.Duration.Round(time.Millisecond))

	return nil
}

// GetMetrics returns the metrics of the last Process call.
func (r *Reconstructor) GetMetrics() Metrics {
	return r.metrics
}

// GetVolumeData returns the volume the surface was extracted from, which is
// the smoothed volume when smoothing is enabled. It is nil before Process has
// assembled the stack.
func (r *Reconstructor) GetVolumeData() *models.Volume {
	return r.smoothed
}
