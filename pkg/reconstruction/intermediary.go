package reconstruction

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"dcmsurface/pkg/threshold"
	"dcmsurface/pkg/visualization"
)

// saveIntermediaryResults writes the raw and smoothed z-sections and the
// intensity histogram with the chosen threshold marked.
func (r *Reconstructor) saveIntermediaryResults() error {
	dir := r.params.IntermediaryDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}

	Logf("[%s] saving original slices", r.params.Name)
	if err := visualization.NewViewer(r.volume).SaveSliceSequence("z", filepath.Join(dir, "01_original_slices")); err != nil {
		return err
	}
	if r.smoothed != r.volume {
		Logf("[%s] saving smoothed slices", r.params.Name)
		if err := visualization.NewViewer(r.smoothed).SaveSliceSequence("z", filepath.Join(dir, "02_smoothed_slices")); err != nil {
			return err
		}
	}

	return r.saveHistogram(filepath.Join(dir, "03_histogram.png"))
}

// saveHistogram plots the threshold histogram of the smoothed intensities.
func (r *Reconstructor) saveHistogram(filename string) error {
	counts, min, _, scale := threshold.Histogram(r.smoothed.Data, threshold.Bins)

	pts := make(plotter.XYs, len(counts))
	var peak float64
	for i, c := range counts {
		x := min
		if scale > 0 {
			x += float64(i) / scale
		}
		pts[i] = plotter.XY{X: x, Y: float64(c)}
		if float64(c) > peak {
			peak = float64(c)
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Intensity Histogram", r.params.Name)
	p.X.Label.Text = "Intensity"
	p.Y.Label.Text = "Voxels"

	hist, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	hist.Width = vg.Points(1)
	p.Add(hist)
	p.Legend.Add("voxels", hist)

	marker, err := plotter.NewLine(plotter.XYs{
		{X: r.metrics.Threshold, Y: 0},
		{X: r.metrics.Threshold, Y: peak},
	})
	if err != nil {
		return err
	}
	marker.Color = color.RGBA{R: 220, A: 255}
	marker.Width = vg.Points(1)
	p.Add(marker)
	p.Legend.Add(fmt.Sprintf("threshold %.2f", r.metrics.Threshold), marker)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(10*vg.Inch, 5*vg.Inch, filename)
}
