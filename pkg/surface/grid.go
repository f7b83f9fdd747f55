// Package surface defines the isosurface extraction contract and a marching
// cubes implementation of it.
package surface

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmsurface/internal/models"
)

// ErrGridSize is returned when a grid's value buffer does not match its
// dimensions.
var ErrGridSize = errors.New("grid values do not match dimensions")

// ErrGridSpacing is returned when a grid's sample step or origin is not a
// finite distance.
var ErrGridSpacing = errors.New("grid spacing must be finite and positive")

// Grid is a scalar field sampled on a regular lattice. Sample (i, j, k) sits
// at Origin + (i*Size[0]/Samples[0], j*Size[1]/Samples[1], k*Size[2]/Samples[2]).
type Grid struct {
	// Dims is the number of samples along X, Y and Z.
	Dims [3]int

	// Size is the physical extent along each axis.
	Size [3]float64

	// Samples is the sample count each extent is divided by.
	Samples [3]float64

	Origin r3.Vec

	// Values is X-fastest, then Y, then Z.
	Values []float64
}

// Extractor turns a scalar grid into a triangle mesh of its isosurface at
// threshold. An empty mesh is a valid result.
type Extractor interface {
	Extract(g Grid, threshold float64) (*models.Mesh, error)
}

// GridFromVolume describes values laid out over v's lattice and spacing.
// values is usually a smoothed copy of v.Data.
func GridFromVolume(v *models.Volume, values []float64) Grid {
	w, h, d := v.PhysicalSize()
	return Grid{
		Dims:    [3]int{v.Width, v.Height, v.Depth},
		Size:    [3]float64{w, h, d},
		Samples: [3]float64{float64(v.Width), float64(v.Height), float64(v.Depth)},
		Values:  values,
	}
}

// Validate checks the grid precondition len(Values) == cols*rows*slices.
func (g Grid) Validate() error {
	n := g.Dims[0] * g.Dims[1] * g.Dims[2]
	if g.Dims[0] <= 0 || g.Dims[1] <= 0 || g.Dims[2] <= 0 || len(g.Values) != n {
		return errors.Wrapf(ErrGridSize, "dims %dx%dx%d, got %d values",
			g.Dims[0], g.Dims[1], g.Dims[2], len(g.Values))
	}
	return nil
}

// CheckSpacing verifies that every sample step is finite and positive and
// the origin is finite.
func (g Grid) CheckSpacing() error {
	step := g.Step()
	for _, v := range []float64{step.X, step.Y, step.Z} {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrGridSpacing, "step %v", step)
		}
	}
	for _, v := range []float64{g.Origin.X, g.Origin.Y, g.Origin.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrGridSpacing, "origin %v", g.Origin)
		}
	}
	return nil
}

// Step is the physical distance between neighbouring samples on each axis.
func (g Grid) Step() r3.Vec {
	step := func(i int) float64 {
		if g.Samples[i] <= 0 {
			return 1
		}
		return g.Size[i] / g.Samples[i]
	}
	return r3.Vec{X: step(0), Y: step(1), Z: step(2)}
}

// Bounds returns the positions of the first and last samples.
func (g Grid) Bounds() (min, max r3.Vec) {
	step := g.Step()
	last := r3.Vec{
		X: float64(g.Dims[0]-1) * step.X,
		Y: float64(g.Dims[1]-1) * step.Y,
		Z: float64(g.Dims[2]-1) * step.Z,
	}
	return g.Origin, r3.Add(g.Origin, last)
}

func (g Grid) get(x, y, z int) float64 {
	return g.Values[x+g.Dims[0]*(y+z*g.Dims[1])]
}

// Interp returns the trilinearly interpolated value at physical position p.
// Positions outside the lattice are clamped to its border.
func (g Grid) Interp(p r3.Vec) float64 {
	step := g.Step()
	rel := r3.Sub(p, g.Origin)

	xs, xFracs := cellCoords(rel.X/step.X, g.Dims[0])
	ys, yFracs := cellCoords(rel.Y/step.Y, g.Dims[1])
	zs, zFracs := cellCoords(rel.Z/step.Z, g.Dims[2])

	var value float64
	for i, x := range xs {
		for j, y := range ys {
			for k, z := range zs {
				value += xFracs[i] * yFracs[j] * zFracs[k] * g.get(x, y, z)
			}
		}
	}
	return value
}

// cellCoords returns the two lattice indices around c and their weights.
func cellCoords(c float64, n int) (idx [2]int, fracs [2]float64) {
	if n == 1 || c <= 0 {
		return [2]int{0, 0}, [2]float64{1, 0}
	}
	if c >= float64(n-1) {
		return [2]int{n - 1, n - 1}, [2]float64{1, 0}
	}
	lo := int(math.Floor(c))
	hiFrac := c - float64(lo)
	return [2]int{lo, lo + 1}, [2]float64{1 - hiFrac, hiFrac}
}
