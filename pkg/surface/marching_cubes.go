package surface

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmsurface/internal/models"
)

const (
	// DefaultResolution is the marching cubes cell size as a multiple of the
	// finest voxel spacing.
	DefaultResolution = 1.0

	// DefaultSearchIters is the number of bisection steps used to place each
	// vertex on the isosurface.
	DefaultSearchIters = 8
)

// MarchingCubes extracts isosurfaces with model3d's marching cubes. A point
// is inside the surface when the interpolated field value is at least the
// threshold.
type MarchingCubes struct {
	Resolution  float64
	SearchIters int
}

// NewMarchingCubes creates an extractor with the default resolution.
func NewMarchingCubes() *MarchingCubes {
	return &MarchingCubes{
		Resolution:  DefaultResolution,
		SearchIters: DefaultSearchIters,
	}
}

// Extract implements Extractor.
func (mc *MarchingCubes) Extract(g Grid, threshold float64) (*models.Mesh, error) {
	if err := g.Validate(); err != nil {
		return nil, errors.Wrap(err, "extract surface")
	}
	if err := g.CheckSpacing(); err != nil {
		return nil, errors.Wrap(err, "extract surface")
	}

	min, max := g.Bounds()
	solid := model3d.CheckedFuncSolid(
		toCoord(min),
		toCoord(max),
		func(c model3d.Coord3D) bool {
			return g.Interp(r3.Vec{X: c.X, Y: c.Y, Z: c.Z}) >= threshold
		},
	)

	mesh := model3d.MarchingCubesSearch(solid, mc.delta(g), mc.iters())
	return indexTriangles(mesh.TriangleSlice()), nil
}

func (mc *MarchingCubes) delta(g Grid) float64 {
	resolution := mc.Resolution
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		resolution = DefaultResolution
	}
	step := g.Step()
	return resolution * math.Min(step.X, math.Min(step.Y, step.Z))
}

func (mc *MarchingCubes) iters() int {
	if mc.SearchIters < 0 {
		return 0
	}
	return mc.SearchIters
}

// indexTriangles converts a triangle soup into an indexed mesh, merging
// vertices shared between triangles.
func indexTriangles(triangles []*model3d.Triangle) *models.Mesh {
	mesh := &models.Mesh{
		Indices: make([]int, 0, len(triangles)*3),
	}
	seen := make(map[model3d.Coord3D]int, len(triangles))
	for _, t := range triangles {
		for _, c := range t {
			idx, ok := seen[c]
			if !ok {
				idx = len(mesh.Vertices)
				seen[c] = idx
				mesh.Vertices = append(mesh.Vertices, r3.Vec{X: c.X, Y: c.Y, Z: c.Z})
			}
			mesh.Indices = append(mesh.Indices, idx)
		}
	}
	return mesh
}

func toCoord(v r3.Vec) model3d.Coord3D {
	return model3d.XYZ(v.X, v.Y, v.Z)
}
