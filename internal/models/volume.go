package models

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformedMesh is returned when a mesh's index buffer does not describe
// whole triangles over its vertex buffer.
var ErrMalformedMesh = errors.New("malformed mesh")

// Volume represents a 3D volume assembled from stacked 2D slices
type Volume struct {
	// Data is the 3D volume data as a 1D array, X varying fastest, then Y, then Z.
	// Intensities are conventionally in the 0-255 range.
	Data []float64

	// Width is the number of columns (X)
	Width int

	// Height is the number of rows (Y)
	Height int

	// Depth is the number of slices (Z)
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zeroed volume with unit voxel spacing.
func NewVolume(width, height, depth int) *Volume {
	v := &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v
}

// Index returns the offset of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return x + y*v.Width + z*v.Width*v.Height
}

// At returns the intensity of voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Len is the number of voxels the dimensions describe.
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// PhysicalSize returns the extent of the volume in mm along each axis.
func (v *Volume) PhysicalSize() (w, h, d float64) {
	return float64(v.Width) * v.VoxelSize.X,
		float64(v.Height) * v.VoxelSize.Y,
		float64(v.Depth) * v.VoxelSize.Z
}

// WithData returns a copy of the volume header pointing at a different
// intensity buffer of the same length.
func (v *Volume) WithData(data []float64) *Volume {
	out := *v
	out.Data = data
	return &out
}

// Mesh is an indexed triangle mesh. Each consecutive triple in Indices names
// one triangle.
type Mesh struct {
	Vertices []r3.Vec
	Indices  []int
}

// TriangleCount returns the number of whole triangles described by Indices.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Validate checks that the index buffer is a whole number of triples and
// that every index refers to an existing vertex.
func (m *Mesh) Validate() error {
	if len(m.Indices)%3 != 0 {
		return ErrMalformedMesh
	}
	for _, idx := range m.Indices {
		if idx < 0 || idx >= len(m.Vertices) {
			return ErrMalformedMesh
		}
	}
	return nil
}
