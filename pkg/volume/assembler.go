// Package volume assembles an ordered stack of 2D slices into a dense 3D
// intensity volume with physical voxel spacing.
package volume

import (
	"fmt"
	"math"

	"dcmsurface/internal/models"
	"dcmsurface/pkg/slicesource"
)

const (
	// DefaultMinSlices is the minimum number of slices required for a
	// meaningful 3D reconstruction.
	DefaultMinSlices = 5

	// DefaultPixelSpacing is used when in-plane spacing is unavailable (mm).
	DefaultPixelSpacing = 1.0

	// DefaultSliceThickness is used when neither slice positions nor
	// thickness are available (mm).
	DefaultSliceThickness = 1.0
)

// Options configures assembly.
type Options struct {
	// MinSlices is the minimum stack size; values <= 0 use DefaultMinSlices.
	MinSlices int
}

// InsufficientSlicesError reports a stack too small to reconstruct.
type InsufficientSlicesError struct {
	Got, Required int
}

func (e *InsufficientSlicesError) Error() string {
	return fmt.Sprintf("need at least %d slices for 3D reconstruction, got %d", e.Required, e.Got)
}

// InvalidDimensionsError reports a first slice with zero rows or columns.
type InvalidDimensionsError struct {
	SliceID    string
	Rows, Cols int
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("invalid image dimensions %dx%d in %s", e.Cols, e.Rows, e.SliceID)
}

// DimensionMismatchError reports a slice whose decoded size differs from the
// first slice of the stack.
type DimensionMismatchError struct {
	Index              int
	SliceID            string
	WantRows, WantCols int
	GotRows, GotCols   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch in slice %d (%s): expected %dx%d, got %dx%d",
		e.Index, e.SliceID, e.WantCols, e.WantRows, e.GotCols, e.GotRows)
}

// PixelCountError reports a decoded slice whose pixel buffer does not hold
// rows*cols values.
type PixelCountError struct {
	Index     int
	SliceID   string
	Got, Want int
}

func (e *PixelCountError) Error() string {
	return fmt.Sprintf("slice %d (%s) has %d pixels, expected %d", e.Index, e.SliceID, e.Got, e.Want)
}

// Assemble packs the slices, already sorted along the reconstruction axis,
// into a volume. The first slice's dimensions are canonical.
func Assemble(slices []slicesource.Slice, opts Options) (*models.Volume, error) {
	minSlices := opts.MinSlices
	if minSlices <= 0 {
		minSlices = DefaultMinSlices
	}
	if len(slices) < minSlices {
		return nil, &InsufficientSlicesError{Got: len(slices), Required: minSlices}
	}

	first := slices[0]
	rows, cols, err := first.Dimensions()
	if err != nil {
		return nil, fmt.Errorf("failed to read dimensions of %s: %w", first.ID(), err)
	}
	if rows <= 0 || cols <= 0 {
		return nil, &InvalidDimensionsError{SliceID: first.ID(), Rows: rows, Cols: cols}
	}

	vol := models.NewVolume(cols, rows, len(slices))
	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = ResolveSpacing(slices)

	sliceSize := cols * rows
	for z, s := range slices {
		gray, err := s.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to decode slice %d (%s): %w", z, s.ID(), err)
		}
		if gray.Rows != rows || gray.Cols != cols {
			return nil, &DimensionMismatchError{
				Index:    z,
				SliceID:  s.ID(),
				WantRows: rows,
				WantCols: cols,
				GotRows:  gray.Rows,
				GotCols:  gray.Cols,
			}
		}

		if len(gray.Pix) != sliceSize {
			return nil, &PixelCountError{Index: z, SliceID: s.ID(), Got: len(gray.Pix), Want: sliceSize}
		}

		// Grayscale is row-major, so each row is already X-fastest.
		copy(vol.Data[z*sliceSize:(z+1)*sliceSize], gray.Pix)
	}

	return vol, nil
}

// ResolveSpacing derives the physical voxel spacing of a stack. It never
// fails: missing or unparsable metadata falls back to the defaults.
func ResolveSpacing(slices []slicesource.Slice) (x, y, z float64) {
	x, y, z = DefaultPixelSpacing, DefaultPixelSpacing, DefaultSliceThickness
	if len(slices) == 0 {
		return x, y, z
	}

	// PixelSpacing is row spacing (Y) then column spacing (X).
	if raw, ok := slices[0].Lookup(slicesource.PixelSpacing); ok {
		if parts, ok := slicesource.ParseNumbers(raw); ok && len(parts) >= 2 {
			if validSpacing(parts[0]) {
				y = parts[0]
			}
			if validSpacing(parts[1]) {
				x = parts[1]
			}
		}
	}

	if spacing, ok := positionSpacing(slices); ok {
		return x, y, spacing
	}
	if raw, ok := slices[0].Lookup(slicesource.SliceThickness); ok {
		if parts, ok := slicesource.ParseNumbers(raw); ok && validSpacing(parts[0]) {
			z = parts[0]
		}
	}
	return x, y, z
}

func positionSpacing(slices []slicesource.Slice) (float64, bool) {
	if len(slices) < 2 {
		return 0, false
	}
	z0, ok := slicesource.PositionZ(slices[0])
	if !ok {
		return 0, false
	}
	z1, ok := slicesource.PositionZ(slices[1])
	if !ok {
		return 0, false
	}
	spacing := math.Abs(z1 - z0)
	if !validSpacing(spacing) {
		return 0, false
	}
	return spacing, true
}

// validSpacing reports whether v is a usable physical distance.
func validSpacing(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
