// Package visualization renders orthogonal sections of an intensity volume
// as grayscale images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"dcmsurface/internal/models"
)

// Viewer extracts and saves 2D sections of a volume.
type Viewer struct {
	volume *models.Volume
}

// NewViewer creates a viewer over vol. The volume is read, never modified.
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{volume: vol}
}

// axisLength returns the number of sections along axis.
func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Width, nil
	case "y", "Y":
		return v.volume.Height, nil
	case "z", "Z":
		return v.volume.Depth, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts the 2D section at position along axis. X sections
// are laid out Z by Y, Y sections X by Z and Z sections X by Y. Intensities
// are clamped to 0-255.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	length, err := v.axisLength(axis)
	if err != nil {
		return nil, err
	}
	if position >= length {
		return nil, fmt.Errorf("position %d exceeds %s extent %d", position, axis, length)
	}

	vol := v.volume
	var img *image.Gray
	switch axis {
	case "x", "X":
		img = image.NewGray(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray(z, y, toGray(vol.At(position, y, z)))
			}
		}
	case "y", "Y":
		img = image.NewGray(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray(x, z, toGray(vol.At(x, position, z)))
			}
		}
	default:
		img = image.NewGray(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray(x, y, toGray(vol.At(x, y, position)))
			}
		}
	}

	return img, nil
}

func toGray(value float64) color.Gray {
	return color.Gray{Y: uint8(math.Max(0, math.Min(255, math.Round(value))))}
}

// ExtractRegion copies a box of voxels into a new volume with the same
// spacing.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.Volume, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	vol := v.volume
	if startX+sizeX > vol.Width || startY+sizeY > vol.Height || startZ+sizeZ > vol.Depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := models.NewVolume(sizeX, sizeY, sizeZ)
	region.VoxelSize = vol.VoxelSize
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			src := vol.Index(startX, startY+y, startZ+z)
			dst := region.Index(0, y, z)
			copy(region.Data[dst:dst+sizeX], vol.Data[src:src+sizeX])
		}
	}

	return region, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every section along axis as
// slice_<axis>_NNN.jpg in outputDir.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	length, err := v.axisLength(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < length; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
