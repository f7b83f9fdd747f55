// Package slicesource defines how 2D slices are read for reconstruction and
// provides DICOM and plain image-file implementations.
package slicesource

import (
	"image"
	"image/color"
	"strconv"
	"strings"
)

// Attribute names an optional piece of per-slice metadata.
type Attribute int

const (
	// PixelSpacing is the in-plane spacing as "row\col" in mm.
	PixelSpacing Attribute = iota
	// SliceThickness is the nominal slice thickness in mm.
	SliceThickness
	// ImagePosition is the patient-space position of the slice origin as "x\y\z".
	ImagePosition
)

func (a Attribute) String() string {
	switch a {
	case PixelSpacing:
		return "PixelSpacing"
	case SliceThickness:
		return "SliceThickness"
	case ImagePosition:
		return "ImagePosition"
	}
	return "Attribute(" + strconv.Itoa(int(a)) + ")"
}

// Slice is a single 2D image in a stack.
type Slice interface {
	// ID identifies the slice in error messages and logs, usually its path.
	ID() string

	// Dimensions returns the pixel dimensions without decoding pixel data.
	Dimensions() (rows, cols int, err error)

	// Decode returns the grayscale intensities of the slice.
	Decode() (*Grayscale, error)

	// Lookup returns the raw value of a metadata attribute. Multi-valued
	// attributes are separated by a backslash.
	Lookup(attr Attribute) (string, bool)
}

// Grayscale is a decoded slice with intensities in the 0-255 range, stored
// row-major.
type Grayscale struct {
	Rows, Cols int
	Pix        []float64
}

// At returns the intensity at (row, col).
func (g *Grayscale) At(row, col int) float64 {
	return g.Pix[row*g.Cols+col]
}

// ToGrayscale converts an image to 0-255 intensities. 8-bit gray images keep
// their values; anything wider is rescaled linearly from its own min..max.
func ToGrayscale(img image.Image) *Grayscale {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	g := &Grayscale{
		Rows: height,
		Cols: width,
		Pix:  make([]float64, width*height),
	}

	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g.Pix[y*width+x] = float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return g
	}

	lo, hi := 65535.0, 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := float64(color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16).Y)
			g.Pix[y*width+x] = v
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if hi <= lo {
		// flat image: map into the 8-bit range without stretching
		for i := range g.Pix {
			g.Pix[i] /= 257
		}
		return g
	}
	scale := 255 / (hi - lo)
	for i, v := range g.Pix {
		g.Pix[i] = (v - lo) * scale
	}
	return g
}

// ParseNumbers parses a backslash-separated list of decimal values. Entries
// that do not parse are skipped; ok is false when nothing parsed.
func ParseNumbers(s string) ([]float64, bool) {
	var out []float64
	for _, part := range strings.Split(s, `\`) {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, len(out) > 0
}

// PositionZ returns the third component of the slice's image position.
func PositionZ(s Slice) (float64, bool) {
	raw, ok := s.Lookup(ImagePosition)
	if !ok {
		return 0, false
	}
	coords, ok := ParseNumbers(raw)
	if !ok || len(coords) < 3 {
		return 0, false
	}
	return coords[2], true
}
