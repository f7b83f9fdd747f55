package slicesource

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
)

// ImageSlice is a slice stored as an ordinary JPEG or PNG file. Such files
// carry no spacing metadata; a slice thickness may be supplied by the caller.
type ImageSlice struct {
	path string

	// Thickness is reported as SliceThickness when positive.
	Thickness float64
}

// NewImageSlice returns a slice backed by the image file at path.
func NewImageSlice(path string, thickness float64) *ImageSlice {
	return &ImageSlice{path: path, Thickness: thickness}
}

// ID returns the file path.
func (s *ImageSlice) ID() string { return s.path }

// Dimensions decodes only the image header.
func (s *ImageSlice) Dimensions() (int, int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header %s: %w", s.path, err)
	}
	return cfg.Height, cfg.Width, nil
}

// Decode loads the image and converts it to grayscale.
func (s *ImageSlice) Decode() (*Grayscale, error) {
	img, err := loadImage(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", s.path, err)
	}
	return ToGrayscale(img), nil
}

// Lookup only knows SliceThickness, and only when one was configured.
func (s *ImageSlice) Lookup(attr Attribute) (string, bool) {
	if attr == SliceThickness && s.Thickness > 0 {
		return strconv.FormatFloat(s.Thickness, 'g', -1, 64), true
	}
	return "", false
}

// loadImage loads an image from a file
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	return img, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}
