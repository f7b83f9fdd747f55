// Package smoothing implements separable 3D Gaussian denoising of volumes.
package smoothing

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"dcmsurface/internal/models"
)

// GaussianKernel builds a normalized 1D Gaussian kernel of radius ceil(3*sigma),
// which covers 99.7% of the distribution.
func GaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	size := 2*radius + 1
	kernel := make([]float64, size)

	twoSigmaSq := 2 * sigma * sigma
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / twoSigmaSq)
	}

	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// axis describes how to step along one dimension of a flat X-fastest volume.
type axis struct {
	dim    int // 0 for X, 1 for Y, 2 for Z
	length int // number of samples along the axis
	stride int // index distance between neighbours along the axis
}

// Smooth3D applies a Gaussian blur as three 1D passes along X, then Y, then Z.
// At the borders only in-range taps contribute and the result is divided by
// the weight actually used, so edges are not darkened. The input is never
// modified; sigma <= 0 returns an unmodified copy.
func Smooth3D(values []float64, cols, rows, slices int, sigma float64) []float64 {
	if sigma <= 0 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}

	kernel := GaussianKernel(sigma)
	passX := convolveAxis(values, cols, rows, slices, axis{dim: 0, length: cols, stride: 1}, kernel)
	passY := convolveAxis(passX, cols, rows, slices, axis{dim: 1, length: rows, stride: cols}, kernel)
	return convolveAxis(passY, cols, rows, slices, axis{dim: 2, length: slices, stride: cols * rows}, kernel)
}

// convolveAxis runs one 1D pass into a fresh buffer.
func convolveAxis(src []float64, cols, rows, slices int, ax axis, kernel []float64) []float64 {
	dst := make([]float64, len(src))
	half := len(kernel) / 2

	for z := 0; z < slices; z++ {
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				idx := x + y*cols + z*cols*rows
				pos := [3]int{x, y, z}[ax.dim]

				var sum, weight float64
				for k, w := range kernel {
					p := pos + k - half
					if p < 0 || p >= ax.length {
						continue
					}
					sum += src[idx+(p-pos)*ax.stride] * w
					weight += w
				}
				dst[idx] = sum / weight
			}
		}
	}

	return dst
}

// SmoothVolume returns a new volume with smoothed intensities and the same
// dimensions and spacing.
func SmoothVolume(v *models.Volume, sigma float64) *models.Volume {
	return v.WithData(Smooth3D(v.Data, v.Width, v.Height, v.Depth, sigma))
}
