// Package threshold selects isosurface levels from volume intensities.
package threshold

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Bins is the number of histogram bins used by Otsu.
const Bins = 256

// machineEpsilon is the float64 unit roundoff used to detect variance ties.
const machineEpsilon = 0x1p-52

// Histogram counts values into bins equal-width bins spanning [min, max]. The
// scale maps a value to its bin as (v-min)*scale; it is zero when all values
// are equal, in which case every value falls into bin 0.
func Histogram(values []float64, bins int) (counts []uint64, min, max, scale float64) {
	counts = make([]uint64, bins)
	if len(values) == 0 {
		return counts, 0, 0, 0
	}
	min, max = floats.Min(values), floats.Max(values)
	if max > min {
		scale = float64(bins-1) / (max - min)
	}
	for _, v := range values {
		bin := int((v - min) * scale)
		if bin >= bins {
			bin = bins - 1
		}
		counts[bin]++
	}
	return counts, min, max, scale
}

// Otsu returns the threshold maximizing the between-class variance of a
// two-class split of values. Empty input yields 0 and a uniform input yields
// its single value.
//
// When several bins reach the same maximal variance the result is the
// average of the first and last of them, which centres the threshold in a
// plateau of equally good splits.
func Otsu(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	histogram, minVal, maxVal, scale := Histogram(values, Bins)
	if maxVal-minVal <= 0 {
		return minVal
	}

	total := float64(len(values))
	var totalSum float64
	for i, count := range histogram {
		totalSum += float64(i) * float64(count)
	}

	var (
		bestFirst, bestLast int
		bestVariance        float64
		backgroundCount     float64
		backgroundSum       float64
	)
	for t, count := range histogram {
		backgroundCount += float64(count)
		if backgroundCount == 0 {
			continue
		}
		foregroundCount := total - backgroundCount
		if foregroundCount == 0 {
			break
		}

		backgroundSum += float64(t) * float64(count)
		foregroundSum := totalSum - backgroundSum

		meanBg := backgroundSum / backgroundCount
		meanFg := foregroundSum / foregroundCount
		diff := meanBg - meanFg
		variance := backgroundCount * foregroundCount * diff * diff

		if variance > bestVariance {
			bestVariance = variance
			bestFirst = t
			bestLast = t
		} else if math.Abs(variance-bestVariance) < machineEpsilon*math.Abs(bestVariance) {
			bestLast = t
		}
	}

	best := (bestFirst + bestLast) / 2
	return minVal + float64(best)/scale
}
