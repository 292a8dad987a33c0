// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import "math"

const (
	jacobianTableSize = 101
	jacobianTableStep = 0.1
	// MaxJacobianTolerance is the log10 gap past which the smaller term of
	// an approximate sum is dropped.
	MaxJacobianTolerance = 10.0

	log10CacheSize = 20000
)

var (
	negInf = math.Inf(-1)

	// log10Cache[n] = log10(n); log10Cache[0] = -Inf.
	log10Cache [log10CacheSize]float64
	// jacobianTable[i] = log10(1 + 10^(-i*step)).
	jacobianTable [jacobianTableSize]float64
)

func init() {
	log10Cache[0] = negInf
	for n := 1; n < log10CacheSize; n++ {
		log10Cache[n] = math.Log10(float64(n))
	}
	for i := range jacobianTable {
		jacobianTable[i] = math.Log10(1 + math.Pow(10, -float64(i)*jacobianTableStep))
	}
}

// log10Int returns log10(n) for n >= 0.
func log10Int(n int) float64 {
	if n < log10CacheSize {
		return log10Cache[n]
	}
	return math.Log10(float64(n))
}

// ApproximateLog10SumLog10 returns log10(10^a + 10^b), with the correction
// term looked up in a table quantized to 0.1 log10 units. -Inf terms are
// ignored. If the terms differ by MaxJacobianTolerance or more, the larger
// is returned.
func ApproximateLog10SumLog10(a, b float64) float64 {
	small, big := a, b
	if small > big {
		small, big = big, small
	}
	if math.IsInf(small, -1) || math.IsInf(big, -1) {
		return big
	}
	diff := big - small
	if diff >= MaxJacobianTolerance {
		return big
	}
	return big + jacobianTable[int(math.Round(diff/jacobianTableStep))]
}

// ApproximateLog10SumLog10Of3 returns log10(10^a + 10^b + 10^c), combining
// a and b first.
func ApproximateLog10SumLog10Of3(a, b, c float64) float64 {
	return ApproximateLog10SumLog10(ApproximateLog10SumLog10(a, b), c)
}

// Log10SumLog10 returns log10(sum_i 10^values[i]) computed exactly. It
// returns -Inf for an empty slice or when every value is -Inf.
func Log10SumLog10(values []float64) float64 {
	i := MaxIndex(values)
	if i < 0 || math.IsInf(values[i], -1) {
		return negInf
	}
	max := values[i]
	sum := 0.0
	for _, v := range values {
		sum += math.Pow(10, v-max)
	}
	return max + math.Log10(sum)
}

// NormalizeFromLog10 converts log10 values into probabilities that sum to
// one. With takeLog10 the result is log10 again. If every value is -Inf, the
// result is uniform.
func NormalizeFromLog10(values []float64, takeLog10 bool) []float64 {
	out := make([]float64, len(values))
	i := MaxIndex(values)
	if i < 0 {
		return out
	}
	max := values[i]
	if math.IsInf(max, -1) {
		for j := range out {
			out[j] = 1 / float64(len(out))
		}
	} else {
		sum := 0.0
		for j, v := range values {
			out[j] = math.Pow(10, v-max)
			sum += out[j]
		}
		for j := range out {
			out[j] /= sum
		}
	}
	if takeLog10 {
		for j, p := range out {
			out[j] = math.Log10(p)
		}
	}
	return out
}

// Log10OneMinusPow10 returns log10(1 - 10^x) for x <= 0.
func Log10OneMinusPow10(x float64) float64 {
	if x >= 0 {
		return negInf
	}
	return math.Log1p(-math.Pow(10, x)) / math.Ln10
}

// MaxIndex returns the index of the first largest value, or -1 for an empty
// slice. NaNs are never the maximum.
func MaxIndex(values []float64) int {
	best := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

// PhredFromLog10 converts log10 P(error) to a phred-scaled quality.
func PhredFromLog10(log10PError float64) float64 {
	return -10 * log10PError
}
