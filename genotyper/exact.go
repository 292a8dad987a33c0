// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/locuswalk/validation"
)

// Method selects the exact recursion.
type Method int

const (
	// MethodLinear runs the O(N) recursion with early stopping.
	MethodLinear Method = iota
	// MethodGoldStandard fills the full O(N^2) matrix.
	MethodGoldStandard
)

func (m Method) String() string {
	switch m {
	case MethodLinear:
		return "linear"
	case MethodGoldStandard:
		return "gold-standard"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Opts configures an ExactCalculator.
type Opts struct {
	Method Method
	// EarlyStopTolerance is the log10 drop below the best likelihood seen so
	// far at which the linear recursion stops advancing the allele count.
	EarlyStopTolerance float64
	// DisableEarlyStop computes every allele count.
	DisableEarlyStop bool
}

// DefaultOpts is the default calculator configuration.
var DefaultOpts = Opts{
	Method:             MethodLinear,
	EarlyStopTolerance: 6,
}

// SumGLThresholdNoCall is the likelihood sum above which a sample's
// genotype likelihoods carry no information.
const SumGLThresholdNoCall = -0.001

// IsInformative reports whether the genotype likelihoods gl distinguish the
// genotypes at all.
func IsInformative(gl []float64) bool {
	sum := 0.0
	for _, v := range gl {
		sum += v
	}
	return sum < SumGLThresholdNoCall
}

// Result is the output of ExactCalculator.Log10PNonRef.
type Result struct {
	// Posteriors[k] = Priors[k] + log10 P(data | AF = k), for k in [0, 2N].
	// Entries past LastK are -Inf.
	Posteriors []float64
	Priors     []float64
	// LastK is the last allele count computed.
	LastK int
	// BestAlt is the 0-based alternate allele whose posteriors are reported.
	BestAlt int
	// PerAlt holds the posteriors of each alternate allele when there are
	// several.
	PerAlt [][]float64
}

// MostLikelyAF returns the allele count with the highest posterior.
func (r *Result) MostLikelyAF() int { return MaxIndex(r.Posteriors) }

// Log10PRef returns the normalized log10 posterior of AF = 0.
func (r *Result) Log10PRef() float64 { return NormalizeFromLog10(r.Posteriors, true)[0] }

// Log10PNonRef returns the normalized log10 posterior of AF > 0.
func (r *Result) Log10PNonRef() float64 { return Log10OneMinusPow10(r.Log10PRef()) }

// ExactCalculator computes allele-frequency posteriors. It holds no mutable
// state and is safe for concurrent use.
type ExactCalculator struct {
	opts Opts
}

// NewExactCalculator creates a calculator.
func NewExactCalculator(opts Opts) (*ExactCalculator, error) {
	switch opts.Method {
	case MethodLinear, MethodGoldStandard:
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unknown exact method %v", opts.Method))
	}
	if !opts.DisableEarlyStop && opts.EarlyStopTolerance <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("early stop tolerance %v must be positive", opts.EarlyStopTolerance))
	}
	return &ExactCalculator{opts}, nil
}

func (c *ExactCalculator) tolerance() float64 {
	if c.opts.DisableEarlyStop {
		return math.Inf(1)
	}
	return c.opts.EarlyStopTolerance
}

// NumGenotypes returns the length of a diploid genotype likelihood vector for
// numAlleles alleles.
func NumGenotypes(numAlleles int) int { return numAlleles * (numAlleles + 1) / 2 }

// Log10PNonRef computes the posteriors for the genotype likelihoods gls, one
// vector per sample, over numAlts alternate alleles. A vector lists the
// genotypes row by row over the upper triangle: with alleles A, B, C it is
// AA, AB, AC, BB, BC, CC. priors must have 2N+1 entries.
//
// With several alternate alleles each is treated as the only one in turn, and
// the posteriors of the allele with the largest most-likely count are
// reported.
func (c *ExactCalculator) Log10PNonRef(gls [][]float64, numAlts int, priors []float64) (*Result, error) {
	if numAlts < 1 {
		return nil, validation.Internalf("exact calculation with %d alternate alleles", numAlts)
	}
	numAlleles := numAlts + 1
	n := len(gls)
	if len(priors) != 2*n+1 {
		return nil, validation.Internalf("%d priors for %d samples; want %d", len(priors), n, 2*n+1)
	}
	for j, gl := range gls {
		if len(gl) != NumGenotypes(numAlleles) {
			return nil, validation.Internalf("sample %d has %d genotype likelihoods; want %d", j, len(gl), NumGenotypes(numAlleles))
		}
	}

	res := &Result{Priors: priors}
	biallelic := make([][3]float64, n)
	diag, incr := numAlleles, numAlleles-1
	bestGuess := -1
	for alt := 1; alt <= numAlts; alt++ {
		aa, ab, bb := 0, alt, diag
		diag += incr
		incr--
		for j, gl := range gls {
			biallelic[j] = [3]float64{gl[aa], gl[ab], gl[bb]}
		}
		var (
			posteriors []float64
			lastK      int
		)
		switch c.opts.Method {
		case MethodGoldStandard:
			posteriors, lastK = GoldStandard(biallelic, priors), 2*n
		default:
			posteriors, lastK = Linear(biallelic, priors, c.tolerance())
		}
		if numAlts > 1 {
			res.PerAlt = append(res.PerAlt, posteriors)
		}
		if guess := MaxIndex(posteriors); guess > bestGuess {
			bestGuess = guess
			res.Posteriors, res.LastK, res.BestAlt = posteriors, lastK, alt-1
		}
	}
	if log.At(log.Debug) {
		log.Debug.Printf("exact %v: %d samples, %d alts, best alt %d, last k %d of %d",
			c.opts.Method, n, numAlts, res.BestAlt, res.LastK, 2*n)
	}
	return res, nil
}

func newRow(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = negInf
	}
	return row
}

// Linear computes posteriors[k] = priors[k] + log10 P(gls | AF = k) with
// the recursion over samples
//
//   Y[j][k] = log10( (2j-k)(2j-k-1) 10^(Y[j-1][k]   + AA_j)
//                  + 2k(2j-k)       10^(Y[j-1][k-1] + AB_j)
//                  + k(k-1)         10^(Y[j-1][k-2] + BB_j) ) - log10(2j(2j-1))
//
// with Y[0][0] = 0. It advances k in the outer loop and keeps only the rows
// for k, k-1 and k-2. Once log10 P(gls | AF = k) is more than tolerance below
// the largest value seen, it stops; the remaining posteriors are -Inf.
// lastK is the last k computed. An infinite tolerance computes every k.
func Linear(gls [][3]float64, priors []float64, tolerance float64) (posteriors []float64, lastK int) {
	n := len(gls)
	nChr := 2 * n
	posteriors = newRow(nChr + 1)
	kMinus0, kMinus1, kMinus2 := newRow(n+1), newRow(n+1), newRow(n+1)
	kMinus0[0] = 0
	maxL := negInf
	lastK = -1
	for k := 0; k <= nChr; k++ {
		if k == 0 {
			for j := 1; j <= n; j++ {
				kMinus0[j] = kMinus0[j-1] + gls[j-1][0]
			}
		} else {
			kMinus0[0] = negInf
			for j := 1; j <= n; j++ {
				gl := &gls[j-1]
				denom := log10Int(2*j) + log10Int(2*j-1)
				aa, ab := negInf, negInf
				if k < 2*j-1 {
					aa = log10Int(2*j-k) + log10Int(2*j-k-1) + kMinus0[j-1] + gl[0]
				}
				if k < 2*j {
					ab = log10Int(2*k) + log10Int(2*j-k) + kMinus1[j-1] + gl[1]
				}
				sum := ApproximateLog10SumLog10(aa, ab)
				if k > 1 {
					bb := log10Int(k) + log10Int(k-1) + kMinus2[j-1] + gl[2]
					sum = ApproximateLog10SumLog10(sum, bb)
				}
				kMinus0[j] = sum - denom
			}
		}
		l := kMinus0[n]
		posteriors[k] = l + priors[k]
		lastK = k
		if l > maxL {
			maxL = l
		}
		if l < maxL-tolerance {
			break
		}
		kMinus2, kMinus1, kMinus0 = kMinus1, kMinus0, kMinus2
	}
	return posteriors, lastK
}

// GoldStandard computes the same posteriors as Linear without early
// stopping, over the full (N+1) x (2N+1) matrix.
func GoldStandard(gls [][3]float64, priors []float64) []float64 {
	n := len(gls)
	nChr := 2 * n
	y := make([][]float64, n+1)
	for j := range y {
		y[j] = newRow(nChr + 1)
	}
	y[0][0] = 0
	for j := 1; j <= n; j++ {
		gl := &gls[j-1]
		denom := log10Int(2*j) + log10Int(2*j-1)
		y[j][0] = y[j-1][0] + gl[0]
		for k := 1; k <= 2*j; k++ {
			aa, ab, bb := negInf, negInf, negInf
			if k < 2*j-1 {
				aa = log10Int(2*j-k) + log10Int(2*j-k-1) + y[j-1][k] + gl[0]
			}
			if k < 2*j {
				ab = log10Int(2*k) + log10Int(2*j-k) + y[j-1][k-1] + gl[1]
			}
			if k > 1 {
				bb = log10Int(k) + log10Int(k-1) + y[j-1][k-2] + gl[2]
			}
			y[j][k] = ApproximateLog10SumLog10Of3(aa, ab, bb) - denom
		}
	}
	posteriors := make([]float64, nChr+1)
	for k := range posteriors {
		posteriors[k] = y[n][k] + priors[k]
	}
	return posteriors
}
