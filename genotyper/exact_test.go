// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"math"
	"math/rand"
	"testing"

	"github.com/grailbio/locuswalk/validation"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproximateLog10SumLog10(t *testing.T) {
	inf := math.Inf(-1)
	expect.EQ(t, ApproximateLog10SumLog10(inf, 3), 3.0)
	expect.EQ(t, ApproximateLog10SumLog10(3, inf), 3.0)
	assert.True(t, math.IsInf(ApproximateLog10SumLog10(inf, inf), -1))
	expect.EQ(t, ApproximateLog10SumLog10(0, -10), 0.0)
	expect.EQ(t, ApproximateLog10SumLog10(-12, -1), -1.0)
	assert.InDelta(t, math.Log10(2), ApproximateLog10SumLog10(-5, -5)+5, 1e-12)
	expect.EQ(t, ApproximateLog10SumLog10Of3(-1, -2, -3), ApproximateLog10SumLog10(ApproximateLog10SumLog10(-1, -2), -3))

	r := rand.New(rand.NewSource(0))
	for i := 0; i < 1000; i++ {
		a, b := -20*r.Float64(), -20*r.Float64()
		exact := Log10SumLog10([]float64{a, b})
		assert.InDelta(t, exact, ApproximateLog10SumLog10(a, b), 0.03, "a=%v b=%v", a, b)
		expect.EQ(t, ApproximateLog10SumLog10(a, b), ApproximateLog10SumLog10(b, a))
	}
}

func TestLog10Helpers(t *testing.T) {
	assert.InDelta(t, math.Log10(6), Log10SumLog10([]float64{0, math.Log10(2), math.Log10(3)}), 1e-12)
	assert.True(t, math.IsInf(Log10SumLog10(nil), -1))
	assert.True(t, math.IsInf(Log10SumLog10([]float64{math.Inf(-1)}), -1))

	norm := NormalizeFromLog10([]float64{-1, -2, math.Inf(-1)}, false)
	assert.InDelta(t, 1/1.1, norm[0], 1e-12)
	assert.InDelta(t, 0.1/1.1, norm[1], 1e-12)
	expect.EQ(t, norm[2], 0.0)
	logNorm := NormalizeFromLog10([]float64{-1, -2}, true)
	assert.InDelta(t, math.Log10(1/1.1), logNorm[0], 1e-12)
	expect.EQ(t, NormalizeFromLog10([]float64{math.Inf(-1), math.Inf(-1)}, false), []float64{0.5, 0.5})

	assert.InDelta(t, math.Log10(0.75), Log10OneMinusPow10(math.Log10(0.25)), 1e-12)
	assert.True(t, math.IsInf(Log10OneMinusPow10(0), -1))

	expect.EQ(t, MaxIndex(nil), -1)
	expect.EQ(t, MaxIndex([]float64{-3, -1, -1, -2}), 1)
	expect.EQ(t, MaxIndex([]float64{math.NaN(), -1}), 1)
	expect.EQ(t, log10Int(0), math.Inf(-1))
	assert.InDelta(t, math.Log10(30000), log10Int(30000), 1e-12)
}

func TestAFPriors(t *testing.T) {
	flat := FlatAFPriors(4)
	require.Len(t, flat, 5)
	assert.InDelta(t, 0, Log10SumLog10(flat), 1e-12)

	p, err := HeterozygosityAFPriors(4, 1e-3)
	require.NoError(t, err)
	require.Len(t, p, 5)
	assert.InDelta(t, -3, p[1], 1e-12)
	assert.InDelta(t, math.Log10(1e-3/4), p[4], 1e-12)
	assert.InDelta(t, 0, Log10SumLog10(p), 1e-12)

	_, err = HeterozygosityAFPriors(1000, 0.5)
	assert.Error(t, err)
	_, err = HeterozygosityAFPriors(2, 0)
	assert.Error(t, err)

	c, err := NewAFPriorCache(1e-3, false)
	require.NoError(t, err)
	a, err := c.Get(4)
	require.NoError(t, err)
	expect.EQ(t, a, p)
}

// randomGLs returns likelihoods drawn around a random true genotype per
// sample, occasionally with an impossible opposite homozygote. For each
// sample AB^2 >= AA*BB in linear space, which makes log10 P(data | AF = k)
// concave in k.
func randomGLs(r *rand.Rand, n int) [][3]float64 {
	gls := make([][3]float64, n)
	for j := range gls {
		g := r.Intn(3)
		d := 1 + 9*r.Float64()
		for i := range gls[j] {
			gls[j][i] = -d * math.Abs(float64(i-g))
		}
		if g != 1 && r.Intn(10) == 0 {
			gls[j][2-g] = math.Inf(-1)
		}
	}
	return gls
}

// uniformGLs returns arbitrary likelihoods in [-20, 0].
func uniformGLs(r *rand.Rand, n int) [][3]float64 {
	gls := make([][3]float64, n)
	for j := range gls {
		for i := range gls[j] {
			gls[j][i] = -20 * r.Float64()
		}
	}
	return gls
}

func requireSamePosteriors(t *testing.T, want, got []float64, upTo int) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for k := 0; k <= upTo; k++ {
		if math.IsInf(want[k], -1) || math.IsInf(got[k], -1) {
			require.Equal(t, want[k], got[k], "k=%d", k)
			continue
		}
		require.InDelta(t, want[k], got[k], 1e-4, "k=%d", k)
	}
}

func TestLinearMatchesGoldStandard(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for n := 1; n <= 50; n++ {
		for _, gen := range []func(*rand.Rand, int) [][3]float64{randomGLs, uniformGLs} {
			gls := gen(r, n)
			priors, err := HeterozygosityAFPriors(2*n, 1e-3)
			require.NoError(t, err)
			gold := GoldStandard(gls, priors)

			full, lastK := Linear(gls, priors, math.Inf(1))
			expect.EQ(t, lastK, 2*n)
			requireSamePosteriors(t, gold, full, 2*n)

			early, lastK := Linear(gls, priors, 6)
			requireSamePosteriors(t, gold, early, lastK)
			for k := lastK + 1; k <= 2*n; k++ {
				require.True(t, math.IsInf(early[k], -1))
			}
		}
	}
}

func TestPosteriorsSumToOne(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, n := range []int{1, 2, 7, 30} {
		gls := randomGLs(r, n)
		post := GoldStandard(gls, FlatAFPriors(2*n))
		sum := 0.0
		for _, p := range NormalizeFromLog10(post, false) {
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
}

func TestNoVariationDataLikelihood(t *testing.T) {
	// With flat likelihoods, P(data | AF = k) = 1 for every k, up to the
	// quantization of the Jacobian table.
	gls := make([][3]float64, 3)
	post := GoldStandard(gls, make([]float64, 7))
	for k, p := range post {
		assert.InDelta(t, 0, p, 0.2, "k=%d", k)
	}
}

func TestEarlyStopToleranceMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for trial := 0; trial < 50; trial++ {
		n := 1 + r.Intn(40)
		gls := randomGLs(r, n)
		priors, err := HeterozygosityAFPriors(2*n, 1e-3)
		require.NoError(t, err)
		prev := -1
		for _, tol := range []float64{0.5, 1, 2, 4, 6, 8, 12, math.Inf(1)} {
			_, lastK := Linear(gls, priors, tol)
			require.True(t, lastK >= prev, "tolerance %v: last k %d < %d", tol, lastK, prev)
			prev = lastK
		}
		expect.EQ(t, prev, 2*n)
	}
}

func TestEarlyStopPreservesMode(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for trial := 0; trial < 100; trial++ {
		n := 1 + r.Intn(40)
		gls := randomGLs(r, n)
		priors, err := HeterozygosityAFPriors(2*n, 1e-3)
		require.NoError(t, err)
		full, _ := Linear(gls, priors, math.Inf(1))
		early, _ := Linear(gls, priors, DefaultOpts.EarlyStopTolerance)
		require.Equal(t, MaxIndex(full), MaxIndex(early), "trial %d", trial)
	}
}

func TestExactCalculator(t *testing.T) {
	homAlt := []float64{-34.4, -3.01, -0.005}
	homRef := []float64{-0.005, -3.01, -34.4}
	for _, method := range []Method{MethodLinear, MethodGoldStandard} {
		calc, err := NewExactCalculator(Opts{Method: method, EarlyStopTolerance: 6})
		require.NoError(t, err)
		for _, flat := range []bool{false, true} {
			priors := FlatAFPriors(4)
			if !flat {
				priors, err = HeterozygosityAFPriors(4, HumanHeterozygosity)
				require.NoError(t, err)
			}
			res, err := calc.Log10PNonRef([][]float64{homAlt, homRef}, 1, priors)
			require.NoError(t, err)
			expect.EQ(t, res.MostLikelyAF(), 2, "%v flat=%v", method, flat)
			assert.True(t, res.Log10PNonRef() > -1e-6)
			expect.EQ(t, res.BestAlt, 0)
			assert.Nil(t, res.PerAlt)
		}
	}

	calc, err := NewExactCalculator(DefaultOpts)
	require.NoError(t, err)
	_, err = calc.Log10PNonRef([][]float64{homRef}, 1, FlatAFPriors(4))
	assert.True(t, validation.IsInternalError(err), "%v", err)
	_, err = calc.Log10PNonRef([][]float64{{0, 0}}, 1, FlatAFPriors(2))
	assert.True(t, validation.IsInternalError(err), "%v", err)
	_, err = NewExactCalculator(Opts{EarlyStopTolerance: -1})
	assert.Error(t, err)

	res, err := calc.Log10PNonRef(nil, 1, FlatAFPriors(0))
	require.NoError(t, err)
	expect.EQ(t, res.LastK, 0)
}

func TestExactCalculatorMultiAllelic(t *testing.T) {
	// Alleles A, B, C; genotypes AA, AB, AC, BB, BC, CC. Both samples are
	// C/C, so the second alternate is reported.
	homC := []float64{-10, -20, -12, -30, -22, 0}
	calc, err := NewExactCalculator(DefaultOpts)
	require.NoError(t, err)
	res, err := calc.Log10PNonRef([][]float64{homC, homC}, 2, FlatAFPriors(4))
	require.NoError(t, err)
	require.Len(t, res.PerAlt, 2)
	expect.EQ(t, res.BestAlt, 1)
	expect.EQ(t, res.MostLikelyAF(), 4)
	expect.EQ(t, MaxIndex(res.PerAlt[0]), 0)
}

func TestInfiniteLikelihoods(t *testing.T) {
	inf := math.Inf(-1)
	gls := [][3]float64{{inf, inf, 0}, {0, inf, inf}}
	priors := FlatAFPriors(4)
	gold := GoldStandard(gls, priors)
	lin, _ := Linear(gls, priors, math.Inf(1))
	requireSamePosteriors(t, gold, lin, 4)
	expect.EQ(t, MaxIndex(gold), 2)
	for _, k := range []int{0, 1, 3, 4} {
		assert.True(t, math.IsInf(gold[k], -1), "k=%d", k)
	}
}

func TestAssignGenotypes(t *testing.T) {
	homAlt := [3]float64{-34.4, -3.01, -0.005}
	homRef := [3]float64{-0.005, -3.01, -34.4}
	het := [3]float64{-17, -3, -17}
	calls, err := AssignGenotypes([][3]float64{homAlt, homRef}, 2)
	require.NoError(t, err)
	expect.EQ(t, calls[0].AltCount, 2)
	expect.EQ(t, calls[1].AltCount, 0)
	assert.InDelta(t, 30.05, calls[0].Qual, 1e-9)

	// A non-informative sample is skipped, and the allele count is capped
	// by the informative samples.
	calls, err = AssignGenotypes([][3]float64{het, {}, homAlt}, 3)
	require.NoError(t, err)
	expect.EQ(t, calls[0].AltCount, 1)
	expect.EQ(t, calls[1].AltCount, NoCall)
	expect.EQ(t, calls[1].String(), "./.")
	expect.EQ(t, calls[2].AltCount, 2)

	calls, err = AssignGenotypes([][3]float64{homAlt, {}, homAlt}, 7)
	require.NoError(t, err)
	expect.EQ(t, calls[0].AltCount, 2)
	expect.EQ(t, calls[2].AltCount, 2)

	// Forcing one alternate allele onto the hom-alt sample makes it het,
	// with a low quality.
	calls, err = AssignGenotypes([][3]float64{homAlt, homRef}, 1)
	require.NoError(t, err)
	expect.EQ(t, calls[0].AltCount, 1)
	expect.EQ(t, calls[0].String(), "0/1")
	assert.True(t, calls[0].Qual < 1, "%v", calls[0].Qual)

	_, err = AssignGenotypes(nil, -1)
	assert.True(t, validation.IsInternalError(err))
}

func TestGenotypePriors(t *testing.T) {
	p, err := ReferencePolarizedPriors(0, 1e-3) // A
	require.NoError(t, err)
	var probs []float64
	for _, v := range p {
		probs = append(probs, v)
	}
	assert.InDelta(t, 0, Log10SumLog10(probs), 1e-12)
	assert.InDelta(t, math.Log10(1e-3/3), p[AC], 1e-12)
	assert.InDelta(t, math.Log10(1e-3/6), p[CC], 1e-12)
	assert.InDelta(t, math.Log10(1e-6/3), p[CG], 1e-12)
	expect.EQ(t, MaxIndex(probs), int(AA))

	assert.InDelta(t, -1, FlatGenotypePriors()[GT], 1e-12)
	flat, err := ReferencePolarizedPriors(4, 1e-3)
	require.NoError(t, err)
	expect.EQ(t, flat, FlatGenotypePriors())

	expect.EQ(t, GenotypeOf(3, 1), CT)
	expect.EQ(t, CT.String(), "CT")
	assert.True(t, GG.IsHomRef(2))
	expect.EQ(t, AG.NumNonRef(0), 1)

	hwe := NewHWECache(4)
	h := hwe.Get(2)
	assert.InDelta(t, math.Log10(0.25), h[0], 1e-12)
	assert.InDelta(t, math.Log10(0.5), h[1], 1e-12)
	assert.True(t, math.IsInf(hwe.Get(0)[2], -1))
}
