// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"math"

	"github.com/grailbio/locuswalk/validation"
)

// NoCall is the AltCount of a sample without informative likelihoods.
const NoCall = -1

// GenotypeCall is the genotype assigned to one sample.
type GenotypeCall struct {
	// AltCount is the number of alternate alleles, 0 to 2, or NoCall.
	AltCount int
	// Qual is the phred-scaled confidence of the call. It is zero for
	// NoCall.
	Qual float64
}

// String renders the call as an unphased VCF genotype.
func (g GenotypeCall) String() string {
	switch g.AltCount {
	case 0:
		return "0/0"
	case 1:
		return "0/1"
	case 2:
		return "1/1"
	}
	return "./."
}

// AssignGenotypes assigns each sample a genotype so that the total number of
// alternate alleles is bestAF and the sum of the chosen log10 likelihoods is
// maximal among the paths through the (sample, allele count) lattice. gls are
// biallelic [AA, AB, BB] likelihoods. Non-informative samples are skipped by
// the lattice and get NoCall. bestAF is capped at twice the number of
// informative samples.
func AssignGenotypes(gls [][3]float64, bestAF int) ([]GenotypeCall, error) {
	if bestAF < 0 {
		return nil, validation.Internalf("genotype assignment for allele count %d", bestAF)
	}
	calls := make([]GenotypeCall, len(gls))
	var informative []int
	for j := range gls {
		if IsInformative(gls[j][:]) {
			informative = append(informative, j)
		} else {
			calls[j] = GenotypeCall{AltCount: NoCall}
		}
	}
	m := len(informative)
	if bestAF > 2*m {
		bestAF = 2 * m
	}

	// metric[i][k] is the best log10 likelihood of the first i informative
	// samples carrying k alternate alleles; back[i][k] is the count before
	// sample i.
	metric := make([][]float64, m+1)
	back := make([][]int, m+1)
	for i := range metric {
		metric[i] = newRow(bestAF + 1)
		back[i] = make([]int, bestAF+1)
	}
	metric[0][0] = 0
	for i, j := range informative {
		gl := gls[j]
		for k := 0; k <= bestAF; k++ {
			best, from := metric[i][k]+gl[0], k
			if k > 0 {
				if v := metric[i][k-1] + gl[1]; v > best {
					best, from = v, k-1
				}
			}
			if k > 1 {
				if v := metric[i][k-2] + gl[2]; v > best {
					best, from = v, k-2
				}
			}
			metric[i+1][k] = best
			back[i+1][k] = from
		}
	}

	k := bestAF
	for i := m; i > 0; i-- {
		j := informative[i-1]
		prev := back[i][k]
		g := k - prev
		k = prev
		calls[j] = GenotypeCall{AltCount: g, Qual: genotypeQual(gls[j], g)}
	}
	return calls, nil
}

// genotypeQual is the log10 likelihood gap between genotype g and the best
// other genotype, times ten. When g is not the most likely genotype it is
// the phred-scaled probability that g is wrong.
func genotypeQual(gl [3]float64, g int) float64 {
	other := negInf
	for i, v := range gl {
		if i != g && v > other {
			other = v
		}
	}
	gap := gl[g] - other
	if gap < 0 {
		p := NormalizeFromLog10(gl[:], false)[g]
		gap = -math.Log10(1 - p)
	}
	return PhredFromLog10(-gap)
}
