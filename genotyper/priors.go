// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"fmt"
	"math"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/locuswalk/pileup"
)

// HumanHeterozygosity is the per-base probability that two human chromosomes
// differ.
const HumanHeterozygosity = 1e-3

// FlatAFPriors returns the uniform log10 prior over alternate allele counts
// 0..nChr.
func FlatAFPriors(nChr int) []float64 {
	p := make([]float64, nChr+1)
	v := -log10Int(nChr + 1)
	for i := range p {
		p[i] = v
	}
	return p
}

// HeterozygosityAFPriors returns the neutral-model log10 prior over
// alternate allele counts 0..nChr: P(k) = theta/k for k > 0, and P(0) takes
// the rest.
func HeterozygosityAFPriors(nChr int, theta float64) ([]float64, error) {
	if theta <= 0 || theta >= 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("heterozygosity %v is not in (0, 1)", theta))
	}
	p := make([]float64, nChr+1)
	sum := 0.0
	for i := 1; i <= nChr; i++ {
		v := theta / float64(i)
		p[i] = math.Log10(v)
		sum += v
	}
	if sum >= 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("heterozygosity %v is too high for %d chromosomes", theta, nChr))
	}
	p[0] = math.Log10(1 - sum)
	return p, nil
}

// AFPriorCache memoizes heterozygosity priors by chromosome count. It is safe
// for concurrent use.
type AFPriorCache struct {
	theta  float64
	flat   bool
	mu     sync.Mutex
	priors map[int][]float64
}

// NewAFPriorCache creates a cache of heterozygosity priors, or of flat priors
// when flat is set.
func NewAFPriorCache(theta float64, flat bool) (*AFPriorCache, error) {
	if !flat {
		if _, err := HeterozygosityAFPriors(2, theta); err != nil {
			return nil, err
		}
	}
	return &AFPriorCache{theta: theta, flat: flat, priors: map[int][]float64{}}, nil
}

// Get returns the priors for nChr chromosomes. The result must not be
// modified.
func (c *AFPriorCache) Get(nChr int) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.priors[nChr]; ok {
		return p, nil
	}
	var (
		p   []float64
		err error
	)
	if c.flat {
		p = FlatAFPriors(nChr)
	} else if p, err = HeterozygosityAFPriors(nChr, c.theta); err != nil {
		return nil, err
	}
	c.priors[nChr] = p
	return p, nil
}

// DiploidGenotypePriors are log10 priors indexed by DiploidGenotype.
type DiploidGenotypePriors [NumDiploidGenotypes]float64

// FlatGenotypePriors assigns every genotype the same prior.
func FlatGenotypePriors() DiploidGenotypePriors {
	var p DiploidGenotypePriors
	for i := range p {
		p[i] = -log10Int(NumDiploidGenotypes)
	}
	return p
}

// ReferencePolarizedPriors returns genotype priors around the base enum ref
// for heterozygosity h. With one non-reference allele at rate h split across
// three bases:
//
//   hom-ref                 1 - 3h/2 - h^2
//   ref/x het               h/3 each
//   x/x hom-var             h/6 each
//   x/y het, x, y != ref    h^2/3 each
//
// An irregular ref gives flat priors.
func ReferencePolarizedPriors(ref byte, h float64) (DiploidGenotypePriors, error) {
	if h <= 0 || 1-1.5*h-h*h <= 0 {
		return DiploidGenotypePriors{}, errors.E(errors.Invalid, fmt.Sprintf("heterozygosity %v is out of range", h))
	}
	if ref >= pileup.NBase {
		return FlatGenotypePriors(), nil
	}
	var p DiploidGenotypePriors
	for g := DiploidGenotype(0); g < NumDiploidGenotypes; g++ {
		var v float64
		switch {
		case g.IsHomRef(ref):
			v = 1 - 1.5*h - h*h
		case g.NumNonRef(ref) == 1:
			v = h / 3
		case g.IsHom():
			v = h / 6
		default:
			v = h * h / 3
		}
		p[g] = math.Log10(v)
	}
	return p, nil
}

// HWECache holds log10 Hardy-Weinberg genotype frequencies [AA, AB, BB] for
// each alternate allele count k out of nChr chromosomes. Entries are
// computed on first use. It is not safe for concurrent use.
type HWECache struct {
	nChr    int
	entries [][3]float64
	have    []bool
}

// NewHWECache creates a cache for nChr chromosomes.
func NewHWECache(nChr int) *HWECache {
	return &HWECache{nChr: nChr, entries: make([][3]float64, nChr+1), have: make([]bool, nChr+1)}
}

// Get returns the genotype frequencies for allele count k, 0 <= k <= nChr.
func (c *HWECache) Get(k int) [3]float64 {
	if !c.have[k] {
		f := 0.0
		if c.nChr > 0 {
			f = float64(k) / float64(c.nChr)
		}
		c.entries[k] = [3]float64{
			2 * math.Log10(1-f),
			math.Log10(2) + math.Log10(f) + math.Log10(1-f),
			2 * math.Log10(f),
		}
		c.have[k] = true
	}
	return c.entries[k]
}
