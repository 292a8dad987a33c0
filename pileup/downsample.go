// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pileup

import (
	"math"
	"math/rand"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/hts/sam"
)

// Downsampler decides which reads enter the pileup. Admit is called once per
// alignment start with the reads starting there and the reads already
// active; it returns the subset of starting to keep.
type Downsampler interface {
	Admit(starting, active []*sam.Record) []*sam.Record
}

type byFraction struct {
	seed      uint64
	threshold uint64
	all       bool
}

// NewByFraction keeps each read with the given probability. The decision
// depends only on the read name and seed: mates are kept or dropped together,
// and a read gets the same decision in every traversal that sees it.
func NewByFraction(fraction float64, seed int64) Downsampler {
	d := &byFraction{seed: uint64(seed)}
	if fraction >= 1 {
		d.all = true
	} else {
		d.threshold = uint64(fraction * math.MaxUint64)
	}
	return d
}

func (d *byFraction) Admit(starting, _ []*sam.Record) []*sam.Record {
	if d.all {
		return starting
	}
	kept := starting[:0:0]
	for _, r := range starting {
		if farm.Hash64WithSeed([]byte(r.Name), d.seed) < d.threshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// reservoir keeps n uniformly chosen elements of recs, in their original
// order.
func reservoir(r *rand.Rand, recs []*sam.Record, n int) []*sam.Record {
	if n <= 0 {
		return nil
	}
	if len(recs) <= n {
		return recs
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n; i < len(recs); i++ {
		if j := r.Intn(i + 1); j < n {
			idx[j] = i
		}
	}
	keep := make([]bool, len(recs))
	for _, i := range idx {
		keep[i] = true
	}
	out := make([]*sam.Record, 0, n)
	for i, rec := range recs {
		if keep[i] {
			out = append(out, rec)
		}
	}
	return out
}

type toCoverage struct {
	coverage int
	r        *rand.Rand
}

// NewToCoverage caps the number of active reads at coverage. Excess reads
// starting at a position are dropped by reservoir sampling.
func NewToCoverage(coverage int, seed int64) Downsampler {
	return &toCoverage{coverage: coverage, r: rand.New(rand.NewSource(seed))}
}

func (d *toCoverage) Admit(starting, active []*sam.Record) []*sam.Record {
	return reservoir(d.r, starting, d.coverage-len(active))
}

type perSample struct {
	coverage int
	rgs      ReadGroups
	r        *rand.Rand
}

// NewPerSample applies the NewToCoverage cap to each sample separately.
func NewPerSample(coverage int, rgs ReadGroups, seed int64) Downsampler {
	return &perSample{coverage: coverage, rgs: rgs, r: rand.New(rand.NewSource(seed))}
}

func (d *perSample) Admit(starting, active []*sam.Record) []*sam.Record {
	activeBySample := map[string]int{}
	for _, r := range active {
		activeBySample[SampleOf(r, d.rgs)]++
	}
	var (
		order    []string
		bySample = map[string][]*sam.Record{}
	)
	for _, r := range starting {
		s := SampleOf(r, d.rgs)
		if _, ok := bySample[s]; !ok {
			order = append(order, s)
		}
		bySample[s] = append(bySample[s], r)
	}
	keep := map[*sam.Record]bool{}
	for _, s := range order {
		for _, r := range reservoir(d.r, bySample[s], d.coverage-activeBySample[s]) {
			keep[r] = true
		}
	}
	kept := starting[:0:0]
	for _, r := range starting {
		if keep[r] {
			kept = append(kept, r)
		}
	}
	return kept
}
