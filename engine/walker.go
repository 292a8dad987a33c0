// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/pileup"
	"github.com/grailbio/locuswalk/rod"
)

// Walker consumes the loci of a traversal. The engine calls ReduceInit once,
// then Filter, Map and Reduce at every locus in order, and finally
// OnTraversalDone once with the accumulated value.
//
// The rod lists, reference base and pileup passed to Filter and Map are only
// valid during the call.
type Walker interface {
	// Requirements declares the data the walker needs.
	Requirements() Requirements

	// ReduceInit returns the initial accumulator.
	ReduceInit() interface{}

	// Filter returns false to skip Map and Reduce at a locus. The locus is
	// still counted as visited.
	Filter(rods []*rod.RecordList, ref byte, pile *pileup.AlignmentContext) bool

	// Map computes a value for one locus.
	Map(rods []*rod.RecordList, ref byte, pile *pileup.AlignmentContext) (interface{}, error)

	// Reduce folds a Map value into the accumulator and returns the new
	// accumulator.
	Reduce(value, sum interface{}) (interface{}, error)

	// OnTraversalDone receives the final accumulator.
	OnTraversalDone(sum interface{}) error
}

// Combiner is implemented by walkers that can run sharded. Combine merges two
// accumulators. It must be associative and commutative, since shard results
// arrive in no particular order.
type Combiner interface {
	Combine(a, b interface{}) (interface{}, error)
}

// Requirements declares the inputs a Walker uses.
type Requirements struct {
	// NeedsReads is false for walkers that only look at the reference and
	// reference-ordered data. Such walkers visit every position of the
	// traversal intervals with an empty pileup.
	NeedsReads bool
	// NeedsReference makes the reference mandatory. When false, the
	// reference base passed to the walker is 0 if no reference is given.
	NeedsReference bool
	// AllowedRODTypes lists the rod.Track types the walker accepts. Nil
	// accepts every type.
	AllowedRODTypes []string
	// IncludeDeletions adds deletion elements to the pileups.
	IncludeDeletions bool
	// Downsampling is used unless Opts.Downsampling overrides it.
	Downsampling Downsampling
	// ReadFilter, if set, drops reads before they reach the pileup.
	ReadFilter func(r *sam.Record) bool
}

func (r Requirements) checkTracks(tracks []rod.Track) error {
	if r.AllowedRODTypes == nil {
		return nil
	}
	for _, t := range tracks {
		ok := false
		for _, typ := range r.AllowedRODTypes {
			if typ == t.Type() {
				ok = true
				break
			}
		}
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("track %s has type %s; the walker accepts %v", t.Name(), t.Type(), r.AllowedRODTypes))
		}
	}
	return nil
}

// DownsampleMode selects a downsampling strategy.
type DownsampleMode int

const (
	// NoDownsampling keeps every read.
	NoDownsampling DownsampleMode = iota
	// DownsampleByFraction keeps each read with probability Fraction.
	DownsampleByFraction
	// DownsampleToCoverage caps the number of reads in the pileup at Coverage.
	DownsampleToCoverage
	// DownsamplePerSample caps the coverage of every sample at Coverage.
	DownsamplePerSample
)

// Downsampling configures the reads admitted into the pileups. Reads are
// downsampled as they enter the pileup, after they were counted.
type Downsampling struct {
	Mode     DownsampleMode
	Fraction float64
	Coverage int
	Seed     int64
}

func (d Downsampling) validate() error {
	switch d.Mode {
	case NoDownsampling:
	case DownsampleByFraction:
		if d.Fraction <= 0 || d.Fraction > 1 {
			return errors.E(errors.Invalid, fmt.Sprintf("downsampling fraction %v is not in (0, 1]", d.Fraction))
		}
	case DownsampleToCoverage, DownsamplePerSample:
		if d.Coverage <= 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("downsampling coverage %d must be positive", d.Coverage))
		}
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("unknown downsampling mode %d", d.Mode))
	}
	return nil
}

func (d Downsampling) newDownsampler(rgs pileup.ReadGroups) pileup.Downsampler {
	switch d.Mode {
	case DownsampleByFraction:
		return pileup.NewByFraction(d.Fraction, d.Seed)
	case DownsampleToCoverage:
		return pileup.NewToCoverage(d.Coverage, d.Seed)
	case DownsamplePerSample:
		return pileup.NewPerSample(d.Coverage, rgs, d.Seed)
	}
	return nil
}
