// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pileup

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/interval"
)

// DeletionOffset is the offset of an element whose read has a deletion at
// the context position.
const DeletionOffset = -1

// Element is one read's contribution to a pileup.
type Element struct {
	Read *sam.Record
	// Offset is the 0-based index of the pileup position within Read's bases,
	// or DeletionOffset.
	Offset int
}

// IsDeletion reports whether the read has a deletion at the position.
func (e Element) IsDeletion() bool { return e.Offset == DeletionOffset }

// Base returns the ASCII read base, or 'D' for a deletion.
func (e Element) Base() byte {
	if e.IsDeletion() {
		return 'D'
	}
	return BaseAt(e.Read, e.Offset)
}

// Qual returns the base quality, or 0 for a deletion.
func (e Element) Qual() byte {
	if e.IsDeletion() || e.Offset >= len(e.Read.Qual) {
		return 0
	}
	return e.Read.Qual[e.Offset]
}

// AlignmentContext is the pileup at a single reference position.
type AlignmentContext struct {
	Loc      interval.Loc
	Elements []Element
}

// Size is the number of elements, deletions included.
func (c *AlignmentContext) Size() int { return len(c.Elements) }

// Reads returns the reads of the pileup. Reads()[i] and Offsets()[i] describe
// the same element.
func (c *AlignmentContext) Reads() []*sam.Record {
	reads := make([]*sam.Record, len(c.Elements))
	for i, e := range c.Elements {
		reads[i] = e.Read
	}
	return reads
}

// Offsets returns the per-read offsets of the pileup position.
func (c *AlignmentContext) Offsets() []int {
	offsets := make([]int, len(c.Elements))
	for i, e := range c.Elements {
		offsets[i] = e.Offset
	}
	return offsets
}

// Bases returns the ASCII bases of the non-deletion elements.
func (c *AlignmentContext) Bases() []byte {
	bases := make([]byte, 0, len(c.Elements))
	for _, e := range c.Elements {
		if !e.IsDeletion() {
			bases = append(bases, e.Base())
		}
	}
	return bases
}

// Quals returns the base qualities of the non-deletion elements, in the same
// order as Bases.
func (c *AlignmentContext) Quals() []byte {
	quals := make([]byte, 0, len(c.Elements))
	for _, e := range c.Elements {
		if !e.IsDeletion() {
			quals = append(quals, e.Qual())
		}
	}
	return quals
}

// NumDeletions counts the deletion elements.
func (c *AlignmentContext) NumDeletions() int {
	n := 0
	for _, e := range c.Elements {
		if e.IsDeletion() {
			n++
		}
	}
	return n
}

// NumMQ0 counts the elements whose read has mapping quality zero.
func (c *AlignmentContext) NumMQ0() int {
	n := 0
	for _, e := range c.Elements {
		if e.Read.MapQ == 0 {
			n++
		}
	}
	return n
}

// CheckConsistency verifies that every element covers the context position
// and has an offset inside its read.
func (c *AlignmentContext) CheckConsistency() error {
	for _, e := range c.Elements {
		r := e.Read
		if e.Offset != DeletionOffset && (e.Offset < 0 || e.Offset >= r.Seq.Length) {
			return errors.E(errors.Precondition, fmt.Sprintf("internal error: offset %d out of range for read %s", e.Offset, r.Name))
		}
		start, end := int64(r.Pos)+1, int64(r.End())
		if c.Loc.Start < start || c.Loc.Start > end {
			return errors.E(errors.Precondition, fmt.Sprintf("internal error: read %s does not cover %v", r.Name, c.Loc))
		}
	}
	return nil
}

// SampleContext is the part of a pileup belonging to one sample.
type SampleContext struct {
	Sample  string
	Context *AlignmentContext
}

// BySample splits the pileup by the sample of each read. Samples are returned
// in name order; reads without a sample are grouped under "".
func (c *AlignmentContext) BySample(rgs ReadGroups) []SampleContext {
	bySample := map[string]*AlignmentContext{}
	for _, e := range c.Elements {
		s := SampleOf(e.Read, rgs)
		sc, ok := bySample[s]
		if !ok {
			sc = &AlignmentContext{Loc: c.Loc}
			bySample[s] = sc
		}
		sc.Elements = append(sc.Elements, e)
	}
	out := make([]SampleContext, 0, len(bySample))
	for s, sc := range bySample {
		out = append(out, SampleContext{s, sc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sample < out[j].Sample })
	return out
}
