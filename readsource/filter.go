// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"github.com/grailbio/hts/sam"
)

// Counters accumulates read statistics for the end-of-run summary.
type Counters struct {
	// Seen counts every record pulled from the sources.
	Seen int64
	// Kept counts records passed on to the pileup.
	Kept int64

	Unmapped         int64
	NonPrimary       int64
	NoAlignmentStart int64
	Indel            int64
	// Filtered counts records dropped by FilterOpts.Filter.
	Filtered int64
	// Downsampled counts records dropped by downsampling after they were
	// kept here.
	Downsampled int64
	// Missorted counts records dropped by the pileup because they started
	// before a position it had already emitted.
	Missorted int64
}

// Skipped returns the number of records dropped by the filter.
func (c Counters) Skipped() int64 {
	return c.Unmapped + c.NonPrimary + c.NoAlignmentStart + c.Indel + c.Filtered
}

// Add adds the counts of o to c.
func (c *Counters) Add(o Counters) {
	c.Seen += o.Seen
	c.Kept += o.Kept
	c.Unmapped += o.Unmapped
	c.NonPrimary += o.NonPrimary
	c.NoAlignmentStart += o.NoAlignmentStart
	c.Indel += o.Indel
	c.Filtered += o.Filtered
	c.Downsampled += o.Downsampled
	c.Missorted += o.Missorted
}

// FilterOpts configures NewFilteringIterator.
type FilterOpts struct {
	// FilterIndels drops reads whose cigar has an insertion or a deletion.
	FilterIndels bool
	// Filter, if set, drops reads for which it returns false.
	Filter func(r *sam.Record) bool
	// Repeat, if set, reports reads that an earlier iterator already
	// counted. They are filtered as usual but left out of the counters.
	Repeat func(r *sam.Record) bool
}

type filteringIterator struct {
	in       Iterator
	opts     FilterOpts
	counters *Counters
	rec      *sam.Record
}

// NewFilteringIterator drops the reads a locus traversal cannot use:
// unmapped, secondary, and reads without an alignment start. Every record
// read from in, and the reason it was dropped, is counted in counters.
func NewFilteringIterator(in Iterator, opts FilterOpts, counters *Counters) Iterator {
	return &filteringIterator{in: in, opts: opts, counters: counters}
}

func (f *filteringIterator) Scan() bool {
	var uncounted Counters
	for f.in.Scan() {
		r := f.in.Record()
		c := f.counters
		if f.opts.Repeat != nil && f.opts.Repeat(r) {
			c = &uncounted
		}
		c.Seen++
		switch {
		case r.Flags&sam.Unmapped != 0:
			c.Unmapped++
		case r.Flags&sam.Secondary != 0:
			c.NonPrimary++
		case r.Ref == nil || r.Pos < 0:
			c.NoAlignmentStart++
		case f.opts.FilterIndels && hasIndel(r):
			c.Indel++
		case f.opts.Filter != nil && !f.opts.Filter(r):
			c.Filtered++
		default:
			c.Kept++
			f.rec = r
			return true
		}
	}
	return false
}

func hasIndel(r *sam.Record) bool {
	for _, co := range r.Cigar {
		if t := co.Type(); t == sam.CigarInsertion || t == sam.CigarDeletion {
			return true
		}
	}
	return false
}

func (f *filteringIterator) Record() *sam.Record { return f.rec }
func (f *filteringIterator) Err() error          { return f.in.Err() }
func (f *filteringIterator) Close() error        { return f.in.Close() }

// StopInput forwards to the wrapped iterator if it buffers records.
func (f *filteringIterator) StopInput() {
	if d, ok := f.in.(Drainable); ok {
		d.StopInput()
	}
}

// Buffered forwards to the wrapped iterator if it buffers records.
func (f *filteringIterator) Buffered() int {
	if d, ok := f.in.(Drainable); ok {
		return d.Buffered()
	}
	return 0
}
