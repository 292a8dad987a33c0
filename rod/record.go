// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package rod provides reference-ordered data: tracks of located records
// (BED features, VCF sites, ...) read alongside the pileup and queried with
// monotonically increasing locations.
package rod

import (
	"github.com/grailbio/locuswalk/interval"
)

// Record is one located item of a track.
type Record interface {
	Loc() interval.Loc
}

// Feature is a generic named record. BED tracks produce Features.
type Feature struct {
	Location interval.Loc
	Name     string
	// Fields holds the columns after the name, if any.
	Fields []string
}

// Loc implements Record.
func (f *Feature) Loc() interval.Loc { return f.Location }

// RecordList holds the records of one track overlapping a query location.
type RecordList struct {
	Track string
	Type  string
	// Query is the location that was looked up.
	Query   interval.Loc
	Records []Record
}

// Len returns the number of records in l. A nil list has length zero.
func (l *RecordList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Records)
}

// RecordIterator yields the records of a track in file order.
type RecordIterator interface {
	Scan() bool
	Record() Record
	Err() error
	Close() error
}

type sliceIterator struct {
	recs []Record
	rec  Record
}

// NewSliceIterator creates a RecordIterator over recs.
func NewSliceIterator(recs []Record) RecordIterator {
	return &sliceIterator{recs: recs}
}

func (it *sliceIterator) Scan() bool {
	if len(it.recs) == 0 {
		return false
	}
	it.rec, it.recs = it.recs[0], it.recs[1:]
	return true
}

func (it *sliceIterator) Record() Record { return it.rec }
func (it *sliceIterator) Err() error     { return nil }
func (it *sliceIterator) Close() error   { return nil }
