// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rod

import (
	"context"

	"github.com/grailbio/locuswalk/interval"
)

// Track types known to this package.
const (
	TypeBED      = "BED"
	TypeVCF      = "VCF"
	TypeInMemory = "MEMORY"
)

// Track is a named source of reference-ordered records.
type Track interface {
	Name() string
	Type() string
	// Dictionary returns the sequence dictionary declared by the track, or
	// nil if the track carries none.
	Dictionary() *interval.Dictionary
	// Open starts a new pass over the records, in file order.
	Open(ctx context.Context) (RecordIterator, error)
}

type sliceTrack struct {
	name string
	typ  string
	dict *interval.Dictionary
	recs []Record
}

// NewSliceTrack creates a Track over in-memory records. The records must be
// sorted by location; dict may be nil.
func NewSliceTrack(name, typ string, dict *interval.Dictionary, recs []Record) Track {
	return &sliceTrack{name: name, typ: typ, dict: dict, recs: recs}
}

func (t *sliceTrack) Name() string                     { return t.name }
func (t *sliceTrack) Type() string                     { return t.typ }
func (t *sliceTrack) Dictionary() *interval.Dictionary { return t.dict }

func (t *sliceTrack) Open(context.Context) (RecordIterator, error) {
	return NewSliceIterator(t.recs), nil
}
