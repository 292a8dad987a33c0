// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"github.com/grailbio/hts/sam"
)

// Iterator iterates over sam.Records in coordinate order. Thread compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If an error
	// occurs, Scan returns false and the error can be retrieved by calling
	// Err.
	Scan() bool

	// Record returns the current record. It must be called only after a call
	// to Scan returns true.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil. io.EOF is
	// translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err, or an
	// error from releasing resources.
	Close() error
}

type errorIterator struct {
	err error
}

func (i *errorIterator) Scan() bool          { return false }
func (i *errorIterator) Record() *sam.Record { panic("shall not be called") }
func (i *errorIterator) Err() error          { return i.err }
func (i *errorIterator) Close() error        { return i.err }

// NewErrorIterator creates an Iterator that yields no record and returns err
// in Err and Close.
func NewErrorIterator(err error) Iterator {
	return &errorIterator{err: err}
}

type sliceIterator struct {
	recs []*sam.Record
	rec  *sam.Record
}

// NewSliceIterator creates an Iterator that yields recs in the given order.
func NewSliceIterator(recs []*sam.Record) Iterator {
	return &sliceIterator{recs: recs}
}

func (i *sliceIterator) Scan() bool {
	if len(i.recs) == 0 {
		return false
	}
	i.rec, i.recs = i.recs[0], i.recs[1:]
	return true
}

func (i *sliceIterator) Record() *sam.Record { return i.rec }
func (i *sliceIterator) Err() error          { return nil }
func (i *sliceIterator) Close() error        { return nil }

// Drain reads the remaining records of it and closes it. It returns the
// number of records read.
func Drain(it Iterator) (n int, err error) {
	for it.Scan() {
		n++
	}
	return n, it.Close()
}
