// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"fmt"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

type sortEntry struct {
	key recordKey
	seq int64 // arrival order; makes keys unique and the sort stable.
	rec *sam.Record
}

// Compare implements llrb.Comparable.
func (e *sortEntry) Compare(c llrb.Comparable) int {
	o := c.(*sortEntry)
	if c := e.key.compare(o.key); c != 0 {
		return c
	}
	switch {
	case e.seq < o.seq:
		return -1
	case e.seq > o.seq:
		return 1
	}
	return 0
}

// SortingIterator re-sorts a nearly sorted stream in a bounded in-memory
// buffer. A record that belongs before one already emitted means the
// disorder exceeded the buffer, and ends the iteration with an
// errors.Integrity error.
type SortingIterator struct {
	in      Iterator
	name    string
	key     keyFunc
	maxSize int

	buf       llrb.Tree
	seq       int64
	inputDone bool
	emitted   bool
	last      recordKey
	rec       *sam.Record
	err       error
}

func newSortingIterator(in Iterator, name string, key keyFunc, maxSize int) *SortingIterator {
	if maxSize < 1 {
		maxSize = 1
	}
	return &SortingIterator{in: in, name: name, key: key, maxSize: maxSize}
}

// Buffered returns the number of records read but not yet emitted.
func (s *SortingIterator) Buffered() int { return s.buf.Len() }

// StopInput makes the iterator emit only the records already buffered.
func (s *SortingIterator) StopInput() { s.inputDone = true }

// Scan implements Iterator.
func (s *SortingIterator) Scan() bool {
	if s.err != nil {
		return false
	}
	for !s.inputDone && s.buf.Len() < s.maxSize {
		if !s.in.Scan() {
			s.inputDone = true
			if s.err = s.in.Err(); s.err != nil {
				return false
			}
			break
		}
		rec := s.in.Record()
		k := s.key(rec)
		if s.emitted && k.compare(s.last) < 0 {
			s.err = errors.E(errors.Integrity, fmt.Sprintf(
				"%s: record %s is too far out of order to sort on the fly with a buffer of %d records",
				s.name, describe(rec), s.maxSize))
			return false
		}
		s.buf.Insert(&sortEntry{key: k, seq: s.seq, rec: rec})
		s.seq++
	}
	if s.buf.Len() == 0 {
		return false
	}
	top := s.buf.Min().(*sortEntry)
	s.buf.DeleteMin()
	s.emitted = true
	s.last = top.key
	s.rec = top.rec
	return true
}

// Record implements Iterator.
func (s *SortingIterator) Record() *sam.Record { return s.rec }

// Err implements Iterator.
func (s *SortingIterator) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.in.Err()
}

// Close implements Iterator.
func (s *SortingIterator) Close() error {
	err := s.in.Close()
	if s.err != nil {
		return s.err
	}
	return err
}
