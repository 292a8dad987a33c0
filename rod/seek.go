// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rod

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/validation"
)

// SeekableIterator answers overlap queries over a track, provided that each
// query starts no earlier than the previous one.
type SeekableIterator struct {
	track string
	typ   string
	in    RecordIterator

	// window holds records that started at or before the last query stop and
	// may still overlap a later query.
	window  []Record
	pending Record
	inDone  bool
	lastRec interval.Loc
	nRecs   int
	last    interval.Loc
	queried bool
	err     error
}

// NewSeekableIterator wraps the records of a track. track and typ label the
// returned RecordLists.
func NewSeekableIterator(track, typ string, in RecordIterator) *SeekableIterator {
	return &SeekableIterator{track: track, typ: typ, in: in}
}

// next reads one record, checking the file order.
func (it *SeekableIterator) next() (Record, error) {
	if it.inDone || !it.in.Scan() {
		it.inDone = true
		return nil, it.in.Err()
	}
	rec := it.in.Record()
	loc := rec.Loc()
	if it.nRecs > 0 && loc.ComparePos(it.lastRec) < 0 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("track %s: record at %v follows %v: records are out of order", it.track, loc, it.lastRec))
	}
	it.nRecs++
	it.lastRec = loc
	return rec, nil
}

// SeekForward returns the records overlapping loc, or nil when there are
// none. Seeking to a location that starts before the previous one is an
// internal error.
func (it *SeekableIterator) SeekForward(loc interval.Loc) (*RecordList, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.queried && loc.ComparePos(it.last) < 0 {
		it.err = validation.Internalf("track %s: seek to %v precedes previous seek to %v", it.track, loc, it.last)
		return nil, it.err
	}
	it.queried = true
	it.last = loc

	kept := it.window[:0]
	for _, r := range it.window {
		if !r.Loc().IsBefore(loc) {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(it.window); i++ {
		it.window[i] = nil
	}
	it.window = kept

	for {
		if it.pending == nil {
			rec, err := it.next()
			if err != nil {
				it.err = err
				return nil, err
			}
			if rec == nil {
				break
			}
			it.pending = rec
		}
		rl := it.pending.Loc()
		if rl.IsPast(loc) {
			break
		}
		if !rl.IsBefore(loc) {
			it.window = append(it.window, it.pending)
		}
		it.pending = nil
	}

	var recs []Record
	for _, r := range it.window {
		if r.Loc().Overlaps(loc) {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &RecordList{Track: it.track, Type: it.typ, Query: loc, Records: recs}, nil
}

// Close releases the underlying iterator.
func (it *SeekableIterator) Close() error {
	if err := it.in.Close(); err != nil {
		return err
	}
	return it.err
}
