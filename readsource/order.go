// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/validation"
)

// recordKey is the coordinate-sort position of a record: the contig index in
// the merged dictionary, then the 0-based alignment start. Reads without a
// reference sort last.
type recordKey struct {
	contig int
	pos    int
}

func (k recordKey) compare(o recordKey) int {
	if k.contig != o.contig {
		if k.contig < o.contig {
			return -1
		}
		return 1
	}
	switch {
	case k.pos < o.pos:
		return -1
	case k.pos > o.pos:
		return 1
	}
	return 0
}

const unplacedContig = math.MaxInt32

// keyFunc computes the recordKey of records from one source.
type keyFunc func(r *sam.Record) recordKey

// newKeyFunc creates a keyFunc that maps reference IDs of a source header
// through refMap into merged contig indexes.
func newKeyFunc(refMap []int) keyFunc {
	return func(r *sam.Record) recordKey {
		if r.Ref == nil || r.Ref.ID() < 0 || r.Ref.ID() >= len(refMap) {
			return recordKey{contig: unplacedContig, pos: r.Pos}
		}
		return recordKey{contig: refMap[r.Ref.ID()], pos: r.Pos}
	}
}

func describe(r *sam.Record) string {
	if r.Ref == nil {
		return fmt.Sprintf("%s (unplaced)", r.Name)
	}
	return fmt.Sprintf("%s at %s:%d", r.Name, r.Ref.Name(), r.Pos+1)
}

// verifyingIterator checks that records arrive in coordinate order.
type verifyingIterator struct {
	in         Iterator
	name       string
	key        keyFunc
	stringency validation.Stringency

	started  bool
	last     recordKey
	lastRec  *sam.Record
	nMissort int
	err      error
}

// newVerifyingIterator wraps in with a sort-order check. Under Strict a
// missorted record ends the iteration with an errors.Integrity error; under
// Lenient the first one is logged and the iteration continues.
func newVerifyingIterator(in Iterator, name string, key keyFunc, s validation.Stringency) *verifyingIterator {
	return &verifyingIterator{in: in, name: name, key: key, stringency: s}
}

func (v *verifyingIterator) Scan() bool {
	if v.err != nil || !v.in.Scan() {
		return false
	}
	rec := v.in.Record()
	k := v.key(rec)
	if v.started && k.compare(v.last) < 0 {
		v.nMissort++
		stringency := v.stringency
		if v.nMissort > 1 && stringency == validation.Lenient {
			stringency = validation.Silent
		}
		err := errors.E(errors.Integrity, fmt.Sprintf("missorted input: %s: record %s precedes %s",
			v.name, describe(rec), describe(v.lastRec)))
		if v.err = stringency.Report(err); v.err != nil {
			return false
		}
	}
	v.started = true
	v.last, v.lastRec = k, rec
	return true
}

func (v *verifyingIterator) Record() *sam.Record { return v.lastRec }

func (v *verifyingIterator) Err() error {
	if v.err != nil {
		return v.err
	}
	return v.in.Err()
}

func (v *verifyingIterator) Close() error {
	err := v.in.Close()
	if v.nMissort > 1 && v.err == nil {
		log.Error.Printf("warning: %s: %d missorted records", v.name, v.nMissort)
	}
	if v.err != nil {
		return v.err
	}
	return err
}
