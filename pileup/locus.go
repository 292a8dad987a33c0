// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pileup

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/readsource"
	"github.com/grailbio/locuswalk/validation"
)

// Opts configures a LocusIterator.
type Opts struct {
	// IncludeDeletions adds an element with DeletionOffset for each read that
	// spans the position with a deletion. Otherwise such reads are left out.
	IncludeDeletions bool
	// Downsampler, if set, filters reads as they enter the pileup.
	Downsampler Downsampler
	// Restrict, if set, limits the emitted positions to the given locus.
	Restrict *interval.Loc
	// Stringency decides what happens to a read that starts before the
	// current position. Under Strict it ends the iteration with an
	// errors.Integrity error; otherwise the read is dropped and counted in
	// Counters.Missorted.
	Stringency validation.Stringency
}

// DefaultOpts is the default LocusIterator configuration.
var DefaultOpts = Opts{}

type opType uint8

const (
	opMatch opType = iota
	opDeletion
	opSkip
)

// readState tracks the reference base a read covers at the current pileup
// position.
type readState struct {
	rec        *sam.Record
	cigarIdx   int
	opOffset   int
	readOffset int
	refPos     int
	op         opType
}

func newReadState(rec *sam.Record) *readState {
	return &readState{rec: rec, opOffset: -1, readOffset: -1, refPos: rec.Pos - 1}
}

// advance moves s to the next reference base of its read. It returns false
// once the alignment is exhausted.
func (s *readState) advance() bool {
	cigar := s.rec.Cigar
	for s.cigarIdx < len(cigar) {
		co := cigar[s.cigarIdx]
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if s.opOffset+1 < n {
				s.opOffset++
				s.readOffset++
				s.refPos++
				s.op = opMatch
				return true
			}
		case sam.CigarDeletion:
			if s.opOffset+1 < n {
				s.opOffset++
				s.refPos++
				s.op = opDeletion
				return true
			}
		case sam.CigarSkipped:
			if s.opOffset+1 < n {
				s.opOffset++
				s.refPos++
				s.op = opSkip
				return true
			}
		case sam.CigarInsertion, sam.CigarSoftClipped:
			s.readOffset += n
		case sam.CigarHardClipped, sam.CigarPadded:
		default:
			log.Error.Printf("unexpected CIGAR code %v in %s", co.Type(), s.rec.Name)
		}
		s.cigarIdx++
		s.opOffset = -1
	}
	return false
}

// LocusIterator produces one AlignmentContext per covered reference
// position, in increasing order. It is not restartable.
type LocusIterator struct {
	in       readsource.Iterator
	dict     *interval.Dictionary
	opts     Opts
	counters *readsource.Counters

	pending *sam.Record
	inDone  bool
	states  []*readState
	contig  int
	pos     int // 0-based
	started bool
	refs    map[*sam.Reference]int
	done    bool
	err     error
}

// NewLocusIterator creates a LocusIterator over a coordinate-sorted read
// stream. Reads are resolved against dict by reference name. Reads dropped
// by the downsampler are counted in counters, which may be nil.
func NewLocusIterator(in readsource.Iterator, dict *interval.Dictionary, opts Opts, counters *readsource.Counters) *LocusIterator {
	if counters == nil {
		counters = &readsource.Counters{}
	}
	return &LocusIterator{
		in:       in,
		dict:     dict,
		opts:     opts,
		counters: counters,
		refs:     map[*sam.Reference]int{},
	}
}

func (li *LocusIterator) contigOf(r *sam.Record) (int, error) {
	if i, ok := li.refs[r.Ref]; ok {
		return i, nil
	}
	i, ok := li.dict.Index(r.Ref.Name())
	if !ok {
		return 0, validation.Internalf("read %s on contig %s missing from the sequence dictionary", r.Name, r.Ref.Name())
	}
	li.refs[r.Ref] = i
	return i, nil
}

// peek returns the next read of the input without consuming it, or nil.
func (li *LocusIterator) peek() (*sam.Record, int, error) {
	if li.pending == nil {
		if li.inDone || !li.in.Scan() {
			li.inDone = true
			return nil, 0, li.in.Err()
		}
		li.pending = li.in.Record()
	}
	contig, err := li.contigOf(li.pending)
	return li.pending, contig, err
}

// dropMissorted consumes the pending read, which starts before the current
// position.
func (li *LocusIterator) dropMissorted(rec *sam.Record) error {
	li.pending = nil
	li.counters.Missorted++
	stringency := li.opts.Stringency
	if li.counters.Missorted > 1 && stringency == validation.Lenient {
		stringency = validation.Silent
	}
	return stringency.Report(errors.E(errors.Integrity,
		fmt.Sprintf("reads not sorted: %s at %s:%d arrived after position %s:%d was emitted",
			rec.Name, rec.Ref.Name(), rec.Pos+1, li.dict.Contig(li.contig).Name, li.pos+1)))
}

// behind reports whether a read starting at (contig, pos) precedes the
// current position.
func (li *LocusIterator) behind(contig, pos int) bool {
	return contig < li.contig || (contig == li.contig && pos < li.pos)
}

// admit moves the reads starting at the current position into the active
// window.
func (li *LocusIterator) admit() error {
	var starting []*sam.Record
	for {
		rec, contig, err := li.peek()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if li.behind(contig, rec.Pos) {
			if err := li.dropMissorted(rec); err != nil {
				return err
			}
			continue
		}
		if contig != li.contig || rec.Pos != li.pos {
			break
		}
		starting = append(starting, rec)
		li.pending = nil
	}
	if len(starting) == 0 {
		return nil
	}
	if li.opts.Downsampler != nil {
		active := make([]*sam.Record, len(li.states))
		for i, s := range li.states {
			active[i] = s.rec
		}
		kept := li.opts.Downsampler.Admit(starting, active)
		li.counters.Downsampled += int64(len(starting) - len(kept))
		starting = kept
	}
	for _, rec := range starting {
		s := newReadState(rec)
		if s.advance() {
			li.states = append(li.states, s)
		}
	}
	return nil
}

// Next returns the pileup at the next covered position, or nil once the
// input is exhausted.
func (li *LocusIterator) Next() (*AlignmentContext, error) {
	for !li.done && li.err == nil {
		if len(li.states) == 0 {
			rec, contig, err := li.peek()
			if err != nil {
				li.err = err
				break
			}
			if rec == nil {
				li.done = true
				break
			}
			if li.started && li.behind(contig, rec.Pos) {
				li.err = li.dropMissorted(rec)
				continue
			}
			li.contig, li.pos, li.started = contig, rec.Pos, true
		}
		if r := li.opts.Restrict; r != nil && (li.contig > r.ContigIndex || (li.contig == r.ContigIndex && int64(li.pos)+1 > r.Stop)) {
			li.done = true
			break
		}
		if err := li.admit(); err != nil {
			li.err = err
			break
		}
		ctx := li.collect()
		if ctx != nil {
			return ctx, nil
		}
	}
	return nil, li.err
}

// collect builds the pileup at the current position and steps every state to
// the next one.
func (li *LocusIterator) collect() *AlignmentContext {
	var elems []Element
	for _, s := range li.states {
		switch s.op {
		case opMatch:
			elems = append(elems, Element{Read: s.rec, Offset: s.readOffset})
		case opDeletion:
			if li.opts.IncludeDeletions {
				elems = append(elems, Element{Read: s.rec, Offset: DeletionOffset})
			}
		}
	}
	contig, pos := li.contig, li.pos
	live := li.states[:0]
	for _, s := range li.states {
		if s.advance() {
			live = append(live, s)
		}
	}
	for i := len(live); i < len(li.states); i++ {
		li.states[i] = nil
	}
	li.states = live
	li.pos++

	if len(elems) == 0 {
		return nil
	}
	loc := interval.Loc{ContigIndex: contig, Contig: li.dict.Contig(contig).Name, Start: int64(pos) + 1, Stop: int64(pos) + 1}
	if r := li.opts.Restrict; r != nil && !r.Contains(loc) {
		return nil
	}
	return &AlignmentContext{Loc: loc, Elements: elems}
}

// Close closes the underlying read iterator.
func (li *LocusIterator) Close() error {
	if err := li.in.Close(); err != nil {
		return err
	}
	return li.err
}
