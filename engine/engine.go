// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/pileup"
	"github.com/grailbio/locuswalk/readsource"
	"github.com/grailbio/locuswalk/reference"
	"github.com/grailbio/locuswalk/rod"
	"github.com/grailbio/locuswalk/validation"
)

// State is the lifecycle stage of an Engine.
type State int

const (
	// Uninitialized is the state of a new Engine.
	Uninitialized State = iota
	// Initialized engines are ready to traverse.
	Initialized
	// Running engines are inside Traverse.
	Running
	// Done engines have finished a traversal and cannot be reused.
	Done
)

var stateNames = [...]string{"uninitialized", "initialized", "running", "done"}

func (s State) String() string { return stateNames[s] }

// Inputs are the collaborators of an Engine. The Engine does not take
// ownership of Reads or Reference; the caller closes them.
type Inputs struct {
	// Reads is required unless the walker declares NeedsReads false.
	Reads *readsource.Merger
	// Reference, if set, defines the contig order of the traversal.
	Reference *reference.Reference
	// Tracks are queried at every locus, in order.
	Tracks []rod.Track
	// Intervals restricts the traversal. It must be built from the
	// traversal dictionary: the reference's if Reference is set, the reads'
	// otherwise. Nil traverses everything.
	Intervals *interval.Set
}

// Opts configures an Engine.
type Opts struct {
	// MaxReads stops the traversal after this many reads entered the
	// pileup. Zero means no limit.
	MaxReads int64
	// MaxLoci stops the traversal after this many loci were visited. Zero
	// means no limit.
	MaxLoci int64
	// ProgressEvery logs progress every this many loci.
	ProgressEvery int64
	// ProgressInterval logs progress at least this often.
	ProgressInterval time.Duration
	// Stringency decides whether inconsistent sequence dictionaries and
	// reads that arrive behind the pileup are fatal.
	Stringency validation.Stringency
	// FilterIndels drops reads with insertions or deletions.
	FilterIndels bool
	// Downsampling overrides the walker's downsampling unless its mode is
	// NoDownsampling.
	Downsampling Downsampling
	// CheckPileups verifies every pileup before it is passed to the walker.
	CheckPileups bool
	// Label prefixes the log messages of the engine.
	Label string
}

// DefaultOpts is the default Engine configuration.
var DefaultOpts = Opts{
	ProgressEvery:    1000000,
	ProgressInterval: 30 * time.Second,
	Stringency:       validation.Strict,
	Label:            "traversal",
}

// StopReason tells why a traversal ended.
type StopReason int

const (
	// Exhausted means all input was consumed.
	Exhausted StopReason = iota
	// MaxReadsReached means Opts.MaxReads reads were consumed.
	MaxReadsReached
	// MaxLociReached means Opts.MaxLoci loci were visited.
	MaxLociReached
	// PastIntervals means the reads moved past the last interval.
	PastIntervals
)

var stopReasonNames = [...]string{"input exhausted", "max reads reached", "max loci reached", "past the last interval"}

func (r StopReason) String() string { return stopReasonNames[r] }

// Stats summarizes a traversal.
type Stats struct {
	// Reads counts each read once, even when it overlaps several of the
	// queried intervals.
	Reads readsource.Counters
	// Loci counts visited loci, including filtered ones.
	Loci int64
	// FilteredLoci counts loci for which Walker.Filter returned false.
	FilteredLoci int64
	Stop         StopReason
	Elapsed      time.Duration
}

// Add adds the counts of o to s. The stop reason of s is kept unless it is
// Exhausted.
func (s *Stats) Add(o Stats) {
	s.Reads.Add(o.Reads)
	s.Loci += o.Loci
	s.FilteredLoci += o.FilteredLoci
	if s.Stop == Exhausted {
		s.Stop = o.Stop
	}
	s.Elapsed += o.Elapsed
}

// Engine runs one traversal. It is not thread-safe.
type Engine struct {
	in    Inputs
	opts  Opts
	state State

	dict      *interval.Dictionary
	intervals *interval.Set
	refIter   *reference.Iterator
	tracker   *rod.Tracker
	inDict    map[*sam.Reference]bool

	started   bool
	last      interval.Loc
	readsLeft int64
	stats     Stats
	progress  *progressMeter
}

// New creates an Engine. Initialize must be called before Traverse.
func New(in Inputs, opts Opts) *Engine {
	if opts.Label == "" {
		opts.Label = DefaultOpts.Label
	}
	return &Engine{in: in, opts: opts, inDict: map[*sam.Reference]bool{}}
}

// State returns the lifecycle stage of e.
func (e *Engine) State() State { return e.state }

// Stats returns the statistics of the traversal so far.
func (e *Engine) Stats() Stats { return e.stats }

// Dictionary returns the contig order of the traversal. It is valid after
// Initialize.
func (e *Engine) Dictionary() *interval.Dictionary { return e.dict }

// Initialize settles the traversal dictionary, cross-checks the inputs, and
// opens the reference-ordered data.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.state != Uninitialized {
		return validation.Internalf("engine initialized twice (state %v)", e.state)
	}
	if err := e.opts.Downsampling.validate(); err != nil {
		return err
	}
	switch {
	case e.in.Reference != nil:
		e.dict = e.in.Reference.Dictionary()
		if e.in.Reads != nil {
			if err := e.in.Reference.Validate(e.in.Reads.Dictionary(), e.opts.Stringency); err != nil {
				return err
			}
		}
		e.refIter = e.in.Reference.NewIterator()
	case e.in.Reads != nil:
		e.dict = e.in.Reads.Dictionary()
	default:
		return errors.E(errors.Invalid, "a traversal needs reads or a reference")
	}
	if s := e.in.Intervals; s != nil {
		for _, loc := range s.Locs() {
			i, ok := e.dict.Index(loc.Contig)
			if !ok || i != loc.ContigIndex {
				return errors.E(errors.Invalid, fmt.Sprintf("interval %v does not match the traversal sequence dictionary", loc))
			}
		}
		e.intervals = s
		if s.Policy() == interval.NoMerge {
			// Overlapping members would visit loci twice.
			e.intervals = interval.NewSet(s.Locs(), interval.MergeOverlapping)
		}
	}
	tracker, err := rod.NewTracker(ctx, e.in.Tracks)
	if err != nil {
		return err
	}
	if err := tracker.Validate(e.dict, e.opts.Stringency); err != nil {
		tracker.Close() // nolint: errcheck
		return err
	}
	e.tracker = tracker
	e.state = Initialized
	return nil
}

// Close releases the reference-ordered data.
func (e *Engine) Close() error {
	if e.tracker == nil {
		return nil
	}
	err := e.tracker.Close()
	e.tracker = nil
	return err
}

// Traverse runs w over the inputs, calls w.OnTraversalDone with the result,
// and logs a summary. The engine is Done afterwards, even on error.
func (e *Engine) Traverse(w Walker) (interface{}, error) {
	sum, err := e.run(w)
	if err != nil {
		return nil, err
	}
	if err := w.OnTraversalDone(sum); err != nil {
		return nil, err
	}
	e.logSummary()
	return sum, nil
}

// run traverses without calling OnTraversalDone.
func (e *Engine) run(w Walker) (sum interface{}, err error) {
	if e.state != Initialized {
		return nil, validation.Internalf("traverse called on a %v engine", e.state)
	}
	e.state = Running
	start := time.Now()
	defer func() {
		e.state = Done
		e.stats.Elapsed = time.Since(start)
	}()

	req := w.Requirements()
	if err := req.checkTracks(e.in.Tracks); err != nil {
		return nil, err
	}
	if req.NeedsReference && e.in.Reference == nil {
		return nil, errors.E(errors.Invalid, "the walker requires a reference")
	}
	if req.NeedsReads && e.in.Reads == nil {
		return nil, errors.E(errors.Invalid, "the walker requires reads")
	}
	e.readsLeft = e.opts.MaxReads
	e.progress = newProgressMeter(e.opts.Label, e.opts.ProgressEvery, e.opts.ProgressInterval)

	sum = w.ReduceInit()
	switch {
	case !req.NeedsReads:
		sum, err = e.traverseLoci(w, sum)
	case e.intervals != nil && e.in.Reads.HasIndex():
		log.Debug.Printf("%s: traversing %d intervals with indexed queries", e.opts.Label, e.intervals.Len())
		sum, err = e.traverseIntervals(w, req, sum)
	default:
		if e.intervals != nil {
			log.Printf("%s: reads are not indexed; scanning the whole stream for %d intervals", e.opts.Label, e.intervals.Len())
		}
		sum, err = e.traverseStream(w, req, sum)
	}
	if err != nil {
		return nil, err
	}
	switch e.stats.Stop {
	case MaxReadsReached, MaxLociReached:
		log.Printf("%s: stopping early: %v", e.opts.Label, e.stats.Stop)
	}
	return sum, nil
}

func (e *Engine) pileupOpts(req Requirements) pileup.Opts {
	opts := pileup.Opts{IncludeDeletions: req.IncludeDeletions, Stringency: e.opts.Stringency}
	ds := req.Downsampling
	if e.opts.Downsampling.Mode != NoDownsampling {
		ds = e.opts.Downsampling
	}
	opts.Downsampler = ds.newDownsampler(e.in.Reads)
	return opts
}

// reads builds the read pipeline of a traversal on top of in. Reads for which
// repeat returns true were already counted by an earlier pipeline; they are
// neither counted again nor charged against MaxReads. repeat may be nil.
func (e *Engine) reads(in readsource.Iterator, req Requirements, repeat func(*sam.Record) bool) (readsource.Iterator, *limitIterator) {
	filter := func(r *sam.Record) bool {
		ok, cached := e.inDict[r.Ref]
		if !cached {
			_, ok = e.dict.Index(r.Ref.Name())
			e.inDict[r.Ref] = ok
		}
		if !ok {
			return false
		}
		return req.ReadFilter == nil || req.ReadFilter(r)
	}
	it := readsource.NewFilteringIterator(in, readsource.FilterOpts{
		FilterIndels: e.opts.FilterIndels,
		Filter:       filter,
		Repeat:       repeat,
	}, &e.stats.Reads)
	lim := &limitIterator{Iterator: it, left: &e.readsLeft, limited: e.opts.MaxReads > 0, repeat: repeat}
	return lim, lim
}

// traverseStream scans the whole merged stream. With intervals, loci outside
// them are skipped and the scan ends once the pileup moves past the last
// interval.
func (e *Engine) traverseStream(w Walker, req Requirements, sum interface{}) (_ interface{}, err error) {
	it, lim := e.reads(e.in.Reads.Iterator(), req, nil)
	li := pileup.NewLocusIterator(it, e.dict, e.pileupOpts(req), &e.stats.Reads)
	defer func() {
		if cerr := li.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	for {
		pile, err := li.Next()
		if err != nil {
			return nil, err
		}
		if pile == nil {
			break
		}
		if e.intervals != nil {
			if e.intervals.IsPastAll(pile.Loc) {
				e.stats.Stop = PastIntervals
				return sum, e.drain(li, lim)
			}
			if !e.intervals.Overlaps(pile.Loc) {
				continue
			}
		}
		var stop bool
		if sum, stop, err = e.visit(w, pile, sum); err != nil || stop {
			return sum, err
		}
	}
	if lim.hit {
		e.stats.Stop = MaxReadsReached
	}
	return sum, nil
}

// drain empties the sort-on-the-fly buffers before the traversal stops past
// the last interval. The pileups built from the buffered reads are
// discarded; they all lie past the interval.
func (e *Engine) drain(li *pileup.LocusIterator, lim *limitIterator) error {
	d, ok := lim.Iterator.(readsource.Drainable)
	if !ok || d.Buffered() == 0 {
		return nil
	}
	n := d.Buffered()
	d.StopInput()
	for {
		pile, err := li.Next()
		if err != nil {
			return err
		}
		if pile == nil {
			break
		}
		if !e.intervals.IsPastAll(pile.Loc) {
			return validation.Internalf("pileup at %v after the traversal moved past the last interval", pile.Loc)
		}
	}
	log.Debug.Printf("%s: drained %d buffered reads past the last interval", e.opts.Label, n)
	return nil
}

// traverseIntervals issues one indexed query per interval. A read that
// overlaps consecutive intervals is piled up for each of them but counted
// once.
func (e *Engine) traverseIntervals(w Walker, req Requirements, sum interface{}) (interface{}, error) {
	popts := e.pileupOpts(req)
	var prev *interval.Loc
	repeat := func(r *sam.Record) bool {
		if prev == nil || r.Ref == nil || r.Pos < 0 {
			return false
		}
		contig, ok := e.dict.Index(r.Ref.Name())
		return ok && contig == prev.ContigIndex && int64(r.Pos) < prev.Stop
	}
	for _, loc := range e.intervals.Locs() {
		loc := loc
		it, lim := e.reads(e.in.Reads.Query(loc), req, repeat)
		opts := popts
		opts.Restrict = &loc
		li := pileup.NewLocusIterator(it, e.dict, opts, &e.stats.Reads)
		var (
			stop bool
			err  error
		)
		for !stop {
			var pile *pileup.AlignmentContext
			if pile, err = li.Next(); err != nil || pile == nil {
				break
			}
			sum, stop, err = e.visit(w, pile, sum)
			if err != nil {
				break
			}
		}
		if cerr := li.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
		if stop {
			return sum, nil
		}
		if lim.hit {
			e.stats.Stop = MaxReadsReached
			return sum, nil
		}
		prev = &loc
	}
	return sum, nil
}

// traverseLoci visits every position of the intervals, or of the whole
// dictionary, with empty pileups.
func (e *Engine) traverseLoci(w Walker, sum interface{}) (interface{}, error) {
	var locs []interval.Loc
	if e.intervals != nil {
		locs = e.intervals.Locs()
	} else {
		for i := 0; i < e.dict.Len(); i++ {
			if e.dict.Contig(i).Length > 0 {
				locs = append(locs, e.dict.Whole(i))
			}
		}
	}
	for _, loc := range locs {
		for pos := loc.Start; pos <= loc.Stop; pos++ {
			pile := &pileup.AlignmentContext{Loc: interval.Loc{ContigIndex: loc.ContigIndex, Contig: loc.Contig, Start: pos, Stop: pos}}
			var (
				stop bool
				err  error
			)
			if sum, stop, err = e.visit(w, pile, sum); err != nil || stop {
				return sum, err
			}
		}
	}
	return sum, nil
}

// visit runs the walker at one locus. stop is true when MaxLoci is reached.
func (e *Engine) visit(w Walker, pile *pileup.AlignmentContext, sum interface{}) (_ interface{}, stop bool, err error) {
	loc := pile.Loc
	if e.started && loc.Compare(e.last) <= 0 {
		return nil, false, validation.Internalf("locus %v visited after %v", loc, e.last)
	}
	e.started, e.last = true, loc
	if e.opts.CheckPileups {
		if err := pile.CheckConsistency(); err != nil {
			return nil, false, err
		}
	}
	var ref byte
	if e.refIter != nil {
		if ref, err = e.refIter.SeekForward(loc); err != nil {
			return nil, false, err
		}
	}
	rods, err := e.tracker.At(loc)
	if err != nil {
		return nil, false, err
	}
	e.stats.Loci++
	if w.Filter(rods, ref, pile) {
		value, err := w.Map(rods, ref, pile)
		if err != nil {
			return nil, false, errors.E(err, "at", loc.String())
		}
		if sum, err = w.Reduce(value, sum); err != nil {
			return nil, false, errors.E(err, "at", loc.String())
		}
	} else {
		e.stats.FilteredLoci++
	}
	e.progress.update(loc, &e.stats)
	if e.opts.MaxLoci > 0 && e.stats.Loci >= e.opts.MaxLoci {
		e.stats.Stop = MaxLociReached
		return sum, true, nil
	}
	return sum, false, nil
}

func (e *Engine) logSummary() {
	s := e.stats
	r := s.Reads
	log.Printf("%s: done (%v) in %v: %d loci visited, %d filtered", e.opts.Label, s.Stop, s.Elapsed.Round(time.Millisecond), s.Loci, s.FilteredLoci)
	log.Printf("%s: %d reads seen, %d used, %d skipped: %d unmapped, %d non-primary, %d without alignment start, %d with indels, %d filtered; %d downsampled, %d missorted",
		e.opts.Label, r.Seen, r.Kept, r.Skipped(), r.Unmapped, r.NonPrimary, r.NoAlignmentStart, r.Indel, r.Filtered, r.Downsampled, r.Missorted)
}

// limitIterator ends the read stream once a shared budget of reads is used
// up.
type limitIterator struct {
	readsource.Iterator
	left    *int64
	limited bool
	repeat  func(*sam.Record) bool
	hit     bool
}

func (l *limitIterator) Scan() bool {
	if l.limited && *l.left <= 0 {
		l.hit = true
		return false
	}
	if !l.Iterator.Scan() {
		return false
	}
	if l.limited && (l.repeat == nil || !l.repeat(l.Iterator.Record())) {
		*l.left--
	}
	return true
}
