// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package engine_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/engine"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/pileup"
	"github.com/grailbio/locuswalk/readsource"
	"github.com/grailbio/locuswalk/reference"
	"github.com/grailbio/locuswalk/rod"
	"github.com/grailbio/locuswalk/validation"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	chr1Seq = strings.Repeat("ACGT", 50)
	chr2Seq = strings.Repeat("TTGA", 25)
)

type fixture struct {
	ref    *reference.Reference
	header *sam.Header
	reads  []*sam.Record
}

func newFixture(t *testing.T) *fixture {
	fa, err := reference.NewFasta(strings.NewReader(">chr1\n" + chr1Seq + "\n>chr2\n" + chr2Seq + "\n"))
	require.NoError(t, err)
	ref, err := reference.New(fa)
	require.NoError(t, err)

	r1, err := sam.NewReference("chr1", "", "", len(chr1Seq), nil, nil)
	require.NoError(t, err)
	r2, err := sam.NewReference("chr2", "", "", len(chr2Seq), nil, nil)
	require.NoError(t, err)
	h, err := sam.NewHeader(nil, []*sam.Reference{r1, r2})
	require.NoError(t, err)
	h.SortOrder = sam.Coordinate
	refs := h.Refs()

	f := &fixture{ref: ref, header: h}
	f.reads = []*sam.Record{
		f.read(t, "a", refs[0], 10, 10),
		f.read(t, "b", refs[0], 15, 5),
		f.read(t, "c", refs[0], 50, 10),
		f.read(t, "d", refs[1], 0, 10),
		f.read(t, "e", refs[1], 40, 5),
	}
	return f
}

func (f *fixture) read(t *testing.T, name string, ref *sam.Reference, pos, n int) *sam.Record {
	co, err := sam.ParseCigar([]byte(fmt.Sprintf("%dM", n)))
	require.NoError(t, err)
	seq := []byte(strings.Repeat("A", n))
	qual := make([]byte, n)
	for i := range qual {
		qual[i] = 30
	}
	r, err := sam.NewRecord(name, ref, nil, pos, -1, 0, 60, co, seq, qual, nil)
	require.NoError(t, err)
	return r
}

// unindexed hides the index of a Source.
type unindexed struct{ readsource.Source }

func (unindexed) HasIndex() bool { return false }

func (f *fixture) merger(t *testing.T, indexed bool) *readsource.Merger {
	var src readsource.Source = readsource.NewSliceSource("reads", f.header, f.reads)
	if !indexed {
		src = unindexed{src}
	}
	m, err := readsource.NewMerger([]readsource.Source{src}, readsource.DefaultOpts)
	require.NoError(t, err)
	return m
}

func (f *fixture) loc(t *testing.T, contig string, start, stop int64) interval.Loc {
	l, err := f.ref.Dictionary().NewLoc(contig, start, stop)
	require.NoError(t, err)
	return l
}

type visit struct {
	Loc   string
	Ref   byte
	Depth int
	Rods  []int
}

type recordingWalker struct {
	req    engine.Requirements
	filter func(*pileup.AlignmentContext) bool
	nDone  int
	final  []visit
}

func (w *recordingWalker) Requirements() engine.Requirements { return w.req }
func (w *recordingWalker) ReduceInit() interface{}           { return []visit(nil) }

func (w *recordingWalker) Filter(_ []*rod.RecordList, _ byte, pile *pileup.AlignmentContext) bool {
	return w.filter == nil || w.filter(pile)
}

func (w *recordingWalker) Map(rods []*rod.RecordList, ref byte, pile *pileup.AlignmentContext) (interface{}, error) {
	v := visit{Loc: pile.Loc.String(), Ref: ref, Depth: pile.Size()}
	for _, l := range rods {
		v.Rods = append(v.Rods, l.Len())
	}
	return v, nil
}

func (w *recordingWalker) Reduce(value, sum interface{}) (interface{}, error) {
	return append(sum.([]visit), value.(visit)), nil
}

func (w *recordingWalker) OnTraversalDone(sum interface{}) error {
	w.nDone++
	w.final = sum.([]visit)
	return nil
}

func readsWalker() *recordingWalker {
	return &recordingWalker{req: engine.Requirements{NeedsReads: true, NeedsReference: true}}
}

func run(t *testing.T, in engine.Inputs, opts engine.Opts, w engine.Walker) ([]visit, engine.Stats) {
	e := engine.New(in, opts)
	require.NoError(t, e.Initialize(vcontext.Background()))
	defer func() { require.NoError(t, e.Close()) }()
	sum, err := e.Traverse(w)
	require.NoError(t, err)
	expect.EQ(t, e.State(), engine.Done)
	return sum.([]visit), e.Stats()
}

func locStrings(visits []visit) []string {
	var s []string
	for _, v := range visits {
		s = append(s, v.Loc)
	}
	return s
}

func positions(contig string, start, stop int) []string {
	var s []string
	for p := start; p <= stop; p++ {
		s = append(s, fmt.Sprintf("%s:%d", contig, p))
	}
	return s
}

func concat(lists ...[]string) []string {
	var r []string
	for _, l := range lists {
		r = append(r, l...)
	}
	return r
}

func TestWholeStreamTraversal(t *testing.T) {
	f := newFixture(t)
	w := readsWalker()
	visits, stats := run(t, engine.Inputs{Reads: f.merger(t, false), Reference: f.ref}, engine.DefaultOpts, w)

	expect.EQ(t, locStrings(visits), concat(
		positions("chr1", 11, 20), positions("chr1", 51, 60),
		positions("chr2", 1, 10), positions("chr2", 41, 45)))
	expect.EQ(t, w.nDone, 1)
	expect.EQ(t, len(w.final), len(visits))
	for _, v := range visits {
		var (
			contig string
			pos    int
		)
		_, err := fmt.Sscanf(strings.Replace(v.Loc, ":", " ", 1), "%s %d", &contig, &pos)
		require.NoError(t, err)
		seq := chr1Seq
		if contig == "chr2" {
			seq = chr2Seq
		}
		expect.EQ(t, v.Ref, seq[pos-1], v.Loc)
		want := 1
		if contig == "chr1" && pos >= 16 && pos <= 20 {
			want = 2
		}
		expect.EQ(t, v.Depth, want, v.Loc)
	}
	expect.EQ(t, stats.Loci, int64(35))
	expect.EQ(t, stats.Reads.Seen, int64(5))
	expect.EQ(t, stats.Reads.Kept, int64(5))
	expect.EQ(t, stats.Stop, engine.Exhausted)
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t)
	in := engine.Inputs{Reads: f.merger(t, true), Reference: f.ref}

	e := engine.New(in, engine.DefaultOpts)
	expect.EQ(t, e.State(), engine.Uninitialized)
	_, err := e.Traverse(readsWalker())
	assert.True(t, validation.IsInternalError(err), "err: %v", err)

	require.NoError(t, e.Initialize(vcontext.Background()))
	expect.EQ(t, e.State(), engine.Initialized)
	assert.True(t, validation.IsInternalError(e.Initialize(vcontext.Background())))
	_, err = e.Traverse(readsWalker())
	require.NoError(t, err)
	expect.EQ(t, e.State(), engine.Done)
	_, err = e.Traverse(readsWalker())
	assert.True(t, validation.IsInternalError(err), "err: %v", err)
	require.NoError(t, e.Close())
}

func TestIntervalTraversal(t *testing.T) {
	f := newFixture(t)
	set := interval.NewSet([]interval.Loc{
		f.loc(t, "chr2", 5, 42),
		f.loc(t, "chr1", 15, 55),
	}, interval.MergeOverlapping)
	want := concat(positions("chr1", 15, 20), positions("chr1", 51, 55),
		positions("chr2", 5, 10), positions("chr2", 41, 42))

	for _, indexed := range []bool{true, false} {
		visits, _ := run(t, engine.Inputs{Reads: f.merger(t, indexed), Reference: f.ref, Intervals: set},
			engine.DefaultOpts, readsWalker())
		expect.EQ(t, locStrings(visits), want, "indexed=%v", indexed)

		// Traversing the two halves separately gives the same loci.
		var split []string
		for _, half := range set.Split(2) {
			visits, _ := run(t, engine.Inputs{Reads: f.merger(t, indexed), Reference: f.ref, Intervals: half},
				engine.DefaultOpts, readsWalker())
			split = append(split, locStrings(visits)...)
		}
		expect.EQ(t, split, want, "indexed=%v", indexed)
	}
}

func TestReadSpanningIntervalsCountedOnce(t *testing.T) {
	f := newFixture(t)
	// Read a covers both intervals, read b only the second.
	set := interval.NewSet([]interval.Loc{
		f.loc(t, "chr1", 11, 14),
		f.loc(t, "chr1", 17, 20),
	}, interval.MergeOverlapping)
	want := concat(positions("chr1", 11, 14), positions("chr1", 17, 20))

	visits, stats := run(t, engine.Inputs{Reads: f.merger(t, true), Reference: f.ref, Intervals: set},
		engine.DefaultOpts, readsWalker())
	expect.EQ(t, locStrings(visits), want)
	expect.EQ(t, stats.Reads.Seen, int64(2))
	expect.EQ(t, stats.Reads.Kept, int64(2))

	opts := engine.DefaultOpts
	opts.MaxReads = 2
	visits, _ = run(t, engine.Inputs{Reads: f.merger(t, true), Reference: f.ref, Intervals: set}, opts, readsWalker())
	expect.EQ(t, locStrings(visits), want)
	for _, v := range visits[4:] {
		expect.EQ(t, v.Depth, 2, v.Loc)
	}
}

func TestUnmergedIntervalsVisitedOnce(t *testing.T) {
	f := newFixture(t)
	set := interval.NewSet([]interval.Loc{
		f.loc(t, "chr1", 11, 14),
		f.loc(t, "chr1", 13, 16),
	}, interval.NoMerge)
	visits, _ := run(t, engine.Inputs{Reads: f.merger(t, true), Reference: f.ref, Intervals: set},
		engine.DefaultOpts, readsWalker())
	expect.EQ(t, locStrings(visits), positions("chr1", 11, 16))
}

func TestStopPastLastInterval(t *testing.T) {
	f := newFixture(t)
	set := interval.NewSet([]interval.Loc{f.loc(t, "chr1", 1, 20)}, interval.MergeOverlapping)
	visits, stats := run(t, engine.Inputs{Reads: f.merger(t, false), Reference: f.ref, Intervals: set},
		engine.DefaultOpts, readsWalker())
	expect.EQ(t, locStrings(visits), positions("chr1", 11, 20))
	expect.EQ(t, stats.Stop, engine.PastIntervals)
	// Reads d and e on chr2 are never read.
	expect.EQ(t, stats.Reads.Seen, int64(3))
}

func TestStopPastLastIntervalSortOnTheFly(t *testing.T) {
	f := newFixture(t)
	reads := []*sam.Record{f.reads[1], f.reads[0], f.reads[2], f.reads[3], f.reads[4]}
	h := f.header.Clone()
	h.SortOrder = sam.Unsorted
	opts := readsource.DefaultOpts
	opts.SortOnTheFly = true
	opts.MaxOnFlySorts = 3
	m, err := readsource.NewMerger([]readsource.Source{unindexed{readsource.NewSliceSource("reads", h, reads)}}, opts)
	require.NoError(t, err)

	set := interval.NewSet([]interval.Loc{f.loc(t, "chr1", 1, 20)}, interval.MergeOverlapping)
	visits, stats := run(t, engine.Inputs{Reads: m, Reference: f.ref, Intervals: set}, engine.DefaultOpts, readsWalker())
	expect.EQ(t, locStrings(visits), positions("chr1", 11, 20))
	expect.EQ(t, stats.Stop, engine.PastIntervals)
	for _, v := range visits[5:] {
		expect.EQ(t, v.Depth, 2)
	}
}

func TestMissortedReads(t *testing.T) {
	f := newFixture(t)
	// b starts behind c, which the pileup has already reached.
	reads := []*sam.Record{f.reads[0], f.reads[2], f.reads[1]}
	merger := func(s validation.Stringency) *readsource.Merger {
		opts := readsource.DefaultOpts
		opts.Stringency = s
		m, err := readsource.NewMerger([]readsource.Source{readsource.NewSliceSource("reads", f.header, reads)}, opts)
		require.NoError(t, err)
		return m
	}

	opts := engine.DefaultOpts
	opts.Stringency = validation.Lenient
	visits, stats := run(t, engine.Inputs{Reads: merger(validation.Lenient), Reference: f.ref}, opts, readsWalker())
	expect.EQ(t, locStrings(visits), concat(positions("chr1", 11, 20), positions("chr1", 51, 60)))
	for _, v := range visits {
		expect.EQ(t, v.Depth, 1)
	}
	expect.EQ(t, stats.Reads.Seen, int64(3))
	expect.EQ(t, stats.Reads.Missorted, int64(1))
	expect.EQ(t, stats.Stop, engine.Exhausted)

	// A strict pileup rejects the read as bad input even when the sources
	// let it through.
	opts.Stringency = validation.Strict
	e := engine.New(engine.Inputs{Reads: merger(validation.Lenient), Reference: f.ref}, opts)
	require.NoError(t, e.Initialize(vcontext.Background()))
	_, err := e.Traverse(readsWalker())
	require.Error(t, err)
	assert.True(t, validation.IsUserError(err), "err: %v", err)
	assert.True(t, errors.Is(errors.Integrity, err), "err: %v", err)
	require.NoError(t, e.Close())

	e = engine.New(engine.Inputs{Reads: merger(validation.Strict), Reference: f.ref}, opts)
	require.NoError(t, e.Initialize(vcontext.Background()))
	_, err = e.Traverse(readsWalker())
	assert.True(t, validation.IsUserError(err), "err: %v", err)
	require.NoError(t, e.Close())
}

func TestMaxLociAndMaxReads(t *testing.T) {
	f := newFixture(t)
	opts := engine.DefaultOpts
	opts.MaxLoci = 5
	visits, stats := run(t, engine.Inputs{Reads: f.merger(t, false), Reference: f.ref}, opts, readsWalker())
	expect.EQ(t, locStrings(visits), positions("chr1", 11, 15))
	expect.EQ(t, stats.Stop, engine.MaxLociReached)

	for _, indexed := range []bool{true, false} {
		opts = engine.DefaultOpts
		opts.MaxReads = 1
		in := engine.Inputs{Reads: f.merger(t, indexed), Reference: f.ref}
		if indexed {
			in.Intervals = interval.NewSet([]interval.Loc{f.ref.Dictionary().Whole(0), f.ref.Dictionary().Whole(1)}, interval.MergeOverlapping)
		}
		visits, stats = run(t, in, opts, readsWalker())
		expect.EQ(t, locStrings(visits), positions("chr1", 11, 20))
		for _, v := range visits {
			expect.EQ(t, v.Depth, 1)
		}
		expect.EQ(t, stats.Stop, engine.MaxReadsReached)
		expect.EQ(t, stats.Reads.Kept, int64(1))
	}
}

func TestFilteredLociAreCounted(t *testing.T) {
	f := newFixture(t)
	w := readsWalker()
	w.filter = func(pile *pileup.AlignmentContext) bool { return pile.Size() > 1 }
	visits, stats := run(t, engine.Inputs{Reads: f.merger(t, false), Reference: f.ref}, engine.DefaultOpts, w)
	expect.EQ(t, locStrings(visits), positions("chr1", 16, 20))
	expect.EQ(t, stats.Loci, int64(35))
	expect.EQ(t, stats.FilteredLoci, int64(30))
}

func TestDownsampling(t *testing.T) {
	f := newFixture(t)
	opts := engine.DefaultOpts
	opts.Downsampling = engine.Downsampling{Mode: engine.DownsampleToCoverage, Coverage: 1, Seed: 1}
	visits, stats := run(t, engine.Inputs{Reads: f.merger(t, false), Reference: f.ref}, opts, readsWalker())
	for _, v := range visits {
		expect.EQ(t, v.Depth, 1, v.Loc)
	}
	expect.EQ(t, stats.Reads.Downsampled, int64(1))
	expect.EQ(t, stats.Reads.Kept, int64(5))

	opts.Downsampling = engine.Downsampling{Mode: engine.DownsampleByFraction, Fraction: 2}
	e := engine.New(engine.Inputs{Reads: f.merger(t, false), Reference: f.ref}, opts)
	assert.True(t, errors.Is(errors.Invalid, e.Initialize(vcontext.Background())))
}

func TestRODAlignment(t *testing.T) {
	f := newFixture(t)
	features := []rod.Record{
		&rod.Feature{Location: f.loc(t, "chr1", 12, 14), Name: "f1"},
		&rod.Feature{Location: f.loc(t, "chr1", 14, 18), Name: "f2"},
		&rod.Feature{Location: f.loc(t, "chr1", 30, 52), Name: "f3"},
		&rod.Feature{Location: f.loc(t, "chr2", 1, 1), Name: "f4"},
	}
	snps := []rod.Record{
		&rod.Feature{Location: f.loc(t, "chr1", 20, 20), Name: "s1"},
		&rod.Feature{Location: f.loc(t, "chr2", 44, 44), Name: "s2"},
	}
	tracks := []rod.Track{
		rod.NewSliceTrack("features", rod.TypeInMemory, nil, features),
		rod.NewSliceTrack("snps", rod.TypeInMemory, nil, snps),
	}
	visits, _ := run(t, engine.Inputs{Reads: f.merger(t, false), Reference: f.ref, Tracks: tracks},
		engine.DefaultOpts, readsWalker())

	naive := func(recs []rod.Record, loc interval.Loc) int {
		n := 0
		for _, r := range recs {
			if r.Loc().Overlaps(loc) {
				n++
			}
		}
		return n
	}
	for _, v := range visits {
		require.Len(t, v.Rods, 2)
		r, err := interval.ParseRegionString(f.ref.Dictionary(), v.Loc)
		require.NoError(t, err)
		expect.EQ(t, v.Rods, []int{naive(features, r), naive(snps, r)}, v.Loc)
	}
	expect.EQ(t, visits[3].Rods, []int{2, 0}) // chr1:14
}

func TestRequirements(t *testing.T) {
	f := newFixture(t)
	tracks := []rod.Track{rod.NewSliceTrack("t", rod.TypeInMemory, nil, nil)}
	w := readsWalker()
	w.req.AllowedRODTypes = []string{rod.TypeVCF}
	e := engine.New(engine.Inputs{Reads: f.merger(t, false), Reference: f.ref, Tracks: tracks}, engine.DefaultOpts)
	require.NoError(t, e.Initialize(vcontext.Background()))
	_, err := e.Traverse(w)
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)

	e = engine.New(engine.Inputs{Reads: f.merger(t, false)}, engine.DefaultOpts)
	require.NoError(t, e.Initialize(vcontext.Background()))
	_, err = e.Traverse(readsWalker())
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
}

func TestReferenceOnlyTraversal(t *testing.T) {
	f := newFixture(t)
	w := &recordingWalker{req: engine.Requirements{NeedsReference: true}}
	set := interval.NewSet([]interval.Loc{f.loc(t, "chr2", 1, 3)}, interval.MergeOverlapping)
	visits, _ := run(t, engine.Inputs{Reference: f.ref, Intervals: set}, engine.DefaultOpts, w)
	expect.EQ(t, locStrings(visits), positions("chr2", 1, 3))
	var bases []byte
	for _, v := range visits {
		bases = append(bases, v.Ref)
		expect.EQ(t, v.Depth, 0)
	}
	expect.EQ(t, string(bases), "TTG")
}

// depthWalker sums the pileup depth. Its results combine.
type depthWalker struct{ done *depthSum }

type depthSum struct{ Loci, Depth int }

func (depthWalker) Requirements() engine.Requirements {
	return engine.Requirements{NeedsReads: true, NeedsReference: true}
}
func (depthWalker) ReduceInit() interface{} { return depthSum{} }
func (depthWalker) Filter([]*rod.RecordList, byte, *pileup.AlignmentContext) bool {
	return true
}
func (depthWalker) Map(_ []*rod.RecordList, _ byte, pile *pileup.AlignmentContext) (interface{}, error) {
	return pile.Size(), nil
}
func (depthWalker) Reduce(value, sum interface{}) (interface{}, error) {
	s := sum.(depthSum)
	return depthSum{s.Loci + 1, s.Depth + value.(int)}, nil
}
func (depthWalker) Combine(a, b interface{}) (interface{}, error) {
	x, y := a.(depthSum), b.(depthSum)
	return depthSum{x.Loci + y.Loci, x.Depth + y.Depth}, nil
}
func (w depthWalker) OnTraversalDone(sum interface{}) error {
	if w.done != nil {
		*w.done = sum.(depthSum)
	}
	return nil
}

func TestTraverseSharded(t *testing.T) {
	f := newFixture(t)
	dict := f.ref.Dictionary()
	set := interval.NewSet([]interval.Loc{dict.Whole(0), dict.Whole(1)}, interval.MergeOverlapping)

	e := engine.New(engine.Inputs{Reads: f.merger(t, true), Reference: f.ref, Intervals: set}, engine.DefaultOpts)
	require.NoError(t, e.Initialize(vcontext.Background()))
	single, err := e.Traverse(depthWalker{})
	require.NoError(t, err)
	expect.EQ(t, single, depthSum{35, 40})

	for _, indexed := range []bool{true, false} {
		open := func(context.Context) (engine.Inputs, func() error, error) {
			m := f.merger(t, indexed)
			return engine.Inputs{Reads: m, Reference: f.ref}, m.Close, nil
		}
		var done depthSum
		newWalker := func() engine.Walker { return depthWalker{done: &done} }
		sum, stats, err := engine.TraverseSharded(vcontext.Background(), open, newWalker, set, 4, 2, engine.DefaultOpts)
		require.NoError(t, err)
		expect.EQ(t, sum, single)
		expect.EQ(t, done, single)
		expect.EQ(t, stats.Loci, int64(35))
	}

	open := func(context.Context) (engine.Inputs, func() error, error) {
		return engine.Inputs{Reads: f.merger(t, true), Reference: f.ref}, nil, nil
	}
	_, _, err = engine.TraverseSharded(vcontext.Background(), open,
		func() engine.Walker { return readsWalker() }, set, 2, 2, engine.DefaultOpts)
	assert.True(t, errors.Is(errors.NotSupported, err), "err: %v", err)
}
