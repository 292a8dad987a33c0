// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/validation"
)

// Opts configures a Merger.
type Opts struct {
	// Stringency decides whether unsorted inputs and incompatible sequence
	// dictionaries are fatal.
	Stringency validation.Stringency
	// SortOnTheFly re-sorts each source within a buffer of MaxOnFlySorts
	// records instead of requiring sorted input.
	SortOnTheFly  bool
	MaxOnFlySorts int
	// ThreadedIO reads each source ahead of the consumer, holding up to
	// BufferSize records.
	ThreadedIO bool
	BufferSize int
	// Index is used for a single BAM input; see SourceOpts.
	Index string
}

// DefaultOpts is the default value of Opts.
var DefaultOpts = Opts{
	Stringency:    validation.Strict,
	MaxOnFlySorts: 100000,
	BufferSize:    10000,
}

// Drainable is implemented by iterators that buffer records read from their
// inputs.
type Drainable interface {
	// StopInput stops reading the inputs. Scan then yields only the records
	// already buffered.
	StopInput()
	// Buffered returns the number of records read but not yet yielded.
	Buffered() int
}

// Merger merges several read Sources into one coordinate-ordered stream.
// Thread safe; every iterator it returns is independent.
type Merger struct {
	opts    Opts
	sources []Source
	header  *sam.Header
	dict    *interval.Dictionary
	// refMaps[i][j] is the merged contig index of reference j of sources[i].
	refMaps    [][]int
	readGroups map[string]*sam.ReadGroup
}

// Open expands .list files in paths, opens every read file, and creates a
// Merger over them.
func Open(ctx context.Context, paths []string, opts Opts) (*Merger, error) {
	expanded, err := ExpandFileList(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(expanded) == 0 {
		return nil, errors.E(errors.Invalid, "no read files given")
	}
	var (
		sources []Source
		e       errorreporter.T
	)
	for _, path := range expanded {
		sopts := SourceOpts{}
		if len(expanded) == 1 {
			sopts.Index = opts.Index
		}
		src, err := OpenSource(ctx, path, sopts)
		if err != nil {
			for _, s := range sources {
				e.Set(s.Close())
			}
			return nil, err
		}
		sources = append(sources, src)
	}
	m, err := NewMerger(sources, opts)
	if err != nil {
		for _, s := range sources {
			e.Set(s.Close())
		}
		return nil, err
	}
	return m, nil
}

// NewMerger creates a Merger over sources, which it takes ownership of. It
// checks the sort order declared by each header and the compatibility of
// their sequence dictionaries.
func NewMerger(sources []Source, opts Opts) (*Merger, error) {
	if len(sources) == 0 {
		return nil, errors.E(errors.Invalid, "no read sources")
	}
	if opts.MaxOnFlySorts <= 0 {
		opts.MaxOnFlySorts = DefaultOpts.MaxOnFlySorts
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOpts.BufferSize
	}
	m := &Merger{opts: opts, sources: sources, readGroups: map[string]*sam.ReadGroup{}}
	var dict *interval.Dictionary
	for _, src := range sources {
		h := src.Header()
		if h.SortOrder != sam.Coordinate && !opts.SortOnTheFly {
			if err := opts.Stringency.Report(errors.E(errors.Integrity,
				fmt.Sprintf("%s: file not sorted: header sort order is %v, want coordinate", src.Name(), h.SortOrder))); err != nil {
				return nil, err
			}
		}
		d := interval.DictionaryFromHeader(h)
		if dict == nil {
			dict = d
			continue
		}
		u, err := dict.Union(d)
		if err != nil {
			return nil, errors.E(err, "merging the sequence dictionary of", src.Name())
		}
		dict = u
	}
	m.dict = dict

	refs := make([]*sam.Reference, dict.Len())
	for i, c := range dict.Contigs() {
		ref, err := sam.NewReference(c.Name, "", "", int(c.Length), nil, nil)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "contig", c.Name)
		}
		refs[i] = ref
	}
	header, err := sam.NewHeader(nil, refs)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "merged header")
	}
	header.SortOrder = sam.Coordinate
	m.header = header

	m.refMaps = make([][]int, len(sources))
	for i, src := range sources {
		srcRefs := src.Header().Refs()
		m.refMaps[i] = make([]int, len(srcRefs))
		for j, ref := range srcRefs {
			m.refMaps[i][j], _ = dict.Index(ref.Name())
		}
		for _, rg := range src.Header().RGs() {
			if prev, ok := m.readGroups[rg.Name()]; ok {
				if prev.Get(sam.NewTag("SM")) != rg.Get(sam.NewTag("SM")) {
					log.Error.Printf("warning: read group %s has different samples in different inputs; using the first", rg.Name())
				}
				continue
			}
			clone := rg.Clone()
			if err := header.AddReadGroup(clone); err != nil {
				return nil, errors.E(errors.Invalid, err, "read group", rg.Name(), "of", src.Name())
			}
			m.readGroups[rg.Name()] = clone
		}
	}
	return m, nil
}

// Header returns the merged header: the union of the contigs of all sources
// and their read groups. The caller must not modify it.
func (m *Merger) Header() *sam.Header { return m.header }

// Dictionary returns the merged contig order.
func (m *Merger) Dictionary() *interval.Dictionary { return m.dict }

// ReadGroup returns the read group with the given ID from any source.
func (m *Merger) ReadGroup(id string) (*sam.ReadGroup, bool) {
	rg, ok := m.readGroups[id]
	return rg, ok
}

// Sources returns the underlying sources.
func (m *Merger) Sources() []Source { return m.sources }

// HasIndex reports whether every source supports Query.
func (m *Merger) HasIndex() bool {
	for _, s := range m.sources {
		if !s.HasIndex() {
			return false
		}
	}
	return true
}

// Iterator returns a merged iterator over every record of every source.
func (m *Merger) Iterator() Iterator {
	its := make([]Iterator, len(m.sources))
	for i, src := range m.sources {
		its[i] = src.Iterator()
	}
	return m.pipeline(its)
}

// Query returns a merged iterator over the records overlapping loc. loc's
// contig is looked up by name in every source; sources without it
// contribute nothing.
//
// REQUIRES: HasIndex() is true.
func (m *Merger) Query(loc interval.Loc) Iterator {
	its := make([]Iterator, len(m.sources))
	for i, src := range m.sources {
		var ref *sam.Reference
		for _, r := range src.Header().Refs() {
			if r.Name() == loc.Contig {
				ref = r
				break
			}
		}
		if ref == nil {
			its[i] = NewSliceIterator(nil)
			continue
		}
		its[i] = src.Query(ref, int(loc.Start-1), int(loc.Stop))
	}
	return m.pipeline(its)
}

func (m *Merger) pipeline(its []Iterator) Iterator {
	keys := make([]keyFunc, len(its))
	for i, it := range its {
		keys[i] = newKeyFunc(m.refMaps[i])
		if m.opts.ThreadedIO {
			it = newThreadedIterator(it, m.opts.BufferSize)
		}
		if m.opts.SortOnTheFly {
			it = newSortingIterator(it, m.sources[i].Name(), keys[i], m.opts.MaxOnFlySorts)
		} else {
			it = newVerifyingIterator(it, m.sources[i].Name(), keys[i], m.opts.Stringency)
		}
		its[i] = it
	}
	return newMergingIterator(its, keys)
}

// Close closes every source.
func (m *Merger) Close() error {
	var e errorreporter.T
	for _, s := range m.sources {
		e.Set(s.Close())
	}
	return e.Err()
}
