// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"context"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// bamSource reads a BAM file, optionally with a .bai index. Both paths may be
// any URL understood by grailbio/base/file.
type bamSource struct {
	path   string
	header *sam.Header
	index  *bam.Index // nil if no index was found.
	err    errorreporter.T
}

func openBAM(ctx context.Context, path, indexPath string) (*bamSource, error) {
	s := &bamSource{path: path}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open reads", path)
	}
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, errors.E(errors.Invalid, err, "malformed BAM header in", path)
	}
	s.header = reader.Header()
	if err := reader.Close(); err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, errors.E(errors.Invalid, err, path)
	}
	if err := in.Close(ctx); err != nil {
		return nil, errors.E(err, path)
	}

	explicit := indexPath != ""
	if !explicit {
		indexPath = path + ".bai"
	}
	indexIn, err := file.Open(ctx, indexPath)
	if err != nil {
		if explicit {
			return nil, errors.E(err, "open BAM index", indexPath)
		}
		vlog.VI(1).Infof("%s: no index found at %s", path, indexPath)
		return s, nil
	}
	defer indexIn.Close(ctx) // nolint: errcheck
	if s.index, err = bam.ReadIndex(indexIn.Reader(ctx)); err != nil {
		return nil, errors.E(errors.Invalid, err, "malformed BAM index", indexPath)
	}
	return s, nil
}

func (s *bamSource) Name() string        { return s.path }
func (s *bamSource) Header() *sam.Header { return s.header }
func (s *bamSource) HasIndex() bool      { return s.index != nil }
func (s *bamSource) Close() error        { return s.err.Err() }

func (s *bamSource) Iterator() Iterator { return s.newIterator() }

func (s *bamSource) Query(ref *sam.Reference, start, end int) Iterator {
	if s.index == nil {
		return NewErrorIterator(errors.E(errors.Precondition, "internal error: query on unindexed BAM", s.path))
	}
	if ref.ID() < 0 || ref.ID() >= len(s.header.Refs()) || s.header.Refs()[ref.ID()].Name() != ref.Name() {
		return NewErrorIterator(errors.E(errors.Precondition, "internal error: reference", ref.Name(), "not from the header of", s.path))
	}
	it := s.newIterator()
	if it.err != nil {
		return it
	}
	chunks, err := s.index.Chunks(ref, start, end)
	if err == index.ErrInvalid || (err == nil && len(chunks) == 0) {
		// No reads on this interval.
		it.done = true
		return it
	}
	if err != nil {
		it.err = errors.E(errors.Invalid, err, "BAM index lookup in", s.path)
		return it
	}
	it.bounded = true
	it.ref, it.start, it.end = ref, start, end
	it.err = it.seek(chunks[0].Begin)
	return it
}

type bamIterator struct {
	source *bamSource
	in     file.File
	reader *bam.Reader

	// Set for Query iterators.
	bounded    bool
	ref        *sam.Reference
	start, end int

	rec  *sam.Record
	err  error
	done bool
}

func (s *bamSource) newIterator() *bamIterator {
	it := &bamIterator{source: s}
	ctx := vcontext.Background()
	if it.in, it.err = file.Open(ctx, s.path); it.err != nil {
		it.err = errors.E(it.err, s.path)
		return it
	}
	if it.reader, it.err = bam.NewReader(it.in.Reader(ctx), 1); it.err != nil {
		it.err = errors.E(errors.Invalid, it.err, "malformed BAM header in", s.path)
	}
	return it
}

func (i *bamIterator) seek(off bgzf.Offset) error {
	if err := i.reader.Seek(off); err != nil {
		return errors.E(err, "seek", i.source.path)
	}
	return nil
}

func (i *bamIterator) Scan() bool {
	if i.err != nil || i.done {
		return false
	}
	for {
		var err error
		if i.rec, err = i.reader.Read(); err != nil {
			i.err = wrapReadError(err, i.source.path)
			i.done = true
			return false
		}
		if !i.bounded {
			return true
		}
		if i.rec.Ref == nil || i.rec.Ref.ID() != i.ref.ID() || i.rec.Pos >= i.end {
			// Records past the query range.
			i.done = true
			return false
		}
		if overlaps(i.rec, i.ref, i.start, i.end) {
			return true
		}
	}
}

func (i *bamIterator) Record() *sam.Record { return i.rec }

func (i *bamIterator) Err() error { return i.err }

func (i *bamIterator) Close() error {
	ctx := vcontext.Background()
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(ctx); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.source.err.Set(i.err)
	return i.err
}
