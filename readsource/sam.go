// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"context"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
)

// samSource reads a SAM text file, possibly compressed.
type samSource struct {
	path   string
	header *sam.Header
}

func openSAM(ctx context.Context, path string) (s *samSource, err error) {
	it := newSAMIterator(ctx, path)
	if it.err != nil {
		return nil, it.err
	}
	defer func() {
		if e := it.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return &samSource{path: path, header: it.reader.Header()}, nil
}

func (s *samSource) Name() string        { return s.path }
func (s *samSource) Header() *sam.Header { return s.header }
func (s *samSource) HasIndex() bool      { return false }
func (s *samSource) Close() error        { return nil }

func (s *samSource) Iterator() Iterator {
	return newSAMIterator(vcontext.Background(), s.path)
}

func (s *samSource) Query(ref *sam.Reference, start, end int) Iterator {
	return NewErrorIterator(errors.E(errors.Precondition, "internal error: query on SAM text file", s.path))
}

type samIterator struct {
	ctx    context.Context
	path   string
	in     file.File
	body   interface{ Close() error }
	reader *sam.Reader
	rec    *sam.Record
	err    error
}

func newSAMIterator(ctx context.Context, path string) *samIterator {
	it := &samIterator{ctx: ctx, path: path}
	if it.in, it.err = file.Open(ctx, path); it.err != nil {
		it.err = errors.E(it.err, "open reads", path)
		return it
	}
	body, _ := compress.NewReader(it.in.Reader(ctx))
	it.body = body
	if it.reader, it.err = sam.NewReader(body); it.err != nil {
		it.err = errors.E(errors.Invalid, it.err, "malformed SAM header in", path)
	}
	return it
}

func (i *samIterator) Scan() bool {
	if i.err != nil || i.reader == nil {
		return false
	}
	var err error
	if i.rec, err = i.reader.Read(); err != nil {
		i.err = wrapReadError(err, i.path)
		i.reader = nil
		return false
	}
	return true
}

func (i *samIterator) Record() *sam.Record { return i.rec }
func (i *samIterator) Err() error          { return i.err }

func (i *samIterator) Close() error {
	if i.body != nil {
		if err := i.body.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.body = nil
	}
	if i.in != nil {
		if err := i.in.Close(i.ctx); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	return i.err
}
