// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/sam"
)

// Source is one coordinate-sorted collection of reads. Implementations are
// thread-safe: each Iterator or Query call opens independent state.
type Source interface {
	// Name identifies the source in messages, usually its path.
	Name() string

	// Header returns the header of the source. The caller must not modify it.
	Header() *sam.Header

	// HasIndex reports whether Query is supported.
	HasIndex() bool

	// Iterator returns an iterator over all records of the source, in file
	// order.
	Iterator() Iterator

	// Query returns an iterator over the records of ref that overlap the
	// 0-based half-open range [start, end), in file order.
	//
	// REQUIRES: HasIndex() is true.
	Query(ref *sam.Reference, start, end int) Iterator

	// Close releases the source. All iterators must be closed first.
	Close() error
}

// SourceOpts configures OpenSource.
type SourceOpts struct {
	// Index is the path of the BAM index. If "", path + ".bai" is tried.
	Index string
}

// OpenSource opens a read file by extension: ".bam" or ".sam".
func OpenSource(ctx context.Context, path string, opts SourceOpts) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bam":
		return openBAM(ctx, path, opts.Index)
	case ".sam":
		return openSAM(ctx, path)
	}
	return nil, errors.E(errors.NotSupported, fmt.Sprintf("%s: unsupported read file extension; expected .bam, .sam or .list", path))
}

// ExpandFileList replaces every path ending in ".list" with the paths listed
// in that file, one per line, recursively. Blank lines and lines starting
// with '#' are ignored. Relative paths are kept as written.
func ExpandFileList(ctx context.Context, paths []string) ([]string, error) {
	return expandFileList(ctx, paths, map[string]bool{})
}

func expandFileList(ctx context.Context, paths []string, visiting map[string]bool) ([]string, error) {
	var result []string
	for _, path := range paths {
		if !strings.HasSuffix(path, ".list") {
			result = append(result, path)
			continue
		}
		if visiting[path] {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: file list includes itself", path))
		}
		listed, err := readFileList(ctx, path)
		if err != nil {
			return nil, err
		}
		visiting[path] = true
		expanded, err := expandFileList(ctx, listed, visiting)
		delete(visiting, path)
		if err != nil {
			return nil, err
		}
		result = append(result, expanded...)
	}
	return result, nil
}

func readFileList(ctx context.Context, path string) (paths []string, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "read file list", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	scanner := bufio.NewScanner(in.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(errors.Invalid, err, path)
	}
	return paths, nil
}

// sliceSource serves reads from memory.
type sliceSource struct {
	name   string
	header *sam.Header
	recs   []*sam.Record
}

// NewSliceSource creates a Source that serves recs, which must be in file
// order. Query is supported.
func NewSliceSource(name string, header *sam.Header, recs []*sam.Record) Source {
	return &sliceSource{name: name, header: header, recs: recs}
}

func (s *sliceSource) Name() string        { return s.name }
func (s *sliceSource) Header() *sam.Header { return s.header }
func (s *sliceSource) HasIndex() bool      { return true }
func (s *sliceSource) Close() error        { return nil }

func (s *sliceSource) Iterator() Iterator { return NewSliceIterator(s.recs) }

func (s *sliceSource) Query(ref *sam.Reference, start, end int) Iterator {
	var recs []*sam.Record
	for _, r := range s.recs {
		if overlaps(r, ref, start, end) {
			recs = append(recs, r)
		}
	}
	return NewSliceIterator(recs)
}

// overlaps reports whether r is placed on ref and covers part of [start, end).
func overlaps(r *sam.Record, ref *sam.Reference, start, end int) bool {
	if r.Ref == nil || r.Ref.ID() != ref.ID() || r.Pos < 0 {
		return false
	}
	recEnd := r.End()
	if recEnd <= r.Pos {
		recEnd = r.Pos + 1
	}
	return r.Pos < end && recEnd > start
}

// wrapReadError classifies an error from a record decoder. io.EOF is nil.
func wrapReadError(err error, name string) error {
	if err == nil || err == io.EOF {
		return nil
	}
	if errors.Is(errors.Invalid, err) {
		return errors.E(err, name)
	}
	return errors.E(errors.Invalid, err, "malformed record in", name)
}
