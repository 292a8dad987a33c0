// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package reference provides reference genome access for locus traversal:
// FASTA readers, a contig dictionary derived from them, single-base lookup,
// and a forward-only iterator that caches one contig at a time.
package reference

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/validation"
)

// Reference is a FASTA plus the contig Dictionary that orders it.
type Reference struct {
	fa   Fasta
	dict *interval.Dictionary
	// closer releases the files behind fa, if any.
	closer func() error
}

// New creates a Reference from fa. The contig order is the FASTA order.
func New(fa Fasta) (*Reference, error) {
	names := fa.SeqNames()
	contigs := make([]interval.Contig, len(names))
	for i, name := range names {
		n, err := fa.Len(name)
		if err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
		contigs[i] = interval.Contig{Name: name, Length: int64(n)}
	}
	dict, err := interval.NewDictionary(contigs)
	if err != nil {
		return nil, err
	}
	return &Reference{fa: fa, dict: dict}, nil
}

// Open opens a FASTA file. If "path.fai" exists, the file is accessed through
// the index. Otherwise the whole file, possibly compressed, is read into
// memory.
func Open(ctx context.Context, path string) (ref *Reference, err error) {
	if idx, ierr := file.Open(ctx, path+".fai"); ierr == nil {
		return openIndexed(ctx, path, idx)
	}
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, errors.E(err, "reference", path)
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	fa, err := NewFasta(reader)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, path)
	}
	log.Printf("reference: loaded %s (%d sequences) into memory", path, len(fa.SeqNames()))
	return New(fa)
}

func openIndexed(ctx context.Context, path string, idx file.File) (ref *Reference, err error) {
	defer func() {
		if e := idx.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	data, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "reference", path)
	}
	fa, err := NewIndexedFasta(data.Reader(ctx), idx.Reader(ctx))
	if err == nil {
		ref, err = New(fa)
	}
	if err != nil {
		data.Close(ctx) // nolint: errcheck
		return nil, errors.E(errors.Invalid, err, path+".fai")
	}
	ref.closer = func() error { return data.Close(ctx) }
	return ref, nil
}

// Close releases the underlying files.
func (r *Reference) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// InMemory reports whether the sequences were loaded into memory. Such a
// Reference may be read by several goroutines at once.
func (r *Reference) InMemory() bool { return r.closer == nil }

// Dictionary returns the contig order of the reference.
func (r *Reference) Dictionary() *interval.Dictionary { return r.dict }

// Bases returns the uppercase bases covered by loc.
func (r *Reference) Bases(loc interval.Loc) (string, error) {
	s, err := r.fa.Get(loc.Contig, uint64(loc.Start-1), uint64(loc.Stop))
	if err != nil {
		return "", errors.E(errors.Invalid, err, loc.String())
	}
	return upper(s), nil
}

// BaseAt returns the uppercase reference base at loc.Start.
func (r *Reference) BaseAt(loc interval.Loc) (byte, error) {
	s, err := r.fa.Get(loc.Contig, uint64(loc.Start-1), uint64(loc.Start))
	if err != nil {
		return 0, errors.E(errors.Invalid, err, loc.String())
	}
	return upperByte(s[0]), nil
}

// Validate checks that the contigs shared with dict have the same lengths
// and order. Mismatches are reported through s.
func (r *Reference) Validate(dict *interval.Dictionary, s validation.Stringency) error {
	if err := r.dict.CheckCompatible(dict); err != nil {
		return s.Report(errors.E(err, "reads and reference have incompatible sequence dictionaries"))
	}
	missing := 0
	for _, c := range dict.Contigs() {
		if _, ok := r.dict.Index(c.Name); !ok {
			missing++
		}
	}
	if missing > 0 {
		return s.Report(errors.E(errors.Invalid,
			fmt.Sprintf("%d contig(s) in the reads are missing from the reference", missing)))
	}
	return nil
}

func upperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

func upper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				b[j] = upperByte(b[j])
			}
			return string(b)
		}
	}
	return s
}

// Iterator walks the reference in increasing coordinate order. It keeps the
// bases of the current contig in memory. An Iterator is not thread-safe.
type Iterator struct {
	ref     *Reference
	contig  string
	bases   string
	last    interval.Loc
	started bool
}

// NewIterator creates an Iterator positioned before the first contig.
func (r *Reference) NewIterator() *Iterator {
	return &Iterator{ref: r}
}

// SeekForward returns the reference base at loc.Start. Seeking to a position
// before the previous one is an internal error. Contigs are looked up by
// name, so loc may come from a different but compatible Dictionary.
func (it *Iterator) SeekForward(loc interval.Loc) (byte, error) {
	if it.started && loc.ComparePos(it.last) < 0 {
		return 0, validation.Internalf("reference iterator seek backwards from %v to %v", it.last, loc)
	}
	it.started = true
	it.last = loc
	if loc.Contig != it.contig {
		i, ok := it.ref.dict.Index(loc.Contig)
		if !ok {
			return 0, errors.E(errors.Invalid, fmt.Sprintf("contig %s not found in the reference", loc.Contig))
		}
		c := it.ref.dict.Contig(i)
		s, err := it.ref.fa.Get(c.Name, 0, uint64(c.Length))
		if err != nil {
			return 0, errors.E(errors.Invalid, err, c.Name)
		}
		it.bases = s
		it.contig = loc.Contig
	}
	if loc.Start < 1 || loc.Start > int64(len(it.bases)) {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("position %v is outside the reference contig", loc))
	}
	return upperByte(it.bases[loc.Start-1]), nil
}

var _ io.Closer = (*Reference)(nil)
