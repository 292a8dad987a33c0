// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rod

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/locuswalk/interval"
)

// Site is a VCF record reduced to its site columns.
type Site struct {
	Location interval.Loc
	ID       string
	Ref      string
	Alts     []string
	// Qual is NaN when missing.
	Qual   float64
	Filter string
	Info   string
}

// Loc implements Record. A site covers the bases of its REF allele.
func (s *Site) Loc() interval.Loc { return s.Location }

type vcfTrack struct {
	name   string
	path   string
	dict   *interval.Dictionary
	header *interval.Dictionary
}

// NewVCFSiteTrack creates a track over the sites of a VCF file, optionally
// gzipped. The ##contig header lines, if present, form the track's
// dictionary. Sites are resolved against dict.
func NewVCFSiteTrack(ctx context.Context, name, path string, dict *interval.Dictionary) (_ Track, err error) {
	r, closer, err := interval.OpenMaybeGzip(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open track", name)
	}
	defer func() {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	var contigs []interval.Contig
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "##") {
			break
		}
		if c, ok, err := parseContigLine(line); err != nil {
			return nil, errors.E(err, path)
		} else if ok {
			contigs = append(contigs, c)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(errors.Invalid, err, path)
	}
	t := &vcfTrack{name: name, path: path, dict: dict}
	if len(contigs) > 0 {
		if t.header, err = interval.NewDictionary(contigs); err != nil {
			return nil, errors.E(err, path)
		}
	}
	return t, nil
}

// parseContigLine parses "##contig=<ID=chr1,length=248956422,...>".
func parseContigLine(line string) (interval.Contig, bool, error) {
	const prefix = "##contig=<"
	if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, ">") {
		return interval.Contig{}, false, nil
	}
	var c interval.Contig
	for _, kv := range strings.Split(line[len(prefix):len(line)-1], ",") {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		switch kv[:eq] {
		case "ID":
			c.Name = kv[eq+1:]
		case "length":
			n, err := strconv.ParseInt(kv[eq+1:], 10, 64)
			if err != nil {
				return c, false, errors.E(errors.Invalid, fmt.Sprintf("bad contig length in %q", line))
			}
			c.Length = n
		}
	}
	if c.Name == "" {
		return c, false, errors.E(errors.Invalid, fmt.Sprintf("contig line without ID: %q", line))
	}
	return c, true, nil
}

func (t *vcfTrack) Name() string                     { return t.name }
func (t *vcfTrack) Type() string                     { return TypeVCF }
func (t *vcfTrack) Dictionary() *interval.Dictionary { return t.header }

func (t *vcfTrack) Open(ctx context.Context) (RecordIterator, error) {
	r, closer, err := interval.OpenMaybeGzip(ctx, t.path)
	if err != nil {
		return nil, errors.E(err, "open track", t.name)
	}
	return &vcfIterator{path: t.path, dict: t.dict, scanner: bufio.NewScanner(r), closer: closer}, nil
}

type vcfIterator struct {
	path    string
	dict    *interval.Dictionary
	scanner *bufio.Scanner
	closer  func() error
	lineIdx int
	rec     *Site
	err     error
}

var tab = []byte{'\t'}

func (it *vcfIterator) Scan() bool {
	if it.err != nil {
		return false
	}
	for it.scanner.Scan() {
		it.lineIdx++
		line := it.scanner.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		cols := bytes.SplitN(line, tab, 9)
		if len(cols) < 5 {
			it.err = it.errorf("expected at least 5 columns, found %d", len(cols))
			return false
		}
		pos, err := strconv.ParseInt(gunsafe.BytesToString(cols[1]), 10, 64)
		if err != nil {
			it.err = it.errorf("invalid position %q", cols[1])
			return false
		}
		ref := string(cols[3])
		if ref == "" || ref == "." {
			it.err = it.errorf("missing REF")
			return false
		}
		loc, err := it.dict.NewLoc(string(cols[0]), pos, pos+int64(len(ref))-1)
		if err != nil {
			it.err = errors.E(err, fmt.Sprintf("%s: line %d", it.path, it.lineIdx))
			return false
		}
		s := &Site{Location: loc, Ref: ref, Qual: math.NaN()}
		if id := string(cols[2]); id != "." {
			s.ID = id
		}
		if alt := string(cols[4]); alt != "." {
			s.Alts = strings.Split(alt, ",")
		}
		if len(cols) > 5 && string(cols[5]) != "." {
			if s.Qual, err = strconv.ParseFloat(string(cols[5]), 64); err != nil {
				it.err = it.errorf("invalid QUAL %q", cols[5])
				return false
			}
		}
		if len(cols) > 6 {
			s.Filter = string(cols[6])
		}
		if len(cols) > 7 {
			s.Info = string(cols[7])
		}
		it.rec = s
		return true
	}
	if err := it.scanner.Err(); err != nil {
		it.err = errors.E(errors.Invalid, err, it.path)
	}
	return false
}

func (it *vcfIterator) errorf(format string, args ...interface{}) error {
	return errors.E(errors.Invalid, fmt.Sprintf("%s: line %d: ", it.path, it.lineIdx)+fmt.Sprintf(format, args...))
}

func (it *vcfIterator) Record() Record { return it.rec }
func (it *vcfIterator) Err() error     { return it.err }

func (it *vcfIterator) Close() error {
	err := it.closer()
	if it.err != nil {
		return it.err
	}
	return err
}
