// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

const (
	contigsHeader  = "Contigs"
	samplesHeader  = "Samples"
	trailerVersion = 1
	// siteRecordSize is the size of a marshaled SiteRecord without its
	// genotypes.
	siteRecordSize = 34
	noCallByte     = 0xff
)

func init() {
	recordiozstd.Init()
}

// SiteRecord is the recordio form of a Call.
//
// - Pos is 1-based, as Loc.Start.
// - Genotypes holds one alternate count per sample of the file header, or
//   NoCall.
type SiteRecord struct {
	ContigIndex uint32
	Pos         uint32
	Ref, Alt    byte
	AF          uint32
	NumChr      uint32
	Depth       uint32
	LastK       uint32
	Qual        float64
	Genotypes   []int
}

// NewSiteRecord converts c. samples orders the genotypes; samples the call
// does not cover get NoCall.
func NewSiteRecord(c *Call, samples []string) SiteRecord {
	r := SiteRecord{
		ContigIndex: uint32(c.Loc.ContigIndex),
		Pos:         uint32(c.Loc.Start),
		Ref:         c.Ref,
		Alt:         c.Alt,
		AF:          uint32(c.AF),
		NumChr:      uint32(c.NumChr),
		Depth:       uint32(c.Depth),
		LastK:       uint32(c.LastK),
		Qual:        c.Qual,
		Genotypes:   make([]int, len(samples)),
	}
	byName := make(map[string]int, len(c.Samples))
	for i, s := range c.Samples {
		byName[s] = c.Genotypes[i].AltCount
	}
	for i, s := range samples {
		g, ok := byName[s]
		if !ok {
			g = NoCall
		}
		r.Genotypes[i] = g
	}
	return r
}

// WriteSitesRio writes calls to out in recordio format, one SiteRecord per
// call. The header lists the contig names, indexed by ContigIndex, and the
// samples.
func WriteSitesRio(out io.Writer, contigs, samples []string, calls []*Call) error {
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalSite,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(contigsHeader, strings.Join(contigs, "\000"))
	w.AddHeader(samplesHeader, strings.Join(samples, "\000"))
	w.AddHeader(recordio.KeyTrailer, true)
	for _, c := range calls {
		r := NewSiteRecord(c, samples)
		w.Append(&r)
	}
	w.SetTrailer(sitesTrailer(len(calls)))
	return w.Finish()
}

// WriteSitesRioFile writes calls to path with WriteSitesRio.
func WriteSitesRioFile(ctx context.Context, path string, contigs, samples []string, calls []*Call) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = WriteSitesRio(out.Writer(ctx), contigs, samples, calls); err == nil {
		log.Printf("genotyper: wrote %d sites to %s", len(calls), path)
	}
	return err
}

// ReadSitesRio reads a file written by WriteSitesRio.
func ReadSitesRio(rs io.ReadSeeker) (sites []SiteRecord, contigs, samples []string, err error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{Unmarshal: unmarshalSite})
	defer func() {
		if e := scanner.Finish(); e != nil && err == nil {
			err = e
		}
	}()
	if len(scanner.Trailer()) != 0 {
		n, err := parseSitesTrailer(scanner.Trailer())
		if err != nil {
			return nil, nil, nil, err
		}
		sites = make([]SiteRecord, 0, n)
	}
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case contigsHeader:
			contigs = splitHeader(kv.Value.(string))
		case samplesHeader:
			samples = splitHeader(kv.Value.(string))
		}
	}
	for scanner.Scan() {
		sites = append(sites, *scanner.Get().(*SiteRecord))
	}
	return sites, contigs, samples, scanner.Err()
}

func splitHeader(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, "\000")
}

func sitesTrailer(n int) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int64(trailerVersion)) // nolint: errcheck
	binary.Write(&buf, binary.LittleEndian, int64(n))              // nolint: errcheck
	return buf.Bytes()
}

func parseSitesTrailer(trailer []byte) (int64, error) {
	r := bytes.NewReader(trailer)
	var version, n int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, errors.E(errors.Integrity, err, "sites trailer")
	}
	if version != trailerVersion {
		return 0, errors.E(errors.NotSupported, fmt.Sprintf("sites trailer version %d, want %d", version, trailerVersion))
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, errors.E(errors.Integrity, err, "sites trailer")
	}
	return n, nil
}

func marshalSite(scratch []byte, v interface{}) ([]byte, error) {
	r := v.(*SiteRecord)
	n := siteRecordSize + len(r.Genotypes)
	t := scratch
	if len(t) < n {
		t = make([]byte, n)
	}
	t = t[:n]
	binary.LittleEndian.PutUint32(t[0:4], r.ContigIndex)
	binary.LittleEndian.PutUint32(t[4:8], r.Pos)
	t[8], t[9] = r.Ref, r.Alt
	binary.LittleEndian.PutUint32(t[10:14], r.AF)
	binary.LittleEndian.PutUint32(t[14:18], r.NumChr)
	binary.LittleEndian.PutUint32(t[18:22], r.Depth)
	binary.LittleEndian.PutUint32(t[22:26], r.LastK)
	binary.LittleEndian.PutUint64(t[26:34], math.Float64bits(r.Qual))
	for i, g := range r.Genotypes {
		if g == NoCall {
			t[siteRecordSize+i] = noCallByte
		} else {
			t[siteRecordSize+i] = byte(g)
		}
	}
	return t, nil
}

func unmarshalSite(in []byte) (interface{}, error) {
	if len(in) < siteRecordSize {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("site record of %d bytes", len(in)))
	}
	r := &SiteRecord{
		ContigIndex: binary.LittleEndian.Uint32(in[0:4]),
		Pos:         binary.LittleEndian.Uint32(in[4:8]),
		Ref:         in[8],
		Alt:         in[9],
		AF:          binary.LittleEndian.Uint32(in[10:14]),
		NumChr:      binary.LittleEndian.Uint32(in[14:18]),
		Depth:       binary.LittleEndian.Uint32(in[18:22]),
		LastK:       binary.LittleEndian.Uint32(in[22:26]),
		Qual:        math.Float64frombits(binary.LittleEndian.Uint64(in[26:34])),
		Genotypes:   make([]int, len(in)-siteRecordSize),
	}
	for i, b := range in[siteRecordSize:] {
		if b == noCallByte {
			r.Genotypes[i] = NoCall
		} else {
			r.Genotypes[i] = int(b)
		}
	}
	return r, nil
}
