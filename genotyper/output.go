// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotyper

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

// CallColumns are the leading columns written by WriteCalls.
var CallColumns = []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "AC", "AN", "DP", "LASTK"}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func formatGenotype(g GenotypeCall) string {
	if g.AltCount == NoCall {
		return g.String()
	}
	return g.String() + ":" + strconv.Itoa(int(g.Qual+0.5))
}

// WriteCalls writes calls as TSV, one line per call. Positions are 1-based.
// With samples, each sample gets a GT:GQ column; calls without the sample
// get "./.". Without samples, a single GENOTYPES column lists
// sample=GT:GQ for every sample of the call.
func WriteCalls(out io.Writer, samples []string, calls []*Call) error {
	w := tsv.NewWriter(out)
	for _, c := range CallColumns {
		w.WriteString(c)
	}
	if samples != nil {
		for _, s := range samples {
			w.WriteString(s)
		}
	} else {
		w.WriteString("GENOTYPES")
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, c := range calls {
		w.WriteString(c.Loc.Contig)
		w.WriteUint32(uint32(c.Loc.Start))
		if len(c.IDs) == 0 {
			w.WriteByte('.')
		} else {
			w.WriteString(strings.Join(c.IDs, ";"))
		}
		w.WriteByte(c.Ref)
		w.WriteByte(c.Alt)
		w.WriteString(formatFloat(c.Qual))
		w.WriteUint32(uint32(c.AF))
		w.WriteUint32(uint32(c.NumChr))
		w.WriteUint32(uint32(c.Depth))
		w.WriteUint32(uint32(c.LastK))
		if samples != nil {
			byName := make(map[string]GenotypeCall, len(c.Samples))
			for i, s := range c.Samples {
				byName[s] = c.Genotypes[i]
			}
			for _, s := range samples {
				g, ok := byName[s]
				if !ok {
					g = GenotypeCall{AltCount: NoCall}
				}
				w.WriteString(formatGenotype(g))
			}
		} else {
			fields := make([]string, len(c.Samples))
			for i, s := range c.Samples {
				fields[i] = s + "=" + formatGenotype(c.Genotypes[i])
			}
			w.WriteString(strings.Join(fields, ","))
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteCallsFile writes calls to path with WriteCalls. A path ending in
// ".gz" is bgzip-compressed with the given parallelism.
func WriteCallsFile(ctx context.Context, path string, samples []string, calls []*Call, parallelism int) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	if !strings.HasSuffix(path, ".gz") {
		err = WriteCalls(out.Writer(ctx), samples, calls)
	} else {
		bw := bgzf.NewWriter(out.Writer(ctx), parallelism)
		err = WriteCalls(bw, samples, calls)
		if e := bw.Close(); e != nil && err == nil {
			err = e
		}
	}
	if err == nil {
		log.Printf("genotyper: wrote %d calls to %s", len(calls), path)
	}
	return err
}
