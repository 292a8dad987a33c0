// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reference

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// GenerateIndex writes a samtools-compatible .fai index of the FASTA data in
// in. All lines of a sequence except the last must have the same length.
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	var (
		w           = tsv.NewWriter(out)
		r           = bufio.NewReader(in)
		seqName     string
		seqStartOff int64
		totalBases  int64
		lineBases   int
		lineWidth   int
		shortLine   bool // a line shorter than lineBases was seen.
		cumByte     int64
		eof         bool
		nSeq        int
	)
	setErr := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	flush := func() {
		if seqName == "" {
			return
		}
		w.WriteString(seqName)
		w.WriteInt64(totalBases)
		w.WriteInt64(seqStartOff)
		w.WriteInt64(int64(lineBases))
		w.WriteInt64(int64(lineWidth))
		setErr(w.EndLine())
		nSeq++
	}
	for !eof && err == nil {
		fullLine, e := r.ReadBytes('\n')
		if e == io.EOF {
			eof = true
		} else if e != nil {
			setErr(e)
		}
		cumByte += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			flush()
			seqName = strings.Split(string(line[1:]), " ")[0]
			if seqName == "" {
				setErr(errors.E(errors.Invalid, "malformed FASTA file: empty sequence name"))
			}
			seqStartOff = cumByte
			lineWidth, lineBases, totalBases, shortLine = 0, 0, 0, false
			continue
		}
		if seqName == "" {
			setErr(errors.E(errors.Invalid, "malformed FASTA file: sequence data before the first header"))
			break
		}
		switch {
		case lineWidth == 0:
			lineWidth = len(fullLine)
			lineBases = len(line)
		case shortLine || len(line) > lineBases:
			setErr(errors.E(errors.Invalid, "FASTA sequence "+seqName+" has inconsistent line lengths"))
		case len(line) < lineBases:
			shortLine = true
		}
		totalBases += int64(len(line))
	}
	flush()
	setErr(w.Flush())
	if nSeq == 0 {
		setErr(errors.E(errors.Invalid, "empty FASTA file"))
	}
	return
}
