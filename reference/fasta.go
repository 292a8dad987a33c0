// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package reference

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const bufferInitSize = 1024 * 1024 * 300 // 300 MB

// Index files consist of one tab-separated line per sequence in the associated
// FASTA file. The format is: "<sequence name>\t<length>\t<byte
// offset>\t<bases per line>\t<bytes per line>".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance
	// in the FASTA file.
	SeqNames() []string
}

type memFasta struct {
	seqs     map[string]string
	seqNames []string
}

// NewFasta reads FASTA data from r and holds it in memory. Sequence names are
// the characters after '>' up to the first space.
func NewFasta(r io.Reader) (Fasta, error) {
	f := &memFasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var (
		seqName string
		seq     strings.Builder
		started bool
	)
	store := func() error {
		if _, ok := f.seqs[seqName]; ok {
			return errors.Errorf("duplicate sequence %s in FASTA file", seqName)
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if started {
				if err := store(); err != nil {
					return nil, err
				}
			}
			seqName = strings.Fields(line[1:] + " ")[0]
			if seqName == "" {
				return nil, errors.Errorf("malformed FASTA file: empty sequence name")
			}
			started = true
			continue
		}
		if !started {
			return nil, errors.Errorf("malformed FASTA file: sequence data before the first header")
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if started {
		if err := store(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *memFasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range %d - %d for sequence %s with length %d",
			start, end, seqName, len(s))
	}
	return s[start:end], nil
}

func (f *memFasta) Len(seqName string) (uint64, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seqName)
	}
	return uint64(len(s)), nil
}

func (f *memFasta) SeqNames() []string { return f.seqNames }

type indexEntry struct {
	length    uint64
	offset    uint64
	lineBase  uint64
	lineWidth uint64
}

type indexedFasta struct {
	seqs     map[string]indexEntry
	seqNames []string

	mu        sync.Mutex
	reader    io.ReadSeeker
	bufOff    int64
	buf       []byte // caches file contents starting at bufOff.
	resultBuf []byte
}

// ReadIndex parses a .fai index. It returns the sequence names in file offset
// order and the entry of each sequence.
func readIndex(index io.Reader) ([]string, map[string]indexEntry, error) {
	seqs := make(map[string]indexEntry)
	var names []string
	scanner := bufio.NewScanner(index)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		matches := indexRegExp.FindStringSubmatch(scanner.Text())
		if len(matches) != 6 {
			return nil, nil, errors.Errorf("invalid index line: %s", scanner.Text())
		}
		ent := indexEntry{}
		ent.length, _ = strconv.ParseUint(matches[2], 10, 64)
		ent.offset, _ = strconv.ParseUint(matches[3], 10, 64)
		ent.lineBase, _ = strconv.ParseUint(matches[4], 10, 64)
		ent.lineWidth, _ = strconv.ParseUint(matches[5], 10, 64)
		if ent.lineBase == 0 || ent.lineWidth < ent.lineBase {
			return nil, nil, errors.Errorf("invalid line geometry in index line: %s", scanner.Text())
		}
		seqs[matches[1]] = ent
		names = append(names, matches[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "couldn't read FASTA index")
	}
	sort.SliceStable(names, func(i, j int) bool { return seqs[names[i]].offset < seqs[names[j]].offset })
	return names, seqs, nil
}

// NewIndexedFasta creates a Fasta that performs random lookups in r using a
// .fai index, without reading the whole file into memory.
func NewIndexedFasta(r io.ReadSeeker, index io.Reader) (Fasta, error) {
	names, seqs, err := readIndex(index)
	if err != nil {
		return nil, err
	}
	return &indexedFasta{seqs: seqs, seqNames: names, reader: r}, nil
}

func (f *indexedFasta) Len(seqName string) (uint64, error) {
	ent, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found in index: %s", seqName)
	}
	return ent.length, nil
}

func (f *indexedFasta) SeqNames() []string { return f.seqNames }

// read returns range [off, off+n) of the underlying file. REQUIRES: f.mu held.
func (f *indexedFasta) read(off int64, n int) ([]byte, error) {
	limit := off + int64(n)
	if off < f.bufOff || limit > f.bufOff+int64(len(f.buf)) {
		if newOffset, err := f.reader.Seek(off, io.SeekStart); err != nil || newOffset != off {
			return nil, errors.Errorf("failed to seek to offset %d: %d, %v", off, newOffset, err)
		}
		bufSize := 8192
		if bufSize < n {
			bufSize = n
		}
		if cap(f.buf) < bufSize {
			f.buf = make([]byte, bufSize)
		}
		f.buf = f.buf[:bufSize]
		bytesRead, err := io.ReadAtLeast(f.reader, f.buf, n)
		if err != nil && bytesRead < n {
			return nil, errors.Wrap(err, "unexpected end of FASTA file (bad index?)")
		}
		f.bufOff = off
		f.buf = f.buf[:bytesRead]
	}
	return f.buf[off-f.bufOff : limit-f.bufOff], nil
}

func (f *indexedFasta) Get(seqName string, start, end uint64) (string, error) {
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	ent, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found in index: %s", seqName)
	}
	if end > ent.length {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, ent.length)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// Translate base coordinates into byte offsets, accounting for line
	// terminators.
	terminator := ent.lineWidth - ent.lineBase
	byteStart := ent.offset + start + terminator*(start/ent.lineBase)
	last := end - 1
	byteLimit := ent.offset + last + terminator*(last/ent.lineBase) + 1
	buffer, err := f.read(int64(byteStart), int(byteLimit-byteStart))
	if err != nil {
		return "", err
	}
	if terminator == 0 {
		return string(buffer), nil
	}
	f.resultBuf = f.resultBuf[:0]
	linePos := start % ent.lineBase
	for _, b := range buffer {
		if linePos < ent.lineBase {
			f.resultBuf = append(f.resultBuf, b)
		}
		linePos++
		if linePos == ent.lineWidth {
			linePos = 0
		}
	}
	return string(f.resultBuf), nil
}
