// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rod

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/locuswalk/interval"
	"github.com/grailbio/locuswalk/validation"
)

// Tracker holds one SeekableIterator per track.
type Tracker struct {
	tracks []Track
	iters  []*SeekableIterator
}

// NewTracker opens every track.
func NewTracker(ctx context.Context, tracks []Track) (*Tracker, error) {
	t := &Tracker{tracks: tracks}
	seen := map[string]bool{}
	for _, track := range tracks {
		if seen[track.Name()] {
			t.Close() // nolint: errcheck
			return nil, errors.E(errors.Invalid, fmt.Sprintf("duplicate track name %s", track.Name()))
		}
		seen[track.Name()] = true
		in, err := track.Open(ctx)
		if err != nil {
			t.Close() // nolint: errcheck
			return nil, err
		}
		t.iters = append(t.iters, NewSeekableIterator(track.Name(), track.Type(), in))
	}
	return t, nil
}

// Tracks returns the tracks in the order given to NewTracker.
func (t *Tracker) Tracks() []Track { return t.tracks }

// At returns, for each track in order, the records overlapping loc (nil when
// there are none).
func (t *Tracker) At(loc interval.Loc) ([]*RecordList, error) {
	lists := make([]*RecordList, len(t.iters))
	for i, it := range t.iters {
		l, err := it.SeekForward(loc)
		if err != nil {
			return nil, err
		}
		lists[i] = l
	}
	return lists, nil
}

// Validate checks each track's declared dictionary against the reference
// dictionary. Problems are reported through stringency.
func (t *Tracker) Validate(ref *interval.Dictionary, stringency validation.Stringency) error {
	for _, track := range t.tracks {
		d := track.Dictionary()
		if d == nil || ref == nil {
			continue
		}
		if err := ref.CheckCompatible(d); err != nil {
			if err := stringency.Report(errors.E(errors.Integrity, err, fmt.Sprintf("track %s is incompatible with the reference", track.Name()))); err != nil {
				return err
			}
			continue
		}
		for _, c := range d.Contigs() {
			if _, ok := ref.Index(c.Name); !ok {
				log.Debug.Printf("track %s: contig %s is not in the reference", track.Name(), c.Name)
			}
		}
	}
	return nil
}

// Close closes all iterators.
func (t *Tracker) Close() error {
	var e errorreporter.T
	for _, it := range t.iters {
		e.Set(it.Close())
	}
	return e.Err()
}
