// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"
)

// Loc is an immutable genome location: the 1-based closed interval
// [Start, Stop] on a contig. ContigIndex is the contig's position in the
// Dictionary the Loc was created from; all comparisons use it, never Contig.
type Loc struct {
	ContigIndex int
	Contig      string
	Start       int64
	Stop        int64
}

// Size returns the number of bases covered by l.
func (l Loc) Size() int64 { return l.Stop - l.Start + 1 }

// Compare returns a negative value if l sorts before o, 0 if they are equal,
// and a positive value otherwise. The order is (ContigIndex, Start, Stop).
func (l Loc) Compare(o Loc) int {
	if l.ContigIndex != o.ContigIndex {
		return l.ContigIndex - o.ContigIndex
	}
	if l.Start != o.Start {
		if l.Start < o.Start {
			return -1
		}
		return 1
	}
	if l.Stop != o.Stop {
		if l.Stop < o.Stop {
			return -1
		}
		return 1
	}
	return 0
}

// ComparePos compares only the start positions of l and o.
func (l Loc) ComparePos(o Loc) int {
	if l.ContigIndex != o.ContigIndex {
		return l.ContigIndex - o.ContigIndex
	}
	switch {
	case l.Start < o.Start:
		return -1
	case l.Start > o.Start:
		return 1
	}
	return 0
}

// Overlaps reports whether l and o share at least one base.
func (l Loc) Overlaps(o Loc) bool {
	return l.ContigIndex == o.ContigIndex && l.Start <= o.Stop && o.Start <= l.Stop
}

// Contains reports whether every base of o is inside l.
func (l Loc) Contains(o Loc) bool {
	return l.ContigIndex == o.ContigIndex && l.Start <= o.Start && o.Stop <= l.Stop
}

// IsPast reports whether l lies entirely after o.
func (l Loc) IsPast(o Loc) bool {
	return l.ContigIndex > o.ContigIndex || (l.ContigIndex == o.ContigIndex && l.Start > o.Stop)
}

// IsBefore reports whether l lies entirely before o.
func (l Loc) IsBefore(o Loc) bool { return o.IsPast(l) }

// Abuts reports whether l and o are adjacent without overlapping.
func (l Loc) Abuts(o Loc) bool {
	return l.ContigIndex == o.ContigIndex && (l.Stop+1 == o.Start || o.Stop+1 == l.Start)
}

// Merge returns the smallest Loc covering l and o. ok is false when the two
// neither overlap nor abut.
func (l Loc) Merge(o Loc) (merged Loc, ok bool) {
	if !l.Overlaps(o) && !l.Abuts(o) {
		return Loc{}, false
	}
	merged = l
	if o.Start < merged.Start {
		merged.Start = o.Start
	}
	if o.Stop > merged.Stop {
		merged.Stop = o.Stop
	}
	return merged, true
}

// Intersect returns the bases shared by l and o. ok is false when they don't
// overlap.
func (l Loc) Intersect(o Loc) (Loc, bool) {
	if !l.Overlaps(o) {
		return Loc{}, false
	}
	r := l
	if o.Start > r.Start {
		r.Start = o.Start
	}
	if o.Stop < r.Stop {
		r.Stop = o.Stop
	}
	return r, true
}

// String formats l as "contig:start-stop", or "contig:pos" for a single base.
func (l Loc) String() string {
	if l.Start == l.Stop {
		return fmt.Sprintf("%s:%d", l.Contig, l.Start)
	}
	return fmt.Sprintf("%s:%d-%d", l.Contig, l.Start, l.Stop)
}
