// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"sort"
)

// MergePolicy decides whether a Set merges overlapping members.
type MergePolicy int

const (
	// MergeOverlapping merges overlapping and abutting locs.
	MergeOverlapping MergePolicy = iota
	// NoMerge keeps every loc as given.
	NoMerge
)

// Set is an immutable sorted sequence of Locs. Under MergeOverlapping no two
// members overlap or abut.
type Set struct {
	policy MergePolicy
	locs   []Loc
	// maxStop[i] is the largest Stop among locs[j], j <= i, on the contig
	// of locs[i].
	maxStop []int64
	// last has the greatest (ContigIndex, Stop) of all members.
	last Loc
}

// NewSet creates a Set from locs, which need not be sorted. The argument is
// not modified.
func NewSet(locs []Loc, policy MergePolicy) *Set {
	sorted := append([]Loc(nil), locs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })
	if policy == MergeOverlapping && len(sorted) > 0 {
		merged := sorted[:1]
		for _, l := range sorted[1:] {
			if m, ok := merged[len(merged)-1].Merge(l); ok {
				merged[len(merged)-1] = m
				continue
			}
			merged = append(merged, l)
		}
		sorted = merged
	}
	return newSortedSet(sorted, policy)
}

func newSortedSet(locs []Loc, policy MergePolicy) *Set {
	s := &Set{policy: policy, locs: locs, maxStop: make([]int64, len(locs))}
	for i, l := range locs {
		s.maxStop[i] = l.Stop
		if i > 0 && locs[i-1].ContigIndex == l.ContigIndex && s.maxStop[i-1] > l.Stop {
			s.maxStop[i] = s.maxStop[i-1]
		}
		if i == 0 || l.ContigIndex > s.last.ContigIndex ||
			(l.ContigIndex == s.last.ContigIndex && l.Stop > s.last.Stop) {
			s.last = l
		}
	}
	return s
}

// Policy returns the merge policy the set was built with.
func (s *Set) Policy() MergePolicy { return s.policy }

// Len returns the number of members.
func (s *Set) Len() int { return len(s.locs) }

// At returns the i'th member.
func (s *Set) At(i int) Loc { return s.locs[i] }

// Locs returns the members in order. The caller must not modify the result.
func (s *Set) Locs() []Loc { return s.locs }

// Size returns the total number of bases over all members. Overlapping bases
// are counted once per member under NoMerge.
func (s *Set) Size() int64 {
	var n int64
	for _, l := range s.locs {
		n += l.Size()
	}
	return n
}

// Last returns the member that ends last. It panics on an empty set.
func (s *Set) Last() Loc {
	if len(s.locs) == 0 {
		panic("interval: Last called on an empty set")
	}
	return s.last
}

// IsPastAll reports whether loc lies entirely after every member of s.
func (s *Set) IsPastAll(loc Loc) bool {
	return len(s.locs) > 0 && loc.IsPast(s.last)
}

// Overlaps reports whether some member overlaps loc.
func (s *Set) Overlaps(loc Loc) bool {
	return s.find(loc, Loc.Overlaps)
}

// Contains reports whether some single member contains loc.
func (s *Set) Contains(loc Loc) bool {
	return s.find(loc, Loc.Contains)
}

func (s *Set) find(loc Loc, match func(member, loc Loc) bool) bool {
	// First member that starts after loc.Stop.
	i := sort.Search(len(s.locs), func(i int) bool {
		m := s.locs[i]
		return m.ContigIndex > loc.ContigIndex || (m.ContigIndex == loc.ContigIndex && m.Start > loc.Stop)
	})
	for j := i - 1; j >= 0; j-- {
		m := s.locs[j]
		if m.ContigIndex != loc.ContigIndex || s.maxStop[j] < loc.Start {
			return false
		}
		if match(m, loc) {
			return true
		}
	}
	return false
}

// Split divides s into at most n non-empty sets of consecutive members with
// roughly equal base counts. Concatenating the members of the result gives
// back the members of s.
func (s *Set) Split(n int) []*Set {
	if n <= 1 || len(s.locs) <= 1 {
		return []*Set{s}
	}
	if n > len(s.locs) {
		n = len(s.locs)
	}
	total := s.Size()
	var (
		result []*Set
		start  int
		acc    int64
	)
	for i, l := range s.locs {
		acc += l.Size()
		remaining := len(s.locs) - i - 1
		shardsLeft := n - len(result) - 1
		if shardsLeft == 0 {
			break
		}
		if acc*int64(n) >= total*int64(len(result)+1) || remaining == shardsLeft {
			result = append(result, newSortedSet(s.locs[start:i+1], s.policy))
			start = i + 1
		}
	}
	return append(result, newSortedSet(s.locs[start:], s.policy))
}
