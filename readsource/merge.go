// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// mergeLeaf is one input of a k-way merge. seq breaks ties between inputs so
// that records with equal keys come out in input order.
type mergeLeaf struct {
	seq int
	it  Iterator
	key keyFunc
	cur recordKey
	rec *sam.Record
}

// Compare implements llrb.Comparable.
func (l *mergeLeaf) Compare(c llrb.Comparable) int {
	o := c.(*mergeLeaf)
	if c := l.cur.compare(o.cur); c != 0 {
		return c
	}
	return l.seq - o.seq
}

func (l *mergeLeaf) advance() bool {
	if !l.it.Scan() {
		return false
	}
	l.rec = l.it.Record()
	l.cur = l.key(l.rec)
	return true
}

// mergingIterator merges coordinate-sorted inputs. The inputs are kept in a
// binary tree ordered by their current record.
type mergingIterator struct {
	inputs []*mergeLeaf
	leafs  llrb.Tree
	top    *mergeLeaf
	rec    *sam.Record
	err    error
	init   bool
}

func newMergingIterator(inputs []Iterator, keys []keyFunc) *mergingIterator {
	m := &mergingIterator{}
	for i, in := range inputs {
		m.inputs = append(m.inputs, &mergeLeaf{seq: i, it: in, key: keys[i]})
	}
	return m
}

func (m *mergingIterator) Scan() bool {
	if m.err != nil {
		return false
	}
	if !m.init {
		m.init = true
		for _, leaf := range m.inputs {
			if !m.push(leaf) {
				return false
			}
		}
		vlog.VI(1).Infof("merging %d inputs, %d active", len(m.inputs), m.leafs.Len())
	} else if m.top != nil {
		top := m.top
		m.top = nil
		if !m.push(top) {
			return false
		}
	}
	if m.leafs.Len() == 0 {
		return false
	}
	m.top = m.leafs.Min().(*mergeLeaf)
	lenBefore := m.leafs.Len()
	m.leafs.DeleteMin()
	if m.leafs.Len() != lenBefore-1 {
		vlog.Fatalf("merge tree size changed from %d to %d", lenBefore, m.leafs.Len())
	}
	m.rec = m.top.rec
	return true
}

// push advances leaf and reinserts it unless it is exhausted. It returns
// false on error.
func (m *mergingIterator) push(leaf *mergeLeaf) bool {
	if leaf.advance() {
		m.leafs.Insert(leaf)
		return true
	}
	if err := leaf.it.Err(); err != nil {
		m.err = err
		return false
	}
	return true
}

func (m *mergingIterator) Record() *sam.Record { return m.rec }

func (m *mergingIterator) Err() error { return m.err }

func (m *mergingIterator) Close() error {
	var e errorreporter.T
	e.Set(m.err)
	for _, leaf := range m.inputs {
		e.Set(leaf.it.Close())
	}
	return e.Err()
}

// StopInput forwards to every input that buffers records.
func (m *mergingIterator) StopInput() {
	for _, leaf := range m.inputs {
		if s, ok := leaf.it.(*SortingIterator); ok {
			s.StopInput()
		}
	}
}

// Buffered returns the number of records held by buffering inputs.
func (m *mergingIterator) Buffered() int {
	n := 0
	for _, leaf := range m.inputs {
		if s, ok := leaf.it.(*SortingIterator); ok {
			n += s.Buffered()
		}
	}
	return n
}
