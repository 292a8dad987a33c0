// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package readsource merges one or more coordinate-sorted read collections
// (BAM, SAM, or in-memory) into a single coordinate-ordered stream.
//
// A Merger owns the Sources and their merged header. Merger.Iterator and
// Merger.Query return Iterators that are built from a pipeline of stages:
//
//   source iterator -> sort verification or sort-on-the-fly (per source)
//                   -> k-way merge -> read-ahead (optional)
//
// FilteringIterator drops reads that cannot contribute to a locus pileup and
// counts them.
package readsource
