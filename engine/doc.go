// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*Package engine drives a locus traversal: it pulls pileups from a merged
  read stream, looks up the reference base and the reference-ordered data at
  each position, and hands them to a Walker that folds them into a single
  result.

  A traversal is a single-threaded forward pass. Loci are visited in strictly
  increasing order, optionally restricted to an interval set. When the reads
  are indexed and intervals are given, one bounded query is issued per
  interval; otherwise the whole stream is scanned and the scan stops as soon
  as it moves past the last interval.

  TraverseSharded splits the intervals into shards and runs an independent
  Engine per shard, each with its own inputs. The partial results are merged
  with the walker's Combine method, which must be associative and
  commutative.
*/
package engine
