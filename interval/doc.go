// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*Package interval implements genome locations and ordered interval sets over
  contigs with an externally supplied order.

  A Loc is a 1-based closed range [Start, Stop] on one contig. Locs are
  ordered by (contig index, start, stop), where the contig index comes from a
  Dictionary built from a SAM header or a FASTA file. A Set is a sorted
  sequence of Locs, optionally with overlapping and abutting members merged.
*/
package interval
