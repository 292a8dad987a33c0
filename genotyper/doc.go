// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*
Package genotyper computes exact allele-frequency posteriors over a cohort of
diploid samples and calls biallelic SNPs from pileups.

All probabilities are log10. Given per-sample genotype likelihoods
[AA, AB, BB] for N samples and a prior over the total number k of alternate
chromosomes (0 <= k <= 2N), the calculator returns

  posterior[k] = prior[k] + log10 P(data | AF = k)

Two algorithms are provided. Linear keeps three rolling rows of the
recursion over samples and stops advancing k once the likelihood drops more
than a tolerance below the best seen so far; GoldStandard fills the full
(N+1) x (2N+1) matrix. Both combine terms with the same Jacobian-table sum,
so their outputs agree wherever Linear did not stop early.

Early stopping is an approximation: it assumes log10 P(data | AF = k) is
unimodal in k. Entries past the stopping point are -Inf.

Walker wires the calculator into an engine traversal: it builds per-sample
likelihoods from the pileup, runs the calculator with heterozygosity priors,
assigns genotypes by traceback, and collects Calls.
*/
package genotyper
