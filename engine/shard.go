// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/locuswalk/interval"
)

// OpenFunc opens a private set of inputs for one shard. Intervals in the
// returned Inputs is replaced by the shard. closer, if not nil, is called
// after the shard is done.
type OpenFunc func(ctx context.Context) (in Inputs, closer func() error, err error)

// TraverseSharded splits intervals into up to nShards shards and traverses
// them with at most parallelism concurrent engines. Each shard gets a fresh
// walker from newWalker and its own inputs from open. The partial results are
// merged with Combiner.Combine, in no particular order, and passed to
// OnTraversalDone of one more walker.
//
// Opts.MaxReads and Opts.MaxLoci apply to each shard separately.
func TraverseSharded(ctx context.Context, open OpenFunc, newWalker func() Walker, intervals *interval.Set, nShards, parallelism int, opts Opts) (interface{}, Stats, error) {
	final := newWalker()
	combiner, ok := final.(Combiner)
	if !ok {
		return nil, Stats{}, errors.E(errors.NotSupported, fmt.Sprintf("walker %T cannot combine results; it cannot run sharded", final))
	}
	if intervals == nil || intervals.Len() == 0 {
		return nil, Stats{}, errors.E(errors.Invalid, "sharded traversal needs intervals")
	}
	if parallelism < 1 {
		parallelism = 1
	}
	if nShards < parallelism {
		nShards = parallelism
	}
	shards := intervals.Split(nShards)
	if parallelism > len(shards) {
		parallelism = len(shards)
	}
	label := opts.Label
	if label == "" {
		label = DefaultOpts.Label
	}
	log.Printf("%s: %d shards over %d intervals, %d workers", label, len(shards), intervals.Len(), parallelism)

	var (
		mu      sync.Mutex
		sum     interface{}
		haveSum bool
		stats   Stats
	)
	err := traverse.Each(parallelism, func(jobIdx int) error {
		for i := jobIdx; i < len(shards); i += parallelism {
			shardOpts := opts
			shardOpts.Label = fmt.Sprintf("%s shard %d/%d", label, i+1, len(shards))
			partial, s, err := traverseShard(ctx, open, newWalker(), shards[i], shardOpts)
			if err != nil {
				return errors.E(err, fmt.Sprintf("shard %d", i))
			}
			mu.Lock()
			stats.Add(s)
			if !haveSum {
				sum, haveSum = partial, true
			} else {
				sum, err = combiner.Combine(sum, partial)
			}
			mu.Unlock()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	if err := final.OnTraversalDone(sum); err != nil {
		return nil, stats, err
	}
	log.Printf("%s: all shards done: %d loci visited, %d reads seen", label, stats.Loci, stats.Reads.Seen)
	return sum, stats, nil
}

func traverseShard(ctx context.Context, open OpenFunc, w Walker, shard *interval.Set, opts Opts) (sum interface{}, stats Stats, err error) {
	in, closer, err := open(ctx)
	if err != nil {
		return nil, stats, err
	}
	if closer != nil {
		defer func() {
			if cerr := closer(); err == nil && cerr != nil {
				err = cerr
			}
		}()
	}
	in.Intervals = shard
	e := New(in, opts)
	if err = e.Initialize(ctx); err != nil {
		return nil, stats, err
	}
	defer func() {
		if cerr := e.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	sum, err = e.run(w)
	return sum, e.Stats(), err
}
