// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package engine

import (
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/locuswalk/interval"
)

// The clock is read only every clockStride loci.
const clockStride = 1024

// progressMeter logs the traversal position every N loci or every T of wall
// time, whichever comes first.
type progressMeter struct {
	label    string
	every    int64
	interval time.Duration
	now      func() time.Time

	start    time.Time
	last     time.Time
	lastLoci int64
	nLogs    int
}

func newProgressMeter(label string, every int64, interval time.Duration) *progressMeter {
	now := time.Now()
	return &progressMeter{label: label, every: every, interval: interval, now: time.Now, start: now, last: now}
}

func (p *progressMeter) update(loc interval.Loc, s *Stats) {
	due := p.every > 0 && s.Loci-p.lastLoci >= p.every
	if !due && p.interval > 0 && s.Loci%clockStride == 0 {
		due = p.now().Sub(p.last) >= p.interval
	}
	if !due {
		return
	}
	now := p.now()
	elapsed := now.Sub(p.start)
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(s.Loci) / secs
	}
	log.Printf("%s: at %v: %d loci, %d reads, %v elapsed, %.0f loci/s",
		p.label, loc, s.Loci, s.Reads.Seen, elapsed.Round(time.Second), rate)
	p.last = now
	p.lastLoci = s.Loci
	p.nLogs++
}
