// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package readsource

import (
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/syncqueue"
	"github.com/grailbio/hts/sam"
)

const threadedBatchSize = 256

var errThreadedClosed = errors.E(errors.Canceled, "threaded iterator closed")

// threadedIterator reads ahead of its consumer in a separate goroutine. At
// most bufferSize records (rounded up to a whole batch) are held in the queue.
type threadedIterator struct {
	in    Iterator
	queue *syncqueue.OrderedQueue
	wg    sync.WaitGroup

	closeOnce sync.Once

	batch []*sam.Record
	rec   *sam.Record
	err   error
	done  bool
}

// closeQueue closes the queue once; the producer and the consumer may race.
func (t *threadedIterator) closeQueue(err error) {
	t.closeOnce.Do(func() {
		t.queue.Close(err) // nolint: errcheck
	})
}

func newThreadedIterator(in Iterator, bufferSize int) *threadedIterator {
	nBatch := (bufferSize + threadedBatchSize - 1) / threadedBatchSize
	if nBatch < 1 {
		nBatch = 1
	}
	t := &threadedIterator{in: in, queue: syncqueue.NewOrderedQueue(nBatch)}
	t.wg.Add(1)
	go t.produce()
	return t
}

func (t *threadedIterator) produce() {
	defer t.wg.Done()
	seq := 0
	batch := make([]*sam.Record, 0, threadedBatchSize)
	for t.in.Scan() {
		batch = append(batch, t.in.Record())
		if len(batch) == threadedBatchSize {
			if err := t.queue.Insert(seq, batch); err != nil {
				return
			}
			seq++
			batch = make([]*sam.Record, 0, threadedBatchSize)
		}
	}
	if len(batch) > 0 {
		if err := t.queue.Insert(seq, batch); err != nil {
			return
		}
	}
	t.closeQueue(t.in.Err())
}

func (t *threadedIterator) Scan() bool {
	for !t.done && len(t.batch) == 0 {
		v, ok, err := t.queue.Next()
		if err != nil {
			t.err = err
			t.done = true
			return false
		}
		if !ok {
			t.done = true
			return false
		}
		t.batch = v.([]*sam.Record)
	}
	if len(t.batch) == 0 {
		return false
	}
	t.rec, t.batch = t.batch[0], t.batch[1:]
	return true
}

func (t *threadedIterator) Record() *sam.Record { return t.rec }

func (t *threadedIterator) Err() error { return t.err }

func (t *threadedIterator) Close() error {
	if !t.done {
		// Unblock the producer.
		t.closeQueue(errThreadedClosed)
	}
	t.wg.Wait()
	err := t.in.Close()
	if t.err != nil && t.err != errThreadedClosed {
		return t.err
	}
	return err
}
