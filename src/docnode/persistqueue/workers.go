// Copyright (c) 2016 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package persistqueue

import (
	"errors"
	"sync"

	"github.com/uber-go/tally"
)

type workersState int

const (
	workersNotOpen workersState = iota
	workersOpen
	workersClosed
)

var (
	errWorkersAlreadyOpen   = errors.New("workers already open")
	errWorkersNotOpen       = errors.New("workers not open")
	errWorkersAlreadyClosed = errors.New("workers already closed")
)

type workersMetrics struct {
	processed tally.Counter
	batched   tally.Counter
}

func newWorkersMetrics(scope tally.Scope) workersMetrics {
	return workersMetrics{
		processed: scope.Counter("processed"),
		batched:   scope.Counter("batched"),
	}
}

type workers struct {
	sync.Mutex

	handler   Handler
	processor Processor
	opts      Options
	metrics   workersMetrics
	state     workersState
	closedCh  chan struct{}
	wg        sync.WaitGroup
}

// NewWorkers creates the persistence workers pulling messages off handler
// and handing them to processor, one worker goroutine per disk stripe.
func NewWorkers(handler Handler, processor Processor, opts Options) Workers {
	if opts == nil {
		opts = NewOptions()
	}
	scope := opts.InstrumentOptions().MetricsScope().SubScope("persist-workers")
	return &workers{
		handler:   handler,
		processor: processor,
		opts:      opts,
		metrics:   newWorkersMetrics(scope),
		state:     workersNotOpen,
		closedCh:  make(chan struct{}),
	}
}

func (w *workers) Open() error {
	w.Lock()
	defer w.Unlock()
	if w.state != workersNotOpen {
		return errWorkersAlreadyOpen
	}
	w.state = workersOpen

	for diskID := uint32(0); diskID < uint32(w.handler.NumDisks()); diskID++ {
		for i := 0; i < w.opts.StripeCount(); i++ {
			stripeID := w.handler.NextStripeID(diskID)
			w.wg.Add(1)
			go w.run(diskID, stripeID)
		}
	}
	return nil
}

// run is the dispatch loop of one persistence worker. Each pass pulls at
// most one message plus any batched continuations for the same bucket.
// Dispatch waits are bounded so the loop stays responsive to Close.
func (w *workers) run(diskID, stripeID uint32) {
	defer w.wg.Done()

	for {
		select {
		case <-w.closedCh:
			return
		default:
		}

		lm, ok := w.handler.GetNextMessage(diskID, stripeID)
		if !ok {
			continue
		}
		for {
			w.processor.ProcessMessage(lm)
			w.metrics.processed.Inc(1)
			next, ok := w.handler.GetNextMessageForBucket(lm)
			if !ok {
				// Batch over, the bucket lock has been released.
				break
			}
			lm = next
			w.metrics.batched.Inc(1)
		}
	}
}

func (w *workers) Close() error {
	w.Lock()
	defer w.Unlock()
	if w.state == workersNotOpen {
		return errWorkersNotOpen
	}
	if w.state == workersClosed {
		return errWorkersAlreadyClosed
	}
	w.state = workersClosed
	close(w.closedCh)
	w.wg.Wait()
	return nil
}
