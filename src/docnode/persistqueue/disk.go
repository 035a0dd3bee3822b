// Copyright (c) 2019 Uber Technologies, Inc.
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
	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"
	"github.com/m3db/m3doc/src/x/clock"

	"go.uber.org/atomic"
)

// stripeHashPrime disperses bucket ids across stripes, buckets that are
// queue neighbours numerically should not contend on the same monitor.
const stripeHashPrime = 1099511628211

// disk is the queueing state of one partition: a set of stripes plus the
// partition's admission state.
type disk struct {
	state      *atomic.Int32
	stripes    []*stripe
	nextStripe *atomic.Uint32
}

func newDisk(
	owner *handler,
	sender message.Sender,
	nowFn clock.NowFn,
	metrics *queueMetrics,
	numStripes int,
	initial DiskState,
) *disk {
	d := &disk{
		state:      atomic.NewInt32(int32(initial)),
		nextStripe: atomic.NewUint32(0),
	}
	d.stripes = make([]*stripe, 0, numStripes)
	for i := 0; i < numStripes; i++ {
		s := newStripe(owner, sender, nowFn, metrics)
		s.disk = d
		d.stripes = append(d.stripes, s)
	}
	return d
}

func (d *disk) getState() DiskState {
	return DiskState(d.state.Load())
}

func (d *disk) setState(state DiskState) {
	d.state.Store(int32(state))
}

func (d *disk) isClosed() bool {
	return d.getState() == DiskClosed
}

func (d *disk) stripeIndexFor(b bucket.ID) uint32 {
	return uint32((uint64(b) * stripeHashPrime) % uint64(len(d.stripes)))
}

func (d *disk) stripeFor(b bucket.ID) *stripe {
	return d.stripes[d.stripeIndexFor(b)]
}

// schedule queues the entry on the stripe its bucket hashes to, or rejects
// it when the disk no longer admits messages.
func (d *disk) schedule(entry *messageEntry) error {
	switch d.getState() {
	case DiskAvailable:
		d.stripeFor(entry.bkt).schedule(entry)
		return nil
	case DiskDisabled:
		return ErrDiskDisabled
	default:
		return ErrDiskClosed
	}
}

// nextStripeID hands out stripe ids round robin so persistence workers
// spread evenly over the stripes.
func (d *disk) nextStripeID() uint32 {
	return (d.nextStripe.Inc() - 1) % uint32(len(d.stripes))
}

func (d *disk) broadcast() {
	for _, s := range d.stripes {
		s.broadcast()
	}
}

func (d *disk) flush() {
	for _, s := range d.stripes {
		s.flush()
	}
}

func (d *disk) abort(aborted []message.Reply, cmd *message.AbortBucketOperationsCommand) []message.Reply {
	for _, s := range d.stripes {
		aborted = s.abort(aborted, cmd)
	}
	return aborted
}

func (d *disk) waitInactive(cmd *message.AbortBucketOperationsCommand) {
	for _, s := range d.stripes {
		s.waitInactive(cmd)
	}
}

func (d *disk) waitUntilNoLocks() {
	for _, s := range d.stripes {
		s.waitUntilNoLocks()
	}
}

func (d *disk) queueSize() int {
	n := 0
	for _, s := range d.stripes {
		n += s.queueSize()
	}
	return n
}

func (d *disk) lockedBuckets() int {
	n := 0
	for _, s := range d.stripes {
		n += s.lockedCount()
	}
	return n
}
