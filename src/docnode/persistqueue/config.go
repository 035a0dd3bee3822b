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
	"time"

	"github.com/m3db/m3doc/src/x/instrument"
)

// Configuration configures the persist queue.
type Configuration struct {
	// StripeCount is the number of stripes each disk's queue is split
	// into, which is also the number of persistence workers per disk.
	// Zero applies the default.
	StripeCount int `yaml:"stripeCount" validate:"min=0"`

	// MessageWaitTimeout is how long a dispatch attempt blocks waiting
	// for a message. Zero applies the default.
	MessageWaitTimeout time.Duration `yaml:"messageWaitTimeout" validate:"min=0"`

	// Partitions describes the disk partitions backing the node. Empty
	// means a single healthy partition.
	Partitions []PartitionConfiguration `yaml:"partitions"`
}

// PartitionConfiguration configures one disk partition.
type PartitionConfiguration struct {
	// ID is the disk index, ids must be contiguous from zero.
	ID uint32 `yaml:"id"`

	// Down marks the partition bad, its queue then starts disabled.
	Down bool `yaml:"down"`

	// Reason carries diagnostic detail for a partition marked down.
	Reason string `yaml:"reason"`
}

// NewOptions returns options from the configuration.
func (c Configuration) NewOptions(iopts instrument.Options) Options {
	opts := NewOptions().SetInstrumentOptions(iopts)
	if c.StripeCount > 0 {
		opts = opts.SetStripeCount(c.StripeCount)
	}
	if c.MessageWaitTimeout > 0 {
		opts = opts.SetMessageWaitTimeout(c.MessageWaitTimeout)
	}
	if len(c.Partitions) > 0 {
		partitions := make([]Partition, 0, len(c.Partitions))
		for _, p := range c.Partitions {
			partitions = append(partitions, Partition{
				ID:     p.ID,
				Up:     !p.Down,
				Reason: p.Reason,
			})
		}
		opts = opts.SetPartitions(partitions)
	}
	return opts
}
