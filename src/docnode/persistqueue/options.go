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
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/x/clock"
	"github.com/m3db/m3doc/src/x/instrument"
)

const (
	// defaultStripeCount is the default number of stripes per disk, which
	// is also the number of persistence workers a disk is served by.
	defaultStripeCount = 4

	// defaultMessageWaitTimeout is the default time a dispatch attempt
	// blocks for a message before returning to let the worker tick.
	defaultMessageWaitTimeout = 100 * time.Millisecond
)

var (
	errNoPartitions               = errors.New("at least one partition must be configured")
	errPartitionIDsNotContiguous  = errors.New("partition ids must be contiguous from zero")
	errStripeCountPositive        = errors.New("stripe count must be a positive integer")
	errMessageWaitTimeoutPositive = errors.New("message wait timeout must be a positive duration")
)

type options struct {
	clockOpts          clock.Options
	instrumentOpts     instrument.Options
	idFactory          bucket.IDFactory
	partitions         []Partition
	stripeCount        int
	messageWaitTimeout time.Duration
}

// NewOptions creates new persist queue options with a single healthy
// partition.
func NewOptions() Options {
	return &options{
		clockOpts:          clock.NewOptions(),
		instrumentOpts:     instrument.NewOptions(),
		idFactory:          bucket.NewIDFactory(nil),
		partitions:         []Partition{{ID: 0, Up: true}},
		stripeCount:        defaultStripeCount,
		messageWaitTimeout: defaultMessageWaitTimeout,
	}
}

func (o *options) Validate() error {
	if len(o.partitions) == 0 {
		return errNoPartitions
	}
	for i, p := range o.partitions {
		if p.ID != uint32(i) {
			return errPartitionIDsNotContiguous
		}
	}
	if o.stripeCount <= 0 {
		return errStripeCountPositive
	}
	if o.messageWaitTimeout <= 0 {
		return errMessageWaitTimeoutPositive
	}
	return nil
}

func (o *options) SetClockOptions(value clock.Options) Options {
	opts := *o
	opts.clockOpts = value
	return &opts
}

func (o *options) ClockOptions() clock.Options {
	return o.clockOpts
}

func (o *options) SetInstrumentOptions(value instrument.Options) Options {
	opts := *o
	opts.instrumentOpts = value
	return &opts
}

func (o *options) InstrumentOptions() instrument.Options {
	return o.instrumentOpts
}

func (o *options) SetIDFactory(value bucket.IDFactory) Options {
	opts := *o
	opts.idFactory = value
	return &opts
}

func (o *options) IDFactory() bucket.IDFactory {
	return o.idFactory
}

func (o *options) SetPartitions(value []Partition) Options {
	opts := *o
	opts.partitions = value
	return &opts
}

func (o *options) Partitions() []Partition {
	return o.partitions
}

func (o *options) SetStripeCount(value int) Options {
	opts := *o
	opts.stripeCount = value
	return &opts
}

func (o *options) StripeCount() int {
	return o.stripeCount
}

func (o *options) SetMessageWaitTimeout(value time.Duration) Options {
	opts := *o
	opts.messageWaitTimeout = value
	return &opts
}

func (o *options) MessageWaitTimeout() time.Duration {
	return o.messageWaitTimeout
}
