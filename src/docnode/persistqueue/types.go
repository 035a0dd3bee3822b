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

// Package persistqueue sits between a document store node's communication
// threads and its persistence threads. Incoming storage messages are queued
// per disk, each disk queue is partitioned into stripes, and stripes hand
// messages to persistence workers in priority order under per bucket locks
// so no two workers ever operate on the same bucket concurrently.
package persistqueue

import (
	"context"
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"
	"github.com/m3db/m3doc/src/x/clock"
	"github.com/m3db/m3doc/src/x/instrument"
)

// DiskState describes the admission state of one disk's queues.
type DiskState int

const (
	// DiskAvailable admits and dispatches messages.
	DiskAvailable DiskState = iota

	// DiskDisabled rejects new messages but keeps dispatching what is
	// already queued.
	DiskDisabled

	// DiskClosed rejects new messages and stops dispatching, used during
	// node shutdown.
	DiskClosed
)

func (s DiskState) String() string {
	switch s {
	case DiskAvailable:
		return "available"
	case DiskDisabled:
		return "disabled"
	case DiskClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Partition describes one disk partition backing the node.
type Partition struct {
	// ID is the disk index, partitions must be numbered contiguously
	// from zero.
	ID uint32

	// Up is false when the partition was detected bad at startup, its
	// queues then begin in the disabled state.
	Up bool

	// Reason carries diagnostic detail for a partition that is down.
	Reason string
}

// LockedMessage is a dispatched message together with the bucket lock that
// was taken for it. The lock is held until released through
// GetNextMessageForBucket or Lock.Release.
type LockedMessage struct {
	Message message.Message
	Lock    *BucketLock
}

// RemapOperation is the kind of bucket mutation a queue remap follows.
type RemapOperation int

const (
	// RemapMove reroutes a bucket's queued messages to another disk.
	RemapMove RemapOperation = iota

	// RemapSplit reroutes a split bucket's queued messages to the split
	// targets.
	RemapSplit

	// RemapJoin reroutes the source buckets' queued messages to the join
	// target.
	RemapJoin
)

func (o RemapOperation) String() string {
	switch o {
	case RemapMove:
		return "move"
	case RemapSplit:
		return "split"
	case RemapJoin:
		return "join"
	default:
		return "unknown"
	}
}

// RemapSource identifies the bucket whose queued messages are remapped.
type RemapSource struct {
	Bucket bucket.ID
	DiskID uint32
}

// RemapTarget identifies a bucket that receives remapped messages.
// FoundInQueue is set by the remap when at least one queued message was
// rerouted to this target, callers use it to decide whether the target
// bucket must exist afterwards.
type RemapTarget struct {
	Bucket       bucket.ID
	DiskID       uint32
	FoundInQueue bool
}

// MergeStatus tracks one in flight merge for a bucket. The replies are
// retained unsent until the merge completes or is failed.
type MergeStatus struct {
	// Reply completes the merge towards the distributor.
	Reply message.Reply

	// PendingGetDiff is a diff request reply held while the local diff is
	// being computed.
	PendingGetDiff message.Reply

	// PendingApplyDiff is a diff application reply held while the diff is
	// being applied.
	PendingApplyDiff message.Reply

	// NodeList is the chain of nodes participating in the merge.
	NodeList []uint32

	// MaxTimestamp bounds the documents considered by the merge.
	MaxTimestamp uint64

	// StartTime is when the merge began on this node.
	StartTime time.Time
}

// Handler is the queue and lock layer of a storage node. Communication
// threads schedule messages onto it and persistence workers pull them back
// off, one bucket at a time.
type Handler interface {
	message.Sender

	// Schedule queues a message on the given disk. When the disk does not
	// admit the message a rejection reply is sent for commands and a
	// typed error describing the disk state is returned.
	Schedule(msg message.Message, diskID uint32) error

	// GetNextMessage returns the next dispatchable message of the given
	// disk stripe together with its bucket lock, blocking up to the
	// configured wait timeout. It returns false when nothing could be
	// dispatched, which callers treat as a tick.
	GetNextMessage(diskID, stripeID uint32) (LockedMessage, bool)

	// GetNextMessageForBucket continues a dispatch batch: it returns the
	// oldest queued message for the locked bucket, transferring the held
	// lock to the returned message. When it returns false the batch is
	// over and the lock has been released.
	GetNextMessageForBucket(lck LockedMessage) (LockedMessage, bool)

	// Lock takes a bucket lock outside of message dispatch, for
	// maintenance operations. It blocks until the lock is available or
	// the context is done.
	Lock(ctx context.Context, b bucket.ID, diskID uint32, mode message.LockMode) (*BucketLock, error)

	// FailOperations fails every queued message for the bucket on the
	// given disk with the supplied result. Queued DeleteBucket commands
	// are left in place so the bucket still gets removed.
	FailOperations(b bucket.ID, diskID uint32, rc message.ReturnCode)

	// RemapQueue reroutes the source bucket's queued messages after the
	// bucket was moved to another disk or joined into target.
	RemapQueue(source RemapSource, target *RemapTarget, op RemapOperation)

	// RemapQueueSplit reroutes the source bucket's queued messages after
	// the bucket was split into up to two targets, either of which may be
	// nil.
	RemapQueueSplit(source RemapSource, target1, target2 *RemapTarget)

	// AddMergeStatus registers merge state for a bucket, overwriting any
	// existing state.
	AddMergeStatus(b bucket.ID, status *MergeStatus)

	// UpdateMergeStatus runs fn against the bucket's merge state under
	// the registry lock. It errors when no merge is registered for the
	// bucket.
	UpdateMergeStatus(b bucket.ID, fn func(*MergeStatus)) error

	// IsMerging reports whether merge state is registered for the bucket.
	IsMerging(b bucket.ID) bool

	// ActiveMerges returns the number of registered merges.
	ActiveMerges() int

	// ClearMergeStatus drops the bucket's merge state without responding
	// to any retained replies.
	ClearMergeStatus(b bucket.ID)

	// FailMergeStatus drops the bucket's merge state and sends all
	// retained replies with the given result.
	FailMergeStatus(b bucket.ID, rc message.ReturnCode)

	// Pause suspends dispatch across all disks, waits until no bucket
	// locks are held and returns a guard. Pauses nest, dispatch resumes
	// once every guard has been resumed. Callers must not hold a bucket
	// lock themselves, the wait would never end.
	Pause() *ResumeGuard

	// IsPaused reports whether dispatch is currently suspended.
	IsPaused() bool

	// AbortQueuedOperations removes queued abortable messages for the
	// buckets selected by cmd, replying to each with an aborted result,
	// then waits until no selected bucket has an operation in flight.
	AbortQueuedOperations(cmd *message.AbortBucketOperationsCommand)

	// SetDiskState transitions a disk's admission state. Disabling a disk
	// drains it before returning.
	SetDiskState(diskID uint32, state DiskState)

	// DiskState returns a disk's admission state.
	DiskState(diskID uint32) DiskState

	// Flush blocks until all queues are empty and no bucket locks are
	// held. With killPendingMerges set, registered merges are failed and
	// their retained replies sent before returning.
	Flush(killPendingMerges bool)

	// Close marks every available disk closed and wakes all dispatch
	// waiters so persistence workers can exit. Queued messages are left
	// in place.
	Close()

	// QueueSize returns the number of queued messages across all disks.
	QueueSize() int

	// QueueSizeForDisk returns the number of queued messages on one disk.
	QueueSizeForDisk(diskID uint32) int

	// NumDisks returns the number of disks backing the handler.
	NumDisks() int

	// NextStripeID hands out stripe ids for a disk round robin, used by
	// persistence workers to bind to a stripe.
	NextStripeID(diskID uint32) uint32
}

// Processor handles messages dispatched from the queue.
type Processor interface {
	// ProcessMessage handles one dispatched message. The bucket lock in
	// msg is held for the duration of the call and released by the
	// caller, implementations must not release it themselves.
	ProcessMessage(msg LockedMessage)
}

// ProcessorFn is a function adapter for Processor.
type ProcessorFn func(msg LockedMessage)

// ProcessMessage implements Processor.
func (f ProcessorFn) ProcessMessage(msg LockedMessage) {
	f(msg)
}

// Workers runs the persistence worker goroutines that pull messages off a
// handler and feed them to a processor.
type Workers interface {
	// Open starts the workers.
	Open() error

	// Close stops the workers and waits for them to exit.
	Close() error
}

// Options configures a handler.
type Options interface {
	// Validate validates the options.
	Validate() error

	// SetClockOptions sets the clock options.
	SetClockOptions(value clock.Options) Options

	// ClockOptions returns the clock options.
	ClockOptions() clock.Options

	// SetInstrumentOptions sets the instrumentation options.
	SetInstrumentOptions(value instrument.Options) Options

	// InstrumentOptions returns the instrumentation options.
	InstrumentOptions() instrument.Options

	// SetIDFactory sets the factory used to compute the bucket a
	// document id hashes to when remapping after splits.
	SetIDFactory(value bucket.IDFactory) Options

	// IDFactory returns the bucket id factory.
	IDFactory() bucket.IDFactory

	// SetPartitions sets the disk partitions backing the handler.
	SetPartitions(value []Partition) Options

	// Partitions returns the disk partitions backing the handler.
	Partitions() []Partition

	// SetStripeCount sets the number of stripes each disk's queue is
	// partitioned into. Persistence workers bind one to a stripe.
	SetStripeCount(value int) Options

	// StripeCount returns the number of stripes per disk.
	StripeCount() int

	// SetMessageWaitTimeout sets how long a dispatch attempt blocks
	// waiting for a message before returning to allow the worker to
	// tick.
	SetMessageWaitTimeout(value time.Duration) Options

	// MessageWaitTimeout returns the dispatch wait timeout.
	MessageWaitTimeout() time.Duration
}
