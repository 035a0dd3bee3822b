// Copyright (c) 2017 Uber Technologies, Inc.
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
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"
	"github.com/m3db/m3doc/src/x/clock"
	xsync "github.com/m3db/m3doc/src/x/sync"
)

// pollInterval bounds every monitor wait that is not already bounded by
// the configured message wait timeout, so waiters recheck their predicate
// even if a wakeup is missed.
const pollInterval = 100 * time.Millisecond

// stripe owns one slice of a disk's queue together with the lock table for
// the buckets hashing to it. A single monitor guards both so any queue or
// lock transition can wake every waiter concerned.
type stripe struct {
	mu     sync.Mutex
	cond   *xsync.Cond
	queue  *priorityQueue
	locked map[bucket.ID]*bucketLockState

	owner   *handler
	disk    *disk
	sender  message.Sender
	nowFn   clock.NowFn
	metrics *queueMetrics
}

func newStripe(owner *handler, sender message.Sender, nowFn clock.NowFn, metrics *queueMetrics) *stripe {
	s := &stripe{
		queue:   newPriorityQueue(),
		locked:  make(map[bucket.ID]*bucketLockState),
		owner:   owner,
		sender:  sender,
		nowFn:   nowFn,
		metrics: metrics,
	}
	s.cond = xsync.NewCond(&s.mu)
	return s
}

func (s *stripe) schedule(entry *messageEntry) {
	s.mu.Lock()
	s.queue.push(entry)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// getNextMessage scans the queue in priority order for a message whose
// bucket lock is available, takes the lock and returns the message. It
// makes two attempts with a bounded wait in between so the worker loop can
// tick at regular intervals without busy waiting.
func (s *stripe) getNextMessage(d *disk, timeout time.Duration) (LockedMessage, bool) {
	s.mu.Lock()
	for attempt := 0; attempt < 2 && !d.isClosed() && !s.owner.IsPaused(); attempt++ {
		for el := s.queue.entries.Front(); el != nil; el = el.Next() {
			entry := el.Value.(*messageEntry)
			if s.isLockedWithLock(entry.bkt, entry.msg.LockMode()) {
				continue
			}
			return s.takeWithLock(el)
		}
		if attempt == 0 {
			s.cond.Wait(timeout)
		}
	}
	s.mu.Unlock()
	return LockedMessage{}, false
}

// takeWithLock removes the element from the queue and either hands it out
// under a fresh bucket lock or, when it overstayed its queue timeout,
// replies with a timeout instead. Always exits with the monitor released.
func (s *stripe) takeWithLock(el *list.Element) (LockedMessage, bool) {
	entry := s.queue.remove(el)
	waited := s.nowFn().Sub(entry.enqueuedAt)
	s.metrics.queueWait.Record(waited)

	if messageTimedOutInQueue(entry.msg, waited) {
		s.cond.Broadcast()
		s.mu.Unlock()
		s.sendQueueTimeoutReply(entry.msg)
		return LockedMessage{}, false
	}

	lock := newBucketLock(s, entry.bkt, entry.priority, entry.msg.Type(),
		entry.msg.ID(), entry.msg.LockMode())
	s.mu.Unlock()
	return LockedMessage{Message: entry.msg, Lock: lock}, true
}

// getNextMessageForBucket continues a batch: the locked bucket's next
// message in queue order inherits the held lock. Returning false means
// the batch is over and the lock has been released.
func (s *stripe) getNextMessageForBucket(lck LockedMessage) (LockedMessage, bool) {
	b := lck.Lock.Bucket()
	if b.IsNull() {
		lck.Lock.Release()
		return LockedMessage{}, false
	}

	s.mu.Lock()
	el := s.queue.bucketFront(b)
	if el == nil {
		s.mu.Unlock()
		lck.Lock.Release()
		return LockedMessage{}, false
	}

	entry := el.Value.(*messageEntry)
	// Batching never crosses lock modes.
	if entry.msg.LockMode() != lck.Lock.Mode() {
		s.mu.Unlock()
		lck.Lock.Release()
		return LockedMessage{}, false
	}

	entry = s.queue.remove(el)
	waited := s.nowFn().Sub(entry.enqueuedAt)
	s.metrics.queueWait.Record(waited)
	s.cond.Broadcast()
	s.mu.Unlock()

	if messageTimedOutInQueue(entry.msg, waited) {
		s.sendQueueTimeoutReply(entry.msg)
		lck.Lock.Release()
		return LockedMessage{}, false
	}
	return LockedMessage{Message: entry.msg, Lock: lck.Lock}, true
}

// lockExternal takes a bucket lock outside of message dispatch, waiting
// until the bucket becomes available or the context is done.
func (s *stripe) lockExternal(ctx context.Context, b bucket.ID, mode message.LockMode) (*BucketLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	for s.isLockedWithLock(b, mode) {
		s.cond.Wait(pollInterval)
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	lock := newBucketLock(s, b, message.PriorityLowest, message.InternalType, 0, mode)
	s.cond.Broadcast()
	s.mu.Unlock()
	return lock, nil
}

// isLockedWithLock reports whether taking the bucket's lock in the given
// mode would conflict with a current holder.
func (s *stripe) isLockedWithLock(b bucket.ID, mode message.LockMode) bool {
	if b.IsNull() {
		return false
	}
	state, ok := s.locked[b]
	if !ok {
		return false
	}
	if state.exclusive != nil {
		return true
	}
	// Shared holders coexist but block exclusive acquisition.
	return mode == message.LockModeExclusive && len(state.shared) > 0
}

func (s *stripe) lockBucketWithLock(b bucket.ID, mode message.LockMode, entry lockEntry) {
	state, ok := s.locked[b]
	if !ok {
		state = &bucketLockState{shared: make(map[uint64]lockEntry)}
		s.locked[b] = state
	}
	if state.exclusive != nil {
		panic(fmt.Sprintf("persistqueue: bucket %s is already exclusively locked", b))
	}
	if mode == message.LockModeExclusive {
		if len(state.shared) != 0 {
			panic(fmt.Sprintf("persistqueue: bucket %s has shared lock holders", b))
		}
		state.exclusive = &entry
		return
	}
	if _, ok := state.shared[entry.msgID]; ok {
		panic(fmt.Sprintf("persistqueue: duplicate shared lock holder %d for bucket %s", entry.msgID, b))
	}
	state.shared[entry.msgID] = entry
}

func (s *stripe) release(b bucket.ID, mode message.LockMode, msgID uint64) {
	s.mu.Lock()
	state, ok := s.locked[b]
	if !ok {
		panic(fmt.Sprintf("persistqueue: release of unlocked bucket %s", b))
	}
	if mode == message.LockModeExclusive {
		if state.exclusive == nil || state.exclusive.msgID != msgID {
			panic(fmt.Sprintf("persistqueue: release of bucket %s by non holder %d", b, msgID))
		}
		state.exclusive = nil
	} else {
		if _, ok := state.shared[msgID]; !ok {
			panic(fmt.Sprintf("persistqueue: release of bucket %s by non holder %d", b, msgID))
		}
		delete(state.shared, msgID)
	}
	if state.empty() {
		delete(s.locked, b)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// abort strips queued abortable messages for the buckets selected by cmd,
// appending an unsent reply for each to aborted.
func (s *stripe) abort(aborted []message.Reply, cmd *message.AbortBucketOperationsCommand) []message.Reply {
	s.mu.Lock()
	var victims []*list.Element
	for el := s.queue.entries.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*messageEntry)
		if messageMayBeAborted(entry.msg) && cmd.ShouldAbort(entry.bkt) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		entry := s.queue.remove(el)
		aborted = append(aborted, entry.msg.(message.Command).MakeReply())
	}
	if len(victims) > 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	return aborted
}

// failOperations removes the bucket's queued messages and fails each
// removed command with the given result. Queued DeleteBucket commands are
// kept so the bucket still gets removed, queued replies are dropped
// silently.
func (s *stripe) failOperations(b bucket.ID, rc message.ReturnCode) {
	var failed []message.Reply
	s.mu.Lock()
	removed := false
	for _, el := range s.queue.bucketElements(b) {
		entry := el.Value.(*messageEntry)
		if !entry.msg.IsReply() && entry.msg.Type() == message.DeleteBucketType {
			continue
		}
		s.queue.remove(el)
		removed = true
		if entry.msg.IsReply() {
			continue
		}
		reply := entry.msg.(message.Command).MakeReply()
		reply.SetResult(rc)
		failed = append(failed, reply)
	}
	if removed {
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	for _, reply := range failed {
		s.metrics.failed.Inc(1)
		s.sender.SendReply(reply)
	}
}

func (s *stripe) waitUntilNoLocks() {
	s.mu.Lock()
	for len(s.locked) > 0 {
		s.cond.Wait(pollInterval)
	}
	s.mu.Unlock()
}

// waitInactive blocks until no bucket selected by cmd holds a lock.
func (s *stripe) waitInactive(cmd *message.AbortBucketOperationsCommand) {
	s.mu.Lock()
	for s.hasActiveWithLock(cmd) {
		s.cond.Wait(pollInterval)
	}
	s.mu.Unlock()
}

func (s *stripe) hasActiveWithLock(cmd *message.AbortBucketOperationsCommand) bool {
	for b := range s.locked {
		if cmd.ShouldAbort(b) {
			return true
		}
	}
	return false
}

// flush blocks until the stripe has neither queued messages nor held
// bucket locks.
func (s *stripe) flush() {
	s.mu.Lock()
	for !(s.queue.len() == 0 && len(s.locked) == 0) {
		s.cond.Wait(pollInterval)
	}
	s.mu.Unlock()
}

func (s *stripe) broadcast() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *stripe) queueSize() int {
	s.mu.Lock()
	n := s.queue.len()
	s.mu.Unlock()
	return n
}

func (s *stripe) lockedCount() int {
	s.mu.Lock()
	n := len(s.locked)
	s.mu.Unlock()
	return n
}

func (s *stripe) sendQueueTimeoutReply(msg message.Message) {
	s.metrics.queueTimeouts.Inc(1)
	reply := msg.(message.Command).MakeReply()
	reply.SetResult(message.NewReturnCode(message.CodeTimeout,
		"Message waited too long in storage queue"))
	s.sender.SendReply(reply)
}

// messageTimedOutInQueue reports whether a queued message overstayed its
// timeout. Replies never time out, they resolve an operation already in
// flight.
func messageTimedOutInQueue(msg message.Message, waited time.Duration) bool {
	if msg.IsReply() {
		return false
	}
	timeout := msg.(message.Command).Timeout()
	return timeout > 0 && waited >= timeout
}

// messageMayBeAborted reports whether a queued message may be silently
// stripped by an abort.
func messageMayBeAborted(msg message.Message) bool {
	if msg.IsReply() {
		return false
	}
	switch msg.Type() {
	case message.PutType, message.UpdateType, message.RemoveType,
		message.RevertType, message.RemoveLocationType,
		message.SplitBucketType, message.JoinBucketsType,
		message.SetBucketStateType, message.MergeBucketType,
		message.GetBucketDiffType, message.ApplyBucketDiffType:
		return true
	default:
		// CreateBucket and DeleteBucket have already updated the bucket
		// database by the time they are queued, aborting them would leave
		// the service layer and the persistence provider out of sync.
		// Reads pass through and fail on their own if the bucket is gone.
		return false
	}
}
