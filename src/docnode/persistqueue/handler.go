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
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"
	"github.com/m3db/m3doc/src/x/clock"
	xsync "github.com/m3db/m3doc/src/x/sync"

	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrDiskDisabled is returned by Schedule when the target disk is
	// disabled. A rejection reply has already been sent for commands.
	ErrDiskDisabled = errors.New("disk disabled")

	// ErrDiskClosed is returned by Schedule when the target disk is
	// closed. A rejection reply has already been sent for commands.
	ErrDiskClosed = errors.New("shutting down storage node")

	// ErrNoSuchDisk is returned when a disk id is out of range.
	ErrNoSuchDisk = errors.New("no such disk")
)

type queueMetrics struct {
	queued        tally.Counter
	rejected      tally.Counter
	aborted       tally.Counter
	remapped      tally.Counter
	failed        tally.Counter
	queueTimeouts tally.Counter
	queueWait     tally.Timer
	queueSize     tally.Gauge
	lockedBuckets tally.Gauge
	activeMerges  tally.Gauge
}

func newQueueMetrics(scope tally.Scope) queueMetrics {
	return queueMetrics{
		queued:        scope.Counter("queued"),
		rejected:      scope.Counter("rejected"),
		aborted:       scope.Counter("aborted"),
		remapped:      scope.Counter("remapped"),
		failed:        scope.Counter("failed"),
		queueTimeouts: scope.Counter("queue-timeouts"),
		queueWait:     scope.Timer("queue-wait"),
		queueSize:     scope.Gauge("queue-size"),
		lockedBuckets: scope.Gauge("locked-buckets"),
		activeMerges:  scope.Gauge("active-merges"),
	}
}

type handler struct {
	sender  message.Sender
	disks   []*disk
	merges  *mergeRegistry
	factory bucket.IDFactory

	pauseMu    sync.Mutex
	pauseCond  *xsync.Cond
	pauseCount *atomic.Int32

	closeOnce sync.Once
	closeCh   chan struct{}

	waitTimeout    time.Duration
	reportInterval time.Duration
	nowFn          clock.NowFn
	logger         *zap.Logger
	metrics        queueMetrics
}

// NewHandler creates a handler queueing and dispatching messages for the
// configured partitions. Replies leaving the queue layer go through
// sender.
func NewHandler(sender message.Sender, opts Options) (Handler, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var (
		iopts  = opts.InstrumentOptions()
		scope  = iopts.MetricsScope().SubScope("persist-queue")
		nowFn  = opts.ClockOptions().NowFn()
		logger = iopts.Logger()
	)
	h := &handler{
		sender:         sender,
		factory:        opts.IDFactory(),
		pauseCount:     atomic.NewInt32(0),
		closeCh:        make(chan struct{}),
		waitTimeout:    opts.MessageWaitTimeout(),
		reportInterval: iopts.ReportInterval(),
		nowFn:          nowFn,
		logger:         logger,
		metrics:        newQueueMetrics(scope),
	}
	h.pauseCond = xsync.NewCond(&h.pauseMu)
	h.merges = newMergeRegistry(sender, logger)

	partitions := opts.Partitions()
	h.disks = make([]*disk, 0, len(partitions))
	for _, p := range partitions {
		state := DiskAvailable
		if !p.Up {
			state = DiskDisabled
			logger.Warn("partition is down, starting its queue disabled",
				zap.Uint32("disk", p.ID),
				zap.String("reason", p.Reason))
		}
		h.disks = append(h.disks, newDisk(h, sender, nowFn, &h.metrics,
			opts.StripeCount(), state))
	}

	go h.reportLoop()
	return h, nil
}

func (h *handler) reportLoop() {
	ticker := time.NewTicker(h.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.metrics.queueSize.Update(float64(h.QueueSize()))
			h.metrics.lockedBuckets.Update(float64(h.lockedBuckets()))
			h.metrics.activeMerges.Update(float64(h.merges.count()))
		case <-h.closeCh:
			return
		}
	}
}

func (h *handler) SendCommand(cmd message.Command) {
	h.sender.SendCommand(cmd)
}

func (h *handler) SendReply(reply message.Reply) {
	h.sender.SendReply(reply)
}

func (h *handler) Schedule(msg message.Message, diskID uint32) error {
	if int(diskID) >= len(h.disks) {
		return ErrNoSuchDisk
	}
	d := h.disks[diskID]
	entry := newMessageEntry(msg, h.nowFn())
	if err := d.schedule(entry); err != nil {
		h.metrics.rejected.Inc(1)
		h.replyRejected(msg, d.getState())
		return err
	}
	h.metrics.queued.Inc(1)
	return nil
}

// replyRejected responds to a command that never made it into a queue.
// Replies are dropped, the operation they resolve fails on its own.
func (h *handler) replyRejected(msg message.Message, state DiskState) {
	if msg.IsReply() {
		return
	}
	reply := msg.(message.Command).MakeReply()
	if state == DiskDisabled {
		reply.SetResult(message.NewReturnCode(message.CodeDiskFailure, "Disk disabled"))
	} else {
		reply.SetResult(message.NewReturnCode(message.CodeAborted, "Shutting down storage node."))
	}
	h.sender.SendReply(reply)
}

func (h *handler) GetNextMessage(diskID, stripeID uint32) (LockedMessage, bool) {
	if int(diskID) >= len(h.disks) {
		return LockedMessage{}, false
	}
	d := h.disks[diskID]
	if !h.tryHandlePause(d) {
		// Still paused, return empty so the worker can tick.
		return LockedMessage{}, false
	}
	if d.isClosed() {
		return LockedMessage{}, false
	}
	s := d.stripes[int(stripeID)%len(d.stripes)]
	return s.getNextMessage(d, h.waitTimeout)
}

// tryHandlePause waits out one poll interval when dispatch is paused.
// Closed disks skip the wait so shutdown is never delayed by a pauser.
func (h *handler) tryHandlePause(d *disk) bool {
	if !h.IsPaused() {
		return true
	}
	if !d.isClosed() {
		h.pauseMu.Lock()
		if h.IsPaused() {
			h.pauseCond.Wait(pollInterval)
		}
		h.pauseMu.Unlock()
	}
	return !h.IsPaused()
}

func (h *handler) GetNextMessageForBucket(lck LockedMessage) (LockedMessage, bool) {
	if lck.Lock == nil {
		return LockedMessage{}, false
	}
	s := lck.Lock.stripe
	if s.disk.isClosed() {
		lck.Lock.Release()
		return LockedMessage{}, false
	}
	return s.getNextMessageForBucket(lck)
}

func (h *handler) Lock(ctx context.Context, b bucket.ID, diskID uint32, mode message.LockMode) (*BucketLock, error) {
	if int(diskID) >= len(h.disks) {
		return nil, ErrNoSuchDisk
	}
	return h.disks[diskID].stripeFor(b).lockExternal(ctx, b, mode)
}

func (h *handler) FailOperations(b bucket.ID, diskID uint32, rc message.ReturnCode) {
	if int(diskID) >= len(h.disks) {
		return
	}
	h.disks[diskID].stripeFor(b).failOperations(b, rc)
}

func (h *handler) RemapQueue(source RemapSource, target *RemapTarget, op RemapOperation) {
	h.remapQueue(source, []*RemapTarget{target}, op)
}

func (h *handler) RemapQueueSplit(source RemapSource, target1, target2 *RemapTarget) {
	h.remapQueue(source, []*RemapTarget{target1, target2}, RemapSplit)
}

// remapQueue reroutes every queued message of the source bucket according
// to op. The source stripe and all target stripes are locked together so
// no message is dispatched from the bucket mid remap. Messages that
// cannot follow the bucket are failed, their replies and any merge state
// replies are sent once the stripes are unlocked again.
func (h *handler) remapQueue(source RemapSource, targets []*RemapTarget, op RemapOperation) {
	if int(source.DiskID) >= len(h.disks) {
		h.logger.Error("remap queue for unknown disk",
			zap.Uint32("disk", source.DiskID))
		return
	}
	for _, t := range targets {
		if t != nil && int(t.DiskID) >= len(h.disks) {
			h.logger.Error("remap queue towards unknown disk",
				zap.Uint32("disk", t.DiskID))
			return
		}
	}

	guard := newMultiLockGuard()
	src := h.disks[source.DiskID]
	guard.add(source.DiskID, src.stripeIndexFor(source.Bucket), src.stripeFor(source.Bucket))
	for _, t := range targets {
		if t == nil {
			continue
		}
		d := h.disks[t.DiskID]
		guard.add(t.DiskID, d.stripeIndexFor(t.Bucket), d.stripeFor(t.Bucket))
		// Messages that keep the source bucket may still change disk.
		guard.add(t.DiskID, d.stripeIndexFor(source.Bucket), d.stripeFor(source.Bucket))
	}

	var deferred []message.Reply
	guard.lock()
	entries := src.stripeFor(source.Bucket).queue.removeBucket(source.Bucket)
	for _, entry := range entries {
		newBucket, targetDisk, rc := h.remapMessage(entry.msg, source, op, targets, &deferred)
		if !rc.OK() {
			if !entry.msg.IsReply() {
				reply := entry.msg.(message.Command).MakeReply()
				reply.SetResult(rc)
				deferred = append(deferred, reply)
			}
			continue
		}
		entry.bkt = newBucket
		h.disks[targetDisk].stripeFor(newBucket).queue.push(entry)
		h.metrics.remapped.Inc(1)
	}
	guard.broadcast()
	guard.unlock()

	for _, reply := range deferred {
		h.sender.SendReply(reply)
	}
}

// remapMessage decides where one queued message goes after its bucket was
// moved, split or joined. It returns the bucket and disk the message
// stays queued under and a non ok result when the message must be failed
// instead. Replies that have to be sent for abandoned merge state are
// appended to deferred.
func (h *handler) remapMessage(
	msg message.Message,
	source RemapSource,
	op RemapOperation,
	targets []*RemapTarget,
	deferred *[]message.Reply,
) (bucket.ID, uint32, message.ReturnCode) {
	var (
		newBucket  = source.Bucket
		targetDisk = source.DiskID
		rc         message.ReturnCode
	)

	// Only diff replies are remappable, every other queued reply is
	// unexpected here.
	if msg.IsReply() &&
		msg.Type() != message.GetBucketDiffType &&
		msg.Type() != message.ApplyBucketDiffType {
		return newBucket, targetDisk, h.unknownRemapResult(msg, source)
	}

	switch msg.Type() {
	case message.PutType, message.GetType, message.UpdateType, message.RemoveType:
		if op != RemapSplit {
			target := targets[0]
			newBucket = target.Bucket
			msg.SetBucket(newBucket)
			target.FoundInQueue = true
			targetDisk = target.DiskID
			break
		}
		docCmd := msg.(message.DocumentCommand)
		computed := h.factory.IDFor(docCmd.DocumentID())
		if target := remapTargetFor(computed, targets); target != nil {
			newBucket = target.Bucket
			msg.SetBucket(newBucket)
			target.FoundInQueue = true
			targetDisk = target.DiskID
			break
		}
		if first := firstTarget(targets); first != nil &&
			bucket.CommonBits(first.Bucket, computed) < source.Bucket.UsedBits() {
			rc = message.NewReturnCode(message.CodeRejected, fmt.Sprintf(
				"Document %s belongs in neither %s nor %s. Cannot remap it "+
					"after split. It did not belong in the original bucket %s.",
				docCmd.DocumentID(), remapTargetName(targets, 0),
				remapTargetName(targets, 1), source.Bucket))
			break
		}
		rc = message.NewReturnCode(message.CodeBucketDeleted, fmt.Sprintf(
			"Bucket %s was split and neither %s nor %s fit for this "+
				"operation. Failing operation so distributor can create "+
				"bucket on correct node.",
			source.Bucket, remapTargetName(targets, 0), remapTargetName(targets, 1)))

	case message.MergeBucketType, message.GetBucketDiffType, message.ApplyBucketDiffType:
		if op != RemapMove {
			detail := "Bucket split. Cannot remap merge, so aborting it"
			if op == RemapJoin {
				detail = "Bucket joined. Cannot remap merge, so aborting it"
			}
			if status, ok := h.merges.remove(source.Bucket); ok {
				failure := message.NewReturnCode(message.CodeBucketDeleted, detail)
				*deferred = append(*deferred, retainedReplies(status, failure)...)
			}
		}
		fallthrough

	case message.SplitBucketType:
		switch op {
		case RemapMove:
			targetDisk = targets[0].DiskID
		case RemapSplit:
			rc = message.NewReturnCode(message.CodeBucketDeleted,
				"Bucket split while operation enqueued")
		case RemapJoin:
			rc = message.NewReturnCode(message.CodeBucketDeleted,
				"Bucket was just joined")
		}

	case message.StatBucketType, message.RevertType, message.RemoveLocationType,
		message.SetBucketStateType:
		switch op {
		case RemapMove:
			targetDisk = targets[0].DiskID
		case RemapSplit:
			rc = message.NewReturnCode(message.CodeBucketDeleted, "Bucket was just split")
		case RemapJoin:
			rc = message.NewReturnCode(message.CodeBucketDeleted, "Bucket was just joined")
		}

	case message.CreateBucketType, message.DeleteBucketType, message.JoinBucketsType:
		// Tied to the bucket database entry these stay queued across
		// splits and joins, they only follow disk moves.
		if op == RemapMove {
			targetDisk = targets[0].DiskID
		}

	default:
		rc = h.unknownRemapResult(msg, source)
	}

	return newBucket, targetDisk, rc
}

func (h *handler) unknownRemapResult(msg message.Message, source RemapSource) message.ReturnCode {
	h.logger.Error("could not remap queued message",
		zap.Stringer("messageType", msg.Type()),
		zap.Bool("reply", msg.IsReply()),
		zap.Stringer("bucket", source.Bucket))
	return message.NewReturnCode(message.CodeInternalFailure,
		"Unknown message type in persistence layer")
}

// remapTargetFor returns the first target whose bucket contains the
// computed document bucket.
func remapTargetFor(computed bucket.ID, targets []*RemapTarget) *RemapTarget {
	for _, t := range targets {
		if t != nil && t.Bucket.Contains(computed) {
			return t
		}
	}
	return nil
}

func firstTarget(targets []*RemapTarget) *RemapTarget {
	for _, t := range targets {
		if t != nil {
			return t
		}
	}
	return nil
}

func remapTargetName(targets []*RemapTarget, i int) string {
	if i >= len(targets) || targets[i] == nil {
		return bucket.NullID.String()
	}
	return targets[i].Bucket.String()
}

func (h *handler) AddMergeStatus(b bucket.ID, status *MergeStatus) {
	h.merges.add(b, status)
}

func (h *handler) UpdateMergeStatus(b bucket.ID, fn func(*MergeStatus)) error {
	return h.merges.update(b, fn)
}

func (h *handler) IsMerging(b bucket.ID) bool {
	return h.merges.isMerging(b)
}

func (h *handler) ActiveMerges() int {
	return h.merges.count()
}

func (h *handler) ClearMergeStatus(b bucket.ID) {
	h.merges.clear(b)
}

func (h *handler) FailMergeStatus(b bucket.ID, rc message.ReturnCode) {
	h.merges.fail(b, rc)
}

// ResumeGuard resumes dispatch paused through Handler.Pause. Resuming
// more than once has no further effect.
type ResumeGuard struct {
	h    *handler
	once sync.Once
}

// Resume releases this guard's pause.
func (g *ResumeGuard) Resume() {
	g.once.Do(func() {
		g.h.pauseCount.Dec()
		g.h.pauseMu.Lock()
		g.h.pauseCond.Broadcast()
		g.h.pauseMu.Unlock()
	})
}

func (h *handler) Pause() *ResumeGuard {
	h.pauseCount.Inc()
	// Dispatch has stopped, wait for operations already handed to workers
	// to finish so the pauser sees a quiescent node.
	for _, d := range h.disks {
		d.waitUntilNoLocks()
	}
	return &ResumeGuard{h: h}
}

func (h *handler) IsPaused() bool {
	return h.pauseCount.Load() > 0
}

func (h *handler) AbortQueuedOperations(cmd *message.AbortBucketOperationsCommand) {
	var aborted []message.Reply
	for _, d := range h.disks {
		aborted = d.abort(aborted, cmd)
	}
	rc := message.NewReturnCode(message.CodeAborted,
		"Sending distributor no longer owns bucket operation was bound to, "+
			"or storage node went down")
	for _, reply := range aborted {
		h.metrics.aborted.Inc(1)
		reply.SetResult(rc)
		h.sender.SendReply(reply)
	}

	// In flight operations for the aborted buckets must have completed
	// before returning, the caller may be about to delete the buckets.
	for _, d := range h.disks {
		d.waitInactive(cmd)
	}
}

func (h *handler) SetDiskState(diskID uint32, state DiskState) {
	if int(diskID) >= len(h.disks) {
		return
	}
	d := h.disks[diskID]
	d.setState(state)
	switch state {
	case DiskDisabled:
		// Disabled disks keep dispatching, drain what is already queued.
		d.flush()
	case DiskClosed:
		d.broadcast()
	}
}

func (h *handler) DiskState(diskID uint32) DiskState {
	if int(diskID) >= len(h.disks) {
		return DiskClosed
	}
	return h.disks[diskID].getState()
}

func (h *handler) Flush(killPendingMerges bool) {
	for _, d := range h.disks {
		d.flush()
	}
	if killPendingMerges {
		h.merges.failAll(message.NewReturnCode(message.CodeAborted,
			"Storage node is shutting down"))
	}
}

func (h *handler) Close() {
	h.closeOnce.Do(func() {
		for _, d := range h.disks {
			if d.getState() == DiskAvailable {
				d.setState(DiskClosed)
			}
			d.broadcast()
		}
		close(h.closeCh)
	})
}

func (h *handler) QueueSize() int {
	n := 0
	for _, d := range h.disks {
		n += d.queueSize()
	}
	return n
}

func (h *handler) lockedBuckets() int {
	n := 0
	for _, d := range h.disks {
		n += d.lockedBuckets()
	}
	return n
}

func (h *handler) QueueSizeForDisk(diskID uint32) int {
	if int(diskID) >= len(h.disks) {
		return 0
	}
	return h.disks[diskID].queueSize()
}

func (h *handler) NumDisks() int {
	return len(h.disks)
}

func (h *handler) NextStripeID(diskID uint32) uint32 {
	if int(diskID) >= len(h.disks) {
		return 0
	}
	return h.disks[diskID].nextStripeID()
}

// multiLockGuard collects stripe monitors and acquires them in a stable
// global order, keyed by (disk, stripe), so concurrent remaps locking
// overlapping stripe sets cannot deadlock. Duplicates collapse.
type multiLockGuard struct {
	keys    []uint64
	stripes map[uint64]*stripe
}

func newMultiLockGuard() *multiLockGuard {
	return &multiLockGuard{stripes: make(map[uint64]*stripe)}
}

func (g *multiLockGuard) add(diskID, stripeIdx uint32, s *stripe) {
	key := uint64(diskID)<<32 | uint64(stripeIdx)
	if _, ok := g.stripes[key]; ok {
		return
	}
	g.stripes[key] = s
	g.keys = append(g.keys, key)
}

func (g *multiLockGuard) lock() {
	sort.Slice(g.keys, func(i, j int) bool { return g.keys[i] < g.keys[j] })
	for _, key := range g.keys {
		g.stripes[key].mu.Lock()
	}
}

func (g *multiLockGuard) broadcast() {
	for _, key := range g.keys {
		g.stripes[key].cond.Broadcast()
	}
}

func (g *multiLockGuard) unlock() {
	for i := len(g.keys) - 1; i >= 0; i-- {
		g.stripes[g.keys[i]].mu.Unlock()
	}
}
