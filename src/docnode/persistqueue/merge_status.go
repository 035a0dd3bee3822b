// Copyright (c) 2020 Uber Technologies, Inc.
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
	"sync"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// mergeRegistry tracks the merges in flight on this node. Its mutex is a
// leaf lock: it may be taken while stripe monitors are held, so nothing
// called under it may touch a stripe.
type mergeRegistry struct {
	mu       sync.Mutex
	statuses map[bucket.ID]*MergeStatus

	sender message.Sender
	logger *zap.Logger
}

func newMergeRegistry(sender message.Sender, logger *zap.Logger) *mergeRegistry {
	return &mergeRegistry{
		statuses: make(map[bucket.ID]*MergeStatus),
		sender:   sender,
		logger:   logger,
	}
}

func (r *mergeRegistry) add(b bucket.ID, status *MergeStatus) {
	r.mu.Lock()
	if _, ok := r.statuses[b]; ok {
		r.logger.Warn("overwriting existing merge status",
			zap.Stringer("bucket", b))
	}
	r.statuses[b] = status
	r.mu.Unlock()
}

// update runs fn against the bucket's merge status under the registry
// lock. fn must not call back into the registry.
func (r *mergeRegistry) update(b bucket.ID, fn func(*MergeStatus)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[b]
	if !ok {
		return errors.Errorf("no merge state exists for bucket %s", b)
	}
	fn(status)
	return nil
}

func (r *mergeRegistry) isMerging(b bucket.ID) bool {
	r.mu.Lock()
	_, ok := r.statuses[b]
	r.mu.Unlock()
	return ok
}

func (r *mergeRegistry) count() int {
	r.mu.Lock()
	n := len(r.statuses)
	r.mu.Unlock()
	return n
}

// remove drops the bucket's merge status and returns it, so callers can
// fail the retained replies once no stripe monitors are held anymore.
func (r *mergeRegistry) remove(b bucket.ID) (*MergeStatus, bool) {
	r.mu.Lock()
	status, ok := r.statuses[b]
	if ok {
		delete(r.statuses, b)
	}
	r.mu.Unlock()
	return status, ok
}

// clear drops the bucket's merge status without responding to any
// retained reply.
func (r *mergeRegistry) clear(b bucket.ID) {
	r.mu.Lock()
	delete(r.statuses, b)
	r.mu.Unlock()
}

// fail drops the bucket's merge status and sends its retained replies
// with the given result.
func (r *mergeRegistry) fail(b bucket.ID, rc message.ReturnCode) {
	status, ok := r.remove(b)
	if !ok {
		return
	}
	for _, reply := range retainedReplies(status, rc) {
		r.sender.SendReply(reply)
	}
}

// failAll drains the registry, failing every merge with the given result.
func (r *mergeRegistry) failAll(rc message.ReturnCode) {
	r.mu.Lock()
	drained := make([]*MergeStatus, 0, len(r.statuses))
	for b, status := range r.statuses {
		drained = append(drained, status)
		delete(r.statuses, b)
	}
	r.mu.Unlock()

	for _, status := range drained {
		for _, reply := range retainedReplies(status, rc) {
			r.sender.SendReply(reply)
		}
	}
}

// retainedReplies stamps the result onto the merge's retained replies and
// returns them in the order they should be sent: diff requests resolve
// before the merge itself.
func retainedReplies(status *MergeStatus, rc message.ReturnCode) []message.Reply {
	replies := make([]message.Reply, 0, 3)
	if status.PendingGetDiff != nil {
		status.PendingGetDiff.SetResult(rc)
		replies = append(replies, status.PendingGetDiff)
	}
	if status.PendingApplyDiff != nil {
		status.PendingApplyDiff.SetResult(rc)
		replies = append(replies, status.PendingApplyDiff)
	}
	if status.Reply != nil {
		status.Reply.SetResult(rc)
		replies = append(replies, status.Reply)
	}
	return replies
}
