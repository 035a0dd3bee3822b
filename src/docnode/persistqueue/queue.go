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
	"container/list"
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"
)

// messageEntry is one queued message with its routing attributes. The
// bucket and priority are captured at enqueue time since dispatch must not
// depend on the message mutating underneath the queue. enqueuedAt is
// preserved when an entry is remapped between queues so queue timeouts
// cover the total time spent queued.
type messageEntry struct {
	msg        message.Message
	bkt        bucket.ID
	priority   message.Priority
	enqueuedAt time.Time
}

func newMessageEntry(msg message.Message, enqueuedAt time.Time) *messageEntry {
	return &messageEntry{
		msg:        msg,
		bkt:        msg.Bucket(),
		priority:   msg.Priority(),
		enqueuedAt: enqueuedAt,
	}
}

// priorityQueue keeps queued entries in two views: a list ordered by
// (priority, arrival) that dispatch scans front to back, and a per bucket
// index in pure arrival order that batching and remapping use. Both views
// always contain exactly the same entries.
type priorityQueue struct {
	entries  *list.List
	byBucket map[bucket.ID][]*list.Element
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{
		entries:  list.New(),
		byBucket: make(map[bucket.ID][]*list.Element),
	}
}

func (q *priorityQueue) len() int {
	return q.entries.Len()
}

// push inserts the entry behind all entries of equal or more urgent
// priority, so equal priorities dispatch in arrival order. The bucket
// view keeps the same order, bucket-filtered scans must dequeue the way
// the main scan does.
func (q *priorityQueue) push(entry *messageEntry) {
	var el *list.Element
	for at := q.entries.Back(); at != nil; at = at.Prev() {
		if at.Value.(*messageEntry).priority <= entry.priority {
			el = q.entries.InsertAfter(entry, at)
			break
		}
	}
	if el == nil {
		el = q.entries.PushFront(entry)
	}

	els := q.byBucket[entry.bkt]
	i := len(els)
	for i > 0 && els[i-1].Value.(*messageEntry).priority > entry.priority {
		i--
	}
	els = append(els, nil)
	copy(els[i+1:], els[i:])
	els[i] = el
	q.byBucket[entry.bkt] = els
}

// remove takes the element out of both views and returns its entry.
func (q *priorityQueue) remove(el *list.Element) *messageEntry {
	entry := q.entries.Remove(el).(*messageEntry)
	els := q.byBucket[entry.bkt]
	for i := range els {
		if els[i] == el {
			els = append(els[:i], els[i+1:]...)
			break
		}
	}
	if len(els) == 0 {
		delete(q.byBucket, entry.bkt)
	} else {
		q.byBucket[entry.bkt] = els
	}
	return entry
}

// bucketFront returns the bucket's next element in queue order, nil when
// the bucket has nothing queued.
func (q *priorityQueue) bucketFront(b bucket.ID) *list.Element {
	els := q.byBucket[b]
	if len(els) == 0 {
		return nil
	}
	return els[0]
}

// bucketElements returns a snapshot of the bucket's queued elements in
// queue order, safe to iterate while removing.
func (q *priorityQueue) bucketElements(b bucket.ID) []*list.Element {
	els := q.byBucket[b]
	if len(els) == 0 {
		return nil
	}
	snapshot := make([]*list.Element, len(els))
	copy(snapshot, els)
	return snapshot
}

// removeBucket removes every entry queued for the bucket and returns them
// in queue order, priority first and arrival within a priority.
func (q *priorityQueue) removeBucket(b bucket.ID) []*messageEntry {
	els := q.byBucket[b]
	if len(els) == 0 {
		return nil
	}
	entries := make([]*messageEntry, 0, len(els))
	for _, el := range els {
		entries = append(entries, q.entries.Remove(el).(*messageEntry))
	}
	delete(q.byBucket, b)
	return entries
}
