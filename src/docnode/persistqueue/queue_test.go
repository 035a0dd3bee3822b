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
	"testing"
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry(b bucket.ID, docID string, priority message.Priority) *messageEntry {
	return newMessageEntry(message.NewPut(b, docID, priority), time.Now())
}

func queueOrder(q *priorityQueue) []uint64 {
	var ids []uint64
	for el := q.entries.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*messageEntry).msg.ID())
	}
	return ids
}

func TestPriorityQueueOrdersByPriorityThenArrival(t *testing.T) {
	q := newPriorityQueue()
	b := bucket.NewID(16, 0x01)

	low := newTestEntry(b, "doc-1", message.PriorityLow)
	high1 := newTestEntry(b, "doc-2", message.PriorityHigh)
	high2 := newTestEntry(b, "doc-3", message.PriorityHigh)
	normal := newTestEntry(b, "doc-4", message.PriorityNormal)
	for _, entry := range []*messageEntry{low, high1, high2, normal} {
		q.push(entry)
	}

	require.Equal(t, 4, q.len())
	assert.Equal(t, []uint64{
		high1.msg.ID(),
		high2.msg.ID(),
		normal.msg.ID(),
		low.msg.ID(),
	}, queueOrder(q))
}

func TestPriorityQueueRemoveMaintainsBucketIndex(t *testing.T) {
	q := newPriorityQueue()
	var (
		bA = bucket.NewID(16, 0x0a)
		bB = bucket.NewID(16, 0x0b)
	)
	first := newTestEntry(bA, "doc-1", message.PriorityNormal)
	second := newTestEntry(bB, "doc-2", message.PriorityNormal)
	third := newTestEntry(bA, "doc-3", message.PriorityNormal)
	for _, entry := range []*messageEntry{first, second, third} {
		q.push(entry)
	}

	el := q.bucketFront(bA)
	require.NotNil(t, el)
	assert.Equal(t, first, el.Value.(*messageEntry))

	removed := q.remove(el)
	assert.Equal(t, first, removed)
	require.Equal(t, 2, q.len())

	el = q.bucketFront(bA)
	require.NotNil(t, el)
	assert.Equal(t, third, el.Value.(*messageEntry))
	require.Len(t, q.bucketElements(bB), 1)

	q.remove(q.bucketFront(bA))
	assert.Nil(t, q.bucketFront(bA))
	assert.Len(t, q.bucketElements(bA), 0)
	require.Equal(t, 1, q.len())
}

func TestPriorityQueueBucketViewFollowsQueueOrder(t *testing.T) {
	q := newPriorityQueue()
	var (
		bA = bucket.NewID(16, 0x0c)
		bB = bucket.NewID(16, 0x0d)
	)
	low := newTestEntry(bA, "doc-1", message.PriorityLow)
	normal1 := newTestEntry(bA, "doc-2", message.PriorityNormal)
	normal2 := newTestEntry(bA, "doc-3", message.PriorityNormal)
	other := newTestEntry(bB, "doc-4", message.PriorityNormal)
	for _, entry := range []*messageEntry{low, normal1, normal2, other} {
		q.push(entry)
	}

	// The earlier arrival does not put the low priority entry ahead in
	// the bucket view, ties still resolve by arrival.
	el := q.bucketFront(bA)
	require.NotNil(t, el)
	assert.Equal(t, normal1, el.Value.(*messageEntry))

	removed := q.removeBucket(bA)
	require.Len(t, removed, 3)
	assert.Equal(t, []*messageEntry{normal1, normal2, low}, removed)

	assert.Nil(t, q.bucketFront(bA))
	require.Equal(t, 1, q.len())
	assert.Equal(t, []uint64{other.msg.ID()}, queueOrder(q))
}
