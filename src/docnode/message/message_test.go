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

package message

import (
	"testing"
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandIDsUnique(t *testing.T) {
	bkt := bucket.NewID(16, 0x1234)

	first := NewPut(bkt, "doc-1", PriorityNormal)
	second := NewPut(bkt, "doc-1", PriorityNormal)

	assert.NotEqual(t, uint64(0), first.ID())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestMakeReply(t *testing.T) {
	bkt := bucket.NewID(16, 0x1234)
	cmd := NewRemove(bkt, "doc-9", PriorityHigh)

	reply := cmd.MakeReply()
	require.True(t, reply.IsReply())
	assert.Equal(t, cmd.ID(), reply.ID())
	assert.Equal(t, RemoveType, reply.Type())
	assert.Equal(t, bkt, reply.Bucket())
	assert.Equal(t, PriorityHigh, reply.Priority())
	assert.True(t, reply.Result().OK())

	reply.SetResult(NewReturnCode(CodeAborted, "gone"))
	assert.Equal(t, CodeAborted, reply.Result().Code)
	assert.False(t, reply.Result().OK())
}

func TestLockModes(t *testing.T) {
	bkt := bucket.NewID(16, 0x1234)

	assert.Equal(t, LockModeShared, NewGet(bkt, "doc", PriorityNormal).LockMode())
	assert.Equal(t, LockModeShared, NewStatBucket(bkt, "true", PriorityNormal).LockMode())
	assert.Equal(t, LockModeExclusive, NewPut(bkt, "doc", PriorityNormal).LockMode())
	assert.Equal(t, LockModeExclusive, NewSplitBucket(bkt, PriorityNormal).LockMode())
	assert.Equal(t, LockModeExclusive, NewMergeBucket(bkt, []uint32{0, 1}, PriorityNormal).LockMode())
}

func TestSetBucketRebinds(t *testing.T) {
	var (
		source = bucket.NewID(16, 0x1234)
		target = bucket.NewID(17, 0x1234)
	)

	cmd := NewPut(source, "doc", PriorityNormal)
	cmd.SetBucket(target)
	assert.Equal(t, target, cmd.Bucket())

	reply := cmd.MakeReply()
	reply.SetBucket(source)
	assert.Equal(t, source, reply.Bucket())
}

func TestCommandTimeout(t *testing.T) {
	cmd := NewGet(bucket.NewID(16, 1), "doc", PriorityNormal)
	assert.Equal(t, DefaultTimeout, cmd.Timeout())

	cmd.SetTimeout(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, cmd.Timeout())
}

func TestAbortBucketOperationsPredicate(t *testing.T) {
	var (
		hit  = bucket.NewID(16, 0x00ff)
		miss = bucket.NewID(16, 0xff00)
	)

	cmd := NewAbortBucketOperationsForBuckets(hit)
	assert.True(t, cmd.ShouldAbort(hit))
	assert.False(t, cmd.ShouldAbort(miss))
	assert.Equal(t, AbortBucketOperationsType, cmd.Type())
	assert.True(t, cmd.Bucket().IsNull())
}

func TestDocumentCommands(t *testing.T) {
	bkt := bucket.NewID(16, 0x1234)

	var docCmds = []DocumentCommand{
		NewPut(bkt, "doc-a", PriorityNormal),
		NewGet(bkt, "doc-a", PriorityNormal),
		NewUpdate(bkt, "doc-a", PriorityNormal),
		NewRemove(bkt, "doc-a", PriorityNormal),
	}
	for _, cmd := range docCmds {
		assert.Equal(t, "doc-a", cmd.DocumentID())
	}
}
