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
	"sync"
	"testing"
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"
	xclock "github.com/m3db/m3doc/src/x/clock"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWorkersLifecycleErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, _ := newTestHandler(t, newTestOptions())
	defer h.Close()

	w := NewWorkers(h, ProcessorFn(func(LockedMessage) {}), newTestOptions())
	require.Equal(t, errWorkersNotOpen, w.Close())

	require.NoError(t, w.Open())
	require.Equal(t, errWorkersAlreadyOpen, w.Open())

	require.NoError(t, w.Close())
	require.Equal(t, errWorkersAlreadyClosed, w.Close())
}

func TestWorkersProcessScheduledMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := newTestOptions()
	h, _ := newTestHandler(t, opts)
	defer h.Close()

	var (
		mu        sync.Mutex
		processed []uint64
	)
	processor := ProcessorFn(func(lm LockedMessage) {
		mu.Lock()
		processed = append(processed, lm.Message.ID())
		mu.Unlock()
	})

	w := NewWorkers(h, processor, opts)
	require.NoError(t, w.Open())

	var (
		bA = bucket.NewID(16, 0x01)
		bB = bucket.NewID(16, 0x02)
	)
	put1 := message.NewPut(bA, "doc-1", message.PriorityNormal)
	put2 := message.NewPut(bA, "doc-2", message.PriorityNormal)
	put3 := message.NewPut(bB, "doc-3", message.PriorityNormal)
	for _, msg := range []message.Message{put1, put2, put3} {
		require.NoError(t, h.Schedule(msg, 0))
	}

	require.True(t, xclock.WaitUntil(func() bool {
		mu.Lock()
		n := len(processed)
		mu.Unlock()
		return n == 3
	}, 5*time.Second))

	// A single worker drains the shared bucket in arrival order before
	// moving on.
	mu.Lock()
	assert.Equal(t, []uint64{put1.ID(), put2.ID(), put3.ID()}, processed)
	mu.Unlock()
	assert.Equal(t, 0, h.QueueSize())

	require.NoError(t, w.Close())
}

func TestWorkersProcessorReceivesHeldLock(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h, _ := newTestHandler(t, newTestOptions())
	defer h.Close()

	b := bucket.NewID(16, 0x03)
	processedCh := make(chan LockedMessage, 1)
	processor := NewMockProcessor(ctrl)
	processor.EXPECT().ProcessMessage(gomock.Any()).Do(func(lm LockedMessage) {
		processedCh <- lm
	})

	w := NewWorkers(h, processor, newTestOptions())
	require.NoError(t, w.Open())

	put := message.NewPut(b, "doc-1", message.PriorityNormal)
	require.NoError(t, h.Schedule(put, 0))

	select {
	case lm := <-processedCh:
		assert.Equal(t, put.ID(), lm.Message.ID())
		require.NotNil(t, lm.Lock)
		assert.Equal(t, b, lm.Lock.Bucket())
		assert.Equal(t, message.LockModeExclusive, lm.Lock.Mode())
	case <-time.After(5 * time.Second):
		t.Fatal("message was never processed")
	}

	require.NoError(t, w.Close())
}
