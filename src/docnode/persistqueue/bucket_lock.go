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
	"github.com/m3db/m3doc/src/docnode/bucket"
	"github.com/m3db/m3doc/src/docnode/message"

	"go.uber.org/atomic"
)

// lockEntry identifies one holder of a bucket lock.
type lockEntry struct {
	msgID    uint64
	msgType  message.Type
	priority message.Priority
}

// bucketLockState is the set of holders of one bucket's lock. An exclusive
// holder excludes all others, shared holders coexist but block exclusive
// acquisition.
type bucketLockState struct {
	exclusive *lockEntry
	shared    map[uint64]lockEntry
}

func (s *bucketLockState) empty() bool {
	return s.exclusive == nil && len(s.shared) == 0
}

// BucketLock is a held bucket lock. It is handed out by dispatch and by
// Handler.Lock and must be released exactly once. A lock on the null
// bucket holds nothing and exists so messages without bucket affinity flow
// through dispatch uniformly.
type BucketLock struct {
	stripe   *stripe
	bkt      bucket.ID
	msgID    uint64
	mode     message.LockMode
	released *atomic.Bool
}

// newBucketLock records the lock in the stripe's lock table. The stripe
// monitor must be held.
func newBucketLock(
	s *stripe,
	b bucket.ID,
	priority message.Priority,
	msgType message.Type,
	msgID uint64,
	mode message.LockMode,
) *BucketLock {
	l := &BucketLock{
		stripe:   s,
		bkt:      b,
		msgID:    msgID,
		mode:     mode,
		released: atomic.NewBool(false),
	}
	if !b.IsNull() {
		s.lockBucketWithLock(b, mode, lockEntry{
			msgID:    msgID,
			msgType:  msgType,
			priority: priority,
		})
	}
	return l
}

// Bucket returns the locked bucket.
func (l *BucketLock) Bucket() bucket.ID {
	return l.bkt
}

// Mode returns the mode the lock is held in.
func (l *BucketLock) Mode() message.LockMode {
	return l.mode
}

// Release returns the lock to its stripe and wakes dispatch waiters.
// Releasing twice is a programming error and panics.
func (l *BucketLock) Release() {
	if !l.released.CAS(false, true) {
		panic("persistqueue: bucket lock released twice")
	}
	if l.bkt.IsNull() {
		return
	}
	l.stripe.release(l.bkt, l.mode, l.msgID)
}
