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

// Package sync implements synchronization facilities.
package sync

import (
	"sync"
	"time"
)

// Cond is a condition monitor whose waits take an upper bound, which the
// runtime sync.Cond does not support. Wakeups are delivered by closing the
// current notify channel and installing a fresh one, so a waiter that
// captured the channel before releasing the lock cannot miss a broadcast
// that happens after.
//
// As with sync.Cond, waiters must re-check their predicate after Wait
// returns: waking up does not imply the predicate holds.
type Cond struct {
	mu     *sync.Mutex
	notify chan struct{}
}

// NewCond returns a new Cond with the given lock, which callers must hold
// when calling Wait or Broadcast.
func NewCond(mu *sync.Mutex) *Cond {
	return &Cond{
		mu:     mu,
		notify: make(chan struct{}),
	}
}

// Wait atomically releases the lock and suspends the calling goroutine
// until a broadcast arrives or timeout elapses, then reacquires the lock
// before returning. A non-positive timeout returns immediately.
func (c *Cond) Wait(timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	ch := c.notify
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	select {
	case <-ch:
	case <-timer.C:
	}
	timer.Stop()

	c.mu.Lock()
}

// Broadcast wakes all goroutines currently blocked in Wait.
func (c *Cond) Broadcast() {
	close(c.notify)
	c.notify = make(chan struct{})
}
