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

package sync

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestCondWaitTimesOut(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	var mu sync.Mutex
	cond := NewCond(&mu)

	mu.Lock()
	start := time.Now()
	cond.Wait(20 * time.Millisecond)
	elapsed := time.Since(start)
	mu.Unlock()

	require.True(t, elapsed >= 20*time.Millisecond,
		"wait returned after %v", elapsed)
}

func TestCondWaitNonPositiveTimeout(t *testing.T) {
	var mu sync.Mutex
	cond := NewCond(&mu)

	mu.Lock()
	defer mu.Unlock()

	// Must return immediately without releasing the lock.
	cond.Wait(0)
	cond.Wait(-time.Second)
}

func TestCondBroadcastWakesAllWaiters(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	var (
		mu      sync.Mutex
		cond    = NewCond(&mu)
		waiters = 8
		ready   sync.WaitGroup
		done    = make(chan struct{}, waiters)
		fired   bool
	)

	ready.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			mu.Lock()
			ready.Done()
			for !fired {
				cond.Wait(time.Minute)
			}
			mu.Unlock()
			done <- struct{}{}
		}()
	}

	// All waiters hold then release the lock inside Wait before the
	// broadcast fires.
	ready.Wait()
	mu.Lock()
	fired = true
	cond.Broadcast()
	mu.Unlock()

	for i := 0; i < waiters; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "waiter did not wake")
		}
	}
}

func TestCondNoLostWakeup(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	var (
		mu    sync.Mutex
		cond  = NewCond(&mu)
		turns = 100
		wg    sync.WaitGroup
		seq   int
	)

	// A waiter and a signaller alternate on a shared counter. Every
	// increment is broadcast while the waiter may be anywhere between
	// capturing the notify channel and blocking on it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		mu.Lock()
		for seq < turns {
			prev := seq
			for seq == prev {
				cond.Wait(time.Second)
			}
		}
		mu.Unlock()
	}()

	for i := 0; i < turns; i++ {
		mu.Lock()
		seq++
		cond.Broadcast()
		mu.Unlock()
	}

	wg.Wait()
	require.Equal(t, turns, seq)
}
