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

package bucket

import (
	murmur3 "github.com/m3db/stackmurmur3/v2"
)

// HashFn computes the location a document identifier hashes to.
type HashFn func(data []byte) uint64

// DefaultHashFn is the default document location hash.
func DefaultHashFn(data []byte) uint64 {
	h0, _ := murmur3.Sum128(data)
	return h0
}

// IDFactory computes the bucket a document belongs to.
type IDFactory interface {
	// IDFor returns the bucket at maximum split depth whose subtree the
	// document's location falls in. Whether a shallower bucket owns the
	// document is answered by ID.Contains on the returned value.
	IDFor(docID string) ID
}

type idFactory struct {
	fn HashFn
}

// NewIDFactory creates an IDFactory using the given hash, or
// DefaultHashFn if fn is nil.
func NewIDFactory(fn HashFn) IDFactory {
	if fn == nil {
		fn = DefaultHashFn
	}
	return &idFactory{fn: fn}
}

func (f *idFactory) IDFor(docID string) ID {
	return NewID(MaxUsedBits, f.fn([]byte(docID)))
}
