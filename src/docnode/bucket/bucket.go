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

// Package bucket provides document bucket identifiers. A bucket is a node
// in the binary split tree that document locations hash into: the low
// "used bits" of its location select the subtree it owns.
package bucket

import (
	"fmt"
	"math/bits"
)

const (
	// CountBits is the number of high bits storing the used bit count.
	CountBits = 6

	// MaxUsedBits is the maximum depth of the bucket split tree.
	MaxUsedBits = 64 - CountBits
)

// ID identifies a bucket. The top CountBits bits carry the used bit
// count, the low bits the location. IDs are normalized on construction,
// location bits above the used bit count are cleared, so two IDs compare
// equal exactly when they address the same bucket.
//
// The zero value is the null bucket, used by operations with no bucket
// affinity. The null bucket participates in no locking.
type ID uint64

// NullID is the null bucket.
const NullID = ID(0)

// NewID returns the bucket with the given used bit count owning the given
// location bits. A used bit count of zero yields the null bucket; counts
// above MaxUsedBits are truncated to MaxUsedBits.
func NewID(usedBits uint8, location uint64) ID {
	if usedBits > MaxUsedBits {
		usedBits = MaxUsedBits
	}
	mask := uint64(1)<<usedBits - 1
	return ID(uint64(usedBits)<<MaxUsedBits | location&mask)
}

// UsedBits returns how many low location bits identify this bucket.
func (b ID) UsedBits() uint8 {
	return uint8(b >> MaxUsedBits)
}

// Location returns the location bits of the bucket.
func (b ID) Location() uint64 {
	return uint64(b) & (uint64(1)<<MaxUsedBits - 1)
}

// IsNull reports whether this is the null bucket.
func (b ID) IsNull() bool {
	return b == NullID
}

// Contains reports whether other lies in the subtree rooted at this
// bucket, that is whether this bucket's location bits prefix other's.
func (b ID) Contains(other ID) bool {
	if other.UsedBits() < b.UsedBits() {
		return false
	}
	mask := uint64(1)<<b.UsedBits() - 1
	return other.Location()&mask == b.Location()
}

// CommonBits returns the depth of the deepest common ancestor of a and b,
// the number of low location bits on which they agree capped to the
// shallower of the two.
func CommonBits(a, b ID) uint8 {
	min := a.UsedBits()
	if b.UsedBits() < min {
		min = b.UsedBits()
	}
	common := bits.TrailingZeros64(a.Location() ^ b.Location())
	if common < int(min) {
		return uint8(common)
	}
	return min
}

func (b ID) String() string {
	return fmt.Sprintf("0x%016x", uint64(b))
}
