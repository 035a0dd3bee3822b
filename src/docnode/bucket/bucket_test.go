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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDNormalizes(t *testing.T) {
	// Location bits above the used bit count must not affect identity.
	a := NewID(16, 0x1234)
	b := NewID(16, 0xdead0000|0x1234)
	assert.Equal(t, a, b)
	assert.Equal(t, uint8(16), a.UsedBits())
	assert.Equal(t, uint64(0x1234), a.Location())
}

func TestNewIDNull(t *testing.T) {
	assert.Equal(t, NullID, NewID(0, 0x1234))
	assert.True(t, NewID(0, 0).IsNull())
	assert.False(t, NewID(1, 0).IsNull())
}

func TestNewIDTruncatesUsedBits(t *testing.T) {
	id := NewID(255, 42)
	assert.Equal(t, uint8(MaxUsedBits), id.UsedBits())
	assert.Equal(t, uint64(42), id.Location())
}

func TestContains(t *testing.T) {
	var (
		parent     = NewID(16, 0x4321)
		child      = NewID(17, 0x4321)
		otherChild = NewID(17, 0x4321 | 1<<16)
		sibling    = NewID(16, 0x4320)
	)

	tests := []struct {
		name     string
		a, b     ID
		contains bool
	}{
		{"self", parent, parent, true},
		{"parent contains child", parent, child, true},
		{"parent contains split sibling", parent, otherChild, true},
		{"child does not contain parent", child, parent, false},
		{"siblings disjoint", parent, sibling, false},
		{"split siblings disjoint", child, otherChild, false},
		{"null contains everything", NullID, child, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.contains, tt.a.Contains(tt.b))
		})
	}
}

func TestCommonBits(t *testing.T) {
	tests := []struct {
		name   string
		a, b   ID
		common uint8
	}{
		{"identical", NewID(16, 0x4321), NewID(16, 0x4321), 16},
		{"ancestor", NewID(16, 0x4321), NewID(20, 0x4321), 16},
		{"split siblings", NewID(17, 0x4321), NewID(17, 0x4321 | 1<<16), 16},
		{"differ at lowest bit", NewID(16, 0x4320), NewID(16, 0x4321), 0},
		{"null", NullID, NewID(16, 0x4321), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.common, CommonBits(tt.a, tt.b))
			assert.Equal(t, tt.common, CommonBits(tt.b, tt.a))
		})
	}
}

func TestIDFactoryDeterministic(t *testing.T) {
	f := NewIDFactory(nil)

	first := f.IDFor("id:music:song::1234")
	second := f.IDFor("id:music:song::1234")
	other := f.IDFor("id:music:song::1235")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Equal(t, uint8(MaxUsedBits), first.UsedBits())
}

func TestIDFactoryInjectedHash(t *testing.T) {
	f := NewIDFactory(func(data []byte) uint64 {
		require.Equal(t, "doc-1", string(data))
		return 0xbeef
	})

	id := f.IDFor("doc-1")
	assert.Equal(t, uint64(0xbeef), id.Location())
	assert.True(t, NewID(16, 0xbeef).Contains(id))
	assert.False(t, NewID(16, 0xbee0).Contains(id))
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "0x0000000000000000", NullID.String())
	assert.Equal(t, "0x4000000000004321", NewID(16, 0x4321).String())
}
