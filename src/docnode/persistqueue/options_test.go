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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	require.NoError(t, opts.Validate())

	assert.Equal(t, defaultStripeCount, opts.StripeCount())
	assert.Equal(t, defaultMessageWaitTimeout, opts.MessageWaitTimeout())
	assert.NotNil(t, opts.IDFactory())
	require.Len(t, opts.Partitions(), 1)
	assert.Equal(t, uint32(0), opts.Partitions()[0].ID)
	assert.True(t, opts.Partitions()[0].Up)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		expectedErr error
	}{
		{
			name:        "no partitions",
			opts:        NewOptions().SetPartitions(nil),
			expectedErr: errNoPartitions,
		},
		{
			name: "partition ids not contiguous",
			opts: NewOptions().SetPartitions([]Partition{
				{ID: 0, Up: true},
				{ID: 2, Up: true},
			}),
			expectedErr: errPartitionIDsNotContiguous,
		},
		{
			name:        "zero stripe count",
			opts:        NewOptions().SetStripeCount(0),
			expectedErr: errStripeCountPositive,
		},
		{
			name:        "zero message wait timeout",
			opts:        NewOptions().SetMessageWaitTimeout(0),
			expectedErr: errMessageWaitTimeoutPositive,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expectedErr, test.opts.Validate())
		})
	}
}

func TestOptionsSettersDoNotMutate(t *testing.T) {
	base := NewOptions()
	modified := base.SetStripeCount(9)

	assert.Equal(t, defaultStripeCount, base.StripeCount())
	assert.Equal(t, 9, modified.StripeCount())
}
