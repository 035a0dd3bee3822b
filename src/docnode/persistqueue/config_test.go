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

	xconfig "github.com/m3db/m3doc/src/x/config"
	"github.com/m3db/m3doc/src/x/instrument"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationNewOptions(t *testing.T) {
	in := `
stripeCount: 8
messageWaitTimeout: 250ms
partitions:
  - id: 0
  - id: 1
    down: true
    reason: smart failure predicted
`
	var cfg Configuration
	require.NoError(t, xconfig.LoadBytes(&cfg, []byte(in)))

	opts := cfg.NewOptions(instrument.NewOptions())
	require.NoError(t, opts.Validate())
	assert.Equal(t, 8, opts.StripeCount())
	assert.Equal(t, 250*time.Millisecond, opts.MessageWaitTimeout())

	partitions := opts.Partitions()
	require.Len(t, partitions, 2)
	assert.Equal(t, uint32(0), partitions[0].ID)
	assert.True(t, partitions[0].Up)
	assert.Equal(t, uint32(1), partitions[1].ID)
	assert.False(t, partitions[1].Up)
	assert.Equal(t, "smart failure predicted", partitions[1].Reason)
}

func TestConfigurationDefaults(t *testing.T) {
	var cfg Configuration
	require.NoError(t, xconfig.LoadBytes(&cfg, []byte(`{}`)))

	opts := cfg.NewOptions(instrument.NewOptions())
	require.NoError(t, opts.Validate())
	assert.Equal(t, defaultStripeCount, opts.StripeCount())
	assert.Equal(t, defaultMessageWaitTimeout, opts.MessageWaitTimeout())
	require.Len(t, opts.Partitions(), 1)
	assert.True(t, opts.Partitions()[0].Up)
}
