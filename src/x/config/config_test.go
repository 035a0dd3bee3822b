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

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string `yaml:"name" validate:"nonzero"`
	Count   int    `yaml:"count" validate:"min=1"`
	Comment string `yaml:"comment"`
}

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fname := filepath.Join(dir, "config.yaml")
	data := []byte("name: stripes\ncount: 4\n")
	require.NoError(t, ioutil.WriteFile(fname, data, 0644))

	var cfg testConfig
	require.NoError(t, LoadFile(&cfg, fname))
	assert.Equal(t, "stripes", cfg.Name)
	assert.Equal(t, 4, cfg.Count)
	assert.Equal(t, "", cfg.Comment)
}

func TestLoadFileNotExist(t *testing.T) {
	var cfg testConfig
	require.Error(t, LoadFile(&cfg, "/does/not/exist.yaml"))
}

func TestLoadBytesValidates(t *testing.T) {
	var cfg testConfig
	err := LoadBytes(&cfg, []byte("name: stripes\ncount: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadBytesMalformed(t *testing.T) {
	var cfg testConfig
	require.Error(t, LoadBytes(&cfg, []byte("{not yaml")))
}
