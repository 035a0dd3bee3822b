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

// Package config provides utilities for loading configuration files.
package config

import (
	"io/ioutil"

	"github.com/pkg/errors"
	validator "gopkg.in/validator.v2"
	yaml "gopkg.in/yaml.v2"
)

// LoadFile loads a config from a file, validating it once unmarshalled.
func LoadFile(config interface{}, fname string) error {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return errors.Wrapf(err, "unable to read config file %s", fname)
	}
	return LoadBytes(config, data)
}

// LoadBytes loads a config from raw YAML, validating it once unmarshalled.
func LoadBytes(config interface{}, data []byte) error {
	if err := yaml.Unmarshal(data, config); err != nil {
		return errors.Wrap(err, "unable to unmarshal config")
	}
	if err := validator.Validate(config); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
