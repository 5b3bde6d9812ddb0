// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"io"
	"os"

	"github.com/gomlx/leafnodes/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Network is a description of a set of nodes, one Record per node, in the order they should be built.
type Network struct {
	Nodes []Record `yaml:"nodes"`
}

// DecodeYAML reads a network description from YAML:
//
//	nodes:
//	  - name: features
//	    type: InputValue
//	    shape: [784]
//	  - name: W
//	    type: LearnableParameter
//	    rows: 128
//	    cols: 784
//	    init: uniform
func DecodeYAML(r io.Reader) (*Network, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	net := &Network{}
	if err := decoder.Decode(net); err != nil {
		if errors.Is(err, io.EOF) {
			return net, nil
		}
		return nil, errors.Wrap(err, "failed to decode network description")
	}
	for ii, rec := range net.Nodes {
		if rec == nil {
			return nil, errors.Errorf("network description: node #%d is empty", ii)
		}
	}
	return net, nil
}

// LoadYAML reads a network description from a YAML file. See DecodeYAML.
func LoadYAML(filePath string) (*Network, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read network description %q", filePath)
	}
	net, err := DecodeYAML(bytes.NewReader(contents))
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", filePath)
	}
	return net, nil
}
