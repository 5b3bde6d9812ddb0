// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettings(t *testing.T) {
	rec, err := ParseSettings("name=W; type=LearnableParameter;shape=[3,4];initValueScale=0.5;randomSeed=1_000;isSparse=true;learningRateMultiplier=1")
	require.NoError(t, err)
	assert.Equal(t, "LearnableParameter(\"W\")", rec.String())
	assert.Equal(t, "W", must.M1(Get[string](rec, "name")))
	assert.Equal(t, []int{3, 4}, must.M1(Get[[]int](rec, "shape")))
	assert.Equal(t, 0.5, must.M1(Get[float64](rec, "initValueScale")))
	assert.Equal(t, float32(0.5), must.M1(Get[float32](rec, "initValueScale")))
	assert.Equal(t, 1000, must.M1(Get[int](rec, "randomSeed")))
	assert.Equal(t, int64(1000), must.M1(Get[int64](rec, "randomSeed")))
	assert.Equal(t, true, must.M1(Get[bool](rec, "isSparse")))
	assert.Equal(t, 1.0, must.M1(Get[float64](rec, "learningRateMultiplier")))
	assert.Equal(t, 7, must.M1(GetOr(rec, "rows", 7)))

	_, err = Get[int](rec, "rows")
	assert.True(t, errors.Is(err, ErrMissingKey))
	assert.Contains(t, err.Error(), "rows")
	_, err = Get[int](rec, "name")
	assert.True(t, errors.Is(err, ErrMalformedValue))
	_, err = Get[int](rec, "initValueScale")
	assert.True(t, errors.Is(err, ErrMalformedValue))
	_, err = GetOr(rec, "name", 1)
	assert.Error(t, err)

	_, err = ParseSettings("name")
	assert.Error(t, err)
}

func TestListsAsStrings(t *testing.T) {
	rec := MustParseSettings("shape=2,3;inputs=E,X;empty=[]")
	assert.Equal(t, []int{2, 3}, must.M1(Get[[]int](rec, "shape")))
	assert.Equal(t, []string{"E", "X"}, must.M1(Get[[]string](rec, "inputs")))
	assert.Equal(t, []int{}, must.M1(Get[[]int](rec, "empty")))
	rec = Record{"shape": 5, "uint": uint64(3)}
	assert.Equal(t, []int{5}, must.M1(Get[[]int](rec, "shape")))
	assert.Equal(t, uint64(3), must.M1(Get[uint64](rec, "uint")))
}

func TestSettingsFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("# comment\nname=features\n\nrows=784;isSparse=false\n"), 0o644))
	rec, err := ParseSettings("type=InputValue;file:" + filePath)
	require.NoError(t, err)
	assert.Equal(t, "InputValue", must.M1(Get[string](rec, "type")))
	assert.Equal(t, 784, must.M1(Get[int](rec, "rows")))
	assert.False(t, must.M1(Get[bool](rec, "isSparse")))

	_, err = ParseSettings("file:" + filePath + ".missing")
	assert.Error(t, err)
}

func TestYAML(t *testing.T) {
	net, err := DecodeYAML(strings.NewReader(`
nodes:
  - name: features
    type: SparseInputValue
    shape: [10]
  - name: E
    type: LearnableParameter
    rows: 2
    cols: 10
    init: uniform
    initValueScale: 0.1
  - name: embedding
    type: LookupTable
    inputs: [E, features]
`))
	require.NoError(t, err)
	require.Len(t, net.Nodes, 3)
	assert.Equal(t, []int{10}, must.M1(Get[[]int](net.Nodes[0], "shape")))
	assert.Equal(t, 10, must.M1(Get[int](net.Nodes[1], "cols")))
	assert.Equal(t, 0.1, must.M1(Get[float64](net.Nodes[1], "initValueScale")))
	assert.Equal(t, []string{"E", "features"}, must.M1(Get[[]string](net.Nodes[2], "inputs")))

	filePath := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte("nodes:\n  - name: x\n    type: EnvironmentInput\n    propertyName: isTraining\n"), 0o644))
	net, err = LoadYAML(filePath)
	require.NoError(t, err)
	assert.Equal(t, "isTraining", must.M1(Get[string](net.Nodes[0], "propertyName")))

	_, err = DecodeYAML(strings.NewReader("nodes: 3"))
	assert.Error(t, err)
}
