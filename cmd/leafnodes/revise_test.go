// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/nodes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRevisions(t *testing.T) {
	revisions := must.M1(parseRevisions("W=/tmp/w.txt, b = ~/b.txt,"))
	assert.Equal(t, []revision{{"W", "/tmp/w.txt"}, {"b", "~/b.txt"}}, revisions)

	for _, value := range []string{"", ",", "W", "=w.txt", "W=", "W=a,W=b"} {
		_, err := parseRevisions(value)
		assert.Error(t, err, "value %q", value)
	}
}

func TestApplyRevisions(t *testing.T) {
	m := nodes.NewModel[float32]()
	w := nodes.NewLearnableParameter[float32]("W", tensors.CPUDevice, shapes.Matrix(2, 2))
	require.NoError(t, m.Add(w, nodes.NewInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(2))))

	dir := t.TempDir()
	filePath := filepath.Join(dir, "w.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("1 2\n3 4\n"), 0o644))
	require.NoError(t, applyRevisions(m, []revision{{"W", filePath}}))
	assert.Equal(t, []float32{1, 2, 3, 4}, w.Value().RowMajorData())

	// Not a parameter: nothing is changed.
	require.Error(t, applyRevisions(m, []revision{{"W", filePath}, {"x", filePath}}))

	// Wrong dimensions.
	badPath := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(badPath, []byte("1 2 3\n"), 0o644))
	require.ErrorIs(t, applyRevisions(m, []revision{{"W", badPath}}), nodes.ErrShapeMismatch)
}
