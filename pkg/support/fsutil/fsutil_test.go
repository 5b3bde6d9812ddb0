// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLines(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("a b\r\n\nc\n"), 0o644))
	var lines []string
	require.NoError(t, ScanLines(filePath, func(lineNum int, line string) error {
		lines = append(lines, line)
		return nil
	}))
	assert.Equal(t, []string{"a b", "", "c"}, lines)

	stop := errors.New("stop")
	err := ScanLines(filePath, func(lineNum int, line string) error {
		if lineNum == 2 {
			return stop
		}
		return nil
	})
	assert.Equal(t, stop, err)

	assert.Error(t, ScanLines(filePath+".missing", func(int, string) error { return nil }))
}

func TestReplaceTildeInDir(t *testing.T) {
	dir, err := ReplaceTildeInDir("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", dir)
	dir, err = ReplaceTildeInDir("~/x")
	require.NoError(t, err)
	assert.NotContains(t, dir, "~")
}
