// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"bytes"
	"testing"

	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(2, 3, 4)
	assert.Equal(t, 3, s.Rank())
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, 4, s.Dim(-1))
	assert.True(t, s.IsKnown())
	rows, cols := s.AsMatrix()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 12, cols)
	assert.Equal(t, "[2 x 3 x 4]", s.String())

	// Clone is independent.
	s2 := s.Clone()
	s2.Dimensions[0] = 5
	assert.Equal(t, 2, s.Dim(0))
	assert.False(t, s.Equal(s2))

	// Unknown dimensions.
	assert.False(t, Make(0, 3).IsKnown())
	assert.False(t, Shape{}.IsKnown())
	assert.Equal(t, 0, Shape{}.Size())
	rows, cols = Vector(7).AsMatrix()
	assert.Equal(t, 7, rows)
	assert.Equal(t, 1, cols)

	require.Panics(t, func() { _ = Make(2, -1) })
	require.Panics(t, func() { _ = s.Dim(3) })
}

func TestImageShape(t *testing.T) {
	kind, err := ParseImageLayoutKind("cudnn")
	require.NoError(t, err)
	assert.Equal(t, CHW, kind)
	assert.Equal(t, []int{32, 24, 3}, ImageShape(32, 24, 3, kind).Dimensions)

	kind, err = ParseImageLayoutKind("HWC")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 32, 24}, ImageShape(32, 24, 3, kind).Dimensions)

	_, err = ParseImageLayoutKind("WHC")
	require.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	for _, s := range []Shape{Make(2, 3), Vector(5), Make(0, 7), {}} {
		var buf bytes.Buffer
		w := stream.NewWriter(&buf)
		s.Save(w)
		require.NoError(t, w.Err())
		r := stream.NewReader(&buf)
		loaded := Load(r, false)
		require.NoError(t, r.Err())
		assert.True(t, s.Equal(loaded), "saved %s, loaded %s", s, loaded)
	}
}

func TestLoadLegacyImage(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	w.WriteUint64(32) // width
	w.WriteUint64(24) // height
	w.WriteUint64(3)  // channels
	require.NoError(t, w.Err())

	legacy := buf.Bytes()
	r := stream.NewReader(bytes.NewReader(legacy))
	s := Load(r, true)
	require.NoError(t, r.Err())
	assert.Equal(t, []int{3, 32, 24}, s.Dimensions)

	// Without accepting the legacy format, the width is read as a rank.
	r = stream.NewReader(bytes.NewReader(legacy))
	s = Load(r, false)
	require.Error(t, r.Err())
}

func TestLoadInvalidDimensions(t *testing.T) {
	for _, dims := range [][]uint32{{1 << 31}, {0, 1 << 31}, {1 << 16, 0, 1 << 16}, {3, 0, 1 << 30}} {
		var buf bytes.Buffer
		w := stream.NewWriter(&buf)
		w.WriteUint32(uint32(len(dims)))
		for _, dim := range dims {
			w.WriteUint32(dim)
		}
		require.NoError(t, w.Err())
		r := stream.NewReader(&buf)
		s := Load(r, false)
		require.Error(t, r.Err(), "dims %v", dims)
		assert.True(t, s.IsEmpty())
	}

	// Legacy image with an impossible height.
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	w.WriteUint64(32)
	w.WriteUint64(1 << 40)
	w.WriteUint64(3)
	require.NoError(t, w.Err())
	r := stream.NewReader(&buf)
	s := Load(r, true)
	require.Error(t, r.Err())
	assert.True(t, s.IsEmpty())
}
