// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"bytes"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputValue(t *testing.T) {
	x := NewInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(3))
	assert.Equal(t, OpInputValue, x.OperationName())
	assert.Equal(t, 0.0, x.LearningRateMultiplier())
	assert.False(t, x.IsParameterUpdateRequired())
	assert.False(t, x.IsValueSharable())
	assert.Equal(t, 3, x.Value().Rows())
	assert.Equal(t, 1, x.Value().Cols())
	require.NoError(t, x.Validate(true))

	layout := minibatch.New(2, 2)
	x.LinkToMBLayout(layout)
	assert.True(t, x.HasMBLayout())
	assert.Equal(t, 3, x.Value().Rows())
	assert.Equal(t, 4, x.Value().Cols())
	x.UpdateFunctionMBSize()
	require.NoError(t, x.ForwardProp(nil, minibatch.All(layout)))

	// The reader may change the number of columns, but not the number of rows.
	x.Value().Resize(3, 6)
	x.UpdateFunctionMBSize()
	assert.Equal(t, 6, x.Value().Cols())
	x.Value().Resize(4, 6)
	err := exceptions.TryCatch[error](x.UpdateFunctionMBSize)
	require.ErrorIs(t, err, ErrLogic)
	assert.Contains(t, err.Error(), "x InputValue operation")

	err = exceptions.TryCatch[error](func() { x.BackpropTo(0, minibatch.All(layout)) })
	require.ErrorIs(t, err, ErrLogic)

	unknown := NewInputValue[float32]("u", tensors.CPUDevice, shapes.Shape{})
	require.NoError(t, unknown.Validate(false))
	require.ErrorIs(t, unknown.Validate(true), ErrInvalidArgument)
}

func TestSparseAndImageInputValues(t *testing.T) {
	sparse := NewSparseInputValue[float64]("s", tensors.CPUDevice, shapes.Vector(100))
	assert.Equal(t, OpSparseInputValue, sparse.OperationName())
	assert.True(t, sparse.IsSparse())
	assert.Equal(t, tensors.SparseCSC, sparse.Value().Kind())
	sparse.LinkToMBLayout(minibatch.New(4, 1))
	assert.Equal(t, 100, sparse.Value().Rows())
	assert.Equal(t, 4, sparse.Value().Cols())
	assert.Equal(t, tensors.SparseCSC, sparse.Value().Kind())

	chw := NewImageInputValue[float32]("img", tensors.CPUDevice, 4, 3, 2, shapes.CHW)
	assert.Equal(t, []int{4, 3, 2}, chw.SampleLayout().Dimensions)
	assert.Equal(t, 24, chw.Value().Rows())
	hwc := NewSparseImageInputValue[float32]("img", tensors.CPUDevice, 4, 3, 2, shapes.HWC)
	assert.Equal(t, []int{2, 4, 3}, hwc.SampleLayout().Dimensions)
	assert.Equal(t, OpSparseInputValue, hwc.OperationName())
}

func TestDecodeInputSampleLayout(t *testing.T) {
	// Current format.
	assert.Equal(t, []int{3}, decodeInputSampleLayout("x", 0, shapes.Vector(3)).Dimensions)
	// Older format, with rows consistent with the layout.
	assert.Equal(t, []int{2, 3}, decodeInputSampleLayout("x", 6, shapes.Make(2, 3)).Dimensions)
	// Inconsistent: the rows win.
	assert.Equal(t, []int{5}, decodeInputSampleLayout("x", 5, shapes.Make(2, 3)).Dimensions)
	assert.Equal(t, []int{7}, decodeInputSampleLayout("x", 7, shapes.Shape{}).Dimensions)
}

func TestInputValueSaveLoad(t *testing.T) {
	t.Run("current", func(t *testing.T) {
		x := NewSparseInputValue[float32]("x", tensors.CPUDevice, shapes.Make(2, 3))
		var buf bytes.Buffer
		require.NoError(t, x.Save(stream.NewWriter(&buf)))
		loaded := NewSparseInputValue[float32]("x", tensors.CPUDevice, shapes.Shape{})
		require.NoError(t, loaded.Load(stream.NewReader(&buf), CurrentModelVersion))
		assert.Equal(t, []int{2, 3}, loaded.SampleLayout().Dimensions)
		assert.Equal(t, 6, loaded.Value().Rows())
		assert.True(t, loaded.IsSparse())
		assert.Equal(t, 0.0, loaded.LearningRateMultiplier())
	})

	t.Run("zero-leading-dimension", func(t *testing.T) {
		for _, layout := range []shapes.Shape{shapes.Matrix(0, 3), shapes.Vector(0), shapes.Make(0, 2, 5)} {
			x := NewInputValue[float32]("x", tensors.CPUDevice, layout)
			var buf bytes.Buffer
			w := stream.NewWriter(&buf)
			require.NoError(t, x.Save(w))
			w.WriteMarker("next")
			loaded := NewInputValue[float32]("x", tensors.CPUDevice, shapes.Shape{})
			r := stream.NewReader(&buf)
			require.NoError(t, loaded.Load(r, CurrentModelVersion))
			assert.True(t, layout.Equal(loaded.SampleLayout()), "saved %s, loaded %s", layout, loaded.SampleLayout())
			r.ExpectMarker("next")
			require.NoError(t, r.Err(), "stream out of sync after loading %s", layout)
		}
	})

	t.Run("out-of-range", func(t *testing.T) {
		load := func(write func(w *stream.Writer), modelVersion int) error {
			var buf bytes.Buffer
			w := stream.NewWriter(&buf)
			write(w)
			require.NoError(t, w.Err())
			loaded := NewInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(2))
			return loaded.Load(stream.NewReader(&buf), modelVersion)
		}
		header := func(w *stream.Writer, rows uint64) {
			w.WriteFloat64(0)
			w.WriteUint64(rows)
			w.WriteUint64(0)
		}
		err := load(func(w *stream.Writer) {
			header(w, 0)
			w.WriteUint32(2)
			w.WriteUint32(1 << 31)
			w.WriteUint32(1 << 31)
		}, CurrentModelVersion)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "x InputValue")

		err = load(func(w *stream.Writer) {
			header(w, 0)
			w.WriteUint32(2)
			w.WriteUint32(1 << 20)
			w.WriteUint32(1 << 20)
		}, CurrentModelVersion)
		require.Error(t, err)

		err = load(func(w *stream.Writer) {
			header(w, 1<<40)
			shapes.Vector(3).Save(w)
		}, CurrentModelVersion)
		require.Error(t, err)

		// Legacy image with a corrupt height.
		err = load(func(w *stream.Writer) {
			w.WriteUint64(0)
			w.WriteUint64(0)
			w.WriteUint64(4)
			w.WriteUint64(1 << 60)
			w.WriteUint64(3)
		}, LegacyModelVersion)
		require.Error(t, err)
	})

	legacy := func(rows uint64, writeLayout func(w *stream.Writer)) *InputValue[float32] {
		var buf bytes.Buffer
		w := stream.NewWriter(&buf)
		w.WriteUint64(rows)
		w.WriteUint64(0)
		writeLayout(w)
		require.NoError(t, w.Err())
		loaded := NewInputValue[float32]("x", tensors.CPUDevice, shapes.Shape{})
		require.NoError(t, loaded.Load(stream.NewReader(&buf), LegacyModelVersion))
		return loaded
	}

	t.Run("legacy-rows", func(t *testing.T) {
		loaded := legacy(6, shapes.Make(2, 3).Save)
		assert.Equal(t, []int{2, 3}, loaded.SampleLayout().Dimensions)
	})

	t.Run("legacy-mismatch", func(t *testing.T) {
		loaded := legacy(5, shapes.Make(2, 3).Save)
		assert.Equal(t, []int{5}, loaded.SampleLayout().Dimensions)
		assert.Equal(t, 5, loaded.Value().Rows())
	})

	t.Run("legacy-image", func(t *testing.T) {
		loaded := legacy(24, func(w *stream.Writer) {
			w.WriteUint64(4) // width
			w.WriteUint64(3) // height
			w.WriteUint64(2) // channels
		})
		assert.Equal(t, []int{2, 4, 3}, loaded.SampleLayout().Dimensions)
	})
}
