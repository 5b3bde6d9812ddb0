// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLookupTable connects an all-ones 2x3 embedding matrix to an input with 3 rows per word and
// the given number of words per sample, bound to layout.
func buildLookupTable(t *testing.T, layout *minibatch.Layout, words int, sparse bool) (
	lt *LookupTable[float32], embedding *LearnableParameter[float32], x *InputValue[float32]) {
	embedding = NewLearnableParameter[float32]("E", tensors.CPUDevice, shapes.Matrix(2, 3))
	embedding.Value().SetValue(1)
	if sparse {
		x = NewSparseInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(3*words))
	} else {
		x = NewInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(3*words))
	}
	x.LinkToMBLayout(layout)
	lt = NewLookupTable[float32]("lt", tensors.CPUDevice, embedding, x)
	require.NoError(t, embedding.Validate(true))
	require.NoError(t, x.Validate(true))
	require.NoError(t, lt.Validate(false))
	require.NoError(t, lt.Validate(true))
	x.UpdateFunctionMBSize()
	lt.UpdateFunctionMBSize()
	return
}

func TestLookupTable(t *testing.T) {
	for _, sparse := range []bool{false, true} {
		name := "dense"
		if sparse {
			name = "sparse"
		}
		t.Run(name, func(t *testing.T) {
			layout := minibatch.New(2, 1)
			lt, embedding, x := buildLookupTable(t, layout, 1, sparse)
			assert.Equal(t, []int{2}, lt.SampleLayout().Dimensions)
			assert.Same(t, layout, lt.MBLayout())
			assert.Equal(t, 2, lt.Value().Rows())
			assert.Equal(t, 2, lt.Value().Cols())

			// X = [[1 0] [0 2] [0 0]]
			xValue := tensors.FromRowMajor(3, 2, []float32{1, 0, 0, 2, 0, 0}, tensors.CPUDevice)
			if sparse {
				xValue.SwitchToSparse()
			}
			x.Value().AssignValuesOf(xValue)

			all := minibatch.All(layout)
			require.NoError(t, lt.ForwardProp(environment.New(true), all))
			assert.Equal(t, []float32{1, 2, 1, 2}, lt.Value().RowMajorData())

			lt.LazyGradient().SetValue(1)
			lt.BackpropTo(0, all)
			assert.Equal(t, []float32{1, 2, 0, 1, 2, 0}, embedding.Gradient().RowMajorData())

			lt.BackpropTo(1, all)
			require.NotNil(t, x.Gradient())
			assert.Equal(t, []float32{2, 2, 2, 2, 2, 2}, x.Gradient().RowMajorData())

			// Gradients accumulate.
			lt.BackpropTo(0, all)
			assert.Equal(t, []float32{2, 4, 0, 2, 4, 0}, embedding.Gradient().RowMajorData())

			err := exceptions.TryCatch[error](func() { lt.BackpropTo(2, all) })
			require.ErrorIs(t, err, ErrLogic)
		})
	}
}

func TestLookupTableWordsPerSample(t *testing.T) {
	layout := minibatch.New(1, 1)
	lt, embedding, x := buildLookupTable(t, layout, 2, false)
	require.NoError(t, embedding.InitFromArray([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	assert.Equal(t, []int{4}, lt.SampleLayout().Dimensions)
	assert.Equal(t, 4, lt.Value().Rows())

	// Word 0 is #2, word 1 is #0.
	x.Value().SetValueAt(2, 0, 1)
	x.Value().SetValueAt(3, 0, 1)
	require.NoError(t, lt.ForwardProp(nil, minibatch.All(layout)))
	assert.Equal(t, []float32{3, 6, 1, 4}, lt.Value().ColumnMajorData())

	// The gradient of each word goes to its own column of the embedding.
	gradient := lt.LazyGradient()
	for r, v := range []float32{10, 20, 30, 40} {
		gradient.SetValueAt(r, 0, v)
	}
	lt.BackpropTo(0, minibatch.All(layout))
	assert.Equal(t, []float32{30, 0, 10, 40, 0, 20}, embedding.Gradient().RowMajorData())
}

func TestLookupTableGaps(t *testing.T) {
	layout := minibatch.New(1, 2)
	layout.AddSequence(7, 0, 0, 1)
	layout.AddGap(0, 1, 2)
	lt, embedding, x := buildLookupTable(t, layout, 1, false)
	x.Value().SetValueAt(0, 0, 1)
	x.Value().SetValueAt(1, 1, 1)

	// Frame by frame.
	for step := range 2 {
		require.NoError(t, lt.ForwardProp(nil, minibatch.At(layout, step)))
	}
	assert.Equal(t, []float32{1, 1, 1, 1}, lt.Value().RowMajorData())

	// The gap column doesn't contribute to the gradient of the embedding.
	lt.LazyGradient().SetValue(1)
	lt.BackpropTo(0, minibatch.All(layout))
	assert.Equal(t, []float32{1, 0, 0, 1, 0, 0}, embedding.Gradient().RowMajorData())
}

func TestLookupTableValidation(t *testing.T) {
	embedding := NewLearnableParameter[float32]("E", tensors.CPUDevice, shapes.Matrix(2, 3))

	// Not a multiple of the vocabulary size.
	x := NewInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(4))
	x.LinkToMBLayout(minibatch.New(1, 1))
	lt := NewLookupTable[float32]("lt", tensors.CPUDevice, embedding, x)
	require.ErrorIs(t, lt.Validate(true), ErrShapeMismatch)

	// No minibatch.
	noBatch := NewInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(3))
	lt = NewLookupTable[float32]("lt", tensors.CPUDevice, embedding, noBatch)
	require.ErrorIs(t, lt.Validate(true), ErrInvalidArgument)

	// Inputs not connected.
	lt = NewLookupTable[float32]("lt", tensors.CPUDevice, embedding, nil)
	require.ErrorIs(t, lt.Validate(false), ErrInvalidArgument)

	// Unknown shapes are only an error on the final pass.
	unknown := NewLearnableParameter[float32]("U", tensors.CPUDevice, shapes.Shape{})
	x = NewInputValue[float32]("x", tensors.CPUDevice, shapes.Vector(3))
	x.LinkToMBLayout(minibatch.New(1, 1))
	lt = NewLookupTable[float32]("lt", tensors.CPUDevice, unknown, x)
	require.NoError(t, lt.Validate(false))
	require.ErrorIs(t, lt.Validate(true), ErrShapeMismatch)

	// Input changed after validation to a non-multiple number of rows.
	layout := minibatch.New(1, 1)
	lt, _, x = buildLookupTable(t, layout, 1, false)
	x.Value().Resize(4, 1)
	err := exceptions.TryCatch[error](func() { _ = lt.ForwardProp(nil, minibatch.All(layout)) })
	require.ErrorIs(t, err, ErrLogic)
	assert.Contains(t, err.Error(), "not a multiple")
}

func TestLookupTableTimeStamps(t *testing.T) {
	layout := minibatch.New(1, 1)
	lt, _, x := buildLookupTable(t, layout, 1, false)
	lt.BumpEvalTimeStamp()
	assert.False(t, lt.IsOutOfDateWrtInputs())
	x.BumpEvalTimeStamp()
	assert.Greater(t, x.EvalTimeStamp(), lt.EvalTimeStamp())
	assert.True(t, lt.IsOutOfDateWrtInputs())
	lt.BumpEvalTimeStamp()
	assert.False(t, lt.IsOutOfDateWrtInputs())
}
