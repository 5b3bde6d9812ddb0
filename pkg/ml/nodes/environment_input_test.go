// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"bytes"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/environment"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentInput(t *testing.T) {
	n := NewEnvironmentInput[float32]("mode", tensors.CPUDevice, environment.PropertyIsTraining)
	n.LinkToMBLayout(minibatch.New(2, 2))
	require.NoError(t, n.Validate(true))
	assert.False(t, n.HasMBLayout())
	assert.Equal(t, []int{1}, n.SampleLayout().Dimensions)
	n.UpdateFunctionMBSize()
	assert.Equal(t, 1, n.Value().Rows())
	assert.Equal(t, 1, n.Value().Cols())

	// The flag is read on every forward, without any invalidation.
	env := environment.New(true)
	var fr minibatch.FrameRange
	assert.True(t, n.IsOutOfDateWrtInputs())
	require.NoError(t, n.ForwardProp(env, fr))
	assert.Equal(t, float32(1), n.Value().At(0, 0))
	env.SetTraining(false)
	assert.True(t, n.IsOutOfDateWrtInputs())
	require.NoError(t, n.ForwardProp(env, fr))
	assert.Equal(t, float32(0), n.Value().At(0, 0))
	require.NoError(t, n.ForwardProp(env.SetTraining(true), fr))
	assert.Equal(t, float32(1), n.Value().At(0, 0))

	// A nil environment is not training.
	require.NoError(t, n.ForwardProp(nil, fr))
	assert.Equal(t, float32(0), n.Value().At(0, 0))

	err := exceptions.TryCatch[error](func() { n.BackpropTo(0, fr) })
	require.ErrorIs(t, err, ErrLogic)
}

func TestEnvironmentInputUnknownProperty(t *testing.T) {
	n := NewEnvironmentInput[float64]("bad", tensors.CPUDevice, "isDreaming")
	err := n.Validate(true)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "isDreaming")
	require.ErrorIs(t, n.ForwardProp(environment.New(true), minibatch.FrameRange{}), ErrInvalidArgument)
}

func TestEnvironmentInputSaveLoad(t *testing.T) {
	n := NewEnvironmentInput[float32]("mode", tensors.CPUDevice, environment.PropertyIsTraining)
	var buf bytes.Buffer
	require.NoError(t, n.Save(stream.NewWriter(&buf)))
	loaded := NewEnvironmentInput[float32]("mode", tensors.CPUDevice, "")
	require.NoError(t, loaded.Load(stream.NewReader(&buf), CurrentModelVersion))
	assert.Equal(t, environment.PropertyIsTraining, loaded.PropertyName())
	require.NoError(t, loaded.Validate(true))
}
