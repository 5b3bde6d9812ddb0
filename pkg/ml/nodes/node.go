// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nodes implements the leaf nodes of a computation graph: learnable parameters, external inputs
// (dense, sparse and image-shaped), environment properties, and the embedding lookup.
//
// Nodes are driven by an external executor, following the contract of the Node interface:
//
//  1. Validate is called (possibly multiple times, the last with isFinalValidationPass=true) once the
//     graph is built, to infer and check shapes.
//  2. For each minibatch, UpdateFunctionMBSize is called, followed by ForwardProp, and, when training,
//     BackpropTo for each input in reverse topological order.
//
// Values and gradients are tensors.Matrix stored column-major: each column is one sample. For nodes
// with a minibatch layout, the number of columns is given by the layout, and a minibatch.FrameRange
// selects the columns to process.
//
// Errors in the configuration or in the data are returned as errors wrapping ErrInvalidArgument or
// ErrShapeMismatch. Violations of the contract by the caller panic with an error wrapping ErrLogic:
// use exceptions.TryCatch[error] to convert them back to errors.
package nodes

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/environment"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"golang.org/x/exp/constraints"
)

// Node is the contract every node of the graph implements.
//
// The concrete types are LearnableParameter, InputValue, EnvironmentInput and LookupTable.
type Node[T constraints.Float] interface {
	// Name of the node, unique within a graph.
	Name() string

	// OperationName identifies the type of the node, as used in configurations and in the saved model.
	OperationName() string

	// DeviceID where the value and gradient of the node live.
	DeviceID() tensors.DeviceID

	// Inputs of the node. Leaf nodes have none.
	Inputs() []Node[T]

	// SetInput connects the given input. It panics if the index is out of range for the node type.
	SetInput(inputIndex int, input Node[T])

	// Value is the forward output of the node.
	Value() *tensors.Matrix[T]

	// Gradient accumulates the gradient of the loss with respect to the value. It's nil until the
	// first backward pass reaches the node.
	Gradient() *tensors.Matrix[T]

	// LazyGradient returns the gradient, first allocating it (zero-initialized, with the dimensions of the
	// value) if needed.
	LazyGradient() *tensors.Matrix[T]

	// SampleLayout is the shape of one sample of the value.
	SampleLayout() shapes.Shape

	// MBLayout is the minibatch layout of the value, or nil if the value doesn't hold a minibatch.
	MBLayout() *minibatch.Layout

	// HasMBLayout returns whether MBLayout is not nil.
	HasMBLayout() bool

	// LearningRateMultiplier scales the updates of the external optimizer. 0 means frozen.
	LearningRateMultiplier() float64

	// IsValueSharable returns whether the memory of the value can be reused by other nodes once
	// it's no longer needed.
	IsValueSharable() bool

	// Validate infers and checks the shape of the node.
	Validate(isFinalValidationPass bool) error

	// UpdateFunctionMBSize is called when the minibatch size changes.
	UpdateFunctionMBSize()

	// ForwardProp computes the value for the columns selected by fr.
	ForwardProp(env *environment.Environment, fr minibatch.FrameRange) error

	// BackpropTo accumulates into the gradient of the input inputIndex the contribution of this node's
	// gradient, for the columns selected by fr.
	BackpropTo(inputIndex int, fr minibatch.FrameRange)

	// EvalTimeStamp returns the time stamp of the last evaluation, see BumpEvalTimeStamp.
	EvalTimeStamp() int64

	// BumpEvalTimeStamp marks the value as just evaluated.
	BumpEvalTimeStamp()

	// IsOutOfDateWrtInputs returns whether any input was evaluated after this node, and hence the node
	// needs to be evaluated again.
	IsOutOfDateWrtInputs() bool

	// Save writes the state of the node.
	Save(w *stream.Writer) error

	// Load reads the state of the node, written by Save of the given model format version.
	Load(r *stream.Reader, modelVersion int) error

	// DumpNodeInfo writes a human-readable description of the node, optionally including its values.
	DumpNodeInfo(printValues, printMetadata bool, w io.Writer) error
}

// evalTimeStamps is the process-wide clock of evaluations.
var evalTimeStamps atomic.Int64

// Base implements the state and the behavior shared by all nodes. It's embedded in the concrete nodes.
type Base[T constraints.Float] struct {
	name     string
	deviceID tensors.DeviceID
	inputs   []Node[T]

	value, gradient *tensors.Matrix[T]

	sampleLayout shapes.Shape
	mbLayout     *minibatch.Layout

	learningRateMultiplier float64
	valueSharable          bool
	evalTimeStamp          int64
}

func newBase[T constraints.Float](name string, deviceID tensors.DeviceID, numInputs int) Base[T] {
	return Base[T]{
		name:          name,
		deviceID:      deviceID,
		inputs:        make([]Node[T], numInputs),
		value:         tensors.New[T](0, 0, deviceID),
		valueSharable: true,
		evalTimeStamp: evalTimeStamps.Add(1),
	}
}

// Name of the node.
func (b *Base[T]) Name() string { return b.name }

// DeviceID where the value and gradient of the node live.
func (b *Base[T]) DeviceID() tensors.DeviceID { return b.deviceID }

// Inputs of the node.
func (b *Base[T]) Inputs() []Node[T] { return b.inputs }

// Input returns the input at the given index.
func (b *Base[T]) Input(inputIndex int) Node[T] {
	if inputIndex < 0 || inputIndex >= len(b.inputs) {
		exceptions.Panicf("node %q has %d inputs, can't access input #%d", b.name, len(b.inputs), inputIndex)
	}
	return b.inputs[inputIndex]
}

// SetInput connects the given input.
func (b *Base[T]) SetInput(inputIndex int, input Node[T]) {
	if inputIndex < 0 || inputIndex >= len(b.inputs) {
		exceptions.Panicf("node %q has %d inputs, can't set input #%d", b.name, len(b.inputs), inputIndex)
	}
	b.inputs[inputIndex] = input
}

// Value is the forward output of the node.
func (b *Base[T]) Value() *tensors.Matrix[T] { return b.value }

// Gradient of the node, possibly nil.
func (b *Base[T]) Gradient() *tensors.Matrix[T] { return b.gradient }

// LazyGradient returns the gradient, allocating it with zeros and the dimensions of the value if
// needed. Gradients are always dense.
func (b *Base[T]) LazyGradient() *tensors.Matrix[T] {
	rows, cols := b.value.Rows(), b.value.Cols()
	if b.gradient == nil {
		b.gradient = tensors.New[T](rows, cols, b.deviceID)
	} else if b.gradient.Rows() != rows || b.gradient.Cols() != cols {
		b.gradient.Resize(rows, cols)
		b.gradient.SetValue(0)
	}
	return b.gradient
}

// SampleLayout is the shape of one sample of the value.
func (b *Base[T]) SampleLayout() shapes.Shape { return b.sampleLayout }

// SetDims sets the sample layout of the node. It doesn't resize the value, see UpdateFunctionValuesSize.
func (b *Base[T]) SetDims(sampleLayout shapes.Shape) { b.sampleLayout = sampleLayout.Clone() }

// MBLayout of the value, or nil.
func (b *Base[T]) MBLayout() *minibatch.Layout { return b.mbLayout }

// HasMBLayout returns whether the value holds a minibatch.
func (b *Base[T]) HasMBLayout() bool { return b.mbLayout != nil }

// LinkToMBLayout binds the node to the minibatch layout of the graph. nil unbinds it.
func (b *Base[T]) LinkToMBLayout(layout *minibatch.Layout) { b.mbLayout = layout }

// LearningRateMultiplier scales the updates of the external optimizer. 0 means frozen.
func (b *Base[T]) LearningRateMultiplier() float64 { return b.learningRateMultiplier }

// SetLearningRateMultiplier changes the learning rate multiplier. It panics for negative values.
func (b *Base[T]) SetLearningRateMultiplier(multiplier float64) {
	if multiplier < 0 {
		exceptions.Panicf("node %q: learning rate multiplier must be >= 0, got %g", b.name, multiplier)
	}
	b.learningRateMultiplier = multiplier
}

// IsParameterUpdateRequired returns whether the external optimizer should update the node.
func (b *Base[T]) IsParameterUpdateRequired() bool { return b.learningRateMultiplier > 0 }

// IsValueSharable returns whether the memory of the value can be reused by other nodes.
func (b *Base[T]) IsValueSharable() bool { return b.valueSharable }

// MarkValueNonSharable marks the value as owned exclusively by the node.
func (b *Base[T]) MarkValueNonSharable() { b.valueSharable = false }

// EvalTimeStamp returns the time stamp of the last evaluation.
func (b *Base[T]) EvalTimeStamp() int64 { return b.evalTimeStamp }

// BumpEvalTimeStamp marks the value as just evaluated.
func (b *Base[T]) BumpEvalTimeStamp() { b.evalTimeStamp = evalTimeStamps.Add(1) }

// IsOutOfDateWrtInputs returns whether any input was evaluated after this node.
func (b *Base[T]) IsOutOfDateWrtInputs() bool {
	for _, input := range b.inputs {
		if input != nil && input.EvalTimeStamp() > b.evalTimeStamp {
			return true
		}
	}
	return false
}

// UpdateFunctionMBSize resizes the value of nodes that hold a minibatch.
func (b *Base[T]) UpdateFunctionMBSize() {
	if b.HasMBLayout() {
		b.UpdateFunctionValuesSize()
	}
}

// ValueDims returns the dimensions of the value matrix: one column per minibatch column with a sample
// per column, or the matrix view of the sample layout for nodes without a minibatch.
func (b *Base[T]) ValueDims() (rows, cols int) {
	if b.HasMBLayout() {
		return b.sampleLayout.Size(), b.mbLayout.NumCols()
	}
	return b.sampleLayout.AsMatrix()
}

// UpdateFunctionValuesSize resizes the value to ValueDims.
func (b *Base[T]) UpdateFunctionValuesSize() {
	rows, cols := b.ValueDims()
	b.value.Resize(rows, cols)
}

// ValueFor returns the columns of the value selected by fr. For dense values it's a view.
func (b *Base[T]) ValueFor(fr minibatch.FrameRange) *tensors.Matrix[T] {
	return b.columnsFor(b.value, fr)
}

// GradientFor returns the columns of the gradient selected by fr, allocating the gradient if needed.
func (b *Base[T]) GradientFor(fr minibatch.FrameRange) *tensors.Matrix[T] {
	return b.columnsFor(b.LazyGradient(), fr)
}

// MaskedGradientFor is like GradientFor, but zeroes the gap columns first.
func (b *Base[T]) MaskedGradientFor(fr minibatch.FrameRange) *tensors.Matrix[T] {
	slice := b.GradientFor(fr)
	b.maskGaps(slice, fr)
	return slice
}

func (b *Base[T]) columnsFor(m *tensors.Matrix[T], fr minibatch.FrameRange) *tensors.Matrix[T] {
	if !b.HasMBLayout() || fr.IsAllFrames() {
		return m
	}
	return minibatch.Slice(m, fr)
}

// sliceFor returns the columns of m, the value or gradient of node, selected by fr.
// Nodes without a minibatch layout use all columns.
func sliceFor[T constraints.Float](node Node[T], m *tensors.Matrix[T], fr minibatch.FrameRange) *tensors.Matrix[T] {
	if !node.HasMBLayout() || fr.IsAllFrames() {
		return m
	}
	return minibatch.Slice(m, fr)
}

func (b *Base[T]) maskGaps(slice *tensors.Matrix[T], fr minibatch.FrameRange) {
	if !b.HasMBLayout() {
		return
	}
	if fr.Layout() == nil {
		fr = minibatch.All(b.mbLayout)
	}
	minibatch.MaskGaps(slice, fr)
}

// saveBase writes the fields common to all nodes.
func (b *Base[T]) saveBase(w *stream.Writer) {
	w.WriteFloat64(b.learningRateMultiplier)
}

// loadBase reads the fields written by saveBase. Version 1 models didn't store them.
func (b *Base[T]) loadBase(r *stream.Reader, modelVersion int) {
	if modelVersion < CurrentModelVersion {
		return
	}
	multiplier := r.ReadFloat64()
	if r.Err() == nil {
		b.learningRateMultiplier = multiplier
	}
}

// dumpBase writes the description common to all nodes.
func (b *Base[T]) dumpBase(opName string, printValues, printMetadata bool, w io.Writer) error {
	if printMetadata {
		if _, err := fmt.Fprintf(w, "\n%s=%s %s", b.name, opName, b.sampleLayout); err != nil {
			return err
		}
		if b.HasMBLayout() {
			if _, err := fmt.Fprintf(w, " minibatch=%s", b.mbLayout); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, " learningRateMultiplier=%g device=%s\n", b.learningRateMultiplier, b.deviceID); err != nil {
			return err
		}
	}
	if printValues {
		if _, err := fmt.Fprintf(w, "%s\n", b.valueRows()); err != nil {
			return err
		}
	}
	return nil
}

// valueRows formats the value one row per line.
func (b *Base[T]) valueRows() string {
	rows, cols := b.value.Rows(), b.value.Cols()
	data := b.value.RowMajorData()
	buf := make([]byte, 0, 8*len(data))
	for r := range rows {
		for c := range cols {
			if c > 0 {
				buf = append(buf, ' ')
			}
			buf = fmt.Appendf(buf, "%g", data[r*cols+c])
		}
		buf = append(buf, '\n')
	}
	return string(buf)
}
