// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"fmt"
	"io"

	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/environment"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Operation names of the input nodes.
const (
	OpInputValue       = "InputValue"
	OpSparseInputValue = "SparseInputValue"
)

// InputValue is a leaf fed externally for each minibatch, typically by a data reader. Its value is
// dense or sparse (see NewSparseInputValue), and each column holds one sample with the sample layout.
//
// The reader owns the size of the value: the node never resizes it after Init, and only checks that
// the number of rows matches the sample layout. Inputs are never trained.
type InputValue[T constraints.Float] struct {
	Base[T]
	isSparse bool
}

var _ Node[float32] = (*InputValue[float32])(nil)

// NewInputValue creates a dense input node whose samples have the given shape.
func NewInputValue[T constraints.Float](name string, deviceID tensors.DeviceID, sampleLayout shapes.Shape) *InputValue[T] {
	n := &InputValue[T]{Base: newBase[T](name, deviceID, 0)}
	n.Init(sampleLayout, false)
	return n
}

// NewSparseInputValue creates a sparse input node whose samples have the given shape.
func NewSparseInputValue[T constraints.Float](name string, deviceID tensors.DeviceID, sampleLayout shapes.Shape) *InputValue[T] {
	n := &InputValue[T]{Base: newBase[T](name, deviceID, 0)}
	n.Init(sampleLayout, true)
	return n
}

// NewImageInputValue creates a dense input node for images, see shapes.ImageShape.
func NewImageInputValue[T constraints.Float](name string, deviceID tensors.DeviceID, width, height, channels int,
	kind shapes.ImageLayoutKind) *InputValue[T] {
	return NewInputValue[T](name, deviceID, shapes.ImageShape(width, height, channels, kind))
}

// NewSparseImageInputValue creates a sparse input node for images, see shapes.ImageShape.
func NewSparseImageInputValue[T constraints.Float](name string, deviceID tensors.DeviceID, width, height, channels int,
	kind shapes.ImageLayoutKind) *InputValue[T] {
	return NewSparseInputValue[T](name, deviceID, shapes.ImageShape(width, height, channels, kind))
}

// Init sets the storage kind and the sample layout, and resizes the value, so readers can rely on
// its number of rows right away. It also disables learning.
//
// The value gets one column per column of the minibatch layout if the node is bound to one
// (see LinkToMBLayout), or a single column otherwise.
func (n *InputValue[T]) Init(sampleLayout shapes.Shape, isSparse bool) {
	n.isSparse = isSparse
	n.MarkValueNonSharable()
	n.SetDims(sampleLayout)
	n.value.Resize(n.ValueDims())
	if isSparse {
		n.value.SwitchToSparse()
	} else {
		n.value.SwitchToDense()
	}
	n.SetLearningRateMultiplier(0)
}

// LinkToMBLayout binds the node to the minibatch layout of the graph, and resizes the value accordingly.
func (n *InputValue[T]) LinkToMBLayout(layout *minibatch.Layout) {
	n.Base.LinkToMBLayout(layout)
	n.value.Resize(n.ValueDims())
}

// ValueDims returns the dimensions of the value: a sample per column.
func (n *InputValue[T]) ValueDims() (rows, cols int) {
	cols = 1
	if n.HasMBLayout() {
		cols = n.mbLayout.NumCols()
	}
	return n.sampleLayout.Size(), cols
}

// OperationName implements Node.
func (n *InputValue[T]) OperationName() string {
	if n.isSparse {
		return OpSparseInputValue
	}
	return OpInputValue
}

// IsSparse returns whether the value uses sparse storage.
func (n *InputValue[T]) IsSparse() bool { return n.isSparse }

// Validate implements Node.
func (n *InputValue[T]) Validate(isFinalValidationPass bool) error {
	if isFinalValidationPass && !n.sampleLayout.IsKnown() {
		return errors.Wrapf(ErrInvalidArgument, "%s %s operation: sample layout %s is not known",
			n.name, n.OperationName(), n.sampleLayout)
	}
	return nil
}

// UpdateFunctionMBSize implements Node. The value is owned by the reader: it's not resized, but it must
// still have one row per element of the sample layout.
func (n *InputValue[T]) UpdateFunctionMBSize() {
	if n.value.Rows() != n.sampleLayout.Size() {
		logicPanicf("%s %s operation: UpdateFunctionMBSize: value has %d rows, but the sample layout %s has %d elements",
			n.name, n.OperationName(), n.value.Rows(), n.sampleLayout, n.sampleLayout.Size())
	}
}

// ForwardProp implements Node. The value was filled by the reader.
func (n *InputValue[T]) ForwardProp(*environment.Environment, minibatch.FrameRange) error {
	return nil
}

// BackpropTo implements Node. Inputs are leaves, being asked to back-propagate is a bug of the caller.
func (n *InputValue[T]) BackpropTo(int, minibatch.FrameRange) {
	logicPanicf("%s %s operation is a leaf node, BackpropTo() should never be called", n.name, n.OperationName())
}

// Save implements Node. The two zero fields before the sample layout are kept for compatibility with
// older readers.
func (n *InputValue[T]) Save(w *stream.Writer) error {
	n.saveBase(w)
	w.WriteUint64(0)
	w.WriteUint64(0)
	n.sampleLayout.Save(w)
	return errors.WithMessagef(w.Err(), "saving %s %s", n.name, n.OperationName())
}

// Load implements Node. See decodeInputSampleLayout for the older formats accepted.
func (n *InputValue[T]) Load(r *stream.Reader, modelVersion int) error {
	n.loadBase(r, modelVersion)
	rows := r.ReadUint64()
	_ = r.ReadUint64()
	stored := shapes.Load(r, modelVersion < CurrentModelVersion)
	if r.Err() == nil && rows > shapes.MaxSize {
		r.SetErr(errors.Errorf("invalid number of rows %d", rows))
	}
	if r.Err() != nil {
		return errors.WithMessagef(r.Err(), "loading %s %s", n.name, n.OperationName())
	}
	n.Init(decodeInputSampleLayout(n.name, rows, stored), n.isSparse)
	return nil
}

// DumpNodeInfo implements Node.
func (n *InputValue[T]) DumpNodeInfo(printValues, printMetadata bool, w io.Writer) error {
	if err := n.dumpBase(n.OperationName(), false, printMetadata, w); err != nil {
		return err
	}
	if printValues {
		_, err := fmt.Fprintf(w, "%s: value filled by the reader, %d x %d\n", n.name, n.value.Rows(), n.value.Cols())
		return err
	}
	return nil
}
