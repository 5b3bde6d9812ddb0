// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"io"

	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/environment"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// OpEnvironmentInput is the operation name of EnvironmentInput.
const OpEnvironmentInput = "EnvironmentInput"

// EnvironmentInput exposes one property of the environment, like whether the network is being trained,
// as a 1x1 value. See environment.Resolve for the properties available.
//
// The property is read at every ForwardProp, and the node is always considered out-of-date, so the
// executor never skips it.
type EnvironmentInput[T constraints.Float] struct {
	Base[T]
	propertyName string
}

var _ Node[float32] = (*EnvironmentInput[float32])(nil)

// NewEnvironmentInput creates a node reading the given environment property.
func NewEnvironmentInput[T constraints.Float](name string, deviceID tensors.DeviceID, propertyName string) *EnvironmentInput[T] {
	return &EnvironmentInput[T]{
		Base:         newBase[T](name, deviceID, 0),
		propertyName: propertyName,
	}
}

// OperationName implements Node.
func (n *EnvironmentInput[T]) OperationName() string { return OpEnvironmentInput }

// PropertyName returns the name of the environment property read.
func (n *EnvironmentInput[T]) PropertyName() string { return n.propertyName }

func (n *EnvironmentInput[T]) resolve() (environment.Getter, error) {
	getter, err := environment.Resolve(n.propertyName)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s %s operation: %v", n.name, OpEnvironmentInput, err)
	}
	return getter, nil
}

// Validate implements Node. It fails for unknown properties. The output is a scalar that doesn't depend
// on the minibatch.
func (n *EnvironmentInput[T]) Validate(bool) error {
	if _, err := n.resolve(); err != nil {
		return err
	}
	n.LinkToMBLayout(nil)
	n.SetDims(shapes.Scalar())
	return nil
}

// UpdateFunctionMBSize implements Node: the value is always 1x1.
func (n *EnvironmentInput[T]) UpdateFunctionMBSize() {
	n.value.Resize(1, 1)
}

// IsOutOfDateWrtInputs implements Node: the environment can change at any time.
func (n *EnvironmentInput[T]) IsOutOfDateWrtInputs() bool { return true }

// ForwardProp implements Node: it reads the property from env.
func (n *EnvironmentInput[T]) ForwardProp(env *environment.Environment, _ minibatch.FrameRange) error {
	getter, err := n.resolve()
	if err != nil {
		return err
	}
	n.value.Resize(1, 1)
	n.value.SetValue(T(getter(env)))
	return nil
}

// BackpropTo implements Node. The node is a leaf and not differentiable.
func (n *EnvironmentInput[T]) BackpropTo(int, minibatch.FrameRange) {
	logicPanicf("%s %s operation is a leaf node, BackpropTo() should never be called", n.name, OpEnvironmentInput)
}

// Save implements Node.
func (n *EnvironmentInput[T]) Save(w *stream.Writer) error {
	n.saveBase(w)
	w.WriteString(n.propertyName)
	return errors.WithMessagef(w.Err(), "saving %s %s", n.name, OpEnvironmentInput)
}

// Load implements Node.
func (n *EnvironmentInput[T]) Load(r *stream.Reader, modelVersion int) error {
	n.loadBase(r, modelVersion)
	n.propertyName = r.ReadString()
	return errors.WithMessagef(r.Err(), "loading %s %s", n.name, OpEnvironmentInput)
}

// DumpNodeInfo implements Node.
func (n *EnvironmentInput[T]) DumpNodeInfo(printValues, printMetadata bool, w io.Writer) error {
	if err := n.dumpBase(OpEnvironmentInput, printValues, printMetadata, w); err != nil {
		return err
	}
	if printMetadata {
		_, err := io.WriteString(w, "property="+n.propertyName+"\n")
		return err
	}
	return nil
}
