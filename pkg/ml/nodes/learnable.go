// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"io"
	"sync/atomic"

	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/environment"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// OpLearnableParameter is the operation name of LearnableParameter.
const OpLearnableParameter = "LearnableParameter"

// LearnableParameter holds trainable weights, like the weight matrices and biases of a layer.
//
// Its value is never resized by the minibatch: the shape is set once, explicitly, by one of the
// initializers, or by InferInputDimsFrom before the first validation. The gradient is accumulated by
// the nodes that consume the parameter, and applied by the external optimizer.
type LearnableParameter[T constraints.Float] struct {
	Base[T]
	isSparse  bool
	validated bool

	// finalWeights of the states of the FST the value was initialized from, if any.
	finalWeights map[int]T
}

var _ Node[float32] = (*LearnableParameter[float32])(nil)

// NewLearnableParameter creates a dense parameter with the given shape, zero-initialized.
// The shape may be empty or have unknown (0) dimensions, in which case it must be set by an
// initializer or inferred before validation.
func NewLearnableParameter[T constraints.Float](name string, deviceID tensors.DeviceID, shape shapes.Shape) *LearnableParameter[T] {
	p := &LearnableParameter[T]{Base: newBase[T](name, deviceID, 0)}
	p.SetLearningRateMultiplier(1)
	p.MarkValueNonSharable()
	p.initShape(shape)
	return p
}

// NewSparseLearnableParameter creates a parameter whose value uses sparse storage.
func NewSparseLearnableParameter[T constraints.Float](name string, deviceID tensors.DeviceID, shape shapes.Shape) *LearnableParameter[T] {
	p := &LearnableParameter[T]{Base: newBase[T](name, deviceID, 0), isSparse: true}
	p.SetLearningRateMultiplier(1)
	p.MarkValueNonSharable()
	p.initShape(shape)
	return p
}

func (p *LearnableParameter[T]) initShape(shape shapes.Shape) {
	p.SetDims(shape)
	p.UpdateFunctionValuesSize()
	if p.isSparse {
		p.value.SwitchToSparse()
	} else {
		p.value.SwitchToDense()
	}
}

// OperationName implements Node.
func (p *LearnableParameter[T]) OperationName() string { return OpLearnableParameter }

// IsSparse returns whether the value uses sparse storage.
func (p *LearnableParameter[T]) IsSparse() bool { return p.isSparse }

// FinalWeights returns the final-state weights of the FST the parameter was initialized from, indexed
// by state. It's nil if the parameter was not initialized with InitFromFst or InitFromSmap.
func (p *LearnableParameter[T]) FinalWeights() map[int]T { return p.finalWeights }

// hasFixedShape returns whether the shape was set, and initializers must conform to it.
func (p *LearnableParameter[T]) hasFixedShape() bool {
	return p.sampleLayout.IsKnown()
}

// autoSeed is the process-wide source of random seeds for parameters configured without one.
var autoSeed atomic.Uint64

// NextRandomSeed returns a new seed from the process-wide counter.
// Each call returns a different value.
func NextRandomSeed() uint64 {
	return autoSeed.Add(1) - 1
}

// InitRandom fills the value with random values: uniform in [-scale, scale] if uniform is true,
// gaussian with mean 0 and standard deviation scale otherwise.
//
// With cpuOnly, the values are generated on the host and then transferred to the device of the
// parameter, so that they are the same regardless of the device. Results are deterministic for a
// given seed and cpuOnly.
func (p *LearnableParameter[T]) InitRandom(uniform bool, seed uint64, scale float64, cpuOnly bool) {
	distribution := "gaussian"
	if uniform {
		distribution = "uniform"
	}
	klog.V(1).Infof("%s: initializing %s %s with %s random values (seed=%d, scale=%g, cpuOnly=%v)",
		p.name, OpLearnableParameter, p.sampleLayout, distribution, seed, scale, cpuOnly)
	target := p.value
	if cpuOnly && !p.deviceID.IsCPU() {
		target = p.value.Clone()
		target.TransferToDevice(tensors.CPUDevice)
	}
	if uniform {
		target.SetUniformRandomValue(-scale, scale, seed)
	} else {
		target.SetGaussianRandomValue(0, scale, seed)
	}
	if target != p.value {
		target.TransferToDevice(p.deviceID)
		p.value.AssignValuesOf(target)
	}
	if p.isSparse {
		p.value.SwitchToSparse()
	}
}

// InitFromArray sets the value from data given in row-major order, with dimensions rows x cols.
//
// If the parameter has a fixed shape, rows x cols must match its matrix view, otherwise the shape
// becomes rows x cols.
func (p *LearnableParameter[T]) InitFromArray(data []T, rows, cols int) error {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return errors.Wrapf(ErrInvalidArgument, "%s %s operation: %d values can't be shaped as [%d x %d]",
			p.name, OpLearnableParameter, len(data), rows, cols)
	}
	if p.hasFixedShape() {
		expectedRows, expectedCols := p.sampleLayout.AsMatrix()
		if expectedRows != rows || expectedCols != cols {
			return errors.Wrapf(ErrShapeMismatch, "%s %s operation: data size [%d x %d] doesn't match the node shape %s",
				p.name, OpLearnableParameter, rows, cols, p.sampleLayout)
		}
	} else {
		p.SetDims(shapes.Matrix(rows, cols))
	}
	p.value.SetFromRowMajor(rows, cols, data)
	if p.isSparse {
		p.value.SwitchToSparse()
	}
	return nil
}

// InitFromFile sets the value from a dense text file, one row per line, see ParseTextMatrix.
func (p *LearnableParameter[T]) InitFromFile(filePath string) error {
	klog.V(1).Infof("%s: initializing %s from file %q", p.name, OpLearnableParameter, filePath)
	data, rows, cols, err := LoadTextMatrix[T](filePath)
	if err != nil {
		return errors.WithMessagef(err, "%s %s operation: failed to read %q", p.name, OpLearnableParameter, filePath)
	}
	if err = p.InitFromArray(data, rows, cols); err != nil {
		return errors.WithMessagef(err, "initializing from file %q", filePath)
	}
	return nil
}

// InitFromLiteral sets the value from a matrix literal, with rows separated by new lines or ";",
// for instance "1 2 3; 4 5 6".
func (p *LearnableParameter[T]) InitFromLiteral(literal string) error {
	data, rows, cols, err := ParseTextMatrix[T](literal)
	if err != nil {
		return errors.WithMessagef(err, "%s %s operation: invalid literal", p.name, OpLearnableParameter)
	}
	return p.InitFromArray(data, rows, cols)
}

// ReviseFromFile reloads the value from a dense text file, after the parameter was already built.
// The file dimensions must match the shape of the parameter.
func (p *LearnableParameter[T]) ReviseFromFile(filePath string) error {
	if err := p.InitFromFile(filePath); err != nil {
		return errors.Wrapf(err, "ReviseFromFile: failed to reload %s %s operation from file %s",
			p.name, OpLearnableParameter, filePath)
	}
	return nil
}

// InferInputDimsFrom sets the shape from the node consuming the parameter.
// It's refused (returns false) once the parameter was validated, or if it already has a known shape
// different from shape. The value is reset to zeros.
func (p *LearnableParameter[T]) InferInputDimsFrom(shape shapes.Shape) bool {
	if p.validated {
		return false
	}
	if p.hasFixedShape() && !p.sampleLayout.Equal(shape) {
		return false
	}
	p.initShape(shape)
	if !p.isSparse {
		p.value.SetValue(0)
	}
	return true
}

// Validate implements Node. The shape must be known.
func (p *LearnableParameter[T]) Validate(isFinalValidationPass bool) error {
	if !p.hasFixedShape() {
		if !isFinalValidationPass {
			return nil
		}
		return errors.Wrapf(ErrInvalidArgument, "%s %s operation: the shape %s is not known, it must be declared or set by an initializer",
			p.name, OpLearnableParameter, p.sampleLayout)
	}
	rows, cols := p.sampleLayout.AsMatrix()
	if p.value.Rows() != rows || p.value.Cols() != cols {
		return errors.Wrapf(ErrShapeMismatch, "%s %s operation: value is [%d x %d] but the shape is %s",
			p.name, OpLearnableParameter, p.value.Rows(), p.value.Cols(), p.sampleLayout)
	}
	if isFinalValidationPass {
		p.validated = true
	}
	return nil
}

// UpdateFunctionMBSize implements Node. Parameters are not resized by the minibatch.
func (p *LearnableParameter[T]) UpdateFunctionMBSize() {}

// ForwardProp implements Node. The value is its own output.
func (p *LearnableParameter[T]) ForwardProp(*environment.Environment, minibatch.FrameRange) error {
	return nil
}

// BackpropTo implements Node. Parameters have no inputs: their gradient is accumulated by the consuming
// nodes and applied by the optimizer.
func (p *LearnableParameter[T]) BackpropTo(int, minibatch.FrameRange) {}

// Save implements Node.
func (p *LearnableParameter[T]) Save(w *stream.Writer) error {
	p.saveBase(w)
	w.WriteBool(p.isSparse)
	p.sampleLayout.Save(w)
	p.value.Save(w)
	return errors.WithMessagef(w.Err(), "saving %s %s", p.name, OpLearnableParameter)
}

// Load implements Node. On error the node is left as it was.
func (p *LearnableParameter[T]) Load(r *stream.Reader, modelVersion int) error {
	lrMultiplier, isSparse := p.learningRateMultiplier, p.isSparse
	fail := func(err error) error {
		p.learningRateMultiplier, p.isSparse = lrMultiplier, isSparse
		return err
	}
	var shape shapes.Shape
	if modelVersion < CurrentModelVersion {
		shape = p.loadLegacy(r)
	} else {
		p.loadBase(r, modelVersion)
		p.isSparse = r.ReadBool()
		shape = shapes.Load(r, false)
	}
	if r.Err() != nil {
		return fail(errors.WithMessagef(r.Err(), "loading %s %s", p.name, OpLearnableParameter))
	}
	value := tensors.New[T](0, 0, p.deviceID)
	if err := value.Load(r); err != nil {
		return fail(errors.WithMessagef(err, "loading %s %s value", p.name, OpLearnableParameter))
	}
	rows, cols := shape.AsMatrix()
	if value.Rows() != rows || value.Cols() != cols {
		return fail(errors.Wrapf(ErrShapeMismatch, "loading %s %s: stored value is [%d x %d] but the shape is %s",
			p.name, OpLearnableParameter, value.Rows(), value.Cols(), shape))
	}
	p.SetDims(shape)
	p.value.AssignValuesOf(value)
	return nil
}

// DumpNodeInfo implements Node.
func (p *LearnableParameter[T]) DumpNodeInfo(printValues, printMetadata bool, w io.Writer) error {
	if err := p.dumpBase(OpLearnableParameter, printValues, printMetadata, w); err != nil {
		return err
	}
	if printMetadata && p.isSparse {
		_, err := io.WriteString(w, "sparse\n")
		return err
	}
	return nil
}
