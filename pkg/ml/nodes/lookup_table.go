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

// OpLookupTable is the operation name of LookupTable.
const OpLookupTable = "LookupTable"

// LookupTable implements an embedding.
//
// Input 0 is the embedding matrix E, with one column per word of the vocabulary (embeddingDim x vocabSize).
// Input 1 holds, per sample (column), one or more one-hot (or weighted) word vectors stacked along the rows:
// its number of rows is wordsPerSample * vocabSize. The output stacks the embeddings of the words of each
// sample: embeddingDim * wordsPerSample rows.
//
// Because values are column-major, reshaping input 1 from (rows1, cols1) to (vocabSize, cols1 *
// wordsPerSample) gives one word per column, and a single product E x input1 computes all
// embeddings at once. wordsPerSample is always derived from the input dimensions.
//
// The reshapes require contiguous dense storage, or a sparse input with wordsPerSample == 1.
type LookupTable[T constraints.Float] struct {
	Base[T]
}

var _ Node[float32] = (*LookupTable[float32])(nil)

// NewLookupTable creates an embedding node. The inputs can be given here or later with SetInput.
func NewLookupTable[T constraints.Float](name string, deviceID tensors.DeviceID, embedding, indices Node[T]) *LookupTable[T] {
	n := &LookupTable[T]{Base: newBase[T](name, deviceID, 2)}
	n.inputs[0] = embedding
	n.inputs[1] = indices
	return n
}

// OperationName implements Node.
func (n *LookupTable[T]) OperationName() string { return OpLookupTable }

// wordsPerSample derives the number of words stacked in each column of input 1, given its number of rows.
// It panics with ErrLogic if the rows are not an exact multiple of the vocabulary size.
func (n *LookupTable[T]) wordsPerSample(rows1 int) int {
	cols0 := n.Input(0).Value().Cols()
	if cols0 == 0 || rows1%cols0 != 0 {
		logicPanicf("%s %s operation: rows of input 1 (%d) is not a multiple of cols of input 0 (%d): this usually "+
			"happens when the feature dimension is not the same as the size of the lookup table",
			n.name, OpLookupTable, rows1, cols0)
	}
	return rows1 / cols0
}

// Validate implements Node.
func (n *LookupTable[T]) Validate(isFinalValidationPass bool) error {
	embedding, indices := n.Input(0), n.Input(1)
	if embedding == nil || indices == nil {
		return errors.Wrapf(ErrInvalidArgument, "%s %s operation: both inputs must be connected", n.name, OpLookupTable)
	}
	n.LinkToMBLayout(indices.MBLayout())
	if n.mbLayout == nil {
		n.LinkToMBLayout(embedding.MBLayout())
	}
	if isFinalValidationPass && !n.HasMBLayout() {
		return errors.Wrapf(ErrInvalidArgument, "%s %s operation can only operate on minibatches", n.name, OpLookupTable)
	}

	embeddingRows, vocabSize := embedding.SampleLayout().AsMatrix()
	rows1 := indices.SampleLayout().Size()
	if vocabSize == 0 || rows1 == 0 {
		if isFinalValidationPass {
			return errors.Wrapf(ErrShapeMismatch, "%s %s operation: input shapes %s and %s are not known",
				n.name, OpLookupTable, embedding.SampleLayout(), indices.SampleLayout())
		}
		return nil
	}
	if rows1%vocabSize != 0 {
		return errors.Wrapf(ErrShapeMismatch, "%s %s operation: mismatched dimensions, rows of input 1 %s must be a multiple of the columns of input 0 %s",
			n.name, OpLookupTable, indices.SampleLayout(), embedding.SampleLayout())
	}
	n.SetDims(shapes.Vector(embeddingRows * (rows1 / vocabSize)))
	return nil
}

// ForwardProp implements Node: output = E x reshaped(input1), for the columns selected by fr.
func (n *LookupTable[T]) ForwardProp(_ *environment.Environment, fr minibatch.FrameRange) error {
	embedding := n.Input(0).Value()
	indices := n.inputFor(1, fr, false)
	rows1, cols1 := indices.Rows(), indices.Cols()
	words := n.wordsPerSample(rows1)

	output := n.ValueFor(fr)
	if output.Rows() != embedding.Rows()*words || output.Cols() != cols1 {
		logicPanicf("%s %s operation: output is [%d x %d], expected [%d x %d]",
			n.name, OpLookupTable, output.Rows(), output.Cols(), embedding.Rows()*words, cols1)
	}
	indicesReshaped := indices.Reshaped(rows1/words, cols1*words)
	outputReshaped := output.Reshaped(embedding.Rows(), cols1*words)
	tensors.AssignProductOf(embedding, false, indicesReshaped, false, outputReshaped)
	return nil
}

// BackpropTo implements Node.
//
// For the embedding matrix (input 0): E.gradient += outputGradient x input1ᵀ, with both reshaped to one
// word per column. Gap columns are masked first, so padding doesn't contribute to the gradient.
//
// For input 1: input1.gradient += Eᵀ x outputGradient, reshaped the same way. Indices are not
// differentiable in practice, but the gradient is computed for completeness.
func (n *LookupTable[T]) BackpropTo(inputIndex int, fr minibatch.FrameRange) {
	switch inputIndex {
	case 0:
		indices := n.inputFor(1, fr, true)
		outputGradient := n.MaskedGradientFor(fr)
		words := n.wordsPerSample(indices.Rows())
		embeddingGradient := n.Input(0).LazyGradient()
		tensors.MultiplyAndAdd(
			outputGradient.Reshaped(outputGradient.Rows()/words, outputGradient.Cols()*words), false,
			indices.Reshaped(indices.Rows()/words, indices.Cols()*words), true,
			embeddingGradient)
	case 1:
		embedding := n.Input(0).Value()
		indicesGradient := n.inputGradientFor(1, fr)
		outputGradient := n.GradientFor(fr)
		words := n.wordsPerSample(indicesGradient.Rows())
		tensors.MultiplyAndAdd(
			embedding, true,
			outputGradient.Reshaped(outputGradient.Rows()/words, outputGradient.Cols()*words), false,
			indicesGradient.Reshaped(indicesGradient.Rows()/words, indicesGradient.Cols()*words))
	default:
		logicPanicf("%s %s operation has 2 inputs, can't back-propagate to input #%d", n.name, OpLookupTable, inputIndex)
	}
}

// inputFor returns the columns of the value of the input selected by fr, optionally with the gaps zeroed.
func (n *LookupTable[T]) inputFor(inputIndex int, fr minibatch.FrameRange, masked bool) *tensors.Matrix[T] {
	input := n.Input(inputIndex)
	value := sliceFor(input, input.Value(), fr)
	if masked && input.HasMBLayout() {
		if fr.Layout() == nil {
			fr = minibatch.All(input.MBLayout())
		}
		minibatch.MaskGaps(value, fr)
	}
	return value
}

// inputGradientFor returns the columns of the gradient of the input selected by fr.
func (n *LookupTable[T]) inputGradientFor(inputIndex int, fr minibatch.FrameRange) *tensors.Matrix[T] {
	input := n.Input(inputIndex)
	return sliceFor(input, input.LazyGradient(), fr)
}

// Save implements Node.
func (n *LookupTable[T]) Save(w *stream.Writer) error {
	n.saveBase(w)
	return errors.WithMessagef(w.Err(), "saving %s %s", n.name, OpLookupTable)
}

// Load implements Node. The inputs are re-connected by the Model.
func (n *LookupTable[T]) Load(r *stream.Reader, modelVersion int) error {
	n.loadBase(r, modelVersion)
	return errors.WithMessagef(r.Err(), "loading %s %s", n.name, OpLookupTable)
}

// DumpNodeInfo implements Node.
func (n *LookupTable[T]) DumpNodeInfo(printValues, printMetadata bool, w io.Writer) error {
	return n.dumpBase(OpLookupTable, printValues, printMetadata, w)
}
