// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"bufio"
	"io"
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/leafnodes/pkg/core/minibatch"
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/support/fsutil"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Model format versions.
const (
	// LegacyModelVersion stored LearnableParameter shapes as (needsGradient, rows, cols), and no
	// learning rate multipliers.
	LegacyModelVersion = 1

	// CurrentModelVersion is the version written by Model.Save.
	CurrentModelVersion = 2
)

const (
	modelMagic       = "LEAFNODES"
	beginNodeMarker  = "BNode"
	endNodeMarker    = "ENode"
	endModelMarker   = "EModel"
	maxNodesPerModel = 1 << 24
)

// Model is an ordered set of uniquely named nodes, that can be saved to and loaded from a file.
//
// The file starts with a header (magic, format version, dtype and model id), followed by the nodes in
// order: for each, its operation name, name, and the names of its inputs, then the state written by
// Node.Save. Inputs are re-connected by name when loading.
type Model[T constraints.Float] struct {
	// ID identifies the model. It's kept when saving and loading.
	ID uuid.UUID

	nodes  []Node[T]
	byName map[string]Node[T]
}

// NewModel creates an empty model with a new random ID.
func NewModel[T constraints.Float]() *Model[T] {
	return &Model[T]{
		ID:     uuid.New(),
		byName: make(map[string]Node[T]),
	}
}

// Add appends the nodes to the model. Names must be unique.
func (m *Model[T]) Add(nodes ...Node[T]) error {
	for _, node := range nodes {
		if _, found := m.byName[node.Name()]; found {
			return errors.Wrapf(ErrInvalidArgument, "model already has a node named %q", node.Name())
		}
		m.nodes = append(m.nodes, node)
		m.byName[node.Name()] = node
	}
	return nil
}

// Nodes returns the nodes in the order they were added. The slice is owned by the model.
func (m *Model[T]) Nodes() []Node[T] { return m.nodes }

// Node returns the node with the given name, if there is one.
func (m *Model[T]) Node(name string) (Node[T], bool) {
	node, found := m.byName[name]
	return node, found
}

// Parameter returns the LearnableParameter with the given name.
func (m *Model[T]) Parameter(name string) (*LearnableParameter[T], error) {
	node, found := m.byName[name]
	if !found {
		return nil, errors.Wrapf(ErrInvalidArgument, "model has no node named %q", name)
	}
	p, ok := node.(*LearnableParameter[T])
	if !ok {
		return nil, errors.Wrapf(ErrInvalidArgument, "node %q is a %s, not a %s", name, node.OperationName(), OpLearnableParameter)
	}
	return p, nil
}

// Parameters returns the LearnableParameter nodes of the model, in order.
func (m *Model[T]) Parameters() []*LearnableParameter[T] {
	var params []*LearnableParameter[T]
	for _, node := range m.nodes {
		if p, ok := node.(*LearnableParameter[T]); ok {
			params = append(params, p)
		}
	}
	return params
}

// LinkToMBLayout binds the input nodes of the model to the minibatch layout.
// Other nodes get theirs during validation.
func (m *Model[T]) LinkToMBLayout(layout *minibatch.Layout) {
	for _, node := range m.nodes {
		if input, ok := node.(*InputValue[T]); ok {
			input.LinkToMBLayout(layout)
		}
	}
}

// Validate validates every node in order: first a pass that tolerates shapes not known yet, then the
// final pass.
func (m *Model[T]) Validate() error {
	for _, isFinal := range []bool{false, true} {
		for _, node := range m.nodes {
			if err := node.Validate(isFinal); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save writes the model.
func (m *Model[T]) Save(writer io.Writer) error {
	w := stream.NewWriter(writer)
	w.WriteString(modelMagic)
	w.WriteUint32(CurrentModelVersion)
	w.WriteDType(tensors.DTypeFor[T]())
	w.WriteString(m.ID.String())
	w.WriteUint64(uint64(len(m.nodes)))
	for _, node := range m.nodes {
		w.WriteMarker(beginNodeMarker)
		w.WriteString(node.OperationName())
		w.WriteString(node.Name())
		inputs := node.Inputs()
		w.WriteUint32(uint32(len(inputs)))
		for ii, input := range inputs {
			if input == nil {
				return errors.Wrapf(ErrInvalidArgument, "saving model: input #%d of node %q is not connected", ii, node.Name())
			}
			w.WriteString(input.Name())
		}
		if err := node.Save(w); err != nil {
			return err
		}
		w.WriteMarker(endNodeMarker)
	}
	w.WriteMarker(endModelMarker)
	return errors.WithMessage(w.Err(), "saving model")
}

// SaveFile writes the model to the given file path.
func (m *Model[T]) SaveFile(filePath string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create model file %q", filePath)
	}
	buffered := bufio.NewWriter(f)
	err = m.Save(buffered)
	if err == nil {
		err = buffered.Flush()
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return errors.WithMessagef(err, "model file %q", filePath)
}

// newNodeForOp creates an empty node for the operation name, to be filled by Node.Load.
func newNodeForOp[T constraints.Float](opName, name string, deviceID tensors.DeviceID) (Node[T], error) {
	switch opName {
	case OpLearnableParameter:
		return NewLearnableParameter[T](name, deviceID, shapes.Shape{}), nil
	case OpInputValue:
		return NewInputValue[T](name, deviceID, shapes.Shape{}), nil
	case OpSparseInputValue:
		return NewSparseInputValue[T](name, deviceID, shapes.Shape{}), nil
	case OpEnvironmentInput:
		return NewEnvironmentInput[T](name, deviceID, ""), nil
	case OpLookupTable:
		return NewLookupTable[T](name, deviceID, nil, nil), nil
	}
	return nil, errors.Wrapf(ErrInvalidArgument, "unknown operation %q for node %q", opName, name)
}

// modelHeader is the beginning of a model file.
type modelHeader struct {
	version  int
	dtype    dtypes.DType
	id       string
	numNodes uint64
}

func readModelHeader(r *stream.Reader) (*modelHeader, error) {
	if magic := r.ReadString(); r.Err() == nil && magic != modelMagic {
		return nil, errors.Errorf("not a model file: invalid magic %q", magic)
	}
	h := &modelHeader{}
	h.version = int(r.ReadUint32())
	h.dtype = r.ReadDType()
	h.id = r.ReadString()
	h.numNodes = r.ReadUint64()
	if r.Err() != nil {
		return nil, errors.WithMessage(r.Err(), "reading model header")
	}
	if h.version != LegacyModelVersion && h.version != CurrentModelVersion {
		return nil, errors.Errorf("unsupported model format version %d", h.version)
	}
	if h.numNodes > maxNodesPerModel {
		return nil, errors.Errorf("invalid number of nodes %d", h.numNodes)
	}
	return h, nil
}

// ModelFileDType returns the dtype of the values stored in a model file, the type to use with LoadModelFile.
func ModelFileDType(filePath string) (dtypes.DType, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return dtypes.InvalidDType, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return dtypes.InvalidDType, errors.Wrapf(err, "failed to open model file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	h, err := readModelHeader(stream.NewReader(bufio.NewReader(f)))
	if err != nil {
		return dtypes.InvalidDType, errors.WithMessagef(err, "model file %q", filePath)
	}
	return h.dtype, nil
}

// LoadModel reads a model written by Model.Save, of the current or the legacy format version.
// The nodes are placed on the given device.
func LoadModel[T constraints.Float](reader io.Reader, deviceID tensors.DeviceID) (*Model[T], error) {
	r := stream.NewReader(reader)
	h, err := readModelHeader(r)
	if err != nil {
		return nil, err
	}
	if h.dtype != tensors.DTypeFor[T]() {
		return nil, errors.Errorf("model was saved with dtype %s, can't load it as %s", h.dtype, tensors.DTypeFor[T]())
	}
	m := NewModel[T]()
	if m.ID, err = uuid.Parse(h.id); err != nil {
		return nil, errors.Wrapf(err, "invalid model id %q", h.id)
	}

	inputNames := make([][]string, h.numNodes)
	for ii := range inputNames {
		r.ExpectMarker(beginNodeMarker)
		opName := r.ReadString()
		name := r.ReadString()
		numInputs := r.ReadUint32()
		if r.Err() != nil {
			return nil, errors.WithMessagef(r.Err(), "reading node #%d", ii)
		}
		node, err := newNodeForOp[T](opName, name, deviceID)
		if err != nil {
			return nil, err
		}
		if int(numInputs) != len(node.Inputs()) {
			return nil, errors.Errorf("node %q (%s) stored with %d inputs, expected %d", name, opName, numInputs, len(node.Inputs()))
		}
		for range numInputs {
			inputNames[ii] = append(inputNames[ii], r.ReadString())
		}
		if err = node.Load(r, h.version); err != nil {
			return nil, err
		}
		r.ExpectMarker(endNodeMarker)
		if r.Err() != nil {
			return nil, errors.WithMessagef(r.Err(), "reading node %q", name)
		}
		if err = m.Add(node); err != nil {
			return nil, err
		}
	}
	r.ExpectMarker(endModelMarker)
	if r.Err() != nil {
		return nil, errors.WithMessage(r.Err(), "reading model")
	}

	for ii, node := range m.nodes {
		for inputIdx, inputName := range inputNames[ii] {
			input, found := m.byName[inputName]
			if !found {
				return nil, errors.Wrapf(ErrInvalidArgument, "input #%d of node %q refers to unknown node %q", inputIdx, node.Name(), inputName)
			}
			node.SetInput(inputIdx, input)
		}
	}
	return m, nil
}

// LoadModelFile reads a model from the given file path. See LoadModel.
func LoadModelFile[T constraints.Float](filePath string, deviceID tensors.DeviceID) (*Model[T], error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open model file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	m, err := LoadModel[T](bufio.NewReader(f), deviceID)
	if err != nil {
		return nil, errors.WithMessagef(err, "model file %q", filePath)
	}
	return m, nil
}
