// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"slices"

	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/ml/config"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Values of the "init" key of LearnableParameter configurations.
const (
	InitFixedValue  = "fixedValue"
	InitUniform     = "uniform"
	InitGaussian    = "gaussian"
	InitFromFile    = "fromFile"
	InitFromLiteral = "fromLiteral"
	InitFromFst     = "fromFst"
	InitFromSmap    = "fromSmap"
	InitNone        = "none"
)

// NodeLookup returns the node with the given name, used to connect inputs when building from configurations.
type NodeLookup[T constraints.Float] func(name string) (Node[T], error)

// FromConfig builds a node from its configuration record. The keys "name" and "type" (the operation name)
// are required, "deviceId" defaults to the CPU. The other keys depend on the node type:
//
//   - LearnableParameter: "shape" or "rows"/"cols", "isSparse", "learningRateMultiplier" (default 1),
//     "init" (default "uniform", see the Init* constants) and its arguments "value", "initValueScale"
//     (default 1), "randomSeed" (default -1, to take the next seed from NextRandomSeed), "initOnCPUOnly"
//     (default true), "initFromFilePath", "initFromLiteral", "fstFilePath" and "smapFilePath".
//   - InputValue and SparseInputValue: "shape" or "rows", or "isImage" with "imageWidth", "imageHeight",
//     "imageChannels" and "imageLayout" (default "CHW").
//   - EnvironmentInput: "propertyName".
//   - LookupTable: "inputs", the names of the embedding matrix and of the indices nodes, resolved with lookup.
//
// Missing or malformed keys return errors wrapping ErrInvalidArgument.
func FromConfig[T constraints.Float](rec config.Record, lookup NodeLookup[T]) (Node[T], error) {
	name, err := config.Get[string](rec, "name")
	if err != nil {
		return nil, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	opName, err := config.Get[string](rec, "type")
	if err != nil {
		return nil, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	deviceID, err := config.GetOr(rec, "deviceId", int(tensors.CPUDevice))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	b := &configBuilder{rec: rec}
	var node Node[T]
	switch opName {
	case OpLearnableParameter:
		node = learnableParameterFromConfig[T](b, name, tensors.DeviceID(deviceID))
	case OpInputValue, OpSparseInputValue:
		node = inputValueFromConfig[T](b, name, tensors.DeviceID(deviceID), opName == OpSparseInputValue)
	case OpEnvironmentInput:
		node = NewEnvironmentInput[T](name, tensors.DeviceID(deviceID), get[string](b, "propertyName"))
	case OpLookupTable:
		node = lookupTableFromConfig(b, name, tensors.DeviceID(deviceID), lookup)
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "node %q: unknown type %q", name, opName)
	}
	if b.err != nil {
		return nil, errors.WithMessagef(b.err, "building %s %q", opName, name)
	}
	return node, nil
}

// BuildModel builds the nodes described in net, in order. Inputs must refer to nodes described earlier.
func BuildModel[T constraints.Float](net *config.Network) (*Model[T], error) {
	m := NewModel[T]()
	lookup := func(name string) (Node[T], error) {
		node, found := m.Node(name)
		if !found {
			return nil, errors.Wrapf(ErrInvalidArgument, "unknown node %q", name)
		}
		return node, nil
	}
	for _, rec := range net.Nodes {
		node, err := FromConfig[T](rec, lookup)
		if err != nil {
			return nil, err
		}
		if err = m.Add(node); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// configBuilder reads keys from a record, keeping the first error.
type configBuilder struct {
	rec config.Record
	err error
}

func (b *configBuilder) fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func get[T any](b *configBuilder, key string) T {
	v, err := config.Get[T](b.rec, key)
	if err != nil {
		b.fail(errors.Wrap(ErrInvalidArgument, err.Error()))
	}
	return v
}

func getOr[T any](b *configBuilder, key string, defaultValue T) T {
	v, err := config.GetOr(b.rec, key, defaultValue)
	if err != nil {
		b.fail(errors.Wrap(ErrInvalidArgument, err.Error()))
	}
	return v
}

// shapeFromConfig reads "shape", or "rows" and "cols" (optional). If both forms are given they must agree.
func shapeFromConfig(b *configBuilder, withCols bool) shapes.Shape {
	var fromDims shapes.Shape
	if b.rec.Has("rows") {
		if withCols {
			fromDims = shapes.Matrix(get[int](b, "rows"), getOr(b, "cols", 1))
		} else {
			fromDims = shapes.Vector(get[int](b, "rows"))
		}
	}
	if !b.rec.Has("shape") {
		return fromDims
	}
	dims := get[[]int](b, "shape")
	if slices.ContainsFunc(dims, func(d int) bool { return d < 0 }) {
		b.fail(errors.Wrapf(ErrInvalidArgument, "negative dimension in shape %v", dims))
		return shapes.Shape{}
	}
	shape := shapes.Make(dims...)
	if !fromDims.IsEmpty() && !fromDims.Equal(shape) {
		b.fail(errors.Wrapf(ErrShapeMismatch, "shape %s is inconsistent with rows/cols %s", shape, fromDims))
	}
	return shape
}

func learnableParameterFromConfig[T constraints.Float](b *configBuilder, name string, deviceID tensors.DeviceID) Node[T] {
	shape := shapeFromConfig(b, true)
	var p *LearnableParameter[T]
	if getOr(b, "isSparse", false) {
		p = NewSparseLearnableParameter[T](name, deviceID, shape)
	} else {
		p = NewLearnableParameter[T](name, deviceID, shape)
	}
	lrMultiplier := getOr(b, "learningRateMultiplier", 1.0)
	if lrMultiplier < 0 {
		b.fail(errors.Wrapf(ErrInvalidArgument, "learningRateMultiplier must be >= 0, got %g", lrMultiplier))
	}
	if b.err != nil {
		return p
	}
	p.SetLearningRateMultiplier(lrMultiplier)

	switch init := getOr(b, "init", InitUniform); init {
	case InitNone:
	case InitFixedValue:
		value := getOr(b, "value", 0.0)
		if !p.isSparse || value != 0 {
			p.value.SetValue(T(value))
		}
	case InitUniform, InitGaussian:
		seed := getOr(b, "randomSeed", int64(-1))
		scale := getOr(b, "initValueScale", 1.0)
		cpuOnly := getOr(b, "initOnCPUOnly", true)
		if b.err != nil {
			return p
		}
		if seed < 0 {
			seed = int64(NextRandomSeed())
		}
		p.InitRandom(init == InitUniform, uint64(seed), scale, cpuOnly)
	case InitFromFile:
		if filePath := get[string](b, "initFromFilePath"); b.err == nil {
			b.fail(p.InitFromFile(filePath))
		}
	case InitFromLiteral:
		if literal := get[string](b, "initFromLiteral"); b.err == nil {
			b.fail(p.InitFromLiteral(literal))
		}
	case InitFromFst, InitFromSmap:
		fstFilePath := get[string](b, "fstFilePath")
		smapFilePath := get[string](b, "smapFilePath")
		if b.err != nil {
			return p
		}
		if init == InitFromFst {
			b.fail(p.InitFromFst(fstFilePath, smapFilePath))
		} else {
			b.fail(p.InitFromSmap(fstFilePath, smapFilePath))
		}
	default:
		b.fail(errors.Wrapf(ErrInvalidArgument, "unknown init %q, valid values are %q", init,
			[]string{InitFixedValue, InitUniform, InitGaussian, InitFromFile, InitFromLiteral, InitFromFst, InitFromSmap, InitNone}))
	}
	return p
}

func inputValueFromConfig[T constraints.Float](b *configBuilder, name string, deviceID tensors.DeviceID, isSparse bool) Node[T] {
	var shape shapes.Shape
	if getOr(b, "isImage", false) {
		width, height, channels := get[int](b, "imageWidth"), get[int](b, "imageHeight"), get[int](b, "imageChannels")
		kind, err := shapes.ParseImageLayoutKind(getOr(b, "imageLayout", shapes.CHW.String()))
		if err != nil {
			b.fail(errors.Wrap(ErrInvalidArgument, err.Error()))
		}
		if width <= 0 || height <= 0 || channels <= 0 {
			b.fail(errors.Wrapf(ErrInvalidArgument, "invalid image dimensions %dx%dx%d", width, height, channels))
		}
		if b.err == nil {
			shape = shapes.ImageShape(width, height, channels, kind)
		}
	} else {
		shape = shapeFromConfig(b, false)
		if b.err == nil && shape.IsEmpty() {
			b.fail(errors.Wrapf(ErrInvalidArgument, "key \"shape\" or \"rows\" is required"))
		}
	}
	if isSparse {
		return NewSparseInputValue[T](name, deviceID, shape)
	}
	return NewInputValue[T](name, deviceID, shape)
}

func lookupTableFromConfig[T constraints.Float](b *configBuilder, name string, deviceID tensors.DeviceID, lookup NodeLookup[T]) Node[T] {
	n := NewLookupTable[T](name, deviceID, nil, nil)
	inputNames := get[[]string](b, "inputs")
	if b.err != nil {
		return n
	}
	if len(inputNames) != 2 {
		b.fail(errors.Wrapf(ErrInvalidArgument, "%s requires 2 inputs, got %q", OpLookupTable, inputNames))
		return n
	}
	if lookup == nil {
		b.fail(errors.Wrapf(ErrInvalidArgument, "no way to resolve the inputs %q", inputNames))
		return n
	}
	for ii, inputName := range inputNames {
		input, err := lookup(inputName)
		if err != nil {
			b.fail(err)
			return n
		}
		n.SetInput(ii, input)
	}
	return n
}
