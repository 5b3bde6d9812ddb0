// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// inputLayoutDecoder is one generation of the input nodes format: given the row count and the sample
// layout stored in the file, it returns the sample layout to use, or ok=false if it doesn't recognize
// the combination.
type inputLayoutDecoder struct {
	name   string
	decode func(rows uint64, stored shapes.Shape) (layout shapes.Shape, ok bool)

	// warn the user when this decoder is used: the file is inconsistent and the result is a guess.
	warn bool
}

// inputLayoutDecoders are tried in order, the first to recognize the stored fields wins.
var inputLayoutDecoders = []inputLayoutDecoder{
	{
		// Current format: the row count is always written as 0.
		name: "current",
		decode: func(rows uint64, stored shapes.Shape) (shapes.Shape, bool) {
			return stored, rows == 0
		},
	},
	{
		// Older files stored the row count, consistent with the sample layout.
		name: "rows",
		decode: func(rows uint64, stored shapes.Shape) (shapes.Shape, bool) {
			return stored, rows == uint64(stored.Size())
		},
	},
	{
		// Even older files have a sample layout that doesn't match the rows: the rows win.
		name: "vector",
		decode: func(rows uint64, stored shapes.Shape) (shapes.Shape, bool) {
			return shapes.Vector(int(rows)), true
		},
		warn: true,
	},
}

// decodeInputSampleLayout returns the sample layout of an input node loaded from a file, given the
// stored row count and sample layout.
func decodeInputSampleLayout(nodeName string, rows uint64, stored shapes.Shape) shapes.Shape {
	for _, decoder := range inputLayoutDecoders {
		layout, ok := decoder.decode(rows, stored)
		if !ok {
			continue
		}
		if decoder.warn {
			klog.Warningf("%s InputValue has inconsistent serialized sample layout %s vs. number of rows %d: resetting sample layout to %s",
				nodeName, stored, rows, layout)
		}
		return layout
	}
	// Unreachable: the last decoder accepts everything.
	return stored
}

// loadLegacy reads the header of a LearnableParameter saved with model version 1:
// a "needs gradient" flag followed by the 64-bit matrix dimensions. The value follows.
func (p *LearnableParameter[T]) loadLegacy(r *stream.Reader) shapes.Shape {
	needsGradient := r.ReadBool()
	rows, cols := r.ReadUint64(), r.ReadUint64()
	if r.Err() == nil && (rows > shapes.MaxDimension || cols > shapes.MaxDimension) {
		r.SetErr(errors.Errorf("invalid legacy parameter dimensions %d x %d", rows, cols))
	}
	if r.Err() != nil {
		return shapes.Shape{}
	}
	if needsGradient {
		p.learningRateMultiplier = 1
	} else {
		p.learningRateMultiplier = 0
	}
	p.isSparse = false
	return shapes.Matrix(int(rows), int(cols))
}
