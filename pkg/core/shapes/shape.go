// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the per-sample tensor layout of a node's value, and associated tools.
//
// A Shape is a list of dimensions, without the minibatch axis: the minibatch (or the number of
// columns of a parameter) is kept by the node and its minibatch layout, not by the Shape.
//
// A dimension of 0 means the dimension is not known yet, and is expected to be inferred during
// validation. Negative dimensions are invalid.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Shape.
//   - Dimension: the size of an axis.
//   - Size: number of elements, the product of all dimensions.
//   - Matrix view: every shape can be seen as a matrix whose number of rows is the first dimension and
//     whose number of columns is the product of the remaining dimensions (see AsMatrix).
//
// Example: a 2x3 weight matrix has shape `[2 x 3]`, created with `shapes.Make(2, 3)`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Shape represents the per-sample dimensions of a node value.
//
// Use Make to create a new shape.
type Shape struct {
	Dimensions []int
}

// Make returns a Shape with the given dimensions.
// It panics if any dimension is negative.
func Make(dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%v): cannot create a shape with a negative dimension", dimensions)
		}
	}
	return s
}

// Vector returns a rank-1 shape.
func Vector(dim int) Shape { return Make(dim) }

// Matrix returns a rank-2 shape.
func Matrix(rows, cols int) Shape { return Make(rows, cols) }

// Scalar returns a shape with a single element, represented as a vector of dimension 1.
func Scalar() Shape { return Make(1) }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements, the product of all dimensions.
// An empty shape (rank 0) has size 0: it is not the same as a scalar, see Scalar.
func (s Shape) Size() int {
	if len(s.Dimensions) == 0 {
		return 0
	}
	size := 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return size
}

// IsEmpty returns whether the shape has no dimensions at all.
func (s Shape) IsEmpty() bool { return len(s.Dimensions) == 0 }

// IsKnown returns whether the shape has at least one axis and all dimensions are known (> 0).
func (s Shape) IsKnown() bool {
	if len(s.Dimensions) == 0 {
		return false
	}
	for _, d := range s.Dimensions {
		if d == 0 {
			return false
		}
	}
	return true
}

// AsMatrix returns the matrix view of the shape: rows is the first dimension, cols the product of the
// remaining ones. An empty shape returns (0, 0), a rank-1 shape returns (dim, 1).
func (s Shape) AsMatrix() (rows, cols int) {
	if len(s.Dimensions) == 0 {
		return 0, 0
	}
	rows, cols = s.Dimensions[0], 1
	for _, d := range s.Dimensions[1:] {
		cols *= d
	}
	return
}

// Equal compares the dimensions of two shapes.
func (s Shape) Equal(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{Dimensions: slices.Clone(s.Dimensions)}
}

// String implements fmt.Stringer, pretty-prints the shape as "[d0 x d1 x ...]".
func (s Shape) String() string {
	if len(s.Dimensions) == 0 {
		return "[]"
	}
	parts := make([]string, len(s.Dimensions))
	for ii, d := range s.Dimensions {
		parts[ii] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, " x ") + "]"
}
