// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Matrix, the 2D value store used by the graph nodes for their values
// and gradients.
//
// A Matrix stores its elements column-major: each column (one sample of a minibatch) is contiguous
// in memory. The underlying buffer (the "arena") is owned by the root Matrix, and views created with
// ColumnSlice or Reshaped share it: they are zero-copy reinterpretations of the same memory, so writes
// through a view are visible in the root matrix and vice versa.
//
// Reshaping is only legal for dense, contiguous matrices (the leading dimension equals the number of
// rows). Reshaping column-major data from (rows, cols) to (rows/k, cols*k) splits every column into k
// consecutive columns: this is what allows a single matrix product to process k stacked samples per
// column.
//
// Besides dense storage, a Matrix can hold a compressed-sparse-column (CSC) representation, see
// SwitchToSparse and SetCSC.
//
// The buffers are tagged with a DeviceID. Transfers between devices (TransferToDevice) are synchronous
// copies.
package tensors

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ErrLayout is wrapped by the panics raised when an operation is not legal for the storage layout of
// a matrix: reshaping a sparse or non-contiguous matrix, resizing a view, etc.
var ErrLayout = errors.New("operation not supported by the matrix layout")

// StorageKind of a Matrix.
type StorageKind int

const (
	// Dense storage: column-major flat buffer.
	Dense StorageKind = iota

	// SparseCSC storage: compressed sparse column.
	SparseCSC
)

// String implements fmt.Stringer.
func (k StorageKind) String() string {
	if k == SparseCSC {
		return "SparseCSC"
	}
	return "Dense"
}

// arena is the buffer owned by a root Matrix and shared with its views.
type arena[T constraints.Float] struct {
	data []T
}

// Matrix is a 2D matrix of floats, stored column-major.
type Matrix[T constraints.Float] struct {
	rows, cols int

	// stride is the leading dimension: distance between the start of two consecutive columns.
	stride int
	offset int
	arena  *arena[T]
	isView bool

	kind   StorageKind
	sparse *csc[T]

	device DeviceID
}

// New creates a dense zero-initialized matrix with the given dimensions on the given device.
func New[T constraints.Float](rows, cols int, device DeviceID) *Matrix[T] {
	if rows < 0 || cols < 0 {
		exceptions.Panicf("tensors.New(%d, %d): negative dimensions", rows, cols)
	}
	return &Matrix[T]{
		rows:   rows,
		cols:   cols,
		stride: rows,
		arena:  &arena[T]{data: make([]T, rows*cols)},
		device: device,
	}
}

// FromRowMajor creates a dense matrix with the given row-major data.
// It panics if len(data) != rows*cols.
func FromRowMajor[T constraints.Float](rows, cols int, data []T, device DeviceID) *Matrix[T] {
	m := New[T](0, 0, device)
	m.SetFromRowMajor(rows, cols, data)
	return m
}

// Rows returns the number of rows.
func (m *Matrix[T]) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix[T]) Cols() int { return m.cols }

// Size returns the number of elements, rows*cols.
func (m *Matrix[T]) Size() int { return m.rows * m.cols }

// Kind returns the storage kind.
func (m *Matrix[T]) Kind() StorageKind { return m.kind }

// IsDense returns whether the matrix uses dense storage.
func (m *Matrix[T]) IsDense() bool { return m.kind == Dense }

// IsView returns whether the matrix shares the buffer of another matrix.
func (m *Matrix[T]) IsView() bool { return m.isView }

// IsContiguous returns whether the matrix is dense and its columns are laid out back-to-back.
func (m *Matrix[T]) IsContiguous() bool {
	return m.kind == Dense && (m.stride == m.rows || m.cols <= 1)
}

// Device where the matrix buffer lives.
func (m *Matrix[T]) Device() DeviceID { return m.device }

// Memory returns the number of bytes used by the elements of the matrix.
func (m *Matrix[T]) Memory() uintptr {
	var zero T
	elemSize := uintptr(sizeOf(zero))
	if m.kind == SparseCSC {
		return uintptr(m.sparse.nnz())*(elemSize+8) + uintptr(m.cols+1)*8
	}
	return uintptr(m.Size()) * elemSize
}

// column returns the dense data of column j, a slice into the arena.
func (m *Matrix[T]) column(j int) []T {
	start := m.offset + j*m.stride
	return m.arena.data[start : start+m.rows]
}

// flat returns the dense data of the whole matrix, from the first element of the first column to the last
// element of the last column. It includes the gaps between columns for strided views.
func (m *Matrix[T]) flat() []T {
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	return m.arena.data[m.offset : m.offset+m.stride*(m.cols-1)+m.rows]
}

func (m *Matrix[T]) assertDense(op string) {
	if m.kind != Dense {
		panic(errors.Wrapf(ErrLayout, "%s requires a dense matrix, got %s", op, m.kind))
	}
}

func (m *Matrix[T]) assertRoot(op string) {
	if m.isView {
		panic(errors.Wrapf(ErrLayout, "%s cannot be applied to a matrix view", op))
	}
}

// At returns the element at row r and column c.
func (m *Matrix[T]) At(r, c int) T {
	m.checkIndex(r, c)
	if m.kind == SparseCSC {
		return m.sparse.at(r, c)
	}
	return m.arena.data[m.offset+c*m.stride+r]
}

// SetValueAt sets the element at row r and column c. The matrix must be dense.
func (m *Matrix[T]) SetValueAt(r, c int, value T) {
	m.checkIndex(r, c)
	m.assertDense("SetValueAt")
	m.arena.data[m.offset+c*m.stride+r] = value
}

func (m *Matrix[T]) checkIndex(r, c int) {
	if r < 0 || r >= m.rows || c < 0 || c >= m.cols {
		exceptions.Panicf("index (%d, %d) out of bounds for matrix %dx%d", r, c, m.rows, m.cols)
	}
}

// SetValue sets all elements to value. A sparse matrix is converted to dense first.
func (m *Matrix[T]) SetValue(value T) {
	if m.kind == SparseCSC {
		m.SwitchToDense()
	}
	for j := range m.cols {
		col := m.column(j)
		for i := range col {
			col[i] = value
		}
	}
}

// Resize changes the dimensions of the matrix. If the number of elements changes the buffer is
// reallocated and its contents are zero, otherwise the contents are kept (but reinterpreted).
// Resizing a sparse matrix clears it.
//
// Views can only be "resized" to their current dimensions.
func (m *Matrix[T]) Resize(rows, cols int) {
	if rows == m.rows && cols == m.cols {
		return
	}
	m.assertRoot("Resize")
	if rows < 0 || cols < 0 {
		exceptions.Panicf("Matrix.Resize(%d, %d): negative dimensions", rows, cols)
	}
	if m.kind == SparseCSC {
		m.rows, m.cols, m.stride = rows, cols, rows
		m.sparse = newCSC[T](cols)
		return
	}
	if rows*cols != len(m.arena.data) {
		m.arena = &arena[T]{data: make([]T, rows*cols)}
	}
	m.rows, m.cols, m.stride, m.offset = rows, cols, rows, 0
}

// ColumnSlice returns a matrix with the numCols columns starting at startCol.
//
// For dense matrices it is a view: it shares the buffer with m. For sparse matrices, the full range
// returns m itself, and a partial range returns a copy.
func (m *Matrix[T]) ColumnSlice(startCol, numCols int) *Matrix[T] {
	if startCol < 0 || numCols < 0 || startCol+numCols > m.cols {
		exceptions.Panicf("Matrix.ColumnSlice(%d, %d) out of bounds for matrix %dx%d", startCol, numCols, m.rows, m.cols)
	}
	if startCol == 0 && numCols == m.cols {
		if m.kind == SparseCSC {
			return m
		}
	}
	if m.kind == SparseCSC {
		return m.sparseColumnSlice(startCol, numCols)
	}
	return &Matrix[T]{
		rows:   m.rows,
		cols:   numCols,
		stride: m.stride,
		offset: m.offset + startCol*m.stride,
		arena:  m.arena,
		isView: true,
		device: m.device,
	}
}

// Reshaped returns a view of the matrix with the new dimensions, sharing the same buffer.
//
// Since storage is column-major, reshaping from (rows, cols) to (rows/k, cols*k) splits each column
// into k consecutive columns.
//
// It panics (wrapping ErrLayout) if the matrix is not dense and contiguous, or if the number
// of elements differ. As a special case, a sparse matrix can be "reshaped" to its own dimensions,
// which returns the matrix itself.
func (m *Matrix[T]) Reshaped(rows, cols int) *Matrix[T] {
	if rows*cols != m.rows*m.cols || rows < 0 || cols < 0 {
		panic(errors.Wrapf(ErrLayout, "cannot reshape matrix %dx%d to %dx%d: different number of elements",
			m.rows, m.cols, rows, cols))
	}
	if m.kind == SparseCSC {
		if rows == m.rows && cols == m.cols {
			return m
		}
		panic(errors.Wrapf(ErrLayout, "cannot reshape sparse matrix %dx%d to %dx%d", m.rows, m.cols, rows, cols))
	}
	if !m.IsContiguous() {
		panic(errors.Wrapf(ErrLayout, "cannot reshape non-contiguous matrix %dx%d (stride %d) to %dx%d",
			m.rows, m.cols, m.stride, rows, cols))
	}
	return &Matrix[T]{
		rows:   rows,
		cols:   cols,
		stride: rows,
		offset: m.offset,
		arena:  m.arena,
		isView: true,
		device: m.device,
	}
}

// SetFromRowMajor resizes the matrix to rows x cols and sets its contents from the row-major data.
// The matrix becomes dense.
func (m *Matrix[T]) SetFromRowMajor(rows, cols int, data []T) {
	if len(data) != rows*cols {
		exceptions.Panicf("Matrix.SetFromRowMajor(%d, %d): data has %d elements, expected %d", rows, cols, len(data), rows*cols)
	}
	if m.kind == SparseCSC {
		m.kind, m.sparse = Dense, nil
		m.arena = &arena[T]{data: make([]T, rows*cols)}
		m.rows, m.cols, m.stride, m.offset = rows, cols, rows, 0
	}
	m.Resize(rows, cols)
	for j := range cols {
		col := m.column(j)
		for i := range rows {
			col[i] = data[i*cols+j]
		}
	}
}

// RowMajorData returns a copy of the elements in row-major order. Works for any storage kind.
func (m *Matrix[T]) RowMajorData() []T {
	data := make([]T, m.rows*m.cols)
	if m.kind == SparseCSC {
		m.sparse.forEach(func(r, c int, v T) { data[r*m.cols+c] = v })
		return data
	}
	for j := range m.cols {
		for i, v := range m.column(j) {
			data[i*m.cols+j] = v
		}
	}
	return data
}

// ColumnMajorData returns a copy of the elements in column-major order. Works for any storage kind.
func (m *Matrix[T]) ColumnMajorData() []T {
	data := make([]T, m.rows*m.cols)
	if m.kind == SparseCSC {
		m.sparse.forEach(func(r, c int, v T) { data[c*m.rows+r] = v })
		return data
	}
	for j := range m.cols {
		copy(data[j*m.rows:(j+1)*m.rows], m.column(j))
	}
	return data
}

// AssignValuesOf resizes m to the dimensions of src and copies its contents, including the storage kind.
// The device of m is preserved: this is also how values are transferred between devices.
func (m *Matrix[T]) AssignValuesOf(src *Matrix[T]) {
	if m == src {
		return
	}
	if src.kind == SparseCSC {
		m.assertRoot("AssignValuesOf")
		m.rows, m.cols, m.stride, m.offset = src.rows, src.cols, src.rows, 0
		m.kind = SparseCSC
		m.sparse = src.sparse.clone()
		m.arena = &arena[T]{}
		return
	}
	if m.kind == SparseCSC {
		m.assertRoot("AssignValuesOf")
		m.kind, m.sparse = Dense, nil
		m.arena = &arena[T]{}
		m.rows, m.cols = 0, 0
	}
	m.Resize(src.rows, src.cols)
	for j := range src.cols {
		copy(m.column(j), src.column(j))
	}
}

// Clone returns a new root matrix (not a view) with a copy of the contents, on the same device.
func (m *Matrix[T]) Clone() *Matrix[T] {
	clone := New[T](0, 0, m.device)
	clone.AssignValuesOf(m)
	return clone
}

// MaskColumns sets the columns in the range [startCol, endCol) to zero.
// For sparse matrices the entries of those columns are removed.
func (m *Matrix[T]) MaskColumns(startCol, endCol int) {
	if startCol < 0 || endCol > m.cols || startCol > endCol {
		exceptions.Panicf("Matrix.MaskColumns(%d, %d) out of bounds for matrix %dx%d", startCol, endCol, m.rows, m.cols)
	}
	if m.kind == SparseCSC {
		m.sparse.removeColumns(startCol, endCol)
		return
	}
	for j := startCol; j < endCol; j++ {
		col := m.column(j)
		for i := range col {
			col[i] = 0
		}
	}
}

// TransferToDevice moves the matrix buffer to the given device. It is a synchronous copy, and a no-op
// if the matrix is already there. Views can't be transferred, since they don't own their buffer.
func (m *Matrix[T]) TransferToDevice(device DeviceID) {
	if m.device == device {
		return
	}
	m.assertRoot("TransferToDevice")
	if m.kind == SparseCSC {
		m.sparse = m.sparse.clone()
	} else {
		data := make([]T, len(m.arena.data))
		copy(data, m.arena.data)
		m.arena = &arena[T]{data: data}
	}
	m.device = device
}

// Equal returns whether both matrices have the same dimensions and exactly the same values.
func (m *Matrix[T]) Equal(other *Matrix[T]) bool {
	if m.rows != other.rows || m.cols != other.cols {
		return false
	}
	a, b := m.ColumnMajorData(), other.ColumnMajorData()
	for ii := range a {
		if a[ii] != b[ii] {
			return false
		}
	}
	return true
}

// MaxSizeForString is the largest matrix whose values are printed by String.
var MaxSizeForString = 500

// String implements fmt.Stringer. It prints the values row by row, if the matrix is not too large.
func (m *Matrix[T]) String() string {
	header := fmt.Sprintf("%s(%dx%d, %s)", m.kind, m.rows, m.cols, m.device)
	if m.Size() > MaxSizeForString {
		return header + "{...}"
	}
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("{")
	data := m.RowMajorData()
	for i := range m.rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("[")
		for j := range m.cols {
			if j > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "%g", data[i*m.cols+j])
		}
		sb.WriteString("]")
	}
	sb.WriteString("}")
	return sb.String()
}
