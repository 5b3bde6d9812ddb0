// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"slices"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// csc holds a compressed-sparse-column representation:
// the entries of column j are rowIndices[colStarts[j]:colStarts[j+1]] and the corresponding values.
// Row indices within a column are sorted and unique.
type csc[T constraints.Float] struct {
	colStarts  []int
	rowIndices []int
	values     []T
}

func newCSC[T constraints.Float](cols int) *csc[T] {
	return &csc[T]{colStarts: make([]int, cols+1)}
}

func (s *csc[T]) nnz() int { return len(s.values) }

func (s *csc[T]) at(r, c int) T {
	rows := s.rowIndices[s.colStarts[c]:s.colStarts[c+1]]
	idx, found := slices.BinarySearch(rows, r)
	if !found {
		return 0
	}
	return s.values[s.colStarts[c]+idx]
}

func (s *csc[T]) forEach(fn func(r, c int, v T)) {
	for c := range len(s.colStarts) - 1 {
		for idx := s.colStarts[c]; idx < s.colStarts[c+1]; idx++ {
			fn(s.rowIndices[idx], c, s.values[idx])
		}
	}
}

func (s *csc[T]) clone() *csc[T] {
	return &csc[T]{
		colStarts:  slices.Clone(s.colStarts),
		rowIndices: slices.Clone(s.rowIndices),
		values:     slices.Clone(s.values),
	}
}

// removeColumns drops the entries of the columns in [startCol, endCol).
func (s *csc[T]) removeColumns(startCol, endCol int) {
	begin, end := s.colStarts[startCol], s.colStarts[endCol]
	removed := end - begin
	if removed == 0 {
		return
	}
	s.rowIndices = slices.Delete(s.rowIndices, begin, end)
	s.values = slices.Delete(s.values, begin, end)
	for c := startCol + 1; c < len(s.colStarts); c++ {
		if c <= endCol {
			s.colStarts[c] = begin
		} else {
			s.colStarts[c] -= removed
		}
	}
}

// Triplet is one entry of a sparse matrix, used to build it with NewSparseFromTriplets.
type Triplet[T constraints.Float] struct {
	Row, Col int
	Value    T
}

// NewSparseFromTriplets creates a sparse (CSC) matrix from the given entries.
// Entries with the same (row, col) position are summed.
func NewSparseFromTriplets[T constraints.Float](rows, cols int, triplets []Triplet[T], device DeviceID) *Matrix[T] {
	sorted := slices.Clone(triplets)
	for _, t := range sorted {
		if t.Row < 0 || t.Row >= rows || t.Col < 0 || t.Col >= cols {
			exceptions.Panicf("sparse entry (%d, %d) out of bounds for matrix %dx%d", t.Row, t.Col, rows, cols)
		}
	}
	slices.SortStableFunc(sorted, func(a, b Triplet[T]) int {
		if a.Col != b.Col {
			return a.Col - b.Col
		}
		return a.Row - b.Row
	})
	s := newCSC[T](cols)
	for ii, t := range sorted {
		if ii > 0 && sorted[ii-1].Row == t.Row && sorted[ii-1].Col == t.Col {
			s.values[len(s.values)-1] += t.Value
			continue
		}
		s.rowIndices = append(s.rowIndices, t.Row)
		s.values = append(s.values, t.Value)
		s.colStarts[t.Col+1]++
	}
	for c := range cols {
		s.colStarts[c+1] += s.colStarts[c]
	}
	return &Matrix[T]{
		rows:   rows,
		cols:   cols,
		stride: rows,
		arena:  &arena[T]{},
		kind:   SparseCSC,
		sparse: s,
		device: device,
	}
}

// NNZ returns the number of stored entries of a sparse matrix, or the number of non-zero elements of a
// dense one.
func (m *Matrix[T]) NNZ() int {
	if m.kind == SparseCSC {
		return m.sparse.nnz()
	}
	count := 0
	for j := range m.cols {
		for _, v := range m.column(j) {
			if v != 0 {
				count++
			}
		}
	}
	return count
}

// CSC returns the compressed-sparse-column arrays of a sparse matrix. They are owned by the matrix
// and should not be modified.
func (m *Matrix[T]) CSC() (colStarts, rowIndices []int, values []T) {
	if m.kind != SparseCSC {
		panic(errors.Wrapf(ErrLayout, "CSC() requires a sparse matrix, got %s", m.kind))
	}
	return m.sparse.colStarts, m.sparse.rowIndices, m.sparse.values
}

// SetCSC resizes m to rows x cols and sets it to the given compressed-sparse-column contents.
// The arrays are validated and copied.
func (m *Matrix[T]) SetCSC(rows, cols int, colStarts, rowIndices []int, values []T) error {
	if len(colStarts) != cols+1 || colStarts[0] != 0 {
		return errors.Errorf("invalid CSC: colStarts must have %d entries starting at 0, got %d", cols+1, len(colStarts))
	}
	nnz := colStarts[cols]
	if len(rowIndices) != nnz || len(values) != nnz {
		return errors.Errorf("invalid CSC: expected %d entries, got %d row indices and %d values", nnz, len(rowIndices), len(values))
	}
	for c := range cols {
		if colStarts[c+1] < colStarts[c] {
			return errors.Errorf("invalid CSC: colStarts not monotonic at column %d", c)
		}
		for idx := colStarts[c]; idx < colStarts[c+1]; idx++ {
			r := rowIndices[idx]
			if r < 0 || r >= rows || (idx > colStarts[c] && rowIndices[idx-1] >= r) {
				return errors.Errorf("invalid CSC: bad row index %d in column %d", r, c)
			}
		}
	}
	m.assertRoot("SetCSC")
	m.rows, m.cols, m.stride, m.offset = rows, cols, rows, 0
	m.kind = SparseCSC
	m.arena = &arena[T]{}
	m.sparse = &csc[T]{
		colStarts:  slices.Clone(colStarts),
		rowIndices: slices.Clone(rowIndices),
		values:     slices.Clone(values),
	}
	return nil
}

// SwitchToSparse converts the matrix to sparse (CSC) storage, keeping only the non-zero values.
// It's a no-op if the matrix is already sparse.
func (m *Matrix[T]) SwitchToSparse() {
	if m.kind == SparseCSC {
		return
	}
	m.assertRoot("SwitchToSparse")
	s := newCSC[T](m.cols)
	for j := range m.cols {
		for i, v := range m.column(j) {
			if v != 0 {
				s.rowIndices = append(s.rowIndices, i)
				s.values = append(s.values, v)
			}
		}
		s.colStarts[j+1] = len(s.values)
	}
	m.kind, m.sparse = SparseCSC, s
	m.arena = &arena[T]{}
	m.stride, m.offset = m.rows, 0
}

// SwitchToDense converts the matrix to dense storage. It's a no-op if the matrix is already dense.
func (m *Matrix[T]) SwitchToDense() {
	if m.kind == Dense {
		return
	}
	data := m.ColumnMajorData()
	m.kind, m.sparse = Dense, nil
	m.arena = &arena[T]{data: data}
	m.stride, m.offset = m.rows, 0
}

// sparseColumnSlice returns a new sparse matrix with a copy of the columns [startCol, startCol+numCols).
func (m *Matrix[T]) sparseColumnSlice(startCol, numCols int) *Matrix[T] {
	src := m.sparse
	begin, end := src.colStarts[startCol], src.colStarts[startCol+numCols]
	s := &csc[T]{
		colStarts:  make([]int, numCols+1),
		rowIndices: slices.Clone(src.rowIndices[begin:end]),
		values:     slices.Clone(src.values[begin:end]),
	}
	for c := range numCols + 1 {
		s.colStarts[c] = src.colStarts[startCol+c] - begin
	}
	return &Matrix[T]{
		rows:   m.rows,
		cols:   numCols,
		stride: m.rows,
		arena:  &arena[T]{},
		kind:   SparseCSC,
		sparse: s,
		device: m.device,
	}
}

func sizeOf[T constraints.Float](v T) int {
	return int(unsafe.Sizeof(v))
}
