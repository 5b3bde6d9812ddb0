// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/pkg/errors"
)

const (
	beginMatrixMarker = "BMAT"
	endMatrixMarker   = "EMAT"
)

// MaxSerializedElements limits the size of the matrices accepted by Load. Values are read in chunks,
// so a size within the limit but beyond the end of the stream fails before being fully allocated.
var MaxSerializedElements uint64 = 1 << 34

// DType returns the dtype of the matrix elements.
func (m *Matrix[T]) DType() dtypes.DType {
	return DTypeFor[T]()
}

// Save writes the matrix: dtype, storage kind, dimensions and values. Dense values are
// written in column-major order, bit-exact.
// Errors are accumulated in w.
func (m *Matrix[T]) Save(w *stream.Writer) {
	w.WriteMarker(beginMatrixMarker)
	w.WriteDType(m.DType())
	w.WriteUint32(uint32(m.kind))
	w.WriteUint64(uint64(m.rows))
	w.WriteUint64(uint64(m.cols))
	if m.kind == SparseCSC {
		colStarts, rowIndices, values := m.CSC()
		w.WriteUint64(uint64(len(values)))
		w.WriteInts(colStarts)
		w.WriteInts(rowIndices)
		stream.WriteFloats(w, values)
	} else {
		stream.WriteFloats(w, m.ColumnMajorData())
	}
	w.WriteMarker(endMatrixMarker)
}

// Load reads a matrix written by Save into m, replacing its dimensions, storage kind and values.
// m must not be a view. Errors are accumulated in r, and also returned.
func (m *Matrix[T]) Load(r *stream.Reader) error {
	r.ExpectMarker(beginMatrixMarker)
	dtype := r.ReadDType()
	kind := StorageKind(r.ReadUint32())
	rows, cols := r.ReadUint64(), r.ReadUint64()
	if r.Err() != nil {
		return r.Err()
	}
	if dtype != m.DType() {
		r.SetErr(errors.Errorf("matrix stored with dtype %s, cannot load it into a matrix of %s", dtype, m.DType()))
		return r.Err()
	}
	if rows > MaxSerializedElements || cols > MaxSerializedElements || (rows > 0 && cols > MaxSerializedElements/rows) {
		r.SetErr(errors.Errorf("matrix too large: %dx%d", rows, cols))
		return r.Err()
	}
	switch kind {
	case Dense:
		values := stream.ReadFloatsN[T](r, rows*cols)
		if r.Err() != nil {
			return r.Err()
		}
		m.assertRoot("Load")
		m.kind, m.sparse = Dense, nil
		m.arena = &arena[T]{data: values}
		m.rows, m.cols, m.stride, m.offset = int(rows), int(cols), int(rows), 0
	case SparseCSC:
		nnz := r.ReadUint64()
		if r.Err() == nil && nnz > MaxSerializedElements {
			r.SetErr(errors.Errorf("sparse matrix with too many entries: %d", nnz))
		}
		colStarts := r.ReadInts()
		rowIndices := r.ReadInts()
		if r.Err() != nil {
			return r.Err()
		}
		values := stream.ReadFloatsN[T](r, nnz)
		if r.Err() != nil {
			return r.Err()
		}
		if err := m.SetCSC(int(rows), int(cols), colStarts, rowIndices, values); err != nil {
			r.SetErr(err)
		}
	default:
		r.SetErr(errors.Errorf("unknown matrix storage kind %d", kind))
	}
	r.ExpectMarker(endMatrixMarker)
	return r.Err()
}
