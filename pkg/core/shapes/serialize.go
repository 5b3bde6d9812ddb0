// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/pkg/errors"
)

// Limits of the shapes accepted by Load.
const (
	// MaxRank is the largest rank accepted.
	MaxRank = 32

	// MaxDimension is the largest dimension accepted.
	MaxDimension = 1<<31 - 1

	// MaxSize is the largest number of elements accepted, counting only the known (non-zero) dimensions.
	MaxSize = 1 << 31
)

// Save writes the shape as a uint32 rank followed by one uint32 per dimension.
func (s Shape) Save(w *stream.Writer) {
	w.WriteUint32(uint32(s.Rank()))
	for _, dim := range s.Dimensions {
		w.WriteUint32(uint32(dim))
	}
}

// Load reads a shape written by Shape.Save.
//
// If acceptLegacyFormat is true, it reads instead the older image format, that stored the
// (width, height, channels) triple as three 64-bit values. Since no dimension is >= 4G, the
// high 32 bits of the width are zero, which is what distinguishes it from a rank followed by
// the first dimension. The legacy triple is converted to an HWC ImageShape. Only files of the
// first model version may hold it: a current shape whose first dimension is 0 is indistinguishable.
//
// Shapes outside MaxRank, MaxDimension or MaxSize are rejected.
// Errors are reported through the reader, see stream.Reader.Err.
func Load(r *stream.Reader, acceptLegacyFormat bool) Shape {
	rank := r.ReadUint32()
	if r.Err() != nil || rank == 0 {
		return Shape{}
	}
	dim0 := r.ReadUint32()
	if r.Err() != nil {
		return Shape{}
	}
	if acceptLegacyFormat && dim0 == 0 {
		return loadLegacyImage(r, uint64(rank))
	}
	if rank > MaxRank {
		r.SetErr(errors.Errorf("invalid shape rank %d (max is %d) at offset %d", rank, MaxRank, r.BytesRead()))
		return Shape{}
	}
	dims := make([]uint64, rank)
	dims[0] = uint64(dim0)
	for ii := 1; ii < int(rank); ii++ {
		dims[ii] = uint64(r.ReadUint32())
	}
	if r.Err() != nil {
		return Shape{}
	}
	return checkedShape(r, dims)
}

// loadLegacyImage reads the remainder of a (width, height, channels) triple whose width was already read.
func loadLegacyImage(r *stream.Reader, width uint64) Shape {
	height := r.ReadUint64()
	channels := r.ReadUint64()
	if r.Err() != nil {
		return Shape{}
	}
	s := checkedShape(r, []uint64{width, height, channels})
	if r.Err() != nil {
		return Shape{}
	}
	return ImageShape(s.Dimensions[0], s.Dimensions[1], s.Dimensions[2], HWC)
}

// checkedShape returns the shape with the given dimensions, or sets an error in r if they are out of bounds.
func checkedShape(r *stream.Reader, dims []uint64) Shape {
	size := uint64(1)
	for _, dim := range dims {
		if dim > MaxDimension {
			r.SetErr(errors.Errorf("invalid shape dimensions %v: dimension %d larger than %d", dims, dim, MaxDimension))
			return Shape{}
		}
		if dim == 0 {
			continue
		}
		size *= dim
		if size > MaxSize {
			r.SetErr(errors.Errorf("invalid shape dimensions %v: more than %d elements", dims, MaxSize))
			return Shape{}
		}
	}
	s := Shape{Dimensions: make([]int, len(dims))}
	for ii, dim := range dims {
		s.Dimensions[ii] = int(dim)
	}
	return s
}
