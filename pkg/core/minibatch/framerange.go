// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package minibatch

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"golang.org/x/exp/constraints"
)

// FrameRange selects either the whole minibatch or the columns of one time step.
//
// The zero value selects all columns of a matrix with no layout.
type FrameRange struct {
	layout   *Layout
	timeStep int
	single   bool
}

// All selects every column of the minibatch. layout may be nil.
func All(layout *Layout) FrameRange {
	return FrameRange{layout: layout}
}

// At selects the columns of time step t, one per parallel sequence.
func At(layout *Layout, t int) FrameRange {
	if layout == nil {
		exceptions.Panicf("minibatch.At(%d) requires a layout", t)
	}
	if t < 0 || t >= layout.numTimeSteps {
		exceptions.Panicf("time step %d out of bounds for minibatch layout %s", t, layout)
	}
	return FrameRange{layout: layout, timeStep: t, single: true}
}

// Layout returns the layout the range refers to, possibly nil.
func (fr FrameRange) Layout() *Layout { return fr.layout }

// IsAllFrames returns whether the range selects the whole minibatch.
func (fr FrameRange) IsAllFrames() bool { return !fr.single }

// TimeStep returns the selected time step, or -1 for the whole minibatch.
func (fr FrameRange) TimeStep() int {
	if !fr.single {
		return -1
	}
	return fr.timeStep
}

// ColumnRange returns the first column and number of columns selected, in a matrix with numCols columns.
func (fr FrameRange) ColumnRange(numCols int) (start, n int) {
	if !fr.single {
		return 0, numCols
	}
	s := fr.layout.numParallelSequences
	return fr.timeStep * s, s
}

// Slice returns the columns of m selected by the range.
// For dense matrices it's a view, see tensors.Matrix.ColumnSlice.
func Slice[T constraints.Float](m *tensors.Matrix[T], fr FrameRange) *tensors.Matrix[T] {
	start, n := fr.ColumnRange(m.Cols())
	return m.ColumnSlice(start, n)
}

// MaskGaps zeroes, in place, the columns of slice that are gaps in the layout of fr.
// slice holds the columns selected by fr. It's a no-op if there is no layout or it has no gaps.
func MaskGaps[T constraints.Float](slice *tensors.Matrix[T], fr FrameRange) {
	l := fr.layout
	if l == nil || !l.HasGaps() {
		return
	}
	start, n := fr.ColumnRange(l.NumCols())
	if slice.Cols() != n {
		exceptions.Panicf("MaskGaps: slice has %d columns, frame range selects %d", slice.Cols(), n)
	}
	for j := 0; j < n; j++ {
		if !l.gaps[start+j] {
			continue
		}
		end := j + 1
		for end < n && l.gaps[start+end] {
			end++
		}
		slice.MaskColumns(j, end)
		j = end - 1
	}
}
