// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package minibatch describes how the columns of a batched matrix map to sequences and time steps.
//
// A Layout holds S parallel sequences over T time steps: the column for parallel sequence s at time
// step t is t*S + s. Columns not covered by any sequence are gaps (padding), and must not contribute to
// reductions such as parameter gradients, see MaskGaps.
package minibatch

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
)

// GapSequenceID is the sequence id used for gaps.
const GapSequenceID = math.MaxUint64

// SequenceInfo describes one sequence, or one gap, placed in a Layout.
//
// TBegin may be negative and TEnd may be larger than the number of time steps, for sequences that
// only partially overlap the minibatch.
type SequenceInfo struct {
	ID           uint64
	S            int
	TBegin, TEnd int
}

// IsGap returns whether the entry is a gap.
func (info SequenceInfo) IsGap() bool { return info.ID == GapSequenceID }

// Layout of a minibatch. Create it with New.
type Layout struct {
	numParallelSequences, numTimeSteps int

	sequences []SequenceInfo

	// gaps marks, per column, frames that are gaps. It's nil while there are none.
	gaps         []bool
	numGapFrames int
}

// New creates a Layout with numParallelSequences x numTimeSteps columns and no sequences yet.
func New(numParallelSequences, numTimeSteps int) *Layout {
	l := &Layout{}
	l.Init(numParallelSequences, numTimeSteps)
	return l
}

// Init resets the layout to the given dimensions, removing all sequences and gaps.
func (l *Layout) Init(numParallelSequences, numTimeSteps int) {
	if numParallelSequences < 0 || numTimeSteps < 0 {
		exceptions.Panicf("minibatch.Layout.Init(%d, %d): negative dimensions", numParallelSequences, numTimeSteps)
	}
	l.numParallelSequences = numParallelSequences
	l.numTimeSteps = numTimeSteps
	l.sequences = l.sequences[:0]
	l.gaps = nil
	l.numGapFrames = 0
}

// NumParallelSequences returns S.
func (l *Layout) NumParallelSequences() int { return l.numParallelSequences }

// NumTimeSteps returns T.
func (l *Layout) NumTimeSteps() int { return l.numTimeSteps }

// NumCols returns the number of matrix columns covered by the layout, S*T.
func (l *Layout) NumCols() int { return l.numParallelSequences * l.numTimeSteps }

// Sequences returns the sequences and gaps added so far. The slice is owned by the layout.
func (l *Layout) Sequences() []SequenceInfo { return l.sequences }

// ColumnIndex returns the column of parallel sequence s at time step t.
func (l *Layout) ColumnIndex(s, t int) int {
	l.checkFrame(s, t)
	return t*l.numParallelSequences + s
}

func (l *Layout) checkFrame(s, t int) {
	if s < 0 || s >= l.numParallelSequences || t < 0 || t >= l.numTimeSteps {
		exceptions.Panicf("frame (s=%d, t=%d) out of bounds for minibatch layout %s", s, t, l)
	}
}

// AddSequence places the sequence id in the parallel sequence s, over the time steps [tBegin, tEnd).
func (l *Layout) AddSequence(id uint64, s, tBegin, tEnd int) {
	if id == GapSequenceID {
		exceptions.Panicf("minibatch.Layout.AddSequence: id %d is reserved for gaps, use AddGap", id)
	}
	l.add(SequenceInfo{ID: id, S: s, TBegin: tBegin, TEnd: tEnd})
}

// AddGap marks the time steps [tBegin, tEnd) of parallel sequence s as padding.
func (l *Layout) AddGap(s, tBegin, tEnd int) {
	l.add(SequenceInfo{ID: GapSequenceID, S: s, TBegin: tBegin, TEnd: tEnd})
	for t := max(tBegin, 0); t < min(tEnd, l.numTimeSteps); t++ {
		if l.gaps == nil {
			l.gaps = make([]bool, l.NumCols())
		}
		col := t*l.numParallelSequences + s
		if !l.gaps[col] {
			l.gaps[col] = true
			l.numGapFrames++
		}
	}
}

func (l *Layout) add(info SequenceInfo) {
	if info.S < 0 || info.S >= l.numParallelSequences {
		exceptions.Panicf("parallel sequence %d out of bounds for minibatch layout %s", info.S, l)
	}
	if info.TBegin >= info.TEnd {
		exceptions.Panicf("empty time range [%d, %d) for parallel sequence %d", info.TBegin, info.TEnd, info.S)
	}
	l.sequences = append(l.sequences, info)
}

// HasGaps returns whether any column of the layout is a gap.
func (l *Layout) HasGaps() bool { return l.numGapFrames > 0 }

// NumGapFrames returns the number of columns that are gaps.
func (l *Layout) NumGapFrames() int { return l.numGapFrames }

// IsGap returns whether the frame of parallel sequence s at time step t is a gap.
func (l *Layout) IsGap(s, t int) bool {
	l.checkFrame(s, t)
	return l.gaps != nil && l.gaps[t*l.numParallelSequences+s]
}

// IsGapColumn returns whether the given column is a gap.
func (l *Layout) IsGapColumn(col int) bool {
	if col < 0 || col >= l.NumCols() {
		exceptions.Panicf("column %d out of bounds for minibatch layout %s", col, l)
	}
	return l.gaps != nil && l.gaps[col]
}

// String implements fmt.Stringer.
func (l *Layout) String() string {
	if l == nil {
		return "<no layout>"
	}
	return fmt.Sprintf("[%d parallel sequences x %d time steps, %d gaps]", l.numParallelSequences, l.numTimeSteps, l.numGapFrames)
}
