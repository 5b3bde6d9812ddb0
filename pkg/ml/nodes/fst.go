// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"math"
	"strconv"
	"strings"

	"github.com/gomlx/leafnodes/pkg/core/shapes"
	"github.com/gomlx/leafnodes/pkg/core/tensors"
	"github.com/gomlx/leafnodes/pkg/support/fsutil"
	"github.com/gomlx/leafnodes/pkg/support/sets"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// LoadSenoneMap reads a senone map: one label per white-space separated token. Each label is normalized
// (the first "." replaced by "_") and wrapped in brackets, the form arcs use to refer to it, and is
// assigned the index of its position in the file.
//
// Repeated labels are an error wrapping ErrShapeMismatch.
func LoadSenoneMap(filePath string) (map[string]int, error) {
	var labels []string
	seen := sets.Make[string]()
	err := fsutil.ScanLines(filePath, func(lineNum int, line string) error {
		for _, token := range strings.Fields(line) {
			label := "[" + strings.Replace(token, ".", "_", 1) + "]"
			if !seen.InsertNew(label) {
				return errors.Wrapf(ErrShapeMismatch, "%s:%d: senone %s listed more than once", filePath, lineNum, label)
			}
			labels = append(labels, label)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(labels))
	for ii, label := range labels {
		index[label] = ii
	}
	return index, nil
}

// fstArc is a transition of the decoding graph, emitting a senone.
type fstArc struct {
	from, to, senone int
	cost             float64
	lineNum          int
}

// fstGraph is a decoding graph read from a text FST.
type fstGraph struct {
	arcs         []fstArc
	finalWeights map[int]float64
	numStates    int
}

// negLog10ToCost converts a score in -log10 domain to the value stored in the matrices.
func negLog10ToCost(score float64) float64 {
	return math.Pow(10, -score)
}

// loadFst reads a text FST, one entry per line:
//
//	from to senoneLabel [negLog10Score]   -- an arc, with cost 10^(-negLog10Score) (default 1)
//	from [negLog10Score]                  -- a final state, with weight 10^(-negLog10Score) (default 1)
//
// Lines starting with "#" are comments. Labels must be in senoneIndex, see LoadSenoneMap.
func loadFst(filePath string, senoneIndex map[string]int) (*fstGraph, error) {
	graph := &fstGraph{finalWeights: make(map[int]float64)}
	maxState := -1
	err := fsutil.ScanLines(filePath, func(lineNum int, line string) error {
		if strings.HasPrefix(line, "#") {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil
		}
		parseState := func(field string) (int, error) {
			state, err := strconv.Atoi(field)
			if err != nil || state < 0 {
				return 0, errors.Wrapf(ErrInvalidArgument, "%s:%d: invalid state %q", filePath, lineNum, field)
			}
			maxState = max(maxState, state)
			return state, nil
		}
		parseScore := func(field string) (float64, error) {
			score, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return 0, errors.Wrapf(ErrInvalidArgument, "%s:%d: invalid score %q", filePath, lineNum, field)
			}
			return score, nil
		}

		from, err := parseState(fields[0])
		if err != nil {
			return err
		}
		if len(fields) <= 2 {
			var score float64
			if len(fields) == 2 {
				if score, err = parseScore(fields[1]); err != nil {
					return err
				}
			}
			graph.finalWeights[from] = negLog10ToCost(score)
			return nil
		}

		arc := fstArc{from: from, lineNum: lineNum}
		if arc.to, err = parseState(fields[1]); err != nil {
			return err
		}
		var found bool
		arc.senone, found = senoneIndex[fields[2]]
		if !found {
			return errors.Wrapf(ErrShapeMismatch, "%s:%d: senone %s is not in the senone map, the graph doesn't match the model",
				filePath, lineNum, fields[2])
		}
		var score float64
		if len(fields) >= 4 {
			if score, err = parseScore(fields[3]); err != nil {
				return err
			}
		}
		arc.cost = negLog10ToCost(score)
		graph.arcs = append(graph.arcs, arc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	graph.numStates = maxState + 1
	klog.V(1).Infof("FST %q: %d states, %d arcs, %d final states", filePath, graph.numStates, len(graph.arcs), len(graph.finalWeights))
	return graph, nil
}

// transitions returns the numStates x numStates matrix with the cost of the arcs between states,
// one stored entry per arc. Parallel arcs (same from and to states) can't be represented and are
// an error wrapping ErrShapeMismatch.
func transitions[T constraints.Float](graph *fstGraph, fstFilePath string, device tensors.DeviceID) (*tensors.Matrix[T], error) {
	seen := sets.Make[[2]int](len(graph.arcs))
	triplets := make([]tensors.Triplet[T], len(graph.arcs))
	for ii, arc := range graph.arcs {
		if !seen.InsertNew([2]int{arc.from, arc.to}) {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s:%d: parallel arc from state %d to state %d, only one arc per pair of states is supported",
				fstFilePath, arc.lineNum, arc.from, arc.to)
		}
		triplets[ii] = tensors.Triplet[T]{Row: arc.from, Col: arc.to, Value: T(arc.cost)}
	}
	return tensors.NewSparseFromTriplets(graph.numStates, graph.numStates, triplets, device), nil
}

// stateSenones returns the numStates x numSenones matrix with a 1 for each senone emitted when
// entering a state.
func stateSenones[T constraints.Float](graph *fstGraph, numSenones int, device tensors.DeviceID) *tensors.Matrix[T] {
	seen := sets.Make[[2]int]()
	var triplets []tensors.Triplet[T]
	for _, arc := range graph.arcs {
		if seen.InsertNew([2]int{arc.to, arc.senone}) {
			triplets = append(triplets, tensors.Triplet[T]{Row: arc.to, Col: arc.senone, Value: 1})
		}
	}
	return tensors.NewSparseFromTriplets(graph.numStates, numSenones, triplets, device)
}

// loadFstForParameter reads the senone map and the FST, wrapping errors with the parameter identity.
func (p *LearnableParameter[T]) loadFstForParameter(method, fstFilePath, smapFilePath string) (*fstGraph, int, error) {
	senoneIndex, err := LoadSenoneMap(smapFilePath)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "%s %s operation: %s failed to read senone map %q",
			p.name, OpLearnableParameter, method, smapFilePath)
	}
	graph, err := loadFst(fstFilePath, senoneIndex)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "%s %s operation: %s failed to read FST %q",
			p.name, OpLearnableParameter, method, fstFilePath)
	}
	return graph, len(senoneIndex), nil
}

// setSparseValue replaces the value with the given sparse matrix, checking it against a fixed shape.
func (p *LearnableParameter[T]) setSparseValue(method string, m *tensors.Matrix[T]) error {
	shape := shapes.Matrix(m.Rows(), m.Cols())
	if p.hasFixedShape() {
		rows, cols := p.sampleLayout.AsMatrix()
		if rows != m.Rows() || cols != m.Cols() {
			return errors.Wrapf(ErrShapeMismatch, "%s %s operation: %s built a matrix of shape %s, but the node shape is %s",
				p.name, OpLearnableParameter, method, shape, p.sampleLayout)
		}
	} else {
		p.SetDims(shape)
	}
	p.isSparse = true
	p.value.AssignValuesOf(m)
	return nil
}

// InitFromFst sets the value to the sparse transition matrix of a decoding graph: for N states
// (the largest state number + 1), an N x N matrix with the cost 10^(-score) of the arc from state i to
// state j at (i, j). Transitions not in the graph are absent from the sparse matrix, so the number of
// stored entries is the number of arcs. Parallel arcs are an error wrapping ErrShapeMismatch.
//
// The arcs refer to senones by label, which must be listed in the senone map smapFilePath, see
// LoadSenoneMap. Final-state entries are not transitions, they are kept in FinalWeights.
func (p *LearnableParameter[T]) InitFromFst(fstFilePath, smapFilePath string) error {
	graph, _, err := p.loadFstForParameter("InitFromFst", fstFilePath, smapFilePath)
	if err != nil {
		return err
	}
	m, err := transitions[T](graph, fstFilePath, p.deviceID)
	if err != nil {
		return errors.WithMessagef(err, "%s %s operation: InitFromFst failed to build the transitions of %q",
			p.name, OpLearnableParameter, fstFilePath)
	}
	if err = p.setSparseValue("InitFromFst", m); err != nil {
		return err
	}
	p.setFinalWeights(graph)
	return nil
}

// InitFromSmap sets the value to the sparse state-to-senone map of a decoding graph: for N states and
// S senones, an N x S matrix with a 1 at (j, s) if an arc entering state j emits senone s.
//
// See InitFromFst for the file formats.
func (p *LearnableParameter[T]) InitFromSmap(fstFilePath, smapFilePath string) error {
	graph, numSenones, err := p.loadFstForParameter("InitFromSmap", fstFilePath, smapFilePath)
	if err != nil {
		return err
	}
	if err = p.setSparseValue("InitFromSmap", stateSenones[T](graph, numSenones, p.deviceID)); err != nil {
		return err
	}
	p.setFinalWeights(graph)
	return nil
}

func (p *LearnableParameter[T]) setFinalWeights(graph *fstGraph) {
	p.finalWeights = make(map[int]T, len(graph.finalWeights))
	for state, weight := range graph.finalWeights {
		p.finalWeights[state] = T(weight)
	}
}
