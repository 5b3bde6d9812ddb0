// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import (
	"strconv"
	"strings"

	"github.com/gomlx/leafnodes/pkg/support/fsutil"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// textMatrixParser accumulates the rows of a dense matrix given as text.
type textMatrixParser[T constraints.Float] struct {
	data       []T
	rows, cols int
}

// addRow parses one row: numbers separated by white spaces. Empty rows are skipped.
func (tp *textMatrixParser[T]) addRow(line string, where func() string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	if tp.rows > 0 && len(fields) != tp.cols {
		return errors.Wrapf(ErrShapeMismatch, "%s: row has %d values, previous rows had %d", where(), len(fields), tp.cols)
	}
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return errors.Wrapf(ErrInvalidArgument, "%s: can't parse %q as a number", where(), field)
		}
		tp.data = append(tp.data, T(v))
	}
	tp.cols = len(fields)
	tp.rows++
	return nil
}

// ParseTextMatrix parses a dense matrix given as text: rows separated by new lines or ";", values in a row
// separated by white spaces. Empty rows are ignored. It returns the values in row-major order.
func ParseTextMatrix[T constraints.Float](text string) (data []T, rows, cols int, err error) {
	var tp textMatrixParser[T]
	rowNum := 0
	where := func() string { return "row #" + strconv.Itoa(rowNum) }
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ';' }) {
		rowNum++
		if err = tp.addRow(line, where); err != nil {
			return nil, 0, 0, err
		}
	}
	return tp.data, tp.rows, tp.cols, nil
}

// LoadTextMatrix reads a dense matrix from a text file, one row per line, values separated by white
// spaces. Empty lines and lines starting with "#" are ignored. It returns the values in row-major order.
func LoadTextMatrix[T constraints.Float](filePath string) (data []T, rows, cols int, err error) {
	var tp textMatrixParser[T]
	err = fsutil.ScanLines(filePath, func(lineNum int, line string) error {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return nil
		}
		return tp.addRow(line, func() string { return filePath + ":" + strconv.Itoa(lineNum) })
	})
	if err != nil {
		return nil, 0, 0, err
	}
	if tp.rows == 0 {
		return nil, 0, 0, errors.Wrapf(ErrInvalidArgument, "%s: no values found", filePath)
	}
	return tp.data, tp.rows, tp.cols, nil
}
