// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nodes

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is wrapped by configuration errors: missing or malformed configuration keys,
	// unknown environment properties, nodes used outside their supported mode.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrShapeMismatch is wrapped by errors of dimensions that don't match: initializer data that doesn't
	// fit a fixed shape, embedding inputs whose rows are not a multiple of the vocabulary size,
	// and FST descriptions inconsistent with their senone map.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrLogic is wrapped by the panics raised on violations of the node contract by the caller,
	// for instance back-propagating into an input node. These indicate a bug, not bad data.
	ErrLogic = errors.New("logic error")
)

// logicPanicf panics with an error wrapping ErrLogic.
func logicPanicf(format string, args ...any) {
	panic(errors.Wrapf(ErrLogic, format, args...))
}
