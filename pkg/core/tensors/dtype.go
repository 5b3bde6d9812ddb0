// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/constraints"
)

// DTypeFor returns the dtype tag of the element type T.
func DTypeFor[T constraints.Float]() dtypes.DType {
	return dtypes.FromGoType(reflect.TypeFor[T]())
}
