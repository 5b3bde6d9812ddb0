// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// MultiplyAndWeightedAdd computes c = alpha * op(a) * op(b) + beta * c, where op(x) is x or its transpose.
//
// The output c must be dense. If its dimensions don't match and beta == 0, it is resized (it must not be a
// view then). The operands can be dense or sparse: the dense x sparse and dense x sparseᵀ products are computed
// directly on the sparse entries, other combinations with sparse operands are densified first.
func MultiplyAndWeightedAdd[T constraints.Float](alpha T, a *Matrix[T], transA bool, b *Matrix[T], transB bool, beta T, c *Matrix[T]) {
	m, k := a.rows, a.cols
	if transA {
		m, k = k, m
	}
	kB, n := b.rows, b.cols
	if transB {
		kB, n = n, kB
	}
	if k != kB {
		exceptions.Panicf("matrix product with incompatible dimensions: op(a) is %dx%d, op(b) is %dx%d", m, k, kB, n)
	}
	if c.kind != Dense {
		panic(errors.Wrapf(ErrLayout, "matrix product output must be dense"))
	}
	if c.rows != m || c.cols != n {
		if beta != 0 {
			exceptions.Panicf("matrix product output is %dx%d, expected %dx%d", c.rows, c.cols, m, n)
		}
		c.Resize(m, n)
	}
	if m == 0 || n == 0 {
		return
	}
	scaleInPlace(c, beta)
	if k == 0 || alpha == 0 {
		return
	}

	if b.kind == SparseCSC && a.kind == Dense && !transA {
		if transB {
			denseTimesSparseTransposedAdd(alpha, a, b, c)
		} else {
			denseTimesSparseAdd(alpha, a, b, c)
		}
		return
	}
	if a.kind == SparseCSC {
		a = a.Clone()
		a.SwitchToDense()
	}
	if b.kind == SparseCSC {
		b = b.Clone()
		b.SwitchToDense()
	}
	denseGemm(alpha, a, transA, b, transB, c, m, n, k)
}

// AssignProductOf sets c = op(a) * op(b), resizing c if needed.
func AssignProductOf[T constraints.Float](a *Matrix[T], transA bool, b *Matrix[T], transB bool, c *Matrix[T]) {
	MultiplyAndWeightedAdd(1, a, transA, b, transB, 0, c)
}

// MultiplyAndAdd accumulates c += op(a) * op(b).
func MultiplyAndAdd[T constraints.Float](a *Matrix[T], transA bool, b *Matrix[T], transB bool, c *Matrix[T]) {
	MultiplyAndWeightedAdd(1, a, transA, b, transB, 1, c)
}

// AddScaled accumulates c += alpha * a. Both must have the same dimensions, and c must be dense.
func AddScaled[T constraints.Float](alpha T, a, c *Matrix[T]) {
	if a.rows != c.rows || a.cols != c.cols {
		exceptions.Panicf("AddScaled: dimensions differ, %dx%d vs %dx%d", a.rows, a.cols, c.rows, c.cols)
	}
	c.assertDense("AddScaled")
	if a.kind == SparseCSC {
		a.sparse.forEach(func(r, col int, v T) {
			c.arena.data[c.offset+col*c.stride+r] += alpha * v
		})
		return
	}
	for j := range c.cols {
		dst, src := c.column(j), a.column(j)
		for i := range dst {
			dst[i] += alpha * src[i]
		}
	}
}

func scaleInPlace[T constraints.Float](c *Matrix[T], beta T) {
	if beta == 1 {
		return
	}
	for j := range c.cols {
		col := c.column(j)
		for i := range col {
			if beta == 0 {
				col[i] = 0
			} else {
				col[i] *= beta
			}
		}
	}
}

// denseTimesSparseAdd: c += alpha * a * b, for sparse b: each entry b[k,j] adds a[:,k] to c[:,j].
func denseTimesSparseAdd[T constraints.Float](alpha T, a, b, c *Matrix[T]) {
	b.sparse.forEach(func(k, j int, v T) {
		dst, src := c.column(j), a.column(k)
		scale := alpha * v
		for i := range dst {
			dst[i] += scale * src[i]
		}
	})
}

// denseTimesSparseTransposedAdd: c += alpha * a * bᵀ, for sparse b: each entry b[j,k] adds a[:,k] to c[:,j].
func denseTimesSparseTransposedAdd[T constraints.Float](alpha T, a, b, c *Matrix[T]) {
	b.sparse.forEach(func(j, k int, v T) {
		dst, src := c.column(j), a.column(k)
		scale := alpha * v
		for i := range dst {
			dst[i] += scale * src[i]
		}
	})
}

// denseGemm accumulates c += alpha * op(a) * op(b) (c is already scaled by beta) using BLAS when
// the element type is float32 or float64.
//
// BLAS here is row-major, and a column-major matrix buffer read as row-major is its transpose. So
// the column-major product C = op(A) op(B) is computed as the row-major product Cᵀ = op(B)ᵀ op(A)ᵀ,
// which means swapping the operands, keeping the transpose flags, and using the strides as leading
// dimensions.
func denseGemm[T constraints.Float](alpha T, a *Matrix[T], transA bool, b *Matrix[T], transB bool, c *Matrix[T], m, n, k int) {
	tA, tB := blas.NoTrans, blas.NoTrans
	if transA {
		tA = blas.Trans
	}
	if transB {
		tB = blas.Trans
	}
	switch cBuf := any(c.flat()).(type) {
	case []float32:
		aBuf, bBuf := any(a.flat()).([]float32), any(b.flat()).([]float32)
		blas32.Implementation().Sgemm(tB, tA, n, m, k, any(alpha).(float32),
			bBuf, b.stride, aBuf, a.stride, 1, cBuf, c.stride)
		return
	case []float64:
		aBuf, bBuf := any(a.flat()).([]float64), any(b.flat()).([]float64)
		blas64.Implementation().Dgemm(tB, tA, n, m, k, any(alpha).(float64),
			bBuf, b.stride, aBuf, a.stride, 1, cBuf, c.stride)
		return
	}

	// Named float types: plain loops.
	aAt := func(i, l int) T {
		if transA {
			return a.arena.data[a.offset+i*a.stride+l]
		}
		return a.arena.data[a.offset+l*a.stride+i]
	}
	bAt := func(l, j int) T {
		if transB {
			return b.arena.data[b.offset+l*b.stride+j]
		}
		return b.arena.data[b.offset+j*b.stride+l]
	}
	for j := range n {
		dst := c.column(j)
		for l := range k {
			scale := alpha * bAt(l, j)
			if scale == 0 {
				continue
			}
			for i := range m {
				dst[i] += scale * aAt(i, l)
			}
		}
	}
}
