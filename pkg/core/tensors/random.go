// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/binary"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// newSource returns the random source used to initialize matrices on the given device.
// The host uses a PCG generator, accelerators a ChaCha8 generator keyed by the seed and the device id.
// For a fixed seed and device, values are reproducible.
func newSource(seed uint64, device DeviceID) rand.Source {
	if device.IsCPU() {
		return rand.NewPCG(seed, seed)
	}
	var key [32]byte
	binary.LittleEndian.PutUint64(key[0:8], seed)
	binary.LittleEndian.PutUint64(key[8:16], uint64(device))
	return rand.NewChaCha8(key)
}

// SetUniformRandomValue sets every element to a value drawn uniformly from [low, high).
// The matrix becomes dense.
func (m *Matrix[T]) SetUniformRandomValue(low, high float64, seed uint64) {
	dist := distuv.Uniform{Min: low, Max: high, Src: newSource(seed, m.device)}
	m.fillWith(dist.Rand)
}

// SetGaussianRandomValue sets every element to a value drawn from a normal distribution.
// The matrix becomes dense.
func (m *Matrix[T]) SetGaussianRandomValue(mean, stddev float64, seed uint64) {
	dist := distuv.Normal{Mu: mean, Sigma: stddev, Src: newSource(seed, m.device)}
	m.fillWith(dist.Rand)
}

// fillWith sets the values in column-major order.
func (m *Matrix[T]) fillWith(fn func() float64) {
	if m.kind == SparseCSC {
		m.SwitchToDense()
	}
	for j := range m.cols {
		col := m.column(j)
		for i := range col {
			col[i] = T(fn())
		}
	}
}
