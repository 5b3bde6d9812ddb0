// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stream_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/leafnodes/pkg/support/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	w.WriteMarker("BEGIN")
	w.WriteUint32(7)
	w.WriteUint64(1 << 40)
	w.WriteInt64(-3)
	w.WriteFloat64(0.125)
	w.WriteBool(true)
	w.WriteString("weights")
	w.WriteDType(dtypes.Float32)
	w.WriteInts([]int{2, 3, 5})
	stream.WriteFloats(w, []float32{1.5, -2, float32(math.Inf(1))})
	w.WriteMarker("END")
	require.NoError(t, w.Err())
	require.Equal(t, int64(buf.Len()), w.BytesWritten())

	r := stream.NewReader(&buf)
	r.ExpectMarker("BEGIN")
	assert.Equal(t, uint32(7), r.ReadUint32())
	assert.Equal(t, uint64(1<<40), r.ReadUint64())
	assert.Equal(t, int64(-3), r.ReadInt64())
	assert.Equal(t, 0.125, r.ReadFloat64())
	assert.True(t, r.ReadBool())
	assert.Equal(t, "weights", r.ReadString())
	assert.Equal(t, dtypes.Float32, r.ReadDType())
	assert.Equal(t, []int{2, 3, 5}, r.ReadInts())
	floats := make([]float32, 3)
	stream.ReadFloats(r, floats)
	assert.Equal(t, []float32{1.5, -2, float32(math.Inf(1))}, floats)
	r.ExpectMarker("END")
	require.NoError(t, r.Err())
}

func TestFloatBitsPreserved(t *testing.T) {
	nan := math.Float64frombits(0x7ff8_0000_dead_beef)
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	stream.WriteFloats(w, []float64{nan, math.Copysign(0, -1)})
	require.NoError(t, w.Err())

	r := stream.NewReader(&buf)
	values := make([]float64, 2)
	stream.ReadFloats(r, values)
	require.NoError(t, r.Err())
	assert.Equal(t, uint64(0x7ff8_0000_dead_beef), math.Float64bits(values[0]))
	assert.Equal(t, uint64(1<<63), math.Float64bits(values[1]))
}

func TestReaderErrors(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	w.WriteMarker("BNode")
	require.NoError(t, w.Err())

	r := stream.NewReader(bytes.NewReader(buf.Bytes()))
	r.ExpectMarker("BMAT")
	require.Error(t, r.Err())
	// Sticky: subsequent reads are no-ops.
	assert.Equal(t, uint32(0), r.ReadUint32())
	assert.ErrorContains(t, r.Err(), "BMAT")

	// Truncated stream.
	r = stream.NewReader(bytes.NewReader([]byte{1, 2}))
	_ = r.ReadUint32()
	require.Error(t, r.Err())
}

func TestReadFloatsN(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf)
	values := make([]float32, 100_000)
	for ii := range values {
		values[ii] = float32(ii) / 8
	}
	stream.WriteFloats(w, values)
	require.NoError(t, w.Err())
	saved := buf.Bytes()

	r := stream.NewReader(bytes.NewReader(saved))
	assert.Equal(t, values, stream.ReadFloatsN[float32](r, uint64(len(values))))
	require.NoError(t, r.Err())

	r = stream.NewReader(bytes.NewReader(saved))
	assert.Empty(t, stream.ReadFloatsN[float32](r, 0))
	require.NoError(t, r.Err())

	// A length far beyond the end of the stream fails without allocating all of it.
	r = stream.NewReader(bytes.NewReader(saved))
	assert.Nil(t, stream.ReadFloatsN[float32](r, 1<<34))
	require.Error(t, r.Err())

	// Same for ints.
	buf.Reset()
	w = stream.NewWriter(&buf)
	w.WriteUint64(1 << 30)
	w.WriteInt64(1)
	require.NoError(t, w.Err())
	r = stream.NewReader(&buf)
	assert.Nil(t, r.ReadInts())
	require.Error(t, r.Err())
}
