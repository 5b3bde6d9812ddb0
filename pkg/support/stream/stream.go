// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stream implements the little-endian binary primitives used to save and load models.
//
// Both Writer and Reader keep the first error they encounter ("sticky" error): after a failure all
// further operations are no-ops, and the error is reported by Err. This allows serialization code
// to be written as a straight sequence of calls with a single error check at the end:
//
//	w := stream.NewWriter(f)
//	w.WriteString(name)
//	w.WriteUint32(rank)
//	if err := w.Err(); err != nil { ... }
//
// Markers are short strings written before and after sections of the stream, and verified while
// reading, so that misaligned reads are detected as early as possible.
package stream

import (
	"encoding/binary"
	"io"
	"math"
	"slices"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// MaxStringLength is the largest string accepted by Reader.ReadString.
const MaxStringLength = 1 << 20

// readChunkLength is the number of elements of slices allocated at a time while reading, so that a
// corrupt length hits the end of the stream before allocating the whole slice.
const readChunkLength = 1 << 16

// Writer writes binary values to an io.Writer.
type Writer struct {
	w   io.Writer
	err error
	buf [8]byte
	n   int64
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error that happened while writing.
func (w *Writer) Err() error { return w.err }

// BytesWritten returns the number of bytes successfully written so far.
func (w *Writer) BytesWritten() int64 { return w.n }

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil {
		w.err = errors.Wrapf(err, "failed to write %d bytes at offset %d", len(p), w.n)
	}
}

// WriteUint32 writes v as 4 bytes.
func (w *Writer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

// WriteUint64 writes v as 8 bytes.
func (w *Writer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

// WriteInt64 writes v as 8 bytes.
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

// WriteFloat64 writes the IEEE-754 bits of v.
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBool writes v as one byte.
func (w *Writer) WriteBool(v bool) {
	w.buf[0] = 0
	if v {
		w.buf[0] = 1
	}
	w.write(w.buf[:1])
}

// WriteString writes the length of s followed by its bytes.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.write([]byte(s))
}

// WriteMarker writes a section marker. See Reader.ExpectMarker.
func (w *Writer) WriteMarker(marker string) { w.WriteString(marker) }

// WriteDType writes the dtype tag.
func (w *Writer) WriteDType(dtype dtypes.DType) { w.WriteUint32(uint32(dtype)) }

// WriteInts writes the length of values followed by each value as 8 bytes.
func (w *Writer) WriteInts(values []int) {
	w.WriteUint64(uint64(len(values)))
	for _, v := range values {
		w.WriteInt64(int64(v))
	}
}

// WriteFloats writes the raw IEEE-754 representation of values, without a length prefix.
// The exact bits are preserved.
func WriteFloats[T constraints.Float](w *Writer, values []T) {
	if w.err != nil || len(values) == 0 {
		return
	}
	var zero T
	switch unsafe.Sizeof(zero) {
	case 4:
		buf := make([]byte, 4*len(values))
		for ii, v := range values {
			binary.LittleEndian.PutUint32(buf[4*ii:], math.Float32bits(float32(v)))
		}
		w.write(buf)
	default:
		buf := make([]byte, 8*len(values))
		for ii, v := range values {
			binary.LittleEndian.PutUint64(buf[8*ii:], math.Float64bits(float64(v)))
		}
		w.write(buf)
	}
}

// Reader reads binary values written by Writer.
type Reader struct {
	r   io.Reader
	err error
	buf [8]byte
	n   int64
}

// NewReader returns a Reader that reads from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error that happened while reading.
func (r *Reader) Err() error { return r.err }

// SetErr sets the sticky error of the reader, if one is not set yet.
// It is used by decoders that detect inconsistent contents.
func (r *Reader) SetErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

// BytesRead returns the number of bytes successfully read so far.
func (r *Reader) BytesRead() int64 { return r.n }

func (r *Reader) read(p []byte) bool {
	if r.err != nil {
		return false
	}
	n, err := io.ReadFull(r.r, p)
	r.n += int64(n)
	if err != nil {
		r.err = errors.Wrapf(err, "failed to read %d bytes at offset %d", len(p), r.n)
		return false
	}
	return true
}

// ReadUint32 reads 4 bytes.
func (r *Reader) ReadUint32() uint32 {
	if !r.read(r.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[:4])
}

// ReadUint64 reads 8 bytes.
func (r *Reader) ReadUint64() uint64 {
	if !r.read(r.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(r.buf[:8])
}

// ReadInt64 reads 8 bytes.
func (r *Reader) ReadInt64() int64 { return int64(r.ReadUint64()) }

// ReadFloat64 reads the IEEE-754 bits of a float64.
func (r *Reader) ReadFloat64() float64 { return math.Float64frombits(r.ReadUint64()) }

// ReadBool reads one byte.
func (r *Reader) ReadBool() bool {
	if !r.read(r.buf[:1]) {
		return false
	}
	return r.buf[0] != 0
}

// ReadString reads a string written by Writer.WriteString.
func (r *Reader) ReadString() string {
	length := r.ReadUint32()
	if r.err != nil {
		return ""
	}
	if length > MaxStringLength {
		r.err = errors.Errorf("string length %d at offset %d exceeds maximum %d", length, r.n, MaxStringLength)
		return ""
	}
	data := make([]byte, length)
	if !r.read(data) {
		return ""
	}
	return string(data)
}

// ExpectMarker reads a marker and sets the reader error if it doesn't match.
func (r *Reader) ExpectMarker(marker string) {
	got := r.ReadString()
	if r.err != nil {
		return
	}
	if got != marker {
		r.err = errors.Errorf("expected marker %q at offset %d, got %q", marker, r.n, got)
	}
}

// ReadDType reads a dtype tag.
func (r *Reader) ReadDType() dtypes.DType { return dtypes.DType(r.ReadUint32()) }

// ReadInts reads values written by Writer.WriteInts.
func (r *Reader) ReadInts() []int {
	length := r.ReadUint64()
	if r.err != nil {
		return nil
	}
	if length > math.MaxInt32 {
		r.err = errors.Errorf("invalid slice length %d at offset %d", length, r.n)
		return nil
	}
	values := make([]int, 0, min(length, readChunkLength))
	for range length {
		v := r.ReadInt64()
		if r.err != nil {
			return nil
		}
		values = append(values, int(v))
	}
	return values
}

// ReadFloats fills values with the raw IEEE-754 representation written by WriteFloats.
func ReadFloats[T constraints.Float](r *Reader, values []T) {
	if r.err != nil || len(values) == 0 {
		return
	}
	var zero T
	switch unsafe.Sizeof(zero) {
	case 4:
		buf := make([]byte, 4*len(values))
		if !r.read(buf) {
			return
		}
		for ii := range values {
			values[ii] = T(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*ii:])))
		}
	default:
		buf := make([]byte, 8*len(values))
		if !r.read(buf) {
			return
		}
		for ii := range values {
			values[ii] = T(math.Float64frombits(binary.LittleEndian.Uint64(buf[8*ii:])))
		}
	}
}

// ReadFloatsN reads n values written by WriteFloats. The slice grows in chunks as the data arrives.
func ReadFloatsN[T constraints.Float](r *Reader, n uint64) []T {
	values := make([]T, 0, min(n, readChunkLength))
	for uint64(len(values)) < n && r.err == nil {
		start := len(values)
		chunk := int(min(n-uint64(start), readChunkLength))
		values = slices.Grow(values, chunk)[:start+chunk]
		ReadFloats(r, values[start:])
	}
	if r.err != nil {
		return nil
	}
	return values
}
