// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the MTP little-endian primitive codec: the
// fixed- and variable-width encodings that every container, device
// property, and object property descriptor is built from.
package wire

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"
)

// DataTypeCode identifies the wire representation of a value, matching the
// DataTypeCode field of property descriptors.
type DataTypeCode uint16

const (
	TypeUndefined DataTypeCode = 0x0000
	TypeInt8      DataTypeCode = 0x0001
	TypeUInt8     DataTypeCode = 0x0002
	TypeInt16     DataTypeCode = 0x0003
	TypeUInt16    DataTypeCode = 0x0004
	TypeInt32     DataTypeCode = 0x0005
	TypeUInt32    DataTypeCode = 0x0006
	TypeInt64     DataTypeCode = 0x0007
	TypeUInt64    DataTypeCode = 0x0008
	TypeInt128    DataTypeCode = 0x0009
	TypeUInt128   DataTypeCode = 0x000A
	TypeString    DataTypeCode = 0xFFFF

	// arrayBit is OR'd into the element type code to form an Array(T) tag,
	// e.g. Array(UInt32) == 0x4006.
	arrayBit DataTypeCode = 0x4000
)

// ArrayTypeOf returns the wire tag for Array(T) given the element type T.
func ArrayTypeOf(elem DataTypeCode) DataTypeCode {
	return elem | arrayBit
}

// Reader decodes primitives from an in-memory buffer, advancing an
// internal offset. Reads past the end of the buffer return an error
// rather than panicking, so a malformed payload cannot crash the engine.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("wire: short read: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) Int8() (int8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := int8(r.buf[r.off])
	r.off++
	return v, nil
}

func (r *Reader) UInt8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Int16() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.LittleEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	return v, nil
}

func (r *Reader) UInt16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *Reader) UInt32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) Int64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

func (r *Reader) UInt64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// UInt128 returns the value as two little-endian-ordered 64-bit words, low
// word first, matching the source's I128 layout.
func (r *Reader) UInt128() (lo uint64, hi uint64, err error) {
	if lo, err = r.UInt64(); err != nil {
		return 0, 0, err
	}
	if hi, err = r.UInt64(); err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

func (r *Reader) Int128() (lo uint64, hi uint64, err error) {
	return r.UInt128()
}

// String decodes an MTP string: one length byte counting UTF-16 code units
// including the trailing NUL, followed by that many UTF-16LE code units.
// A length byte of 0 denotes the empty string with no further bytes.
func (r *Reader) String() (string, error) {
	n, err := r.UInt8()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if err := r.need(int(n) * 2); err != nil {
		return "", err
	}
	units := make([]uint16, n)
	for i := 0; i < int(n); i++ {
		units[i] = binary.LittleEndian.Uint16(r.buf[r.off:])
		r.off += 2
	}
	// Drop the trailing NUL code unit the length byte counted.
	if units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units)), nil
}

// dateTimeLayout is the MTP DateTime string format: YYYYMMDDThhmmss.
const dateTimeLayout = "20060102T150405"

// DateTime decodes a DateTime value, which is wire-encoded as a String. An
// empty string decodes to the zero time.
func (r *Reader) DateTime() (time.Time, error) {
	s, err := r.String()
	if err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("wire: invalid DateTime %q: %w", s, err)
	}
	return t, nil
}

// ArrayLen reads the u32 element count that prefixes Array(T) values.
func (r *Reader) ArrayLen() (uint32, error) {
	return r.UInt32()
}

// EnumLen reads the u16 element count that prefixes Enum(T) / form-list
// values (the same layout as Array, but with a 16-bit count).
func (r *Reader) EnumLen() (uint16, error) {
	return r.UInt16()
}

// Bytes returns the next n raw bytes without interpretation (used for
// opaque object data payloads).
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Rest returns all remaining undecoded bytes.
func (r *Reader) Rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

// Writer accumulates an MTP-encoded payload.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) Int8(v int8)   { w.buf = append(w.buf, byte(v)) }
func (w *Writer) UInt8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Int16(v int16)   { w.UInt16(uint16(v)) }
func (w *Writer) UInt16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) Int32(v int32)   { w.UInt32(uint32(v)) }
func (w *Writer) UInt32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) Int64(v int64)   { w.UInt64(uint64(v)) }
func (w *Writer) UInt64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// UInt128 appends a 128-bit value as two little-endian 64-bit words, low
// word first.
func (w *Writer) UInt128(lo, hi uint64) {
	w.UInt64(lo)
	w.UInt64(hi)
}

func (w *Writer) Int128(lo, hi uint64) { w.UInt128(lo, hi) }

// String appends an MTP string: a length byte (code-unit count including
// the trailing NUL) followed by UTF-16LE code units. The empty string
// encodes as a single zero length byte.
func (w *Writer) String(s string) error {
	if s == "" {
		w.UInt8(0)
		return nil
	}
	units := utf16.Encode([]rune(s))
	n := len(units) + 1 // + trailing NUL
	if n > 255 {
		return fmt.Errorf("wire: string %q too long for MTP string encoding (%d code units)", s, n)
	}
	w.UInt8(uint8(n))
	for _, u := range units {
		w.UInt16(u)
	}
	w.UInt16(0)
	return nil
}

// DateTime appends a DateTime value as a String in YYYYMMDDThhmmss form.
// The zero time encodes as the empty string.
func (w *Writer) DateTime(t time.Time) error {
	if t.IsZero() {
		return w.String("")
	}
	return w.String(t.UTC().Format(dateTimeLayout))
}

// ArrayLen appends the u32 element count that prefixes Array(T) values.
func (w *Writer) ArrayLen(n uint32) { w.UInt32(n) }

// EnumLen appends the u16 element count that prefixes Enum(T) values.
func (w *Writer) EnumLen(n uint16) { w.UInt16(n) }

// Raw appends uninterpreted bytes.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// AppendUInt32Array writes an Array(UInt32), the common shape for handle
// lists and storage id lists.
func AppendUInt32Array(w *Writer, vals []uint32) {
	w.ArrayLen(uint32(len(vals)))
	for _, v := range vals {
		w.UInt32(v)
	}
}

// ReadUInt32Array reads an Array(UInt32).
func ReadUInt32Array(r *Reader) ([]uint32, error) {
	n, err := r.ArrayLen()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := r.UInt32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// AppendUInt16Array writes an Array(UInt16), the shape DeviceInfo uses for
// its supported-operations/events/properties/format lists.
func AppendUInt16Array(w *Writer, vals []uint16) {
	w.ArrayLen(uint32(len(vals)))
	for _, v := range vals {
		w.UInt16(v)
	}
}

// ReadUInt16Array reads an Array(UInt16).
func ReadUInt16Array(r *Reader) ([]uint16, error) {
	n, err := r.ArrayLen()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		v, err := r.UInt16()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
