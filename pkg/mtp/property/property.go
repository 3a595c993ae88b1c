// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package property implements the MTP property/descriptor model (C4):
// device properties and object properties share one representation of
// value/default/permission/form, differing only in their descriptor's
// trailing field (current value vs. group code).
package property

import (
	"fmt"
	"time"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
)

// Codec packs and unpacks one primitive type to/from its boxed Go value,
// replacing the source's dynamically-typed boxed primitives (see
// DESIGN.md) with a small closed set of concrete implementations
// satisfying a shared interface.
type Codec interface {
	TypeCode() wire.DataTypeCode
	Pack(w *wire.Writer, v any) error
	Unpack(r *wire.Reader) (any, error)
}

type uint8Codec struct{}

func (uint8Codec) TypeCode() wire.DataTypeCode { return wire.TypeUInt8 }
func (uint8Codec) Pack(w *wire.Writer, v any) error {
	w.UInt8(v.(uint8))
	return nil
}
func (uint8Codec) Unpack(r *wire.Reader) (any, error) { return r.UInt8() }

type uint16Codec struct{}

func (uint16Codec) TypeCode() wire.DataTypeCode { return wire.TypeUInt16 }
func (uint16Codec) Pack(w *wire.Writer, v any) error {
	w.UInt16(v.(uint16))
	return nil
}
func (uint16Codec) Unpack(r *wire.Reader) (any, error) { return r.UInt16() }

type uint32Codec struct{}

func (uint32Codec) TypeCode() wire.DataTypeCode { return wire.TypeUInt32 }
func (uint32Codec) Pack(w *wire.Writer, v any) error {
	w.UInt32(v.(uint32))
	return nil
}
func (uint32Codec) Unpack(r *wire.Reader) (any, error) { return r.UInt32() }

type uint64Codec struct{}

func (uint64Codec) TypeCode() wire.DataTypeCode { return wire.TypeUInt64 }
func (uint64Codec) Pack(w *wire.Writer, v any) error {
	w.UInt64(v.(uint64))
	return nil
}
func (uint64Codec) Unpack(r *wire.Reader) (any, error) { return r.UInt64() }

type stringCodec struct{}

func (stringCodec) TypeCode() wire.DataTypeCode { return wire.TypeString }
func (stringCodec) Pack(w *wire.Writer, v any) error {
	return w.String(v.(string))
}
func (stringCodec) Unpack(r *wire.Reader) (any, error) { return r.String() }

// Uint128 is the boxed value 128-bit properties pack.
type Uint128 struct{ Lo, Hi uint64 }

type uint128Codec struct{}

func (uint128Codec) TypeCode() wire.DataTypeCode { return wire.TypeUInt128 }
func (uint128Codec) Pack(w *wire.Writer, v any) error {
	u := v.(Uint128)
	w.UInt128(u.Lo, u.Hi)
	return nil
}
func (uint128Codec) Unpack(r *wire.Reader) (any, error) {
	lo, hi, err := r.UInt128()
	if err != nil {
		return nil, err
	}
	return Uint128{Lo: lo, Hi: hi}, nil
}

type dateTimeCodec struct{}

func (dateTimeCodec) TypeCode() wire.DataTypeCode { return wire.TypeString }
func (dateTimeCodec) Pack(w *wire.Writer, v any) error {
	return w.DateTime(v.(time.Time))
}
func (dateTimeCodec) Unpack(r *wire.Reader) (any, error) { return r.DateTime() }

// Well-known codecs, exported so callers can build descriptors without
// constructing the unexported implementations directly.
var (
	UInt8    Codec = uint8Codec{}
	UInt16   Codec = uint16Codec{}
	UInt32   Codec = uint32Codec{}
	UInt64   Codec = uint64Codec{}
	UInt128  Codec = uint128Codec{}
	Str      Codec = stringCodec{}
	DateTime Codec = dateTimeCodec{}
)

// Form is the optional descriptor body attached to a property, selected by
// Flag. Only Range and Enumeration carry a body in this implementation;
// the remaining flags (DateTime, FixedLengthArray, Regex, ByteArray,
// LongString) are accepted on properties but have no associated body to
// pack beyond the flag byte itself, matching the properties this
// responder actually exposes.
type Form struct {
	Flag FormFlag
	// Range, used when Flag == FormRange.
	Min, Max, Step any
	// Enum, used when Flag == FormEnumeration.
	Enum []any
}

type FormFlag = proto.FormFlag

const (
	FormNone             = proto.FormNone
	FormRange            = proto.FormRange
	FormEnumeration      = proto.FormEnumeration
	FormDateTime         = proto.FormDateTime
	FormFixedLengthArray = proto.FormFixedLengthArray
	FormRegex            = proto.FormRegex
	FormByteArray        = proto.FormByteArray
	FormLongString       = proto.FormLongString
)

func (f Form) pack(w *wire.Writer, codec Codec) error {
	w.UInt8(uint8(f.Flag))
	switch f.Flag {
	case FormRange:
		if err := codec.Pack(w, f.Min); err != nil {
			return err
		}
		if err := codec.Pack(w, f.Max); err != nil {
			return err
		}
		return codec.Pack(w, f.Step)
	case FormEnumeration:
		w.EnumLen(uint16(len(f.Enum)))
		for _, v := range f.Enum {
			if err := codec.Pack(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// AccessDeniedError is returned by SetValue/ResetValue on a read-only
// property, and mirrors 1:1 onto proto.AccessDenied at the dispatch
// boundary.
var AccessDeniedError = fmt.Errorf("mtp: property is read-only")

// DeviceProperty is a device-scoped property: code, type, permission,
// current/default value, and an optional form, matching the wire layout
// `code | dtype | perm | default_value | current_value | form_flag [ | form ]`.
type DeviceProperty struct {
	Code     proto.DevicePropCode
	Codec    Codec
	Writable bool
	Default  any
	Current  any
	Form     Form
}

func (p *DeviceProperty) PackDesc(w *wire.Writer) error {
	w.UInt16(uint16(p.Code))
	w.UInt16(uint16(p.Codec.TypeCode()))
	w.UInt8(permByte(p.Writable))
	if err := p.Codec.Pack(w, p.Default); err != nil {
		return err
	}
	if err := p.Codec.Pack(w, p.Current); err != nil {
		return err
	}
	return p.Form.pack(w, p.Codec)
}

func (p *DeviceProperty) PackValue(w *wire.Writer) error {
	return p.Codec.Pack(w, p.Current)
}

// SetValue decodes buf with the property's codec and, if the property is
// writable, installs it as the current value. A read-only property
// returns AccessDeniedError and leaves Current unchanged.
func (p *DeviceProperty) SetValue(r *wire.Reader) error {
	if !p.Writable {
		return AccessDeniedError
	}
	v, err := p.Codec.Unpack(r)
	if err != nil {
		return err
	}
	p.Current = v
	return nil
}

// ResetValue restores Current to Default. Resetting inherits the writable
// gate: a read-only property returns AccessDeniedError, and a wildcard
// reset (see objtree) is expected to skip such properties rather than
// propagate the error.
func (p *DeviceProperty) ResetValue() error {
	if !p.Writable {
		return AccessDeniedError
	}
	p.Current = p.Default
	return nil
}

// ObjectProperty is one entry of an object's fixed property set: code,
// type, permission, default and current value, and a group code that the
// descriptor carries where a device property's carries the current value,
// matching the wire layout
// `code | dtype | perm | default_value | group_code:u32 | form_flag [ | form ]`.
type ObjectProperty struct {
	Code      proto.ObjectPropCode
	Codec     Codec
	Writable  bool
	Default   any
	GroupCode uint32
	Form      Form
	Current   any
}

func (p *ObjectProperty) PackDesc(w *wire.Writer) error {
	w.UInt16(uint16(p.Code))
	w.UInt16(uint16(p.Codec.TypeCode()))
	w.UInt8(permByte(p.Writable))
	if err := p.Codec.Pack(w, p.Default); err != nil {
		return err
	}
	w.UInt32(p.GroupCode)
	return p.Form.pack(w, p.Codec)
}

func (p *ObjectProperty) PackValue(w *wire.Writer) error {
	return p.Codec.Pack(w, p.Current)
}

func (p *ObjectProperty) SetValue(r *wire.Reader) error {
	if !p.Writable {
		return AccessDeniedError
	}
	v, err := p.Codec.Unpack(r)
	if err != nil {
		return err
	}
	p.Current = v
	return nil
}

func permByte(writable bool) uint8 {
	if writable {
		return 1
	}
	return 0
}
