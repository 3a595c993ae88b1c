// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package container implements the MTP message layer (C2): the four
// container shapes framed over a single 12-byte header, and the
// parameter-array accessors Command and Response share.
package container

import (
	"fmt"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
)

const headerLen = 12

// Header is the common prefix of every container.
type Header struct {
	Length uint32
	Type   proto.ContainerType
	Code   uint16
	TID    uint32
}

// ParamContainer represents a Command or Response container: a header
// followed by a sequence of u32 parameters.
type ParamContainer struct {
	Header
	params []uint32
}

// NewCommand builds a Command container for the given operation and
// parameters.
func NewCommand(tid uint32, opcode proto.OperationCode, params ...uint32) *ParamContainer {
	return &ParamContainer{
		Header: Header{Type: proto.ContainerCommand, Code: uint16(opcode), TID: tid},
		params: append([]uint32(nil), params...),
	}
}

// ResponseFromCommand starts a Response sharing the command's transaction
// id, defaulting to OK, per §4.2.
func ResponseFromCommand(cmd *ParamContainer) *ParamContainer {
	return &ParamContainer{
		Header: Header{Type: proto.ContainerResponse, Code: uint16(proto.OK), TID: cmd.TID},
	}
}

func (p *ParamContainer) Opcode() proto.OperationCode          { return proto.OperationCode(p.Code) }
func (p *ParamContainer) ResponseCode() proto.ResponseCode     { return proto.ResponseCode(p.Code) }
func (p *ParamContainer) SetResponseCode(c proto.ResponseCode) { p.Code = uint16(c) }

func (p *ParamContainer) NumParams() int { return len(p.params) }

// GetParam returns the i'th parameter, or (0, false) if out of range.
func (p *ParamContainer) GetParam(i int) (uint32, bool) {
	if i < 0 || i >= len(p.params) {
		return 0, false
	}
	return p.params[i], true
}

// AddParam appends a response parameter.
func (p *ParamContainer) AddParam(v uint32) { p.params = append(p.params, v) }

// Marshal serializes the container to its wire form.
func (p *ParamContainer) Marshal() []byte {
	w := wire.NewWriter()
	w.UInt32(uint32(headerLen + 4*len(p.params)))
	w.UInt16(uint16(p.Type))
	w.UInt16(p.Code)
	w.UInt32(p.TID)
	for _, v := range p.params {
		w.UInt32(v)
	}
	return w.Bytes()
}

// ErrInvalidCodeFormat is wrapped into errors raised for malformed
// containers. The engine returns such errors to its caller as plain Go
// errors; they are not encoded onto a Response.
var ErrInvalidCodeFormat = fmt.Errorf("mtp: invalid container framing")

// parseHeader reads the common 12-byte prefix. In permissive mode a
// declared length greater than the buffer is tolerated (used to accept
// the first fragment of a multi-chunk Data container); it is never
// tolerated for Command/Response containers or when the declared length
// is smaller than the buffer.
func parseHeader(buf []byte, permissive bool) (Header, []byte, error) {
	if len(buf) < headerLen {
		return Header{}, nil, fmt.Errorf("%w: short header (%d bytes)", ErrInvalidCodeFormat, len(buf))
	}
	r := wire.NewReader(buf)
	length, _ := r.UInt32()
	ctype, _ := r.UInt16()
	code, _ := r.UInt16()
	tid, _ := r.UInt32()
	h := Header{Length: length, Type: proto.ContainerType(ctype), Code: code, TID: tid}

	if int(length) != len(buf) {
		if !permissive || int(length) < len(buf) {
			return Header{}, nil, fmt.Errorf("%w: declared length %d does not match buffer length %d", ErrInvalidCodeFormat, length, len(buf))
		}
	}
	return h, buf[headerLen:], nil
}

// ParseParamContainer decodes a Command or Response container from buf.
// The payload length must be 12 + 4k; any other length is a framing
// failure reported as ErrInvalidCodeFormat.
func ParseParamContainer(buf []byte) (*ParamContainer, error) {
	h, body, err := parseHeader(buf, false)
	if err != nil {
		return nil, err
	}
	if len(body)%4 != 0 {
		return nil, fmt.Errorf("%w: parameter payload length %d not a multiple of 4", ErrInvalidCodeFormat, len(body))
	}
	r := wire.NewReader(body)
	params := make([]uint32, 0, len(body)/4)
	for r.Remaining() > 0 {
		v, err := r.UInt32()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCodeFormat, err)
		}
		params = append(params, v)
	}
	return &ParamContainer{Header: h, params: params}, nil
}

// DataContainer represents a Data or Event container: a header followed by
// an opaque payload.
type DataContainer struct {
	Header
	Payload []byte
}

// NewData builds a Data container carrying payload, sharing tid and code
// with the command it answers.
func NewData(tid uint32, opcode proto.OperationCode, payload []byte) *DataContainer {
	return &DataContainer{
		Header:  Header{Type: proto.ContainerData, Code: uint16(opcode), TID: tid, Length: uint32(headerLen + len(payload))},
		Payload: payload,
	}
}

// HasAllData reports whether Payload is exactly as long as the length
// declared in the header, per §4.2.
func (d *DataContainer) HasAllData() bool {
	return uint32(len(d.Payload))+headerLen == d.Length
}

// Marshal serializes the container to its wire form.
func (d *DataContainer) Marshal() []byte {
	w := wire.NewWriter()
	w.UInt32(d.Length)
	w.UInt16(uint16(d.Type))
	w.UInt16(d.Code)
	w.UInt32(d.TID)
	w.Raw(d.Payload)
	return w.Bytes()
}

// ParseDataPermissive decodes the first fragment of a Data container. The
// declared length may exceed the buffer length; the caller is expected to
// append subsequent chunks (via AppendChunk) until HasAllData is true.
func ParseDataPermissive(buf []byte) (*DataContainer, error) {
	h, body, err := parseHeader(buf, true)
	if err != nil {
		return nil, err
	}
	return &DataContainer{Header: h, Payload: append([]byte(nil), body...)}, nil
}

// AppendChunk appends a WAIT_MORE_DATA continuation chunk to the payload.
func (d *DataContainer) AppendChunk(chunk []byte) {
	d.Payload = append(d.Payload, chunk...)
}

// PeekContainerType reads just the container type field (bytes 4-5) of a
// raw payload without validating the rest of the header. The engine does
// not call it: in WAIT_MORE_DATA it appends every payload as raw data.
func PeekContainerType(buf []byte) (proto.ContainerType, error) {
	if len(buf) < headerLen {
		return 0, fmt.Errorf("%w: short header (%d bytes)", ErrInvalidCodeFormat, len(buf))
	}
	r := wire.NewReader(buf[4:6])
	v, err := r.UInt16()
	if err != nil {
		return 0, err
	}
	return proto.ContainerType(v), nil
}
