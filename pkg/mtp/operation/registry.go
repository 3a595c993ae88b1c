// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package operation implements the MTP operation registry and dispatch
// gate (C5): an explicit `{opcode, handler, min_params, session_required,
// requires_ir_data}` table built once at startup, replacing the source's
// decorator-populated global dict (see DESIGN.md, REDESIGN FLAGS).
package operation

import (
	"fmt"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/container"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/objtree"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
)

// Handler implements one opcode's semantics. It may mutate resp (code and
// parameters) and return a responder-to-initiator Data payload. Handlers
// signal protocol-level failure by returning a *proto.Error (via
// proto.Err); any other error is treated as a framing/programming error
// and propagated to the transport.
type Handler func(dev *objtree.Device, cmd *container.ParamContainer, resp *container.ParamContainer, irData []byte) ([]byte, error)

// Entry is one opcode's registration.
type Entry struct {
	Opcode          proto.OperationCode
	Name            string
	Handler         Handler
	MinParams       int
	SessionRequired bool
	RequiresIRData  bool
}

// Registry is the immutable opcode -> Entry table consulted by the
// engine. It is populated exactly once at startup; Register returns an
// error (never panics) if an opcode is registered twice, matching the
// "duplicate registration is a configuration error (fatal)" invariant.
type Registry struct {
	entries map[proto.OperationCode]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[proto.OperationCode]*Entry)}
}

// Register adds e to the registry. Calling it twice for the same opcode
// is a fatal configuration error.
func (r *Registry) Register(e Entry) error {
	if _, exists := r.entries[e.Opcode]; exists {
		return fmt.Errorf("operation: opcode %#04x (%s) already registered", uint16(e.Opcode), e.Name)
	}
	entry := e
	r.entries[e.Opcode] = &entry
	return nil
}

// Lookup returns the entry for opcode, or (nil, false) if it is not
// registered (OPERATION_NOT_SUPPORTED territory).
func (r *Registry) Lookup(opcode proto.OperationCode) (*Entry, bool) {
	e, ok := r.entries[opcode]
	return e, ok
}

// Opcodes returns every registered opcode, used to populate
// DeviceInfo.OperationsSupported.
func (r *Registry) Opcodes() []uint16 {
	out := make([]uint16, 0, len(r.entries))
	for op := range r.entries {
		out = append(out, uint16(op))
	}
	return out
}

// Gate applies the uniform dispatch gate of §4.5.2 before invoking a
// handler: parameter count, session requirement, and data requirement.
// irDataPresent distinguishes "no Data message was received" from "a
// Data message of zero length was received", since only the former gates.
func Gate(e *Entry, dev *objtree.Device, cmd *container.ParamContainer, irDataPresent bool) error {
	if cmd.NumParams() < e.MinParams {
		return proto.Err(proto.ParameterNotSupported)
	}
	if e.SessionRequired {
		if _, open := dev.SessionID(); !open {
			return proto.Err(proto.SessionNotOpen)
		}
	}
	if e.RequiresIRData && !irDataPresent {
		return proto.Err(proto.InvalidDataset)
	}
	return nil
}

// Dispatch runs the gate and, if it passes, the handler, mapping a
// returned *proto.Error onto resp's response code rather than letting it
// propagate. Any other error is returned to the caller as a
// framing/programming failure.
func Dispatch(e *Entry, dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte, irDataPresent bool) ([]byte, error) {
	if err := Gate(e, dev, cmd, irDataPresent); err != nil {
		resp.SetResponseCode(proto.CodeOf(err))
		return nil, nil
	}
	data, err := e.Handler(dev, cmd, resp, irData)
	if err != nil {
		if pe, ok := err.(*proto.Error); ok {
			resp.SetResponseCode(pe.Code)
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
