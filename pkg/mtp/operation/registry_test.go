// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package operation

import (
	"errors"
	"testing"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/container"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/objtree"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
)

var errBoom = errors.New("boom")

func noopHandler(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	return nil, nil
}

func TestRegisterRejectsDuplicateOpcode(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Entry{Opcode: proto.OpGetDeviceInfo, Name: "a", Handler: noopHandler}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := r.Register(Entry{Opcode: proto.OpGetDeviceInfo, Name: "b", Handler: noopHandler})
	if err == nil {
		t.Fatal("expected an error registering a duplicate opcode")
	}
}

func TestGateParamCountBeforeSession(t *testing.T) {
	e := &Entry{Opcode: proto.OpOpenSession, MinParams: 2, SessionRequired: true}
	dev := objtree.NewDevice(objtree.DeviceInfo{})
	cmd := container.NewCommand(1, proto.OpOpenSession, 1) // one param, needs two

	err := Gate(e, dev, cmd, false)
	if proto.CodeOf(err) != proto.ParameterNotSupported {
		t.Errorf("code = %v, want ParameterNotSupported (checked before session)", proto.CodeOf(err))
	}
}

func TestGateSessionBeforeIRData(t *testing.T) {
	e := &Entry{Opcode: proto.OpSendObjectInfo, MinParams: 0, SessionRequired: true, RequiresIRData: true}
	dev := objtree.NewDevice(objtree.DeviceInfo{})
	cmd := container.NewCommand(1, proto.OpSendObjectInfo)

	err := Gate(e, dev, cmd, false)
	if proto.CodeOf(err) != proto.SessionNotOpen {
		t.Errorf("code = %v, want SessionNotOpen (checked before ir_data)", proto.CodeOf(err))
	}

	if err := dev.OpenSession(1); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	err = Gate(e, dev, cmd, false)
	if proto.CodeOf(err) != proto.InvalidDataset {
		t.Errorf("code = %v, want InvalidDataset once session is open", proto.CodeOf(err))
	}

	err = Gate(e, dev, cmd, true)
	if err != nil {
		t.Errorf("Gate with ir data present: %v, want nil", err)
	}
}

func TestDispatchMapsProtocolErrorOntoResponse(t *testing.T) {
	failing := Entry{
		Opcode: proto.OpGetObjectInfo,
		Handler: func(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
			return nil, proto.Err(proto.InvalidObjectHandle)
		},
	}
	dev := objtree.NewDevice(objtree.DeviceInfo{})
	cmd := container.NewCommand(1, proto.OpGetObjectInfo, 0xDEAD)
	resp := container.ResponseFromCommand(cmd)

	data, err := Dispatch(&failing, dev, cmd, resp, nil, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if data != nil {
		t.Errorf("data = %v, want nil on protocol failure", data)
	}
	if resp.ResponseCode() != proto.InvalidObjectHandle {
		t.Errorf("ResponseCode = %v, want InvalidObjectHandle", resp.ResponseCode())
	}
}

func TestDispatchPropagatesNonProtocolError(t *testing.T) {
	boom := Entry{
		Opcode: proto.OpGetObjectInfo,
		Handler: func(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
			return nil, errBoom
		},
	}
	dev := objtree.NewDevice(objtree.DeviceInfo{})
	cmd := container.NewCommand(1, proto.OpGetObjectInfo)
	resp := container.ResponseFromCommand(cmd)

	_, err := Dispatch(&boom, dev, cmd, resp, nil, false)
	if err != errBoom {
		t.Errorf("err = %v, want errBoom to propagate untouched", err)
	}
}

func TestDefaultRegistryHasNoDuplicates(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}
	if _, ok := reg.Lookup(proto.OpGetDeviceInfo); !ok {
		t.Error("GetDeviceInfo should be registered")
	}
	if _, ok := reg.Lookup(proto.OperationCode(0xFFFF)); ok {
		t.Error("an unregistered opcode should not be found")
	}
}
