// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mtp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/container"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/objtree"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/operation"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
)

func newTestEngine(t *testing.T) (*Engine, *objtree.Device) {
	t.Helper()
	dev := objtree.NewDevice(objtree.DeviceInfo{Manufacturer: "test", Model: "test"})
	reg, err := operation.Default()
	if err != nil {
		t.Fatalf("operation.Default: %v", err)
	}
	return New(dev, reg, nil), dev
}

func parseResponse(t *testing.T, frame []byte) *container.ParamContainer {
	t.Helper()
	resp, err := container.ParseParamContainer(frame)
	if err != nil {
		t.Fatalf("ParseParamContainer(response): %v", err)
	}
	return resp
}

func TestEngineUnknownOpcodeRespondsImmediately(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := container.NewCommand(1, proto.OperationCode(0xFFF0))

	frames, err := e.HandlePayload(cmd.Marshal())
	if err != nil {
		t.Fatalf("HandlePayload: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}
	resp := parseResponse(t, frames[0])
	if resp.ResponseCode() != proto.OperationNotSupported {
		t.Errorf("ResponseCode = %v, want OperationNotSupported", resp.ResponseCode())
	}
}

func TestEngineNoDataCommandRespondsInOneRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := container.NewCommand(5, proto.OpOpenSession, 1)

	frames, err := e.HandlePayload(cmd.Marshal())
	if err != nil {
		t.Fatalf("HandlePayload: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1 (no Data stage for OpenSession)", len(frames))
	}
	resp := parseResponse(t, frames[0])
	if resp.ResponseCode() != proto.OK {
		t.Errorf("ResponseCode = %v, want OK", resp.ResponseCode())
	}
	if _, open := e.Device.SessionID(); !open {
		t.Error("session should be open after OpenSession")
	}
}

func TestEngineSingleFragmentDataCommand(t *testing.T) {
	e, dev := newTestEngine(t)
	if err := dev.OpenSession(1); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	storageID := dev.AddStorage(objtree.StorageInfo{Access: proto.AccessReadWrite})

	irData := marshalObjectInfoForEngineTest(t, objtree.ObjectInfo{Filename: "a.txt", CompressedSize: 5})
	cmd := container.NewCommand(2, proto.OpSendObjectInfo, uint32(storageID), uint32(handle.Invalid))

	frames, err := e.HandlePayload(cmd.Marshal())
	if err != nil {
		t.Fatalf("HandlePayload(command): %v", err)
	}
	if frames != nil {
		t.Fatalf("expected no frames while awaiting Data, got %d", len(frames))
	}

	data := container.NewData(2, proto.OpSendObjectInfo, irData)
	frames, err = e.HandlePayload(data.Marshal())
	if err != nil {
		t.Fatalf("HandlePayload(data): %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1 (Response only, SendObjectInfo returns no Data)", len(frames))
	}
	resp := parseResponse(t, frames[0])
	if resp.ResponseCode() != proto.OK {
		t.Fatalf("ResponseCode = %v, want OK", resp.ResponseCode())
	}
	if dev.Pending == nil {
		t.Error("Pending should be set after SendObjectInfo completes")
	}
}

func TestEngineMultiChunkData(t *testing.T) {
	e, dev := newTestEngine(t)
	if err := dev.OpenSession(1); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	storageID := dev.AddStorage(objtree.StorageInfo{Access: proto.AccessReadWrite})

	irData := marshalObjectInfoForEngineTest(t, objtree.ObjectInfo{Filename: "a.txt"})
	cmd := container.NewCommand(3, proto.OpSendObjectInfo, uint32(storageID), uint32(handle.Invalid))
	if _, err := e.HandlePayload(cmd.Marshal()); err != nil {
		t.Fatalf("HandlePayload(command): %v", err)
	}

	full := container.NewData(3, proto.OpSendObjectInfo, irData).Marshal()
	mid := len(full) - len(irData)/2
	first, rest := full[:mid], full[mid:]

	frames, err := e.HandlePayload(first)
	if err != nil {
		t.Fatalf("HandlePayload(first fragment): %v", err)
	}
	if frames != nil {
		t.Fatal("expected no frames after a partial Data fragment")
	}

	frames, err = e.HandlePayload(rest)
	if err != nil {
		t.Fatalf("HandlePayload(remaining fragment): %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}
	resp := parseResponse(t, frames[0])
	if resp.ResponseCode() != proto.OK {
		t.Errorf("ResponseCode = %v, want OK", resp.ResponseCode())
	}
}

func TestEngineDiscardsPendingOnUnrelatedCommand(t *testing.T) {
	e, dev := newTestEngine(t)
	if err := dev.OpenSession(1); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	storageID := dev.AddStorage(objtree.StorageInfo{Access: proto.AccessReadWrite})
	obj, err := dev.AddObject(storageID, handle.Invalid, objtree.ObjectInfo{Filename: "pending"}, nil)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	dev.Pending = obj

	cmd := container.NewCommand(9, proto.OpGetStorageIDs)
	if _, err := e.HandlePayload(cmd.Marshal()); err != nil {
		t.Fatalf("HandlePayload: %v", err)
	}
	if dev.Pending != nil {
		t.Error("Pending should be discarded when the next command isn't SendObject")
	}
	if _, err := dev.GetObject(obj.Handle); err == nil {
		t.Error("discarded pending object should be detached from the tree")
	}
}

func TestEngineCollectReportsMetrics(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := container.NewCommand(1, proto.OpOpenSession, 1)
	if _, err := e.HandlePayload(cmd.Marshal()); err != nil {
		t.Fatalf("HandlePayload: %v", err)
	}

	ch := make(chan prometheus.Metric, 16)
	e.Collect(ch)
	close(ch)

	sawTx := false
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("Write metric: %v", err)
		}
		if pb.Counter != nil && pb.GetCounter().GetValue() == 1 {
			sawTx = true
		}
	}
	if !sawTx {
		t.Error("expected a counter metric with value 1 after one transaction")
	}
}

func TestEngineGetDeviceInfoReportsOperationsSupported(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := container.NewCommand(1, proto.OpGetDeviceInfo)

	frames, err := e.HandlePayload(cmd.Marshal())
	if err != nil {
		t.Fatalf("HandlePayload: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2 (Data then Response)", len(frames))
	}
	data, err := container.ParseDataPermissive(frames[0])
	if err != nil {
		t.Fatalf("ParseDataPermissive: %v", err)
	}
	r := wire.NewReader(data.Payload)
	r.UInt16() // StdVersion
	r.UInt32() // VendorExtID
	r.UInt16() // MTPVersion
	if _, err := r.String(); err != nil {
		t.Fatalf("read MTPExtensions: %v", err)
	}
	r.UInt16() // FunctionalMode
	ops, err := wire.ReadUInt16Array(r)
	if err != nil {
		t.Fatalf("read OperationsSupported: %v", err)
	}
	if len(ops) == 0 {
		t.Error("OperationsSupported should not be empty")
	}
	found := false
	for _, op := range ops {
		if proto.OperationCode(op) == proto.OpGetDeviceInfo {
			found = true
		}
	}
	if !found {
		t.Error("OperationsSupported should include OpGetDeviceInfo itself")
	}
}

func marshalObjectInfoForEngineTest(t *testing.T, oi objtree.ObjectInfo) []byte {
	t.Helper()
	w := wire.NewWriter()
	if err := oi.Pack(w, 0, 0); err != nil {
		t.Fatalf("Pack ObjectInfo: %v", err)
	}
	return w.Bytes()
}
