// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package container

import (
	"errors"
	"testing"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
)

func TestParamContainerRoundTrip(t *testing.T) {
	cmd := NewCommand(7, proto.OpGetObjectInfo, 0x42)
	buf := cmd.Marshal()

	got, err := ParseParamContainer(buf)
	if err != nil {
		t.Fatalf("ParseParamContainer: %v", err)
	}
	if got.Opcode() != proto.OpGetObjectInfo {
		t.Errorf("Opcode = %v, want %v", got.Opcode(), proto.OpGetObjectInfo)
	}
	if got.TID != 7 {
		t.Errorf("TID = %d, want 7", got.TID)
	}
	if n := got.NumParams(); n != 1 {
		t.Fatalf("NumParams = %d, want 1", n)
	}
	if v, _ := got.GetParam(0); v != 0x42 {
		t.Errorf("GetParam(0) = %#x, want 0x42", v)
	}
}

func TestResponseFromCommandDefaultsToOK(t *testing.T) {
	cmd := NewCommand(3, proto.OpOpenSession, 1)
	resp := ResponseFromCommand(cmd)
	if resp.ResponseCode() != proto.OK {
		t.Errorf("ResponseCode = %v, want OK", resp.ResponseCode())
	}
	if resp.TID != cmd.TID {
		t.Errorf("TID = %d, want %d", resp.TID, cmd.TID)
	}
	resp.SetResponseCode(proto.InvalidParameter)
	if resp.ResponseCode() != proto.InvalidParameter {
		t.Errorf("ResponseCode after Set = %v, want InvalidParameter", resp.ResponseCode())
	}
}

func TestParseParamContainerRejectsBadLength(t *testing.T) {
	cmd := NewCommand(1, proto.OpGetDeviceInfo, 1, 2)
	buf := cmd.Marshal()
	buf = append(buf, 0x01, 0x02, 0x03) // declared length no longer matches, payload no longer 4-byte aligned

	_, err := ParseParamContainer(buf)
	if err == nil {
		t.Fatal("expected an error for misaligned payload")
	}
	if !errors.Is(err, ErrInvalidCodeFormat) {
		t.Errorf("error = %v, want wrapping ErrInvalidCodeFormat", err)
	}
}

func TestDataContainerChunking(t *testing.T) {
	full := []byte("hello, mtp world")
	d := NewData(9, proto.OpGetObject, full)
	marshaled := d.Marshal()

	// Simulate the initiator splitting the payload into two transport
	// writes: the first fragment still declares the full length.
	first := marshaled[:headerLen+5]
	rest := marshaled[headerLen+5:]

	got, err := ParseDataPermissive(first)
	if err != nil {
		t.Fatalf("ParseDataPermissive: %v", err)
	}
	if got.HasAllData() {
		t.Fatal("HasAllData() = true on first fragment, want false")
	}
	got.AppendChunk(rest)
	if !got.HasAllData() {
		t.Fatal("HasAllData() = false after appending remainder, want true")
	}
	if string(got.Payload) != string(full) {
		t.Errorf("Payload = %q, want %q", got.Payload, full)
	}
}

func TestPeekContainerType(t *testing.T) {
	cmd := NewCommand(1, proto.OpGetDeviceInfo)
	ct, err := PeekContainerType(cmd.Marshal())
	if err != nil {
		t.Fatalf("PeekContainerType: %v", err)
	}
	if ct != proto.ContainerCommand {
		t.Errorf("ContainerType = %v, want Command", ct)
	}
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := ParseParamContainer([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for buffer shorter than the header")
	}
}
