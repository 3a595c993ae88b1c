// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package operation

import (
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/container"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/objtree"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/property"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
)

// Default builds the registry of every operation this responder supports,
// per §4.5.3/§4.5.4. Registration order is the declaration order below;
// Register's duplicate check turns a copy/paste mistake into a startup
// error instead of a silently shadowed handler.
func Default() (*Registry, error) {
	r := NewRegistry()
	for _, e := range []Entry{
		{Opcode: proto.OpGetDeviceInfo, Name: "GetDeviceInfo", Handler: handleGetDeviceInfo},
		{Opcode: proto.OpOpenSession, Name: "OpenSession", Handler: handleOpenSession, MinParams: 1},
		{Opcode: proto.OpCloseSession, Name: "CloseSession", Handler: handleCloseSession, SessionRequired: true},
		{Opcode: proto.OpGetStorageIDs, Name: "GetStorageIDs", Handler: handleGetStorageIDs, SessionRequired: true},
		{Opcode: proto.OpGetStorageInfo, Name: "GetStorageInfo", Handler: handleGetStorageInfo, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpGetNumObjects, Name: "GetNumObjects", Handler: handleGetNumObjects, MinParams: 3, SessionRequired: true},
		{Opcode: proto.OpGetObjectHandles, Name: "GetObjectHandles", Handler: handleGetObjectHandles, MinParams: 3, SessionRequired: true},
		{Opcode: proto.OpGetObjectInfo, Name: "GetObjectInfo", Handler: handleGetObjectInfo, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpGetObject, Name: "GetObject", Handler: handleGetObject, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpGetThumb, Name: "GetThumb", Handler: handleGetThumb, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpDeleteObject, Name: "DeleteObject", Handler: handleDeleteObject, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpSendObjectInfo, Name: "SendObjectInfo", Handler: handleSendObjectInfo, MinParams: 2, SessionRequired: true, RequiresIRData: true},
		{Opcode: proto.OpSendObject, Name: "SendObject", Handler: handleSendObject, SessionRequired: true, RequiresIRData: true},
		{Opcode: proto.OpInitiateCapture, Name: "InitiateCapture", Handler: handleNotSupported, SessionRequired: true},
		{Opcode: proto.OpFormatStore, Name: "FormatStore", Handler: handleFormatStore, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpResetDevice, Name: "ResetDevice", Handler: handleResetDevice, SessionRequired: true},
		{Opcode: proto.OpSelfTest, Name: "SelfTest", Handler: handleSelfTest, SessionRequired: true},
		{Opcode: proto.OpSetObjectProtection, Name: "SetObjectProtection", Handler: handleSetObjectProtection, MinParams: 2, SessionRequired: true},
		{Opcode: proto.OpPowerDown, Name: "PowerDown", Handler: handlePowerDown, SessionRequired: true},
		{Opcode: proto.OpGetDevicePropDesc, Name: "GetDevicePropDesc", Handler: handleGetDevicePropDesc, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpGetDevicePropValue, Name: "GetDevicePropValue", Handler: handleGetDevicePropValue, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpSetDevicePropValue, Name: "SetDevicePropValue", Handler: handleSetDevicePropValue, MinParams: 1, SessionRequired: true, RequiresIRData: true},
		{Opcode: proto.OpResetDevicePropValue, Name: "ResetDevicePropValue", Handler: handleResetDevicePropValue, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpTerminateOpenCapture, Name: "TerminateOpenCapture", Handler: handleNotSupported, SessionRequired: true},
		{Opcode: proto.OpMoveObject, Name: "MoveObject", Handler: handleMoveObject, MinParams: 3, SessionRequired: true},
		{Opcode: proto.OpCopyObject, Name: "CopyObject", Handler: handleCopyObject, MinParams: 3, SessionRequired: true},
		{Opcode: proto.OpGetPartialObject, Name: "GetPartialObject", Handler: handleGetPartialObject, MinParams: 2, SessionRequired: true},
		{Opcode: proto.OpInitiateOpenCapture, Name: "InitiateOpenCapture", Handler: handleNotSupported, SessionRequired: true},
		{Opcode: proto.OpGetObjectPropsSupported, Name: "GetObjectPropsSupported", Handler: handleGetObjectPropsSupported, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpGetObjectPropDesc, Name: "GetObjectPropDesc", Handler: handleGetObjectPropDesc, MinParams: 2, SessionRequired: true},
		{Opcode: proto.OpGetObjectPropValue, Name: "GetObjectPropValue", Handler: handleGetObjectPropValue, MinParams: 2, SessionRequired: true},
		{Opcode: proto.OpSetObjectPropValue, Name: "SetObjectPropValue", Handler: handleSetObjectPropValue, MinParams: 2, SessionRequired: true, RequiresIRData: true},
		{Opcode: proto.OpGetObjectPropList, Name: "GetObjectPropList", Handler: handleGetObjectPropList, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpGetObjectReferences, Name: "GetObjectReferences", Handler: handleGetObjectReferences, MinParams: 1, SessionRequired: true},
		{Opcode: proto.OpSetObjectReferences, Name: "SetObjectReferences", Handler: handleSetObjectReferences, MinParams: 1, SessionRequired: true, RequiresIRData: true},
	} {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func handleNotSupported(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	return nil, proto.Err(proto.OperationNotSupported)
}

func handleGetDeviceInfo(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	w := wire.NewWriter()
	if err := dev.PackDeviceInfo(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleOpenSession(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	sid, _ := cmd.GetParam(0)
	return nil, dev.OpenSession(sid)
}

func handleCloseSession(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	dev.CloseSession()
	return nil, nil
}

func handleGetStorageIDs(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	w := wire.NewWriter()
	ids := dev.StorageIDs()
	vals := make([]uint32, len(ids))
	for i, id := range ids {
		vals[i] = uint32(id)
	}
	wire.AppendUInt32Array(w, vals)
	return w.Bytes(), nil
}

func handleGetStorageInfo(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	id, _ := cmd.GetParam(0)
	s, err := dev.GetStorage(handle.Handle(id))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	if err := s.Info.Pack(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleGetNumObjects(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	storageID, _ := cmd.GetParam(0)
	format, _ := cmd.GetParam(1)
	n, err := dev.NumObjects(handle.Handle(storageID), format)
	if err != nil {
		return nil, err
	}
	resp.AddParam(uint32(n))
	return nil, nil
}

func handleGetObjectHandles(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	storageID, _ := cmd.GetParam(0)
	format, _ := cmd.GetParam(1)
	handles, err := dev.GetHandlesForStorage(handle.Handle(storageID), format)
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	vals := make([]uint32, len(handles))
	for i, h := range handles {
		vals[i] = uint32(h)
	}
	wire.AppendUInt32Array(w, vals)
	return w.Bytes(), nil
}

func handleGetObjectInfo(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	if err := obj.Info.Pack(w, uint32(obj.StorageHandle), uint32(obj.ParentHandle)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleGetObject(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

func handleGetThumb(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	if _, err := dev.GetObject(handle.Handle(h)); err != nil {
		return nil, err
	}
	return nil, proto.Err(proto.NoThumbnailPresent)
}

func handleDeleteObject(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	format, _ := cmd.GetParam(1)
	return nil, dev.DeleteObject(handle.Handle(h), format)
}

// handleSendObjectInfo validates the target storage, parses the ObjectInfo
// payload, creates the object with no data yet, and records it as pending
// so a following SendObject can fill in its contents (§4.5.4).
func handleSendObjectInfo(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	storageParam, _ := cmd.GetParam(0)
	parentParam, _ := cmd.GetParam(1)
	storageID := handle.Handle(storageParam)
	if storageID == handle.Invalid || storageID == handle.Wildcard {
		ids := dev.StorageIDs()
		if len(ids) == 0 {
			return nil, proto.Err(proto.StoreNotAvailable)
		}
		storageID = ids[0]
	}
	store, err := dev.GetStorage(storageID)
	if err != nil {
		return nil, err
	}
	if !store.CanWrite() {
		return nil, proto.Err(proto.StoreReadOnly)
	}
	oi, _, _, err := objtree.ParseObjectInfo(irData)
	if err != nil {
		return nil, err
	}
	parentHandle := handle.Handle(parentParam)
	if parentHandle == handle.Wildcard {
		parentHandle = handle.Invalid
	}
	obj, err := dev.AddObject(storageID, parentHandle, oi, nil)
	if err != nil {
		return nil, err
	}
	dev.Pending = obj
	resp.AddParam(uint32(storageID))
	resp.AddParam(uint32(obj.ParentHandle))
	resp.AddParam(uint32(obj.Handle))
	return nil, nil
}

// handleSendObject fills in the pending object's data, declared size
// enforced per §4.3's adhere_size rule. A SendObject with no pending
// object (the initiator skipped SendObjectInfo) fails NoValidObjectInfo.
func handleSendObject(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	if dev.Pending == nil {
		return nil, proto.Err(proto.NoValidObjectInfo)
	}
	obj := dev.Pending
	dev.Pending = nil
	if err := obj.SetData(irData, true); err != nil {
		return nil, err
	}
	return nil, nil
}

func handleFormatStore(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	id, _ := cmd.GetParam(0)
	if _, err := dev.GetStorage(handle.Handle(id)); err != nil {
		return nil, err
	}
	// Validated but deliberately unimplemented, see SPEC_FULL.md E.
	return nil, proto.Err(proto.ParameterNotSupported)
}

func handleResetDevice(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	dev.CloseSession()
	return nil, nil
}

func handleSelfTest(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	return nil, nil
}

func handleSetObjectProtection(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	v, _ := cmd.GetParam(1)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	return nil, obj.SetProtectionStatus(v)
}

func handlePowerDown(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	dev.CloseSession()
	return nil, nil
}

func handleGetDevicePropDesc(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	code, _ := cmd.GetParam(0)
	p, err := dev.GetDeviceProperty(proto.DevicePropCode(code))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	if err := p.PackDesc(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleGetDevicePropValue(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	code, _ := cmd.GetParam(0)
	p, err := dev.GetDeviceProperty(proto.DevicePropCode(code))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	if err := p.PackValue(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleSetDevicePropValue(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	code, _ := cmd.GetParam(0)
	p, err := dev.GetDeviceProperty(proto.DevicePropCode(code))
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(irData)
	if err := p.SetValue(r); err != nil {
		return nil, mapPropertyError(err)
	}
	return nil, nil
}

func handleResetDevicePropValue(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	code, _ := cmd.GetParam(0)
	if err := dev.ResetDeviceProperty(proto.DevicePropCode(code)); err != nil {
		return nil, mapPropertyError(err)
	}
	return nil, nil
}

func handleMoveObject(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	targetStorage, _ := cmd.GetParam(1)
	targetParent, _ := cmd.GetParam(2)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	return nil, dev.MoveObject(obj, handle.Handle(targetStorage), handle.Handle(targetParent))
}

func handleCopyObject(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	targetStorage, _ := cmd.GetParam(1)
	targetParent, _ := cmd.GetParam(2)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	newObj, err := dev.CopyObject(obj, handle.Handle(targetStorage), handle.Handle(targetParent))
	if err != nil {
		return nil, err
	}
	resp.AddParam(uint32(newObj.Handle))
	return nil, nil
}

func handleGetPartialObject(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	offset, _ := cmd.GetParam(1)
	maxLen, _ := cmd.GetParam(2)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	data := obj.Data
	if uint64(offset) >= uint64(len(data)) {
		resp.AddParam(0)
		return nil, nil
	}
	end := uint64(offset) + uint64(maxLen)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	chunk := data[offset:end]
	resp.AddParam(uint32(len(chunk)))
	return chunk, nil
}

func handleGetObjectPropsSupported(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	format, _ := cmd.GetParam(0)
	_ = format
	w := wire.NewWriter()
	vals := make([]uint16, len(objtree.ObjectPropsSupported))
	for i, c := range objtree.ObjectPropsSupported {
		vals[i] = uint16(c)
	}
	wire.AppendUInt16Array(w, vals)
	return w.Bytes(), nil
}

func handleGetObjectPropDesc(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	code, _ := cmd.GetParam(1)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	if err := obj.GetObjectPropDesc(w, proto.ObjectPropCode(code)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleGetObjectPropValue(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	code, _ := cmd.GetParam(1)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	if err := obj.GetObjectPropValue(w, proto.ObjectPropCode(code)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleSetObjectPropValue(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	code, _ := cmd.GetParam(1)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(irData)
	if err := obj.SetObjectPropValue(proto.ObjectPropCode(code), r); err != nil {
		return nil, mapPropertyError(err)
	}
	return nil, nil
}

func handleGetObjectPropList(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	var propCode uint32
	if v, ok := cmd.GetParam(1); ok {
		propCode = v
	}
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	if err := obj.GetObjectPropList(w, proto.ObjectPropCode(propCode)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func handleGetObjectReferences(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter()
	obj.GetObjectReferences(w)
	return w.Bytes(), nil
}

func handleSetObjectReferences(dev *objtree.Device, cmd, resp *container.ParamContainer, irData []byte) ([]byte, error) {
	h, _ := cmd.GetParam(0)
	obj, err := dev.GetObject(handle.Handle(h))
	if err != nil {
		return nil, err
	}
	refs, err := wire.ReadUInt32Array(wire.NewReader(irData))
	if err != nil {
		return nil, proto.Err(proto.InvalidDataset)
	}
	obj.SetObjectReferences(refs)
	return nil, nil
}

// mapPropertyError translates property.AccessDeniedError (a plain
// sentinel the property package returns for a read-only property) onto
// the protocol-level AccessDenied response code. A codec decode failure
// maps onto InvalidDataset instead, since it means the Data payload
// didn't match the property's declared type. A *proto.Error passes
// through unchanged.
func mapPropertyError(err error) error {
	switch {
	case err == nil:
		return nil
	case err == property.AccessDeniedError:
		return proto.Err(proto.AccessDenied)
	default:
		if _, ok := err.(*proto.Error); ok {
			return err
		}
		return proto.Err(proto.InvalidDataset)
	}
}
