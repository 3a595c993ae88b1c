// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package objtree implements the MTP object/storage model (C3): the
// Device's tree of Storages and Objects, handle resolution, format
// filtering, and the object lifecycle operations (add/delete/move/copy).
//
// Parent and storage back-references are stored as handles rather than
// pointers, and every allocated Object lives in one flat map owned by the
// Device (an arena-and-index pattern): the only owning references are the
// Storage's root list and each Object's Children list, so the tree can
// never form a reference cycle regardless of how handles are threaded
// back up (see DESIGN.md, REDESIGN FLAGS).
package objtree

import (
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/property"
)

// Device holds the whole object/storage tree plus the device-level state
// the spec groups with it: property map, current session, and the
// pending-object slot used to couple SendObjectInfo and SendObject.
type Device struct {
	Info                 DeviceInfo
	OperationsSupported  []uint16
	EventsSupported      []uint16

	Storages     map[handle.Handle]*Storage
	storageOrder []handle.Handle

	Objects map[handle.Handle]*Object

	Properties map[proto.DevicePropCode]*property.DeviceProperty

	sessionID *uint32
	Pending   *Object

	Alloc *handle.Allocator
}

// NewDevice returns an empty device ready to have storages added to it.
func NewDevice(info DeviceInfo) *Device {
	return &Device{
		Info:       info,
		Storages:   make(map[handle.Handle]*Storage),
		Objects:    make(map[handle.Handle]*Object),
		Properties: make(map[proto.DevicePropCode]*property.DeviceProperty),
		Alloc:      handle.NewAllocator(),
	}
}

// AddStorage allocates a storage id, registers the storage, and returns
// its handle. Storages persist for the device's lifetime once added.
func (d *Device) AddStorage(info StorageInfo) handle.Handle {
	h := d.Alloc.NextStorage()
	d.Storages[h] = &Storage{Handle: h, Info: info}
	d.storageOrder = append(d.storageOrder, h)
	return h
}

// StorageIDs returns storage handles in insertion order.
func (d *Device) StorageIDs() []handle.Handle {
	return append([]handle.Handle(nil), d.storageOrder...)
}

// GetStorage resolves a storage id, or proto.InvalidStorageID.
func (d *Device) GetStorage(id handle.Handle) (*Storage, error) {
	s, ok := d.Storages[id]
	if !ok {
		return nil, proto.Err(proto.InvalidStorageID)
	}
	return s, nil
}

// GetObject resolves a handle to an object with a single lookup in the
// device's flat Objects map, or returns proto.InvalidObjectHandle.
func (d *Device) GetObject(h handle.Handle) (*Object, error) {
	obj, ok := d.Objects[h]
	if !ok {
		return nil, proto.Err(proto.InvalidObjectHandle)
	}
	return obj, nil
}

// GetHandlesForStorage flattens the object tree of one storage (or, for
// the wildcard id, every storage in insertion order), keeping only
// objects whose format matches the format filter.
func (d *Device) GetHandlesForStorage(id handle.Handle, format uint32) ([]handle.Handle, error) {
	var storageIDs []handle.Handle
	if id == handle.Wildcard {
		storageIDs = d.storageOrder
	} else {
		if _, err := d.GetStorage(id); err != nil {
			return nil, err
		}
		storageIDs = []handle.Handle{id}
	}
	var out []handle.Handle
	for _, sid := range storageIDs {
		s := d.Storages[sid]
		d.walk(s.Roots, format, &out)
	}
	return out, nil
}

func (d *Device) walk(handles []handle.Handle, format uint32, out *[]handle.Handle) {
	for _, h := range handles {
		obj := d.Objects[h]
		if proto.FormatMatches(format, obj.Info.Format) {
			*out = append(*out, h)
		}
		d.walk(obj.Children, format, out)
	}
}

// NumObjects is the length of GetHandlesForStorage(id, format).
func (d *Device) NumObjects(id handle.Handle, format uint32) (int, error) {
	h, err := d.GetHandlesForStorage(id, format)
	if err != nil {
		return 0, err
	}
	return len(h), nil
}

// SessionID returns the open session id, or (0, false) if none is open.
func (d *Device) SessionID() (uint32, bool) {
	if d.sessionID == nil {
		return 0, false
	}
	return *d.sessionID, true
}

// OpenSession assigns sid as the current session, or returns
// proto.SessionAlreadyOpen if one is already open.
func (d *Device) OpenSession(sid uint32) error {
	if d.sessionID != nil {
		return proto.Err(proto.SessionAlreadyOpen)
	}
	d.sessionID = &sid
	return nil
}

// CloseSession clears the current session, if any.
func (d *Device) CloseSession() {
	d.sessionID = nil
}

// DiscardPending drops the pending object recorded by SendObjectInfo,
// detaching it from the tree it was attached to. Called by the engine
// before handling any operation other than SendObject.
func (d *Device) DiscardPending() {
	if d.Pending == nil {
		return
	}
	h := d.Pending.Handle
	d.detach(d.Pending)
	delete(d.Objects, h)
	d.Pending = nil
}
