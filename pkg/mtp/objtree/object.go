// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objtree

import (
	"time"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
	"github.com/open-source-firmware/go-mtp-responder/pkg/puid"
)

// ObjectInfo is the packed ObjectInfo payload (§6).
type ObjectInfo struct {
	Format             uint16
	Protection         uint16
	CompressedSize     uint32
	ThumbFormat        uint16
	ThumbCompressedSize uint32
	ThumbWidth         uint32
	ThumbHeight        uint32
	ImageWidth         uint32
	ImageHeight        uint32
	ImageBitDepth      uint32
	AssocType          uint16
	AssocDesc          uint32
	SeqNum             uint32
	Filename           string
	CTime              time.Time
	MTime              time.Time
	Keywords           string
}

// Pack serializes the ObjectInfo payload. storageID and parentHandle are
// supplied by the caller because the wire format embeds them even though
// this struct's back-references live on Object, not ObjectInfo.
func (oi ObjectInfo) Pack(w *wire.Writer, storageID, parentHandle uint32) error {
	w.UInt32(storageID)
	w.UInt16(oi.Format)
	w.UInt16(oi.Protection)
	w.UInt32(oi.CompressedSize)
	w.UInt16(oi.ThumbFormat)
	w.UInt32(oi.ThumbCompressedSize)
	w.UInt32(oi.ThumbWidth)
	w.UInt32(oi.ThumbHeight)
	w.UInt32(oi.ImageWidth)
	w.UInt32(oi.ImageHeight)
	w.UInt32(oi.ImageBitDepth)
	w.UInt32(parentHandle)
	w.UInt16(oi.AssocType)
	w.UInt32(oi.AssocDesc)
	w.UInt32(oi.SeqNum)
	if err := w.String(oi.Filename); err != nil {
		return err
	}
	if err := w.DateTime(oi.CTime); err != nil {
		return err
	}
	if err := w.DateTime(oi.MTime); err != nil {
		return err
	}
	return w.String(oi.Keywords)
}

// ParseObjectInfo decodes an ObjectInfo payload as received in a
// SendObjectInfo Data container. StorageID and ParentHandle are returned
// separately since the caller (SendObjectInfo) resolves attachment from
// its own Command parameters, not from the payload.
func ParseObjectInfo(buf []byte) (oi ObjectInfo, storageID, parentHandle uint32, err error) {
	r := wire.NewReader(buf)
	if storageID, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.Format, err = r.UInt16(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.Protection, err = r.UInt16(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.CompressedSize, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.ThumbFormat, err = r.UInt16(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.ThumbCompressedSize, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.ThumbWidth, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.ThumbHeight, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.ImageWidth, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.ImageHeight, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.ImageBitDepth, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if parentHandle, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.AssocType, err = r.UInt16(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.AssocDesc, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.SeqNum, err = r.UInt32(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.Filename, err = r.String(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.CTime, err = r.DateTime(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.MTime, err = r.DateTime(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	if oi.Keywords, err = r.String(); err != nil {
		return oi, 0, 0, proto.Err(proto.InvalidDataset)
	}
	return oi, storageID, parentHandle, nil
}

// Object is one node of the device's object tree. Parent and storage
// back-references are handles, not pointers: see the objtree package
// doc comment for why.
type Object struct {
	Handle     handle.Handle
	Info       ObjectInfo
	Data       []byte
	Children   []handle.Handle
	References []handle.Handle

	ParentHandle  handle.Handle // handle.Invalid if this is a storage root
	StorageHandle handle.Handle

	puidLo, puidHi uint64
}

// AddObject creates an object under storageID (and, if parentHandle is
// not handle.Invalid, under that parent object), attaches it to the
// tree, and returns it. This is the sole constructor for tree-resident
// objects; SendObjectInfo, CopyObject, and filesystem seeding all funnel
// through it.
func (d *Device) AddObject(storageID, parentHandle handle.Handle, info ObjectInfo, data []byte) (*Object, error) {
	s, err := d.GetStorage(storageID)
	if err != nil {
		return nil, err
	}
	if parentHandle != handle.Invalid {
		if _, err := d.GetObject(parentHandle); err != nil {
			return nil, err
		}
	}
	obj := &Object{
		Handle:        d.Alloc.Next(),
		Info:          info,
		Data:          data,
		ParentHandle:  parentHandle,
		StorageHandle: storageID,
	}
	obj.derivePUID(uint32(storageID), uint32(parentHandle))
	if parentHandle == handle.Invalid {
		s.Roots = append(s.Roots, obj.Handle)
	} else {
		d.Objects[parentHandle].Children = append(d.Objects[parentHandle].Children, obj.Handle)
	}
	d.Objects[obj.Handle] = obj
	return obj, nil
}

func (o *Object) derivePUID(storageID, parentHandle uint32) {
	ctime := int64(0)
	if !o.Info.CTime.IsZero() {
		ctime = o.Info.CTime.Unix()
	}
	o.puidLo, o.puidHi = puid.Derive(storageID, parentHandle, o.Info.Filename, ctime)
}

// PUID returns the object's persistent unique identifier, fixed at
// creation time (see SPEC_FULL.md D.2).
func (o *Object) PUID() (lo, hi uint64) { return o.puidLo, o.puidHi }

// detach removes obj from its current parent's child list or its
// storage's root list, without deallocating it.
func (d *Device) detach(obj *Object) {
	if obj.ParentHandle == handle.Invalid {
		s := d.Storages[obj.StorageHandle]
		s.Roots = removeHandle(s.Roots, obj.Handle)
		return
	}
	if p, ok := d.Objects[obj.ParentHandle]; ok {
		p.Children = removeHandle(p.Children, obj.Handle)
	}
}

func (d *Device) propagateStorage(obj *Object, storageID handle.Handle) {
	obj.StorageHandle = storageID
	for _, ch := range obj.Children {
		d.propagateStorage(d.Objects[ch], storageID)
	}
}

func removeHandle(handles []handle.Handle, h handle.Handle) []handle.Handle {
	for i, v := range handles {
		if v == h {
			return append(handles[:i], handles[i+1:]...)
		}
	}
	return handles
}

// DeleteObject removes the object named by h, or every object in the tree
// if h is handle.Wildcard, applying the format filter format. See §4.3.
func (d *Device) DeleteObject(h handle.Handle, format uint32) error {
	if h == handle.Wildcard {
		return d.deleteAll(format)
	}
	obj, err := d.GetObject(h)
	if err != nil {
		return err
	}
	return d.deleteOne(obj, format)
}

// deleteOne implements the single-object algorithm of §4.3: a storage
// lacking delete capability refuses outright; otherwise children are
// deleted first and tallied, and self is only removed once every child
// succeeded and the format filter matches.
func (d *Device) deleteOne(obj *Object, format uint32) error {
	storage := d.Storages[obj.StorageHandle]
	if !storage.CanDelete() {
		return proto.Err(proto.ObjectWriteProtected)
	}
	children := append([]handle.Handle(nil), obj.Children...)
	deleted, undeleted := 0, 0
	for _, ch := range children {
		if err := d.deleteOne(d.Objects[ch], format); err != nil {
			undeleted++
		} else {
			deleted++
		}
	}
	if undeleted > 0 {
		if deleted > 0 {
			return proto.Err(proto.PartialDeletion)
		}
		return proto.Err(proto.ObjectWriteProtected)
	}
	if !proto.FormatMatches(format, obj.Info.Format) {
		return proto.Err(proto.SpecificationByFormatUnsupported)
	}
	d.detach(obj)
	delete(d.Objects, obj.Handle)
	return nil
}

// deleteAll implements the wildcard-handle variant: every top-level
// object across every storage is deleted via deleteOne (which already
// recurses), and the outcomes are tallied with the same any-deleted/
// any-undeleted rule.
func (d *Device) deleteAll(format uint32) error {
	anyDeleted, anyUndeleted := false, false
	for _, sid := range d.storageOrder {
		roots := append([]handle.Handle(nil), d.Storages[sid].Roots...)
		for _, h := range roots {
			if err := d.deleteOne(d.Objects[h], format); err != nil {
				anyUndeleted = true
			} else {
				anyDeleted = true
			}
		}
	}
	switch {
	case anyDeleted && anyUndeleted:
		return proto.Err(proto.PartialDeletion)
	case anyUndeleted:
		return proto.Err(proto.ObjectWriteProtected)
	default:
		return nil
	}
}

// CopyObject deep-copies src (and, recursively, its children) into
// targetStorage under targetParent, returning the new root object. This
// fixes the latent source bug noted in SPEC_FULL.md E: the new object is
// always returned, never silently discarded.
func (d *Device) CopyObject(src *Object, targetStorage, targetParent handle.Handle) (*Object, error) {
	dst, err := d.AddObject(targetStorage, targetParent, src.Info, append([]byte(nil), src.Data...))
	if err != nil {
		return nil, err
	}
	for _, ch := range src.Children {
		if _, err := d.CopyObject(d.Objects[ch], targetStorage, dst.Handle); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// MoveObject detaches obj from its current location and attaches it
// under targetParent in targetStorage, refusing if the target storage is
// not writable.
func (d *Device) MoveObject(obj *Object, targetStorage, targetParent handle.Handle) error {
	ts, err := d.GetStorage(targetStorage)
	if err != nil {
		return err
	}
	if !ts.CanWrite() {
		return proto.Err(proto.StoreReadOnly)
	}
	if targetParent != handle.Invalid {
		if _, err := d.GetObject(targetParent); err != nil {
			return err
		}
	}
	d.detach(obj)
	obj.ParentHandle = targetParent
	d.propagateStorage(obj, targetStorage)
	if targetParent == handle.Invalid {
		ts.Roots = append(ts.Roots, obj.Handle)
	} else {
		d.Objects[targetParent].Children = append(d.Objects[targetParent].Children, obj.Handle)
	}
	return nil
}

// SetData replaces the object's payload. When adhereSize is true (as
// SendObject requires), data longer than the declared compressed size
// fails with proto.StoreFull; otherwise CompressedSize tracks len(data).
func (o *Object) SetData(data []byte, adhereSize bool) error {
	if adhereSize && uint32(len(data)) > o.Info.CompressedSize {
		return proto.Err(proto.StoreFull)
	}
	o.Data = data
	o.Info.CompressedSize = uint32(len(data))
	return nil
}

// SetProtectionStatus validates and installs a new protection status.
func (o *Object) SetProtectionStatus(v uint32) error {
	if v > 0xFFFF {
		return proto.Err(proto.InvalidParameter)
	}
	o.Info.Protection = uint16(v)
	return nil
}
