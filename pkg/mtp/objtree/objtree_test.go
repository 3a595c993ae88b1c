// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objtree

import (
	"testing"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
)

func newTestDevice() *Device {
	return NewDevice(DeviceInfo{Manufacturer: "test", Model: "test"})
}

func addStorage(d *Device, access proto.AccessCaps) handle.Handle {
	return d.AddStorage(StorageInfo{Access: access, Desc: "s"})
}

func addFile(t *testing.T, d *Device, storageID, parent handle.Handle, name string) *Object {
	t.Helper()
	obj, err := d.AddObject(storageID, parent, ObjectInfo{Filename: name, Format: uint16(proto.FormatUndefined)}, []byte("data"))
	if err != nil {
		t.Fatalf("AddObject(%s): %v", name, err)
	}
	return obj
}

func TestGetHandlesForStorageFormatFilter(t *testing.T) {
	d := newTestDevice()
	s := addStorage(d, proto.AccessReadWrite)
	f1 := addFile(t, d, s, handle.Invalid, "a.txt")
	folder, err := d.AddObject(s, handle.Invalid, ObjectInfo{Filename: "dir", Format: uint16(proto.FormatAssociation)}, nil)
	if err != nil {
		t.Fatalf("AddObject(dir): %v", err)
	}
	f2 := addFile(t, d, s, folder.Handle, "b.txt")

	all, err := d.GetHandlesForStorage(s, 0)
	if err != nil {
		t.Fatalf("GetHandlesForStorage: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	onlyAssoc, err := d.GetHandlesForStorage(s, uint32(proto.FormatAssociation))
	if err != nil {
		t.Fatalf("GetHandlesForStorage(assoc): %v", err)
	}
	if len(onlyAssoc) != 1 || onlyAssoc[0] != folder.Handle {
		t.Errorf("onlyAssoc = %v, want [%v]", onlyAssoc, folder.Handle)
	}
	_ = f1
	_ = f2
}

func TestDeleteObjectReadOnlyStorageRefuses(t *testing.T) {
	d := newTestDevice()
	s := addStorage(d, proto.AccessReadOnlyNoDelete)
	obj := addFile(t, d, s, handle.Invalid, "a.txt")

	err := d.DeleteObject(obj.Handle, 0)
	if proto.CodeOf(err) != proto.ObjectWriteProtected {
		t.Errorf("DeleteObject code = %v, want ObjectWriteProtected", proto.CodeOf(err))
	}
	if _, err := d.GetObject(obj.Handle); err != nil {
		t.Error("object should still exist after a refused delete")
	}
}

func TestDeleteObjectFormatMismatch(t *testing.T) {
	d := newTestDevice()
	s := addStorage(d, proto.AccessReadWrite)
	obj := addFile(t, d, s, handle.Invalid, "a.txt")

	err := d.DeleteObject(obj.Handle, 0xBEEF)
	if proto.CodeOf(err) != proto.SpecificationByFormatUnsupported {
		t.Errorf("code = %v, want SpecificationByFormatUnsupported", proto.CodeOf(err))
	}
}

func TestDeleteObjectPartialDeletion(t *testing.T) {
	d := newTestDevice()
	writable := addStorage(d, proto.AccessReadWrite)
	locked := addStorage(d, proto.AccessReadOnlyNoDelete)

	parent := addFile(t, d, writable, handle.Invalid, "parent")
	deletable, err := d.AddObject(writable, parent.Handle, ObjectInfo{Filename: "deletable"}, nil)
	if err != nil {
		t.Fatalf("AddObject(deletable): %v", err)
	}
	locked_child, err := d.AddObject(writable, parent.Handle, ObjectInfo{Filename: "locked"}, nil)
	if err != nil {
		t.Fatalf("AddObject(locked_child): %v", err)
	}
	// Force this one child onto the locked storage without a proper move,
	// to simulate a mixed outcome: one child deletes cleanly, the other's
	// storage refuses.
	locked_child.StorageHandle = locked
	_ = deletable

	err = d.DeleteObject(parent.Handle, 0)
	if proto.CodeOf(err) != proto.PartialDeletion {
		t.Errorf("code = %v, want PartialDeletion", proto.CodeOf(err))
	}
	if _, err := d.GetObject(parent.Handle); err != nil {
		t.Error("parent should remain after a partial deletion")
	}
}

func TestDeleteAllWildcard(t *testing.T) {
	d := newTestDevice()
	s := addStorage(d, proto.AccessReadWrite)
	addFile(t, d, s, handle.Invalid, "a.txt")
	addFile(t, d, s, handle.Invalid, "b.txt")

	if err := d.DeleteObject(handle.Wildcard, 0); err != nil {
		t.Fatalf("DeleteObject(wildcard): %v", err)
	}
	handles, err := d.GetHandlesForStorage(s, 0)
	if err != nil {
		t.Fatalf("GetHandlesForStorage: %v", err)
	}
	if len(handles) != 0 {
		t.Errorf("len(handles) = %d, want 0 after wildcard delete", len(handles))
	}
}

func TestCopyObjectReturnsNewRoot(t *testing.T) {
	d := newTestDevice()
	src := addStorage(d, proto.AccessReadWrite)
	dst := addStorage(d, proto.AccessReadWrite)
	orig := addFile(t, d, src, handle.Invalid, "a.txt")

	copied, err := d.CopyObject(orig, dst, handle.Invalid)
	if err != nil {
		t.Fatalf("CopyObject: %v", err)
	}
	if copied == nil {
		t.Fatal("CopyObject returned a nil object")
	}
	if copied.Handle == orig.Handle {
		t.Error("copy should allocate a new handle, not reuse the source's")
	}
	if copied.StorageHandle != dst {
		t.Errorf("copy storage = %v, want %v", copied.StorageHandle, dst)
	}
	if _, err := d.GetObject(orig.Handle); err != nil {
		t.Error("source object should still exist after copy")
	}
}

func TestMoveObjectRefusesReadOnlyTarget(t *testing.T) {
	d := newTestDevice()
	src := addStorage(d, proto.AccessReadWrite)
	dst := addStorage(d, proto.AccessReadOnlyNoDelete)
	obj := addFile(t, d, src, handle.Invalid, "a.txt")

	err := d.MoveObject(obj, dst, handle.Invalid)
	if proto.CodeOf(err) != proto.StoreReadOnly {
		t.Errorf("code = %v, want StoreReadOnly", proto.CodeOf(err))
	}
}

func TestSetDataAdheresToDeclaredSize(t *testing.T) {
	d := newTestDevice()
	s := addStorage(d, proto.AccessReadWrite)
	obj, err := d.AddObject(s, handle.Invalid, ObjectInfo{Filename: "a.txt", CompressedSize: 4}, nil)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if err := obj.SetData([]byte("toolong"), true); proto.CodeOf(err) != proto.StoreFull {
		t.Errorf("SetData over declared size: code = %v, want StoreFull", proto.CodeOf(err))
	}
	if err := obj.SetData([]byte("ok"), true); err != nil {
		t.Errorf("SetData within declared size: %v", err)
	}
}

func TestOpenSessionRejectsSecondOpen(t *testing.T) {
	d := newTestDevice()
	if err := d.OpenSession(1); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	err := d.OpenSession(2)
	if proto.CodeOf(err) != proto.SessionAlreadyOpen {
		t.Errorf("code = %v, want SessionAlreadyOpen", proto.CodeOf(err))
	}
}

func TestDiscardPendingDetachesObject(t *testing.T) {
	d := newTestDevice()
	s := addStorage(d, proto.AccessReadWrite)
	obj := addFile(t, d, s, handle.Invalid, "pending.txt")
	d.Pending = obj

	d.DiscardPending()

	if _, err := d.GetObject(obj.Handle); err == nil {
		t.Error("pending object should be removed from the tree")
	}
	if d.Pending != nil {
		t.Error("Pending should be nil after DiscardPending")
	}
}
