// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objtree

import (
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
)

// StorageInfo is the packed StorageInfo payload (§6):
// `type | fs_type | access | max_cap | free_bytes | free_objs | desc | vol_id`.
type StorageInfo struct {
	Type       proto.StorageType
	FSType     proto.FSType
	Access     proto.AccessCaps
	MaxCap     uint64
	FreeBytes  uint64
	FreeObjs   uint32
	Desc       string
	VolumeID   string
}

func (si StorageInfo) Pack(w *wire.Writer) error {
	w.UInt16(uint16(si.Type))
	w.UInt16(uint16(si.FSType))
	w.UInt16(uint16(si.Access))
	w.UInt64(si.MaxCap)
	w.UInt64(si.FreeBytes)
	w.UInt32(si.FreeObjs)
	if err := w.String(si.Desc); err != nil {
		return err
	}
	return w.String(si.VolumeID)
}

// Storage is one root of the device's object tree.
type Storage struct {
	Handle handle.Handle
	Info   StorageInfo
	Roots  []handle.Handle
}

// CanWrite reports whether new objects may be created under this storage.
func (s *Storage) CanWrite() bool {
	return s.Info.Access == proto.AccessReadWrite
}

// CanDelete reports whether objects may be removed from this storage.
func (s *Storage) CanDelete() bool {
	return s.Info.Access == proto.AccessReadWrite || s.Info.Access == proto.AccessReadOnlyWithDelete
}
