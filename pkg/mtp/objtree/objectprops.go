// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objtree

import (
	"time"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/property"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
)

// ObjectPropsSupported is the fixed set of object properties this
// responder populates for every object (SPEC_FULL.md D.1).
var ObjectPropsSupported = []proto.ObjectPropCode{
	proto.ObjectPropStorageID,
	proto.ObjectPropObjectFormat,
	proto.ObjectPropProtectionStatus,
	proto.ObjectPropObjectSize,
	proto.ObjectPropAssociationType,
	proto.ObjectPropAssociationDesc,
	proto.ObjectPropObjectFileName,
	proto.ObjectPropDateCreated,
	proto.ObjectPropDateModified,
	proto.ObjectPropKeywords,
	proto.ObjectPropParentObject,
	proto.ObjectPropPersistentUniqueObjectIdentifier,
	proto.ObjectPropName,
}

// objectProperty reconstructs the live property.ObjectProperty for code
// from obj's current ObjectInfo fields, rather than caching a copy that
// could drift out of sync with Info. Only ObjectFileName and Keywords are
// writable, matching the `perm` values of the original's static
// descriptor table.
func (o *Object) objectProperty(code proto.ObjectPropCode) (*property.ObjectProperty, error) {
	switch code {
	case proto.ObjectPropStorageID:
		return &property.ObjectProperty{Code: code, Codec: property.UInt32, Default: uint32(0), Current: uint32(o.StorageHandle)}, nil
	case proto.ObjectPropObjectFormat:
		return &property.ObjectProperty{Code: code, Codec: property.UInt16, Default: uint16(0), Current: o.Info.Format}, nil
	case proto.ObjectPropProtectionStatus:
		return &property.ObjectProperty{Code: code, Codec: property.UInt16, Default: uint16(0), Current: o.Info.Protection}, nil
	case proto.ObjectPropObjectSize:
		return &property.ObjectProperty{Code: code, Codec: property.UInt32, Default: uint32(0), Current: o.Info.CompressedSize}, nil
	case proto.ObjectPropAssociationType:
		return &property.ObjectProperty{Code: code, Codec: property.UInt16, Default: uint16(0), Current: o.Info.AssocType}, nil
	case proto.ObjectPropAssociationDesc:
		return &property.ObjectProperty{Code: code, Codec: property.UInt32, Default: uint32(0), Current: o.Info.AssocDesc}, nil
	case proto.ObjectPropObjectFileName:
		return &property.ObjectProperty{Code: code, Codec: property.Str, Writable: true, Default: "", Current: o.Info.Filename}, nil
	case proto.ObjectPropDateCreated:
		return &property.ObjectProperty{Code: code, Codec: property.DateTime, Default: time.Time{}, Current: o.Info.CTime}, nil
	case proto.ObjectPropDateModified:
		return &property.ObjectProperty{Code: code, Codec: property.DateTime, Default: time.Time{}, Current: o.Info.MTime}, nil
	case proto.ObjectPropKeywords:
		return &property.ObjectProperty{Code: code, Codec: property.Str, Writable: true, Default: "", Current: o.Info.Keywords}, nil
	case proto.ObjectPropParentObject:
		return &property.ObjectProperty{Code: code, Codec: property.UInt32, Default: uint32(0), Current: uint32(o.ParentHandle)}, nil
	case proto.ObjectPropPersistentUniqueObjectIdentifier:
		lo, hi := o.PUID()
		return &property.ObjectProperty{Code: code, Codec: property.UInt128, Default: property.Uint128{}, Current: property.Uint128{Lo: lo, Hi: hi}}, nil
	case proto.ObjectPropName:
		return &property.ObjectProperty{Code: code, Codec: property.Str, Default: "", Current: o.Info.Filename}, nil
	default:
		return nil, proto.Err(proto.ObjectPropNotSupported)
	}
}

// GetObjectPropDesc packs the descriptor for one of the object's
// supported properties.
func (o *Object) GetObjectPropDesc(w *wire.Writer, code proto.ObjectPropCode) error {
	p, err := o.objectProperty(code)
	if err != nil {
		return err
	}
	return p.PackDesc(w)
}

// GetObjectPropValue packs the current value of one of the object's
// supported properties.
func (o *Object) GetObjectPropValue(w *wire.Writer, code proto.ObjectPropCode) error {
	p, err := o.objectProperty(code)
	if err != nil {
		return err
	}
	return p.PackValue(w)
}

// SetObjectPropValue decodes and installs a new value for a writable
// object property, writing it back into ObjectInfo so subsequent reads
// (including GetObjectInfo) observe it.
func (o *Object) SetObjectPropValue(code proto.ObjectPropCode, r *wire.Reader) error {
	p, err := o.objectProperty(code)
	if err != nil {
		return err
	}
	if err := p.SetValue(r); err != nil {
		return err
	}
	switch code {
	case proto.ObjectPropObjectFileName:
		o.Info.Filename = p.Current.(string)
	case proto.ObjectPropKeywords:
		o.Info.Keywords = p.Current.(string)
	}
	return nil
}

// GetObjectPropList packs the MTP PropList element form for every
// supported property of o whose code matches the filter (proto.ObjectPropCode(0)
// selects all of them): `ObjectHandle:u32 | PropertyCode:u16 | Datatype:u16 | Value`.
func (o *Object) GetObjectPropList(w *wire.Writer, filter proto.ObjectPropCode) error {
	codes := ObjectPropsSupported
	if filter != 0 {
		codes = []proto.ObjectPropCode{filter}
	}
	w.ArrayLen(uint32(len(codes)))
	for _, code := range codes {
		p, err := o.objectProperty(code)
		if err != nil {
			return err
		}
		w.UInt32(uint32(o.Handle))
		w.UInt16(uint16(p.Code))
		w.UInt16(uint16(p.Codec.TypeCode()))
		if err := p.Codec.Pack(w, p.Current); err != nil {
			return err
		}
	}
	return nil
}

// GetObjectReferences packs o's reference list (SPEC_FULL.md D.3): empty
// unless SetObjectReferences was used to populate it.
func (o *Object) GetObjectReferences(w *wire.Writer) {
	w.ArrayLen(uint32(len(o.References)))
	for _, h := range o.References {
		w.UInt32(uint32(h))
	}
}

// SetObjectReferences replaces o's reference list. Referenced handles are
// not validated against the tree; MTP treats references as opaque links
// the initiator is responsible for maintaining.
func (o *Object) SetObjectReferences(refs []uint32) {
	o.References = make([]handle.Handle, len(refs))
	for i, h := range refs {
		o.References[i] = handle.Handle(h)
	}
}
