// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objtree

import (
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/property"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/wire"
)

// DeviceInfo is the packed DeviceInfo payload (§6), minus the
// OperationsSupported/EventsSupported/DevicePropertiesSupported arrays.
// The first two are fields of Device itself; DevicePropertiesSupported is
// built at pack time from the Device's property map.
type DeviceInfo struct {
	StdVersion      uint16
	VendorExtID     uint32
	MTPVersion      uint16
	MTPExtensions   string
	FunctionalMode  uint16
	CaptureFormats  []uint16
	PlaybackFormats []uint16
	Manufacturer    string
	Model           string
	DeviceVersion   string
	SerialNumber    string
}

// PackDeviceInfo serializes GetDeviceInfo's payload per §6.
func (d *Device) PackDeviceInfo(w *wire.Writer) error {
	info := d.Info
	w.UInt16(info.StdVersion)
	w.UInt32(info.VendorExtID)
	w.UInt16(info.MTPVersion)
	if err := w.String(info.MTPExtensions); err != nil {
		return err
	}
	w.UInt16(info.FunctionalMode)
	wire.AppendUInt16Array(w, d.OperationsSupported)
	wire.AppendUInt16Array(w, d.EventsSupported)
	wire.AppendUInt16Array(w, d.devicePropertiesSupported())
	wire.AppendUInt16Array(w, info.CaptureFormats)
	wire.AppendUInt16Array(w, info.PlaybackFormats)
	if err := w.String(info.Manufacturer); err != nil {
		return err
	}
	if err := w.String(info.Model); err != nil {
		return err
	}
	if err := w.String(info.DeviceVersion); err != nil {
		return err
	}
	return w.String(info.SerialNumber)
}

func (d *Device) devicePropertiesSupported() []uint16 {
	out := make([]uint16, 0, len(d.Properties))
	for code := range d.Properties {
		out = append(out, uint16(code))
	}
	return out
}

// AddDeviceProperty registers a device property, keyed by its code.
func (d *Device) AddDeviceProperty(p *property.DeviceProperty) {
	d.Properties[p.Code] = p
}

// GetDeviceProperty resolves a device property by code, or
// proto.DevicePropNotSupported.
func (d *Device) GetDeviceProperty(code proto.DevicePropCode) (*property.DeviceProperty, error) {
	p, ok := d.Properties[code]
	if !ok {
		return nil, proto.Err(proto.DevicePropNotSupported)
	}
	return p, nil
}

// ResetDeviceProperty resets one property (or, for the wildcard code
// 0xFFFF, every writable property, silently skipping read-only ones
// rather than raising ACCESS_DENIED) to its default.
func (d *Device) ResetDeviceProperty(code proto.DevicePropCode) error {
	if code == 0xFFFF {
		for _, p := range d.Properties {
			if p.Writable {
				_ = p.ResetValue()
			}
		}
		return nil
	}
	p, err := d.GetDeviceProperty(code)
	if err != nil {
		return err
	}
	return p.ResetValue()
}
