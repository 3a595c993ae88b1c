// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/objtree"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/operation"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/property"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
)

// newDevice builds a device advertising a minimal but complete set of
// device properties, the way a real responder would report battery level
// and friendly name even before any storage is attached. OperationsSupported
// is taken from reg rather than hand-maintained, so GetDeviceInfo always
// reflects the operations this build actually dispatches.
func newDevice(reg *operation.Registry) *objtree.Device {
	dev := objtree.NewDevice(objtree.DeviceInfo{
		StdVersion:     100,
		MTPVersion:     100,
		Manufacturer:   "go-mtp-responder",
		Model:          "mtprespondctl",
		DeviceVersion:  "1.0",
		SerialNumber:   "0",
		FunctionalMode: 0,
	})
	dev.OperationsSupported = reg.Opcodes()
	dev.AddDeviceProperty(&property.DeviceProperty{
		Code:    proto.DevicePropBatteryLevel,
		Codec:   property.UInt8,
		Default: uint8(100),
		Current: uint8(100),
	})
	dev.AddDeviceProperty(&property.DeviceProperty{
		Code:     proto.DevicePropDeviceFriendlyName,
		Codec:    property.Str,
		Writable: true,
		Default:  "mtprespondctl",
		Current:  "mtprespondctl",
	})
	return dev
}
