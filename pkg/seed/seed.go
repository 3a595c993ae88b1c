// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seed populates a Device's object tree from a filesystem
// directory, loosely grounded on original_source/mtpdevice's
// from_fs_recursive/from_file helpers (see DESIGN.md): walk the tree,
// and for every entry build the (ObjectInfo, data) pair objtree.Device's
// constructor requires.
package seed

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/handle"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/objtree"
	"github.com/open-source-firmware/go-mtp-responder/pkg/mtp/proto"
)

// NewStorage registers a read-write storage with description desc and
// attaches it to dev, returning its handle. Its capacity and free-space
// fields are left at zero. If volID is
// empty it defaults to the storage's own tagged handle formatted as an
// 8-hex-digit string (SPEC_FULL.md D.4), so re-seeding the same directory
// across runs produces a stable, reproducible volume id.
func NewStorage(dev *objtree.Device, desc, volID string) handle.Handle {
	h := dev.AddStorage(objtree.StorageInfo{
		Type:   proto.StorageRemovableRAM,
		FSType: proto.FSHierarchical,
		Access: proto.AccessReadWrite,
		Desc:   desc,
	})
	if volID == "" {
		volID = fmt.Sprintf("%08X", uint32(h))
	}
	dev.Storages[h].Info.VolumeID = volID
	return h
}

// Walk populates storageID's tree from every entry under root, recursing
// into subdirectories as Association (folder) objects and loading
// regular files' contents into memory as object data.
func Walk(dev *objtree.Device, storageID handle.Handle, root string) error {
	return walkInto(dev, storageID, handle.Invalid, root)
}

func walkInto(dev *objtree.Device, storageID, parent handle.Handle, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if entry.IsDir() {
			obj, err := addObjectFromFileInfo(dev, storageID, parent, entry.Name(), info, true, nil)
			if err != nil {
				return err
			}
			if err := walkInto(dev, storageID, obj.Handle, path); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := addObjectFromFileInfo(dev, storageID, parent, entry.Name(), info, false, data); err != nil {
			return err
		}
	}
	return nil
}

// AddFile seeds a single regular file at path as an object directly under
// parent on storageID, without walking any directory structure. It is the
// building block AddManifest uses for each listed line.
func AddFile(dev *objtree.Device, storageID, parent handle.Handle, path string) (*objtree.Object, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("seed: %s is not a regular file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return addObjectFromFileInfo(dev, storageID, parent, filepath.Base(path), info, false, data)
}

// AddManifest reads manifestPath, one file path per line (blank lines and
// lines starting with # are skipped), and seeds each as an object at
// storageID's root via AddFile. It lets a caller assemble a storage out of
// files scattered across the filesystem instead of one contiguous
// directory tree.
func AddManifest(dev *objtree.Device, storageID handle.Handle, manifestPath string) (int, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := AddFile(dev, storageID, handle.Invalid, line); err != nil {
			return n, fmt.Errorf("seed: manifest entry %q: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	return n, nil
}

func addObjectFromFileInfo(dev *objtree.Device, storageID, parent handle.Handle, name string, info fs.FileInfo, isDir bool, data []byte) (*objtree.Object, error) {
	oi := objtree.ObjectInfo{
		Filename:       name,
		CTime:          info.ModTime(),
		MTime:          info.ModTime(),
		CompressedSize: uint32(len(data)),
	}
	if isDir {
		oi.Format = uint16(proto.FormatAssociation)
		oi.AssocType = uint16(proto.AssociationGenericFolder)
		oi.AssocDesc = proto.AssociationGenericFolder
	} else {
		oi.Format = uint16(proto.FormatUndefined)
	}
	return dev.AddObject(storageID, parent, oi, data)
}
