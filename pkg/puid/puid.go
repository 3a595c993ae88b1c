// Package puid derives the 128-bit PersistentUniqueObjectIdentifier object
// property (see SPEC_FULL.md D.2) from an object's creation-time identity.
package puid

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Derive computes a deterministic 128-bit identifier from the storage the
// object lives under, its parent handle, its filename, and its creation
// time (as Unix seconds). The identifier is fixed at object-creation time
// and never recomputed, so it remains stable across renames.
func Derive(storageID, parentHandle uint32, filename string, ctimeUnix int64) (lo, hi uint64) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// blake2b.New only fails for an out-of-range digest size or a key
		// longer than 64 bytes; neither applies with these fixed arguments.
		panic(err)
	}
	var hdr [20]byte
	binary.LittleEndian.PutUint32(hdr[0:4], storageID)
	binary.LittleEndian.PutUint32(hdr[4:8], parentHandle)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(ctimeUnix))
	h.Write(hdr[:])
	h.Write([]byte(filename))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])
}
