package image

import (
	"bytes"
	"encoding/binary"

	"aa64boot/kernel"
)

const (
	// KernelMetaSize is the encoded size of a KernelMeta record.
	KernelMetaSize = 4 + 8 + 8 + 4 + LayoutSize

	// LoaderMetaSize is the encoded size of a LoaderMeta record.
	LoaderMetaSize = 4 + 4 + 4

	// LoaderMarker is the constant stored after the loader magic.
	LoaderMarker = 0xCCCCCCCC

	// maxMetaOffset is the largest offset at which a metadata record is
	// accepted. Records start right after the branch over them.
	maxMetaOffset = 0x10
)

var (
	// KernelMagic starts the kernel metadata record.
	KernelMagic = [4]byte{'S', 'K', 'N', '0'}

	// LoaderMagic starts the loader metadata record.
	LoaderMagic = [4]byte{'S', 'L', 'D', '0'}

	errMetaNotFound     = &kernel.Error{Module: "image", Message: "metadata magic not found"}
	errSuspiciousOffset = &kernel.Error{Module: "image", Message: "suspicious metadata offset"}
	errMetaTooShort     = &kernel.Error{Module: "image", Message: "buffer too short for a metadata record"}
	errBadMagic         = &kernel.Error{Module: "image", Message: "metadata magic mismatch"}
	errBadMarker        = &kernel.Error{Module: "image", Message: "loader metadata marker mismatch"}
)

// Version packs a release number the way the metadata records store it.
func Version(major, minor, micro uint8) uint32 {
	return uint32(major)<<24 | uint32(minor)<<16 | uint32(micro)<<8
}

// FindMeta returns the offset of magic in buf. The record may not sit at
// offset 0 since code has to precede it, and offsets past 0x10 are rejected.
func FindMeta(buf []byte, magic [4]byte) (int, *kernel.Error) {
	off := bytes.Index(buf, magic[:])
	switch {
	case off < 0:
		return 0, errMetaNotFound
	case off == 0 || off > maxMetaOffset:
		return 0, errSuspiciousOffset
	}

	return off, nil
}

// KernelMeta is the metadata record embedded in the kernel binary.
type KernelMeta struct {
	Magic      [4]byte
	Ini1Base   uint64
	LoaderBase uint64
	Version    uint32
	Layout     KernelLayout
}

// DecodeKernelMeta reads a KernelMeta from b and checks its magic.
func DecodeKernelMeta(b []byte) (KernelMeta, *kernel.Error) {
	var m KernelMeta
	if len(b) < KernelMetaSize {
		return m, errMetaTooShort
	}

	copy(m.Magic[:], b)
	if m.Magic != KernelMagic {
		return m, errBadMagic
	}

	m.Ini1Base = binary.LittleEndian.Uint64(b[4:])
	m.LoaderBase = binary.LittleEndian.Uint64(b[12:])
	m.Version = binary.LittleEndian.Uint32(b[20:])
	m.Layout, _ = DecodeLayout(b[24:])

	return m, nil
}

// Encode writes the record to b which must be at least KernelMetaSize bytes.
func (m *KernelMeta) Encode(b []byte) {
	copy(b, m.Magic[:])
	binary.LittleEndian.PutUint64(b[4:], m.Ini1Base)
	binary.LittleEndian.PutUint64(b[12:], m.LoaderBase)
	binary.LittleEndian.PutUint32(b[20:], m.Version)
	m.Layout.Encode(b[24:])
}

// LoaderMeta is the metadata record embedded in the loader binary.
type LoaderMeta struct {
	Magic   [4]byte
	Marker  uint32
	Version uint32
}

// DecodeLoaderMeta reads a LoaderMeta from b and checks its magic and marker.
func DecodeLoaderMeta(b []byte) (LoaderMeta, *kernel.Error) {
	var m LoaderMeta
	if len(b) < LoaderMetaSize {
		return m, errMetaTooShort
	}

	copy(m.Magic[:], b)
	if m.Magic != LoaderMagic {
		return m, errBadMagic
	}

	m.Marker = binary.LittleEndian.Uint32(b[4:])
	if m.Marker != LoaderMarker {
		return m, errBadMarker
	}

	m.Version = binary.LittleEndian.Uint32(b[8:])
	return m, nil
}

// Encode writes the record to b which must be at least LoaderMetaSize bytes.
func (m *LoaderMeta) Encode(b []byte) {
	copy(b, m.Magic[:])
	binary.LittleEndian.PutUint32(b[4:], m.Marker)
	binary.LittleEndian.PutUint32(b[8:], m.Version)
}
