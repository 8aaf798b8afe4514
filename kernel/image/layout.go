// Package image describes the binary contracts shared by the kernel, the
// loader and the host packaging tool: the section layout of the kernel, the
// metadata records embedded near the start of each binary and the INI1
// container holding the initial processes.
package image

import (
	"encoding/binary"

	"aa64boot/kernel"
	"aa64boot/kernel/mem"
)

// LayoutSize is the encoded size of a KernelLayout.
const LayoutSize = 0x28

var (
	errLayoutTooShort   = &kernel.Error{Module: "image", Message: "buffer too short for a kernel layout"}
	errSectionBounds    = &kernel.Error{Module: "image", Message: "kernel section ends before it starts"}
	errDataPastEnd      = &kernel.Error{Module: "image", Message: "kernel data extends past kernel_end"}
	errMisalignedLayout = &kernel.Error{Module: "image", Message: "kernel section boundary is not page aligned"}
)

// KernelLayout holds the offsets of the kernel sections relative to the
// kernel base. The loader receives a pointer to this record directly, so the
// field order and widths match the binary encoding.
type KernelLayout struct {
	TextStart    uint32
	TextEnd      uint32
	RodataStart  uint32
	RodataEnd    uint32
	DataStart    uint32
	DataEnd      uint32
	BssStart     uint32
	BssEnd       uint32
	KernelEnd    uint32
	DynamicStart uint32
}

// fields returns pointers to the layout fields in encoding order.
func (l *KernelLayout) fields() [10]*uint32 {
	return [10]*uint32{
		&l.TextStart, &l.TextEnd,
		&l.RodataStart, &l.RodataEnd,
		&l.DataStart, &l.DataEnd,
		&l.BssStart, &l.BssEnd,
		&l.KernelEnd, &l.DynamicStart,
	}
}

// DecodeLayout reads a little-endian KernelLayout from b.
func DecodeLayout(b []byte) (KernelLayout, *kernel.Error) {
	var l KernelLayout
	if len(b) < LayoutSize {
		return l, errLayoutTooShort
	}

	for i, f := range l.fields() {
		*f = binary.LittleEndian.Uint32(b[i*4:])
	}

	return l, nil
}

// Encode writes the layout to b which must be at least LayoutSize bytes.
func (l *KernelLayout) Encode(b []byte) {
	for i, f := range l.fields() {
		binary.LittleEndian.PutUint32(b[i*4:], *f)
	}
}

// Validate checks that every section starts before it ends and that the
// initialized part of the image fits below KernelEnd.
func (l *KernelLayout) Validate() *kernel.Error {
	switch {
	case l.TextStart > l.TextEnd,
		l.RodataStart > l.RodataEnd,
		l.DataStart > l.DataEnd,
		l.BssStart > l.BssEnd:
		return errSectionBounds
	case l.DataEnd > l.KernelEnd:
		return errDataPastEnd
	}

	return nil
}

// CheckAlignment verifies that the boundaries the page table builder maps
// separately are multiples of pageSize.
func (l *KernelLayout) CheckAlignment(pageSize mem.Size) *kernel.Error {
	for _, off := range []uint32{
		l.TextStart, l.TextEnd,
		l.RodataStart, l.RodataEnd,
		l.DataStart, l.BssEnd,
	} {
		if !mem.IsAligned(uintptr(off), uintptr(pageSize)) {
			return errMisalignedLayout
		}
	}

	return nil
}
