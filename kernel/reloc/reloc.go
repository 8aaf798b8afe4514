// Package reloc applies the dynamic relocations of a position independent
// image to itself. Apply runs before the image's own data pointers are valid,
// so it only touches its arguments and the stack.
package reloc

import (
	"debug/elf"
	"unsafe"

	"aa64boot/kernel"
)

// Result reports the outcome of Apply without referencing any global data.
type Result uint8

// Possible Apply outcomes.
const (
	Ok Result = iota
	InvalidEntrySize
	UnsupportedRelocation
)

var (
	errInvalidEntrySize      = &kernel.Error{Module: "reloc", Message: "relocation entry size does not match the ELF64 record size"}
	errUnsupportedRelocation = &kernel.Error{Module: "reloc", Message: "image contains a relocation other than R_AARCH64_RELATIVE"}
)

// Err converts r to a kernel error. It must only be called once Apply has
// returned Ok or the error values may still point at link-time addresses.
func (r Result) Err() *kernel.Error {
	switch r {
	case InvalidEntrySize:
		return errInvalidEntrySize
	case UnsupportedRelocation:
		return errUnsupportedRelocation
	default:
		return nil
	}
}

const (
	relEntrySize  = uint64(unsafe.Sizeof(elf.Rel64{}))
	relaEntrySize = uint64(unsafe.Sizeof(elf.Rela64{}))
)

// relocTable describes one REL or RELA table found in the dynamic section.
type relocTable struct {
	offset, size, entSize, count uint64
}

// entries returns the number of records to process. The RELCOUNT style tags
// only count the leading relative records; without them the whole table is
// walked.
func (t *relocTable) entries() uint64 {
	if t.count != 0 {
		return t.count
	}

	if t.entSize == 0 {
		return 0
	}

	return t.size / t.entSize
}

// Apply relocates the image loaded at base. dynamic is the runtime address of
// the image's _DYNAMIC array. Only R_AARCH64_RELATIVE relocations are
// supported:
//
//	Rel:  *(base+offset) += base
//	Rela: *(base+offset)  = base+addend
//
//go:nosplit
func Apply(base, dynamic uintptr) Result {
	var rel, rela relocTable

	for dyn := (*elf.Dyn64)(unsafe.Pointer(dynamic)); elf.DynTag(dyn.Tag) != elf.DT_NULL; dyn = (*elf.Dyn64)(unsafe.Add(unsafe.Pointer(dyn), unsafe.Sizeof(*dyn))) {
		switch elf.DynTag(dyn.Tag) {
		case elf.DT_RELA:
			rela.offset = dyn.Val
		case elf.DT_RELASZ:
			rela.size = dyn.Val
		case elf.DT_RELAENT:
			rela.entSize = dyn.Val
		case elf.DT_RELACOUNT:
			rela.count = dyn.Val
		case elf.DT_REL:
			rel.offset = dyn.Val
		case elf.DT_RELSZ:
			rel.size = dyn.Val
		case elf.DT_RELENT:
			rel.entSize = dyn.Val
		case elf.DT_RELCOUNT:
			rel.count = dyn.Val
		}
	}

	if n := rel.entries(); n != 0 {
		if rel.entSize != relEntrySize {
			return InvalidEntrySize
		}

		for i := uint64(0); i < n; i++ {
			r := (*elf.Rel64)(unsafe.Pointer(base + uintptr(rel.offset+i*relEntrySize)))
			if elf.R_AARCH64(elf.R_TYPE64(r.Info)) != elf.R_AARCH64_RELATIVE {
				return UnsupportedRelocation
			}

			*(*uint64)(unsafe.Pointer(base + uintptr(r.Off))) += uint64(base)
		}
	}

	if n := rela.entries(); n != 0 {
		if rela.entSize != relaEntrySize {
			return InvalidEntrySize
		}

		for i := uint64(0); i < n; i++ {
			r := (*elf.Rela64)(unsafe.Pointer(base + uintptr(rela.offset+i*relaEntrySize)))
			if elf.R_AARCH64(elf.R_TYPE64(r.Info)) != elf.R_AARCH64_RELATIVE {
				return UnsupportedRelocation
			}

			*(*uint64)(unsafe.Pointer(base + uintptr(r.Off))) = uint64(base) + uint64(r.Addend)
		}
	}

	return Ok
}

// ZeroBSS clears the uninitialized data section [start, end). It runs right
// after Apply and before any global variable is read.
//
//go:nosplit
func ZeroBSS(start, end uintptr) {
	for addr := start; addr < end; addr++ {
		*(*byte)(unsafe.Pointer(addr)) = 0
	}
}
