// Package memtest provides a simulated physical memory region that lets tests
// exercise code which dereferences physical addresses (for example 0x80000000)
// on a host where those addresses are not mapped.
package memtest

import (
	"fmt"
	"unsafe"
)

// DRAM is a host-memory backed window that stands in for the physical range
// [Base, Base+Size).
type DRAM struct {
	Base uintptr
	buf  []byte
	host uintptr
}

// NewDRAM allocates a simulated DRAM region of the given size that answers for
// physical addresses starting at base. The backing buffer is aligned to 4 KiB
// so that in-memory structures see the same alignment as real memory.
func NewDRAM(base, size uintptr) *DRAM {
	const align = 4096
	raw := make([]byte, size+align)
	host := uintptr(unsafe.Pointer(&raw[0]))
	off := (align - host%align) % align

	return &DRAM{
		Base: base,
		buf:  raw[off : off+size],
		host: host + off,
	}
}

// Size returns the number of bytes covered by the region.
func (d *DRAM) Size() uintptr { return uintptr(len(d.buf)) }

// End returns the first physical address past the region.
func (d *DRAM) End() uintptr { return d.Base + uintptr(len(d.buf)) }

// Ptr translates a simulated physical address to a host pointer. It panics if
// the address falls outside the region so that stray accesses fail loudly.
func (d *DRAM) Ptr(addr uintptr) unsafe.Pointer {
	if addr < d.Base || addr >= d.End() {
		panic(fmt.Sprintf("memtest: access to 0x%x outside simulated DRAM [0x%x, 0x%x)", addr, d.Base, d.End()))
	}

	return unsafe.Pointer(&d.buf[addr-d.Base])
}

// HostAddr returns the host address that backs the simulated physical address.
func (d *DRAM) HostAddr(addr uintptr) uintptr {
	return uintptr(d.Ptr(addr))
}

// Bytes returns the backing bytes for [addr, addr+size).
func (d *DRAM) Bytes(addr, size uintptr) []byte {
	d.Ptr(addr)
	if size > 0 {
		d.Ptr(addr + size - 1)
	}

	off := addr - d.Base
	return d.buf[off : off+size]
}

// Word returns the 64-bit value stored at addr.
func (d *DRAM) Word(addr uintptr) uint64 {
	return *(*uint64)(d.Ptr(addr))
}

// Fill sets every byte in the region to v.
func (d *DRAM) Fill(v byte) {
	for i := range d.buf {
		d.buf[i] = v
	}
}
