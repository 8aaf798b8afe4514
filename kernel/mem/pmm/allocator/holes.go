package allocator

import (
	"unsafe"

	"aa64boot/kernel"
	"aa64boot/kernel/mem"
)

// hole is the header written at the start of every free block.
type hole struct {
	next uintptr
	size uintptr
}

// minBlockSize is the allocation granularity. Every block handed out or
// returned must be able to hold a hole header once it is free again.
const minBlockSize = unsafe.Sizeof(hole{})

var (
	// holePtrFn converts the physical address of a hole into a pointer. The
	// loader runs identity mapped so this is a plain cast; tests override it
	// to redirect accesses into a simulated DRAM region.
	holePtrFn = func(addr uintptr) unsafe.Pointer {
		return unsafe.Pointer(addr)
	}

	// ErrNoFit is returned by TryAllocate when no hole contains the
	// requested range.
	ErrNoFit = &kernel.Error{Module: "free_list", Message: "no hole contains the requested range"}

	errMisalignedBlock = &kernel.Error{Module: "free_list", Message: "block address is not aligned to the minimum block size"}
)

func holeAt(addr uintptr) *hole {
	return (*hole)(holePtrFn(addr))
}

// blockSize rounds size up to a multiple of minBlockSize.
func blockSize(size uintptr) uintptr {
	if size < minBlockSize {
		return minBlockSize
	}
	return mem.AlignUp(size, minBlockSize)
}

// FreeList tracks free physical memory as a singly linked list of holes that
// live inside the memory they describe. The list is unordered; a zero address
// terminates it, so physical address 0 can never be part of a hole.
//
// All sizes are rounded up to multiples of minBlockSize and all addresses must
// be aligned to it.
type FreeList struct {
	head uintptr
}

// firstFit returns the lowest aligned address inside the first hole that can
// hold size bytes.
func (l *FreeList) firstFit(size, align uintptr) (uintptr, bool) {
	if align < minBlockSize {
		align = minBlockSize
	}
	size = blockSize(size)

	for cur := l.head; cur != 0; cur = holeAt(cur).next {
		h := holeAt(cur)
		candidate := mem.AlignUp(cur, align)
		if candidate >= cur && candidate+size > candidate && candidate+size <= cur+h.size {
			return candidate, true
		}
	}

	return 0, false
}

// IsAllocatable returns true if some hole can hold size bytes at an address
// aligned to align.
func (l *FreeList) IsAllocatable(size, align uintptr) bool {
	_, ok := l.firstFit(size, align)
	return ok
}

// TryAllocate removes [addr, addr+size) from the hole that contains it. The
// hole is split in front of and/or behind the allocation as needed. It
// returns ErrNoFit if no single hole covers the range.
func (l *FreeList) TryAllocate(addr, size uintptr) *kernel.Error {
	if !mem.IsAligned(addr, minBlockSize) {
		return errMisalignedBlock
	}
	size = blockSize(size)

	link := &l.head
	for cur := l.head; cur != 0; {
		h := holeAt(cur)
		end := cur + h.size

		if addr < cur || addr+size > end {
			link, cur = &h.next, h.next
			continue
		}

		next := h.next
		if tail := end - (addr + size); tail != 0 {
			t := holeAt(addr + size)
			t.next, t.size = next, tail
			next = addr + size
		}

		if front := addr - cur; front != 0 {
			h.size, h.next = front, next
		} else {
			*link = next
		}

		return nil
	}

	return ErrNoFit
}

// Free adds [addr, addr+size) back to the list. A single walk looks for the
// holes that end at addr and start at addr+size; the freed block is merged
// with both when found, otherwise it becomes the new list head.
//
// Freeing memory that is already free corrupts the list.
func (l *FreeList) Free(addr, size uintptr) {
	size = blockSize(size)
	end := addr + size

	var (
		lower, upper uintptr
		upperLink    *uintptr
	)

	link := &l.head
	for cur := l.head; cur != 0 && (lower == 0 || upper == 0); {
		h := holeAt(cur)
		switch {
		case cur+h.size == addr:
			lower = cur
		case cur == end:
			upper, upperLink = cur, link
		}

		link, cur = &h.next, h.next
	}

	switch {
	case lower != 0 && upper != 0:
		u := holeAt(upper)
		*upperLink = u.next
		holeAt(lower).size += size + u.size
	case lower != 0:
		holeAt(lower).size += size
	case upper != 0:
		u := holeAt(upper)
		h := holeAt(addr)
		h.next, h.size = u.next, size+u.size
		*upperLink = addr
	default:
		h := holeAt(addr)
		h.next, h.size = l.head, size
		l.head = addr
	}
}

// Visit invokes visitFn for each hole in list order. Returning false from
// visitFn stops the walk.
func (l *FreeList) Visit(visitFn func(addr, size uintptr) bool) {
	for cur := l.head; cur != 0; cur = holeAt(cur).next {
		if !visitFn(cur, holeAt(cur).size) {
			return
		}
	}
}

// FreeBytes returns the total size of all holes.
func (l *FreeList) FreeBytes() uintptr {
	var total uintptr
	l.Visit(func(_, size uintptr) bool {
		total += size
		return true
	})
	return total
}
