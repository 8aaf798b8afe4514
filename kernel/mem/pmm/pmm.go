// Package pmm contains the physical page allocation capability shared by the
// bootstrap allocator and the page table builder.
package pmm

import (
	"aa64boot/kernel"
	"aa64boot/kernel/mem"
)

// PageAllocator hands out size-aligned physical pages. The contents of a
// freshly allocated page are undefined.
type PageAllocator interface {
	// AllocatePage reserves a block of the given size aligned to that same
	// size.
	AllocatePage(size mem.Size) (mem.PhysAddr, *kernel.Error)

	// FreePage returns a block obtained from AllocatePage.
	FreePage(addr mem.PhysAddr, size mem.Size)
}
