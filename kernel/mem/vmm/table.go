package vmm

import (
	"aa64boot/kernel"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/pmm"
)

var (
	// ErrPageAllocationFailed is returned when a table page cannot be
	// allocated.
	ErrPageAllocationFailed = &kernel.Error{Module: "vmm", Message: "page table allocation failed"}

	// ErrPageAlreadyMapped is returned when the requested range is already
	// covered by a block, page or table descriptor.
	ErrPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}

	// ErrUnsupportedPageSize is returned when the page size cannot be
	// expressed with the table granule.
	ErrUnsupportedPageSize = &kernel.Error{Module: "vmm", Message: "page size not supported by the translation granule"}

	// ErrMisalignedAddress is returned when the page or frame address is
	// not aligned to the page size.
	ErrMisalignedAddress = &kernel.Error{Module: "vmm", Message: "address is not aligned to the page size"}
)

// PageTable builds a translation table hierarchy for one translation regime
// (TTBR0 or TTBR1). Table pages come from the supplied PageAllocator and are
// never released.
type PageTable struct {
	root    mem.PhysAddr
	granule Granule
	alloc   pmm.PageAllocator
}

// Init allocates and clears the root table.
func (pt *PageTable) Init(granule Granule, alloc pmm.PageAllocator) *kernel.Error {
	pt.granule = granule
	pt.alloc = alloc

	root, err := pt.allocTable()
	if err != nil {
		return err
	}

	pt.root = root
	return nil
}

// Root returns the physical address of the root table, suitable for
// programming into TTBRn_EL1.
func (pt *PageTable) Root() mem.PhysAddr { return pt.root }

// Granule returns the translation granule of the table.
func (pt *PageTable) Granule() Granule { return pt.granule }

func (pt *PageTable) allocTable() (mem.PhysAddr, *kernel.Error) {
	size := pt.granule.PageSize()
	table, err := pt.alloc.AllocatePage(size)
	if err != nil {
		return 0, ErrPageAllocationFailed
	}

	mem.Memset(uintptr(ptePtrFn(uintptr(table))), 0, size)
	return table, nil
}

// Map establishes a mapping between a virtual page and a physical frame of
// the given size. Missing intermediate tables are allocated and cleared on the
// way down. The leaf descriptor carries attrs with the access flag forced on.
func (pt *PageTable) Map(page mem.VirtAddr, frame mem.PhysAddr, size PageSize, attrs Attributes) *kernel.Error {
	leafLevel, ok := pt.granule.leafLevel(size)
	if !ok {
		return ErrUnsupportedPageSize
	}

	if !page.IsAligned(uintptr(size)) || !frame.IsAligned(uintptr(size)) {
		return ErrMisalignedAddress
	}

	var err *kernel.Error

	pt.walk(page, func(level uint8, d *Descriptor) bool {
		if level == leafLevel {
			if !d.IsEmpty() {
				err = ErrPageAlreadyMapped
				return false
			}

			*d = leafDescriptor(level, uintptr(frame), attrs)
			return false
		}

		switch {
		case d.IsBlock():
			err = ErrPageAlreadyMapped
			return false
		case d.IsEmpty():
			var table mem.PhysAddr
			if table, err = pt.allocTable(); err != nil {
				return false
			}

			*d = tableDescriptor(uintptr(table))
		}

		return true
	})

	return err
}

// MapRegion maps length bytes starting at phys to virt using pages of the
// granule size. The length is rounded up to the next page boundary. Mapping
// stops at the first error, leaving the pages mapped so far in place.
func (pt *PageTable) MapRegion(phys mem.PhysAddr, virt mem.VirtAddr, length mem.Size, attrs Attributes) *kernel.Error {
	pageSize := pt.granule.PageSize()
	pageCount := (length + pageSize - 1) / pageSize

	for ; pageCount > 0; pageCount-- {
		if err := pt.Map(virt, phys, PageSize(pageSize), attrs); err != nil {
			return err
		}

		phys += mem.PhysAddr(pageSize)
		virt += mem.VirtAddr(pageSize)
	}

	return nil
}

// IdentityMapRegion maps length bytes starting at phys to the same virtual
// address.
func (pt *PageTable) IdentityMapRegion(phys mem.PhysAddr, length mem.Size, attrs Attributes) *kernel.Error {
	return pt.MapRegion(phys, mem.VirtAddr(phys), length, attrs)
}
