package allocator

import (
	"aa64boot/kernel"
	"aa64boot/kernel/kfmt"
	"aa64boot/kernel/mem"
)

const (
	// DefaultUnitSize is the amount of memory admitted into the free list
	// each time the arena has to grow.
	DefaultUnitSize = mem.PageSize * mem.WordBits

	// maxPlacementAttempts bounds the number of random candidates tried
	// before falling back to the first fitting address.
	maxPlacementAttempts = 64
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	// ErrOutOfMemory is returned when the arena cannot grow past its limit.
	ErrOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}

	errBadAlignment = &kernel.Error{Module: "boot_mem_alloc", Message: "alignment must be a power of two"}
)

// RandomSource supplies the entropy used to pick allocation addresses.
// *rand.PCG and *rand.ChaCha8 from math/rand/v2 satisfy it.
type RandomSource interface {
	Uint64() uint64
}

// Config controls the behavior of a BootstrapAllocator.
type Config struct {
	// UnitSize is the growth step. Zero selects DefaultUnitSize.
	UnitSize mem.Size

	// Limit is the first address the arena may not grow into. Zero
	// means unbounded.
	Limit mem.PhysAddr

	// Rand randomizes the placement of each allocation among all suitably
	// aligned addresses in the arena. A nil Rand selects the first fit.
	Rand RandomSource
}

// BootstrapAllocator hands out physical memory from an arena that starts
// empty at a fixed address and grows upwards on demand. Freed memory is
// tracked in a FreeList and reused by later allocations.
//
// The allocator is not safe for concurrent use; see LockedAllocator.
type BootstrapAllocator struct {
	start, end mem.PhysAddr
	unit       uintptr
	limit      mem.PhysAddr
	rand       RandomSource
	list       FreeList
}

// Init resets the allocator to an empty arena at start.
func (alloc *BootstrapAllocator) Init(start mem.PhysAddr, cfg Config) {
	alloc.start = start.AlignUp(minBlockSize)
	alloc.end = alloc.start
	alloc.unit = uintptr(cfg.UnitSize)
	if alloc.unit == 0 {
		alloc.unit = uintptr(DefaultUnitSize)
	}
	alloc.unit = blockSize(alloc.unit)
	alloc.limit = cfg.Limit
	alloc.rand = cfg.Rand
	alloc.list = FreeList{}
}

// Start returns the arena base address.
func (alloc *BootstrapAllocator) Start() mem.PhysAddr { return alloc.start }

// End returns the high-water mark of memory admitted into the arena.
func (alloc *BootstrapAllocator) End() mem.PhysAddr { return alloc.end }

// FreeList returns the list backing the allocator.
func (alloc *BootstrapAllocator) FreeList() *FreeList { return &alloc.list }

// Allocate reserves size bytes aligned to align. Running out of memory is
// fatal.
func (alloc *BootstrapAllocator) Allocate(size mem.Size, align uintptr) mem.PhysAddr {
	addr, err := alloc.allocate(uintptr(size), align)
	if err != nil {
		panicFn(err)
		return 0
	}

	return addr
}

// Free releases a block previously returned by Allocate.
func (alloc *BootstrapAllocator) Free(addr mem.PhysAddr, size mem.Size) {
	alloc.list.Free(uintptr(addr), uintptr(size))
}

// AllocatePage implements pmm.PageAllocator. Unlike Allocate it reports
// exhaustion to the caller.
func (alloc *BootstrapAllocator) AllocatePage(size mem.Size) (mem.PhysAddr, *kernel.Error) {
	return alloc.allocate(uintptr(size), uintptr(size))
}

// FreePage implements pmm.PageAllocator.
func (alloc *BootstrapAllocator) FreePage(addr mem.PhysAddr, size mem.Size) {
	alloc.Free(addr, size)
}

func (alloc *BootstrapAllocator) allocate(size, align uintptr) (mem.PhysAddr, *kernel.Error) {
	if err := mem.CheckAlignment(align); err != nil {
		return 0, errBadAlignment
	}

	if align < minBlockSize {
		align = minBlockSize
	}
	size = blockSize(size)

	for !alloc.list.IsAllocatable(size, align) {
		if err := alloc.grow(); err != nil {
			return 0, err
		}
	}

	return mem.PhysAddr(alloc.place(size, align)), nil
}

// grow admits the next unit of memory past end into the free list.
func (alloc *BootstrapAllocator) grow() *kernel.Error {
	unit := alloc.unit
	if alloc.limit != 0 {
		if alloc.end >= alloc.limit {
			return ErrOutOfMemory
		}

		if avail := uintptr(alloc.limit - alloc.end); avail < unit {
			unit = mem.AlignDown(avail, minBlockSize)
			if unit == 0 {
				return ErrOutOfMemory
			}
		}
	}

	alloc.list.Free(uintptr(alloc.end), unit)
	alloc.end += mem.PhysAddr(unit)
	return nil
}

// place picks the address for a request that is known to fit. With a random
// source every aligned address a with a+size <= end is a candidate; the
// first fit is used if no candidate lands inside a hole after
// maxPlacementAttempts tries.
func (alloc *BootstrapAllocator) place(size, align uintptr) uintptr {
	if alloc.rand != nil {
		lo := mem.AlignUp(uintptr(alloc.start), align)
		hi := mem.AlignDown(uintptr(alloc.end)-size, align)
		candidates := uint64((hi-lo)/align) + 1

		for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
			addr := lo + uintptr(alloc.rand.Uint64()%candidates)*align
			if alloc.list.TryAllocate(addr, size) == nil {
				return addr
			}
		}
	}

	addr, _ := alloc.list.firstFit(size, align)
	if err := alloc.list.TryAllocate(addr, size); err != nil {
		panicFn(err)
	}

	return addr
}

// PrintStats outputs the arena bounds and free list summary.
func (alloc *BootstrapAllocator) PrintStats() {
	var holes uint64
	alloc.list.Visit(func(_, _ uintptr) bool {
		holes++
		return true
	})

	kfmt.Printf("[boot_mem_alloc] arena: [0x%16x - 0x%16x], free: %d bytes in %d holes\n",
		uintptr(alloc.start), uintptr(alloc.end), uint64(alloc.list.FreeBytes()), holes,
	)
}
