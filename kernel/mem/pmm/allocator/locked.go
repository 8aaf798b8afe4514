package allocator

import (
	"aa64boot/kernel"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/pmm"
	"aa64boot/kernel/sync"
)

var (
	_ pmm.PageAllocator = (*BootstrapAllocator)(nil)
	_ pmm.PageAllocator = (*LockedAllocator)(nil)
)

// LockedAllocator serializes access to a BootstrapAllocator so it can be
// shared once secondary cores are released.
type LockedAllocator struct {
	lock  sync.Spinlock
	inner *BootstrapAllocator
}

// Init wraps inner. The caller must not use inner directly afterwards.
func (l *LockedAllocator) Init(inner *BootstrapAllocator) {
	l.inner = inner
}

// Allocate behaves like BootstrapAllocator.Allocate.
func (l *LockedAllocator) Allocate(size mem.Size, align uintptr) mem.PhysAddr {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.inner.Allocate(size, align)
}

// Free behaves like BootstrapAllocator.Free.
func (l *LockedAllocator) Free(addr mem.PhysAddr, size mem.Size) {
	l.lock.Acquire()
	l.inner.Free(addr, size)
	l.lock.Release()
}

// AllocatePage implements pmm.PageAllocator.
func (l *LockedAllocator) AllocatePage(size mem.Size) (mem.PhysAddr, *kernel.Error) {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.inner.AllocatePage(size)
}

// FreePage implements pmm.PageAllocator.
func (l *LockedAllocator) FreePage(addr mem.PhysAddr, size mem.Size) {
	l.Free(addr, size)
}
