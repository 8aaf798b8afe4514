package vmm

import (
	"unsafe"

	"aa64boot/kernel/mem"
)

var (
	// ptePtrFn returns a pointer to the descriptor at the supplied physical
	// address. Tables are accessed through the identity mapping; tests
	// override it to redirect accesses into simulated memory. When
	// compiling the loader this function will be automatically inlined.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and descriptor as its arguments.
// If the function returns false, then the page walk is aborted.
type pageTableWalker func(level uint8, d *Descriptor) bool

// walk visits the descriptor that translates virtAddr at each level, starting
// from the root table. After walkFn returns, the walk descends into the next
// table only if the descriptor (possibly just rewritten by walkFn) is a table
// descriptor.
func (pt *PageTable) walk(virtAddr mem.VirtAddr, walkFn pageTableWalker) {
	tableAddr := uintptr(pt.root)

	for level := pt.granule.startLevel(); level < pageLevels; level++ {
		entryIndex := (uintptr(virtAddr) >> pt.granule.levelShift(level)) & pt.granule.indexMask(level)
		d := (*Descriptor)(ptePtrFn(tableAddr + (entryIndex << mem.PointerShift)))

		if !walkFn(level, d) || !d.IsTable() {
			return
		}

		tableAddr = d.OutputAddress()
	}
}
