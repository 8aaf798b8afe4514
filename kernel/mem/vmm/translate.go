package vmm

import (
	"aa64boot/kernel"
	"aa64boot/kernel/mem"
)

// Lookup returns the block or page descriptor that translates virtAddr and
// the level it was found at.
func (pt *PageTable) Lookup(virtAddr mem.VirtAddr) (Descriptor, uint8, *kernel.Error) {
	var (
		leaf  Descriptor
		level uint8
		err   = ErrInvalidMapping
	)

	pt.walk(virtAddr, func(l uint8, d *Descriptor) bool {
		switch {
		case d.IsEmpty():
			return false
		case d.IsBlock():
			leaf, level, err = *d, l, nil
			return false
		}

		return true
	})

	return leaf, level, err
}

// Translate returns the physical address that virtAddr maps to.
func (pt *PageTable) Translate(virtAddr mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	leaf, level, err := pt.Lookup(virtAddr)
	if err != nil {
		return 0, err
	}

	offsetMask := (uintptr(1) << pt.granule.levelShift(level)) - 1
	return mem.PhysAddr(leaf.OutputAddress() | (uintptr(virtAddr) & offsetMask)), nil
}
