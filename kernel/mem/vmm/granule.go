package vmm

import "aa64boot/kernel/mem"

// pageLevels is the number of translation levels (0 to 3) defined by the
// architecture. Depending on the granule the walk may start below level 0.
const pageLevels = 4

// Granule selects the translation granule, which fixes the size of every
// table and of the smallest page.
type Granule uint8

// The supported translation granules.
const (
	Granule4K Granule = iota
	Granule16K
	Granule64K
)

// PageShift returns log2 of the granule size.
func (g Granule) PageShift() uint {
	switch g {
	case Granule16K:
		return 14
	case Granule64K:
		return 16
	default:
		return 12
	}
}

// PageSize returns the size of a table and of the smallest page.
func (g Granule) PageSize() mem.Size {
	return mem.Size(1) << g.PageShift()
}

// levelShift returns the position of the lowest input address bit resolved
// at level.
func (g Granule) levelShift(level uint8) uint {
	shift := g.PageShift()
	return shift + uint(pageLevels-1-level)*(shift-mem.PointerShift)
}

// indexMask returns the mask applied to the shifted address to get the
// descriptor index at level. The first level only resolves the bits that are
// left over from mem.VirtAddrBits.
func (g Granule) indexMask(level uint8) uintptr {
	bits := g.PageShift() - mem.PointerShift
	if rem := mem.VirtAddrBits - g.levelShift(level); rem < bits {
		bits = rem
	}
	return (uintptr(1) << bits) - 1
}

// startLevel returns the first level of the walk for mem.VirtAddrBits.
func (g Granule) startLevel() uint8 {
	level := uint8(0)
	for g.levelShift(level) >= mem.VirtAddrBits {
		level++
	}
	return level
}

// PageSize enumerates the page and block sizes a descriptor can map.
type PageSize mem.Size

// Page and block sizes across all granules.
const (
	Size4K   = PageSize(4 * mem.Kb)
	Size16K  = PageSize(16 * mem.Kb)
	Size64K  = PageSize(64 * mem.Kb)
	Size2M   = PageSize(2 * mem.Mb)
	Size32M  = PageSize(32 * mem.Mb)
	Size512M = PageSize(512 * mem.Mb)
	Size1G   = PageSize(1 * mem.Gb)
)

// leafLevel returns the level whose descriptors map size bytes with granule g.
func (g Granule) leafLevel(size PageSize) (uint8, bool) {
	switch {
	case g == Granule4K && size == Size4K,
		g == Granule16K && size == Size16K,
		g == Granule64K && size == Size64K:
		return 3, true
	case g == Granule4K && size == Size2M,
		g == Granule16K && size == Size32M,
		g == Granule64K && size == Size512M:
		return 2, true
	case g == Granule4K && size == Size1G:
		return 1, true
	}

	return 0, false
}

// Supported returns true if a page of the given size can be mapped when
// translating with granule g.
func Supported(g Granule, size PageSize) bool {
	_, ok := g.leafLevel(size)
	return ok
}
