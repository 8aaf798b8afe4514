package loader

import (
	"aa64boot/kernel"
	"aa64boot/kernel/board"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/vmm"
)

const (
	// kaslrStart and kaslrEnd bound the high half window the kernel is
	// mapped into.
	kaslrStart = uintptr(0xFFFF_FF80_0000_0000)
	kaslrEnd   = uintptr(0xFFFF_FFC0_0000_0000)
)

var errMappingMismatch = &kernel.Error{Module: "loader", Message: "translation table does not resolve to the expected frame"}

// kernelMapSize returns the number of bytes of the kernel that get mapped,
// bss included.
func kernelMapSize(env *Env) mem.Size {
	end := env.Layout.KernelEnd
	if env.Layout.BssEnd > end {
		end = env.Layout.BssEnd
	}

	return mem.Size(mem.AlignUp(uintptr(end), uintptr(env.Config.PageSize)))
}

// kernelVirtBase picks a random kernelAlign aligned slot in the high half
// window that fits size bytes.
func kernelVirtBase(sc board.SystemControl, size mem.Size) mem.VirtAddr {
	slots := (kaslrEnd - kaslrStart - mem.AlignUp(uintptr(size), uintptr(kernelAlign))) / uintptr(kernelAlign)
	slot := board.RandomRange(sc, 0, uint64(slots))
	return mem.VirtAddr(kaslrStart + uintptr(slot)*uintptr(kernelAlign))
}

// buildTables creates the TTBR0 identity mapping of the kernel, the loader
// and the scratch region plus the TTBR1 mapping of the kernel at a random
// high half address, then checks that both resolve as expected.
func (l *Loader) buildTables(env *Env, res *Result) *kernel.Error {
	var err *kernel.Error

	if err = l.low.Init(env.Config.Granule, &l.alloc); err != nil {
		return err
	}

	if err = l.high.Init(env.Config.Granule, &l.alloc); err != nil {
		return err
	}

	page := uintptr(env.Config.Granule.PageSize())
	kernelSize := kernelMapSize(env)

	regions := [3][2]uintptr{
		{uintptr(env.KernelBase), uintptr(env.KernelBase) + uintptr(kernelSize)},
		{uintptr(env.LoaderBase), uintptr(env.LoaderEnd)},
		{uintptr(res.ScratchStart), uintptr(res.ScratchEnd)},
	}

	for _, r := range regions {
		if err = identityMap(&l.low, mem.AlignDown(r[0], page), mem.AlignUp(r[1], page)); err != nil {
			return err
		}
	}

	res.KernelVirtBase = kernelVirtBase(env.Board, kernelSize)
	if err = l.high.MapRegion(env.KernelBase, res.KernelVirtBase, kernelSize, vmm.AttrKernelRWX); err != nil {
		return err
	}

	if err = verify(&l.low, mem.VirtAddr(env.KernelBase), env.KernelBase); err != nil {
		return err
	}

	if err = verify(&l.high, res.KernelVirtBase, env.KernelBase); err != nil {
		return err
	}

	res.TTBR0, res.TTBR1 = l.low.Root(), l.high.Root()
	return nil
}

// identityMap maps [start, end) one page at a time. Pages that already map
// to themselves are skipped so that overlapping regions can be requested.
func identityMap(pt *vmm.PageTable, start, end uintptr) *kernel.Error {
	page := uintptr(pt.Granule().PageSize())

	for addr := start; addr < end; addr += page {
		if phys, err := pt.Translate(mem.VirtAddr(addr)); err == nil && uintptr(phys) == addr {
			continue
		}

		if err := pt.Map(mem.VirtAddr(addr), mem.PhysAddr(addr), vmm.PageSize(page), vmm.AttrKernelRWX); err != nil {
			return err
		}
	}

	return nil
}

func verify(pt *vmm.PageTable, virt mem.VirtAddr, exp mem.PhysAddr) *kernel.Error {
	got, err := pt.Translate(virt)
	if err != nil {
		return err
	}

	if got != exp {
		return errMappingMismatch
	}

	return nil
}
