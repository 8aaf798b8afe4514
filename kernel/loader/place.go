package loader

import (
	"unsafe"

	"aa64boot/kernel/board"
	"aa64boot/kernel/image"
	"aa64boot/kernel/kfmt"
	"aa64boot/kernel/mem"
)

// relocationDelta returns how far the kernel moves up when actual bytes of
// memory are installed on a machine built for expected bytes. Only machines
// with less than twice the expected memory get the kernel moved.
func relocationDelta(expected, actual mem.Size) uintptr {
	if expected == 0 || actual <= expected || actual >= 2*expected {
		return 0
	}

	return mem.AlignDown(uintptr(actual-expected)/2, uintptr(kernelAlign))
}

// Footprint returns the number of bytes above the initial kernel base that
// Prepare may touch for the given layout, configuration and memory size.
func Footprint(layout *image.KernelLayout, cfg board.Config, dram mem.Size) mem.Size {
	env := Env{Layout: layout, Config: cfg}

	page := uintptr(cfg.PageSize)
	end := mem.AlignUp(uintptr(ini1Target(&env))+uintptr(image.MaxIni1Size), page) + uintptr(ScratchSize)
	if kernelEnd := uintptr(kernelMapSize(&env)); kernelEnd > end {
		end = kernelEnd
	}

	return mem.Size(relocationDelta(cfg.ExpectedDRAMSize, dram) + end)
}

// relocateKernelPhysically moves the kernel up when the machine has more
// memory than the build expects, keeping it centred in the extra space. The
// image is copied up to the end of its data section and the returned base and
// layout pointer are shifted by the same amount.
func relocateKernelPhysically(env *Env) (mem.PhysAddr, *image.KernelLayout) {
	delta := relocationDelta(env.Config.ExpectedDRAMSize, env.Board.DRAMSize())
	if delta == 0 {
		return env.KernelBase, env.Layout
	}

	kfmt.Printf("[loader] moving kernel up by 0x%x bytes\n", delta)

	mem.Memcopy(uintptr(env.KernelBase), uintptr(env.KernelBase)+delta, mem.Size(env.Layout.DataEnd))

	return env.KernelBase + mem.PhysAddr(delta),
		(*image.KernelLayout)(unsafe.Add(unsafe.Pointer(env.Layout), delta))
}

// ini1Target returns the address the INI1 container is placed at.
func ini1Target(env *Env) mem.PhysAddr {
	reserved := ReservedDataSize
	if env.Config.IncreaseReservedData {
		reserved = IncreasedReservedDataSize
	}

	kernelEnd := mem.AlignUp(uintptr(env.Layout.KernelEnd), uintptr(env.Config.PageSize))
	return env.KernelBase + mem.PhysAddr(kernelEnd) + mem.PhysAddr(reserved)
}

// placeIni1 moves the INI1 container behind the kernel and returns its new
// address. A container that fails validation is replaced by a header with an
// invalid magic so that the kernel reports it instead of parsing garbage.
func placeIni1(env *Env) mem.PhysAddr {
	target := ini1Target(env)
	if env.Ini1Base == target {
		return target
	}

	if env.Ini1Base != 0 {
		hdr := (*image.Ini1Header)(unsafe.Pointer(uintptr(env.Ini1Base)))
		if hdr.Validate(image.MaxIni1Size) == nil {
			mem.Memcopy(uintptr(env.Ini1Base), uintptr(target), mem.Size(hdr.Size))
			return target
		}
	}

	kfmt.Printf("[loader] no valid INI1 container found\n")
	*(*image.Ini1Header)(unsafe.Pointer(uintptr(target))) = image.Ini1Header{}
	return target
}
