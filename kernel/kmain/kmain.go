package kmain

import (
	"unsafe"

	"aa64boot/kernel/board"
	"aa64boot/kernel/cpu"
	"aa64boot/kernel/image"
	"aa64boot/kernel/kfmt"
	"aa64boot/kernel/loader"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/reloc"
)

var (
	// The following live in .bss and are only touched after ZeroBSS.
	bootLoader loader.Loader
	systemCtrl board.QEMUVirt
)

// LoaderImage holds the linker provided bounds of the running loader.
type LoaderImage struct {
	Base, End        uintptr
	Dynamic          uintptr
	BssStart, BssEnd uintptr
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 code.
// The rt0 code passes the three boot entry registers (physical kernel base,
// kernel layout pointer and INI1 base) along with the bounds of the loader
// image. Nothing but the arguments and the stack may be trusted until the
// loader has relocated itself and cleared its .bss.
//
// Kmain returns the randomized virtual base of the kernel.
//
// Function values stored in package variables are themselves relocated, so
// everything up to a successful Apply is a direct call.
//
//go:noinline
func Kmain(kernelBase, kernelLayout, ini1Base uintptr, img LoaderImage) uintptr {
	if res := reloc.Apply(img.Base, img.Dynamic); res != reloc.Ok {
		// Globals, including the error values, may still hold link-time
		// addresses.
		cpu.Halt()
		return 0
	}

	reloc.ZeroBSS(img.BssStart, img.BssEnd)

	kfmt.Printf("[kmain] loader at 0x%16x, kernel at 0x%16x\n", img.Base, kernelBase)

	res := bootLoader.Run(loader.Env{
		KernelBase: mem.PhysAddr(kernelBase),
		Layout:     layoutPtr(kernelLayout),
		Ini1Base:   mem.PhysAddr(ini1Base),
		LoaderBase: mem.PhysAddr(img.Base),
		LoaderEnd:  mem.PhysAddr(img.End),
		Board:      &systemCtrl,
		Config:     board.Current,
	})

	return uintptr(res.KernelVirtBase)
}

func layoutPtr(addr uintptr) *image.KernelLayout {
	if addr == 0 {
		return nil
	}

	return (*image.KernelLayout)(unsafe.Pointer(addr))
}
