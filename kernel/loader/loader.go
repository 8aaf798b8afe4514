// Package loader prepares the kernel for execution: it moves the kernel
// image when the machine has more memory than expected, places the initial
// processes, builds the low and high half translation tables and enables the
// MMU.
package loader

import (
	"math/rand/v2"

	"aa64boot/kernel"
	"aa64boot/kernel/board"
	"aa64boot/kernel/image"
	"aa64boot/kernel/kfmt"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/pmm/allocator"
	"aa64boot/kernel/mem/vmm"
)

const (
	// ReservedDataSize is the gap left between the end of the kernel and
	// the initial processes.
	ReservedDataSize = 2 * mem.Mb

	// IncreasedReservedDataSize replaces ReservedDataSize on boards that
	// request more room.
	IncreasedReservedDataSize = 8 * mem.Mb

	// ScratchSize is the amount of memory the bootstrap allocator may hand
	// out for translation tables.
	ScratchSize = 2 * mem.Mb

	// kernelAlign is the alignment of physical kernel moves and of the
	// randomized virtual kernel base.
	kernelAlign = 2 * mem.Mb
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errNoLayout = &kernel.Error{Module: "loader", Message: "kernel layout pointer is nil"}
)

// Env holds everything the loader learns from its entry arguments and the
// board.
type Env struct {
	// KernelBase is the physical address the kernel image was loaded at.
	KernelBase mem.PhysAddr

	// Layout points at the kernel layout record inside the loaded image.
	Layout *image.KernelLayout

	// Ini1Base is the physical address of the INI1 container or zero if
	// the image carries none.
	Ini1Base mem.PhysAddr

	// LoaderBase and LoaderEnd bound the running loader image.
	LoaderBase, LoaderEnd mem.PhysAddr

	// Board is the system control collaborator.
	Board board.SystemControl

	// Config is the target build configuration.
	Config board.Config
}

// Result describes the state handed back to the kernel.
type Result struct {
	// KernelBase is the physical kernel base after a possible move.
	KernelBase mem.PhysAddr

	// Layout points at the kernel layout at its final location.
	Layout *image.KernelLayout

	// Ini1Base is the physical address the INI1 container was placed at.
	Ini1Base mem.PhysAddr

	// KernelVirtBase is the randomized high half address of the kernel.
	KernelVirtBase mem.VirtAddr

	// ScratchStart and ScratchEnd bound the memory used for tables.
	ScratchStart, ScratchEnd mem.PhysAddr

	// TTBR0 and TTBR1 are the translation table roots that were installed.
	TTBR0, TTBR1 mem.PhysAddr
}

// Loader carries the state built up while loading the kernel. The loader
// keeps a single instance in static storage so that nothing is allocated
// from the Go heap before the MMU is on.
type Loader struct {
	alloc     allocator.BootstrapAllocator
	rng       rand.PCG
	low, high vmm.PageTable
}

// Load prepares the kernel and enables the MMU. It returns the first error
// encountered, in which case the MMU is left untouched.
func (l *Loader) Load(env Env) (Result, *kernel.Error) {
	res, err := l.Prepare(env)
	if err != nil {
		return res, err
	}

	enableMMU(&env, res.TTBR0, res.TTBR1)
	return res, nil
}

// Prepare runs every step of Load up to, but not including, the system
// register writes. The kernel is moved if needed, the INI1 container placed
// and both translation regimes built.
func (l *Loader) Prepare(env Env) (Result, *kernel.Error) {
	var (
		res Result
		err *kernel.Error
	)

	if env.Layout == nil {
		return res, errNoLayout
	}

	if err = env.Layout.Validate(); err != nil {
		return res, err
	}

	res.KernelBase, res.Layout = relocateKernelPhysically(&env)
	env.KernelBase, env.Layout = res.KernelBase, res.Layout

	if err = env.Layout.CheckAlignment(env.Config.PageSize); err != nil {
		return res, err
	}

	res.Ini1Base = placeIni1(&env)

	res.ScratchStart = mem.PhysAddr(mem.AlignUp(uintptr(res.Ini1Base)+uintptr(image.MaxIni1Size), uintptr(env.Config.PageSize)))
	res.ScratchEnd = res.ScratchStart + mem.PhysAddr(ScratchSize)

	l.rng.Seed(board.RandomRange(env.Board, 0, ^uint64(0)), board.RandomRange(env.Board, 0, ^uint64(0)))
	l.alloc.Init(res.ScratchStart, allocator.Config{
		Limit: res.ScratchEnd,
		Rand:  &l.rng,
	})

	if err = l.buildTables(&env, &res); err != nil {
		return res, err
	}

	l.alloc.PrintStats()
	kfmt.Printf("[loader] kernel: phys 0x%16x virt 0x%16x\n", uintptr(res.KernelBase), uintptr(res.KernelVirtBase))
	return res, nil
}

// Tables returns the low and high half translation tables built by Prepare.
func (l *Loader) Tables() (low, high *vmm.PageTable) {
	return &l.low, &l.high
}

// Run calls Load and halts the system if any step fails.
func (l *Loader) Run(env Env) Result {
	res, err := l.Load(env)
	if err != nil {
		panicFn(err)
	}

	return res
}
