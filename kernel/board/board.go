// Package board describes the target the loader is built for: a static build
// configuration and the system control collaborator that reports the memory
// configuration and supplies entropy.
package board

import (
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/vmm"
)

// Config is the static, target specific build configuration.
type Config struct {
	// Name identifies the target.
	Name string

	// PageSize is the page size used to lay out the kernel image and to
	// size the bootstrap allocator.
	PageSize mem.Size

	// Granule is the translation granule used for every page table.
	Granule vmm.Granule

	// ExpectedDRAMSize is the amount of memory the kernel is laid out for.
	// Larger machines get the kernel moved up in physical memory.
	ExpectedDRAMSize mem.Size

	// IncreaseReservedData enlarges the gap left between the kernel and
	// the initial processes.
	IncreaseReservedData bool
}

// QEMUVirtConfig is the build configuration of the QEMU virt machine.
var QEMUVirtConfig = Config{
	Name:             "qemu-virt",
	PageSize:         mem.PageSize,
	Granule:          vmm.Granule4K,
	ExpectedDRAMSize: 4 * mem.Gb,
}

// Current is the configuration of the target being built.
var Current = QEMUVirtConfig

// SystemControl is implemented by the board support code.
type SystemControl interface {
	// DRAMSize returns the amount of installed memory.
	DRAMSize() mem.Size

	// RandomBytes fills p with random data.
	RandomBytes(p []byte)

	// TuneCPU applies implementation specific tuning for the core
	// identified by midr before the MMU is enabled.
	TuneCPU(midr uint64)
}

// RandomRange returns a random value in [min, max].
func RandomRange(sc SystemControl, min, max uint64) uint64 {
	var buf [8]byte
	sc.RandomBytes(buf[:])

	r := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56

	span := max - min + 1
	if span == 0 {
		return r
	}

	return min + r%span
}
