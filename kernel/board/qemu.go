package board

import (
	"aa64boot/kernel/cpu"
	"aa64boot/kernel/mem"
)

// Memory configurations reported by the firmware.
const (
	MemoryType4GB = 0
	MemoryType6GB = 1
	MemoryType8GB = 2
)

var (
	// readCounterFn is mocked by tests.
	readCounterFn = cpu.ReadCounter
)

// MemorySizeForType returns the DRAM size that corresponds to a firmware
// memory type. Unknown types fall back to 4 GiB.
func MemorySizeForType(memoryType uint8) mem.Size {
	switch memoryType {
	case MemoryType6GB:
		return 6 * mem.Gb
	case MemoryType8GB:
		return 8 * mem.Gb
	default:
		return 4 * mem.Gb
	}
}

// QEMUVirt is the system control implementation of the QEMU virt machine.
// The machine has no secure monitor to ask for random bytes, so entropy is
// derived from the generic timer.
type QEMUVirt struct {
	// MemoryType is the memory configuration the machine was started
	// with.
	MemoryType uint8

	state uint64
}

// DRAMSize implements SystemControl.
func (q *QEMUVirt) DRAMSize() mem.Size {
	return MemorySizeForType(q.MemoryType)
}

// RandomBytes implements SystemControl. Each 64-bit block mixes a fresh
// timer sample into a splitmix64 sequence.
func (q *QEMUVirt) RandomBytes(p []byte) {
	for len(p) > 0 {
		q.state += 0x9E3779B97F4A7C15 ^ readCounterFn()

		z := q.state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z ^= z >> 31

		for i := 0; i < 8 && len(p) > 0; i++ {
			p[0] = byte(z >> (8 * i))
			p = p[1:]
		}
	}
}

// TuneCPU implements SystemControl. The emulated cores need no tuning.
func (q *QEMUVirt) TuneCPU(midr uint64) {}
