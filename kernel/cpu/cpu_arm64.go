// Package cpu exposes the AArch64 instructions and system registers that the
// loader needs. The implementations live in cpu_arm64.s.
package cpu

// Halt parks the CPU in a low-power wait loop. It never returns.
func Halt()

// ReadMIDR returns MIDR_EL1 (implementer, part number and revision).
func ReadMIDR() uint64

// ReadMMFR0 returns ID_AA64MMFR0_EL1.
func ReadMMFR0() uint64

// ReadCLIDR returns CLIDR_EL1.
func ReadCLIDR() uint64

// ReadCCSIDR selects the cache described by csselr and returns its
// CCSIDR_EL1 value.
func ReadCCSIDR(csselr uint64) uint64

// WriteMAIR sets MAIR_EL1.
func WriteMAIR(v uint64)

// WriteTCR sets TCR_EL1.
func WriteTCR(v uint64)

// WriteTTBR0 sets the translation table base for the low half of the
// address space.
func WriteTTBR0(v uint64)

// WriteTTBR1 sets the translation table base for the high half of the
// address space.
func WriteTTBR1(v uint64)

// ReadSCTLR returns SCTLR_EL1.
func ReadSCTLR() uint64

// WriteSCTLR sets SCTLR_EL1.
func WriteSCTLR(v uint64)

// DataSyncBarrier issues DSB SY.
func DataSyncBarrier()

// InstructionSyncBarrier issues ISB.
func InstructionSyncBarrier()

// CleanInvalidateDCacheSetWay issues DC CISW with the supplied set/way
// operand.
func CleanInvalidateDCacheSetWay(setWay uint64)

// InvalidateICache issues IC IALLU.
func InvalidateICache()

// InvalidateTLB invalidates all stage 1 EL1 TLB entries in the inner
// shareable domain and waits for completion.
func InvalidateTLB()

// ReadCounter returns the virtual count (CNTVCT_EL0) of the generic timer.
func ReadCounter() uint64
