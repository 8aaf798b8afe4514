package loader

import (
	"aa64boot/kernel/cpu"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/vmm"
)

var (
	// The following are mocked by tests.
	readMIDRFn         = cpu.ReadMIDR
	readMMFR0Fn        = cpu.ReadMMFR0
	writeMAIRFn        = cpu.WriteMAIR
	writeTCRFn         = cpu.WriteTCR
	writeTTBR0Fn       = cpu.WriteTTBR0
	writeTTBR1Fn       = cpu.WriteTTBR1
	readSCTLRFn        = cpu.ReadSCTLR
	writeSCTLRFn       = cpu.WriteSCTLR
	flushDataCacheFn   = cpu.FlushDataCache
	invalidateICacheFn = cpu.InvalidateICache
	invalidateTLBFn    = cpu.InvalidateTLB
	dsbFn              = cpu.DataSyncBarrier
	isbFn              = cpu.InstructionSyncBarrier
)

// MAIR_EL1 attribute encodings.
const (
	mairDeviceNGnRnE = 0x00
	mairNormalWB     = 0xFF
	mairNormalNC     = 0x44
)

// TCR_EL1 fields.
const (
	tcrT0SZShift  = 0
	tcrIRGN0WBWA  = 1 << 8
	tcrORGN0WBWA  = 1 << 10
	tcrSH0Inner   = 3 << 12
	tcrTG0Shift   = 14
	tcrT1SZShift  = 16
	tcrIRGN1WBWA  = 1 << 24
	tcrORGN1WBWA  = 1 << 26
	tcrSH1Inner   = 3 << 28
	tcrTG1Shift   = 30
	tcrIPSShift   = 32
	maxPARange    = 6
	parangeMask   = 0xF
	addrSpaceBits = 64 - mem.VirtAddrBits
)

// SCTLR_EL1 bits.
const (
	sctlrM = 1 << 0
	sctlrC = 1 << 2
	sctlrI = 1 << 12
)

// mairValue returns MAIR_EL1 with the entries indexed by vmm.Mair*.
func mairValue() uint64 {
	return mairDeviceNGnRnE<<(8*vmm.MairDevice) |
		mairNormalWB<<(8*vmm.MairNormal) |
		mairNormalNC<<(8*vmm.MairNormalNC)
}

// tgValues returns the TG0 and TG1 encodings of a granule. The two fields
// use different encodings.
func tgValues(g vmm.Granule) (uint64, uint64) {
	switch g {
	case vmm.Granule16K:
		return 2, 1
	case vmm.Granule64K:
		return 1, 3
	default:
		return 0, 2
	}
}

// tcrValue returns TCR_EL1 for 48-bit low and high halves walked with
// granule g through write-back inner shareable tables. The intermediate
// physical address size is taken from ID_AA64MMFR0_EL1.PARange.
func tcrValue(g vmm.Granule, mmfr0 uint64) uint64 {
	tg0, tg1 := tgValues(g)

	ips := mmfr0 & parangeMask
	if ips > maxPARange {
		ips = maxPARange
	}

	return addrSpaceBits<<tcrT0SZShift | tcrIRGN0WBWA | tcrORGN0WBWA | tcrSH0Inner | tg0<<tcrTG0Shift |
		addrSpaceBits<<tcrT1SZShift | tcrIRGN1WBWA | tcrORGN1WBWA | tcrSH1Inner | tg1<<tcrTG1Shift |
		ips<<tcrIPSShift
}

// enableMMU installs the translation tables and turns on the MMU and caches.
// Table writes are made visible to the walker before SCTLR_EL1.M is set and
// the ISB afterwards makes the new regime effective for the instructions
// that follow.
func enableMMU(env *Env, ttbr0, ttbr1 mem.PhysAddr) {
	writeMAIRFn(mairValue())
	writeTCRFn(tcrValue(env.Config.Granule, readMMFR0Fn()))
	writeTTBR0Fn(uint64(ttbr0))
	writeTTBR1Fn(uint64(ttbr1))

	env.Board.TuneCPU(readMIDRFn())

	flushDataCacheFn()
	invalidateICacheFn()
	invalidateTLBFn()
	dsbFn()
	isbFn()

	writeSCTLRFn(readSCTLRFn() | sctlrM | sctlrC | sctlrI)
	isbFn()
}
