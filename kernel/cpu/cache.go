package cpu

import "math/bits"

var (
	// The following are mocked by tests.
	readCLIDRFn  = ReadCLIDR
	readCCSIDRFn = ReadCCSIDR
	dcCISWFn     = CleanInvalidateDCacheSetWay
	dsbFn        = DataSyncBarrier
	isbFn        = InstructionSyncBarrier
)

// FlushDataCache cleans and invalidates every data and unified cache up to the
// level of coherence using set/way maintenance. It must run before the MMU is
// enabled so that page table writes made with caches off are not shadowed by
// stale lines.
func FlushDataCache() {
	clidr := readCLIDRFn()
	loc := (clidr >> 24) & 0x7

	dsbFn()
	for level := uint64(0); level < loc; level++ {
		// 0b010 data only, 0b011 separate I+D, 0b100 unified
		if cacheType := (clidr >> (3 * level)) & 0x7; cacheType < 2 {
			continue
		}

		flushLevel(level)
	}
	dsbFn()
	isbFn()
}

func flushLevel(level uint64) {
	ccsidr := readCCSIDRFn(level << 1)
	lineShift := (ccsidr & 0x7) + 4
	ways := ((ccsidr >> 3) & 0x3FF) + 1
	sets := ((ccsidr >> 13) & 0x7FFF) + 1

	// The way index occupies the top bits of the operand.
	wayShift := uint64(bits.LeadingZeros32(uint32(ways - 1)))
	if ways == 1 {
		wayShift = 0
	}

	for way := uint64(0); way < ways; way++ {
		for set := uint64(0); set < sets; set++ {
			dcCISWFn((way << wayShift) | (set << lineShift) | (level << 1))
		}
	}
}
