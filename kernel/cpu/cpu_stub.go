//go:build !arm64

package cpu

// The loader only runs on arm64. These stubs let the portable packages build
// and test on a development host; anything that needs real hardware is
// replaced through a function variable by its caller's tests.

// Halt panics since there is no CPU to halt on the host.
func Halt() { panic("cpu: Halt called on a non-arm64 host") }

func ReadMIDR() uint64                     { return 0 }
func ReadMMFR0() uint64                    { return 0 }
func ReadCLIDR() uint64                    { return 0 }
func ReadCCSIDR(csselr uint64) uint64      { return 0 }
func WriteMAIR(v uint64)                   {}
func WriteTCR(v uint64)                    {}
func WriteTTBR0(v uint64)                  {}
func WriteTTBR1(v uint64)                  {}
func ReadSCTLR() uint64                    { return 0 }
func WriteSCTLR(v uint64)                  {}
func DataSyncBarrier()                     {}
func InstructionSyncBarrier()              {}
func CleanInvalidateDCacheSetWay(v uint64) {}
func InvalidateICache()                    {}
func InvalidateTLB()                       {}
func ReadCounter() uint64                  { return 0 }
