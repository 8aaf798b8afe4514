package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// PageShift is equal to log2(PageSize). It must match the page size of
	// the granule selected by board.Current.
	PageShift = 12

	// PageSize defines the smallest page size used by the loader.
	PageSize = Size(1 << PageShift)

	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// WordBits is the bit width of a machine word.
	WordBits = 8 << PointerShift
)

// Pages returns the number of pages that are required for storing this size.
func (s Size) Pages() uint64 {
	return uint64((s+PageSize-1)&^(PageSize-1)) >> PageShift
}
