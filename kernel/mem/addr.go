package mem

import "aa64boot/kernel"

const (
	// VirtAddrBits is the width of the virtual address space configured
	// through TCR_EL1.{T0SZ,T1SZ}.
	VirtAddrBits = 48

	// PhysAddrMask selects the bits that must be clear in any physical
	// address the MMU can output.
	PhysAddrMask = uintptr(0xFFF0_0000_0000_0000)

	// virtAddrUpperMask selects the bits of a virtual address that must all
	// be equal for the address to be canonical.
	virtAddrUpperMask = ^(uintptr(1)<<(VirtAddrBits-1) - 1)
)

var (
	errInvalidPhysAddr   = &kernel.Error{Module: "mem", Message: "physical address has bits set above the output address range"}
	errNonCanonical      = &kernel.Error{Module: "mem", Message: "virtual address is not canonical"}
	errAddressOverflow   = &kernel.Error{Module: "mem", Message: "address arithmetic overflow"}
	errAlignNotPowerOf2  = &kernel.Error{Module: "mem", Message: "alignment is not a power of two"}
	errAddressOutOfRange = &kernel.Error{Module: "mem", Message: "address offset leaves the address space half"}
)

// PhysAddr is a physical memory address.
type PhysAddr uintptr

// NewPhysAddr validates addr and returns it as a PhysAddr.
func NewPhysAddr(addr uintptr) (PhysAddr, *kernel.Error) {
	if addr&PhysAddrMask != 0 {
		return 0, errInvalidPhysAddr
	}

	return PhysAddr(addr), nil
}

// Address returns the raw address value.
func (a PhysAddr) Address() uintptr { return uintptr(a) }

// IsAligned returns true if the address is a multiple of align.
func (a PhysAddr) IsAligned(align uintptr) bool { return IsAligned(uintptr(a), align) }

// AlignUp rounds the address up to the next multiple of align.
func (a PhysAddr) AlignUp(align uintptr) PhysAddr { return PhysAddr(AlignUp(uintptr(a), align)) }

// AlignDown rounds the address down to the previous multiple of align.
func (a PhysAddr) AlignDown(align uintptr) PhysAddr { return PhysAddr(AlignDown(uintptr(a), align)) }

// Add returns the address offset by off bytes. It fails if the result
// wraps around or leaves the physical output address range.
func (a PhysAddr) Add(off uintptr) (PhysAddr, *kernel.Error) {
	next := uintptr(a) + off
	if next < uintptr(a) {
		return 0, errAddressOverflow
	}

	return NewPhysAddr(next)
}

// VirtAddr is a canonical virtual memory address.
type VirtAddr uintptr

// NewVirtAddr validates that addr is canonical for VirtAddrBits and returns
// it as a VirtAddr.
func NewVirtAddr(addr uintptr) (VirtAddr, *kernel.Error) {
	if upper := addr & virtAddrUpperMask; upper != 0 && upper != virtAddrUpperMask {
		return 0, errNonCanonical
	}

	return VirtAddr(addr), nil
}

// Address returns the raw address value.
func (a VirtAddr) Address() uintptr { return uintptr(a) }

// IsHighHalf returns true if the address is translated through TTBR1_EL1.
func (a VirtAddr) IsHighHalf() bool { return uintptr(a)&virtAddrUpperMask != 0 }

// IsAligned returns true if the address is a multiple of align.
func (a VirtAddr) IsAligned(align uintptr) bool { return IsAligned(uintptr(a), align) }

// AlignUp rounds the address up to the next multiple of align.
func (a VirtAddr) AlignUp(align uintptr) VirtAddr { return VirtAddr(AlignUp(uintptr(a), align)) }

// AlignDown rounds the address down to the previous multiple of align.
func (a VirtAddr) AlignDown(align uintptr) VirtAddr { return VirtAddr(AlignDown(uintptr(a), align)) }

// Add returns the address offset by off bytes. The result must stay in the
// same half of the address space as the receiver.
func (a VirtAddr) Add(off uintptr) (VirtAddr, *kernel.Error) {
	next := uintptr(a) + off
	if next < uintptr(a) {
		return 0, errAddressOverflow
	}

	res, err := NewVirtAddr(next)
	if err != nil {
		return 0, err
	}

	if res.IsHighHalf() != a.IsHighHalf() {
		return 0, errAddressOutOfRange
	}

	return res, nil
}

// IsPowerOfTwo returns true if v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

// AlignUp rounds v up to the next multiple of align which must be a power of two.
func AlignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to the previous multiple of align which must be a
// power of two.
func AlignDown(v, align uintptr) uintptr {
	return v &^ (align - 1)
}

// IsAligned returns true if v is a multiple of align which must be a power of
// two.
func IsAligned(v, align uintptr) bool {
	return v&(align-1) == 0
}

// CheckAlignment returns an error if align is not a power of two.
func CheckAlignment(align uintptr) *kernel.Error {
	if !IsPowerOfTwo(align) {
		return errAlignNotPowerOf2
	}

	return nil
}
