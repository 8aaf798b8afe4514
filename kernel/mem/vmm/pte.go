package vmm

import "aa64boot/kernel"

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// Attributes holds the lower and upper attribute fields of a block or page
// descriptor.
type Attributes uint64

// Attribute bits and fields of stage 1 block and page descriptors.
const (
	AttrNonSecure     Attributes = 1 << 5
	AttrAPUser        Attributes = 1 << 6
	AttrAPReadOnly    Attributes = 1 << 7
	AttrShareOuter    Attributes = 2 << 8
	AttrShareInner    Attributes = 3 << 8
	AttrAccessed      Attributes = 1 << 10
	AttrNotGlobal     Attributes = 1 << 11
	AttrContiguous    Attributes = 1 << 52
	AttrPrivExecNever Attributes = 1 << 53
	AttrUserExecNever Attributes = 1 << 54

	attrIndexShift = 2
	attrMask       = Attributes(0x0000_0000_0000_0FFC | 0x0070_0000_0000_0000)
)

// Memory attribute indices programmed into MAIR_EL1.
const (
	MairDevice   = 0
	MairNormal   = 1
	MairNormalNC = 2
)

// AttrIndex selects the MAIR_EL1 entry that describes the memory type.
func AttrIndex(index uint8) Attributes {
	return Attributes(index&0x7) << attrIndexShift
}

// Preset attribute sets used while bootstrapping.
const (
	// AttrKernelRWX maps normal cacheable memory that EL1 may read, write
	// and execute.
	AttrKernelRWX = Attributes(MairNormal<<attrIndexShift) | AttrShareInner | AttrUserExecNever

	// AttrDevice maps device MMIO registers.
	AttrDevice = Attributes(MairDevice<<attrIndexShift) | AttrPrivExecNever | AttrUserExecNever
)

// Descriptor is a single translation table entry.
//
// Bit 1 alone cannot tell a level 3 page from a table since both set it, so
// block and page descriptors also carry descLeaf in the software reserved
// nibble (bits 55-58). Empty, table and block classification is therefore a
// function of the descriptor bits alone.
type Descriptor uint64

const (
	descValid = Descriptor(1 << 0)
	descTable = Descriptor(1 << 1)
	descLeaf  = Descriptor(1 << 58)

	descOutputAddrMask = Descriptor(0x0000_FFFF_FFFF_F000)
)

// IsEmpty returns true if the descriptor does not translate anything.
func (d Descriptor) IsEmpty() bool {
	return d&descValid == 0
}

// IsTable returns true if the descriptor points to a next level table.
func (d Descriptor) IsTable() bool {
	return d&(descValid|descTable|descLeaf) == descValid|descTable
}

// IsBlock returns true if the descriptor maps a block or a page.
func (d Descriptor) IsBlock() bool {
	return d&descValid != 0 && (d&descTable == 0 || d&descLeaf != 0)
}

// OutputAddress returns the table or frame address in the descriptor.
func (d Descriptor) OutputAddress() uintptr {
	return uintptr(d & descOutputAddrMask)
}

// Attributes returns the attribute fields of a block or page descriptor.
func (d Descriptor) Attributes() Attributes {
	return Attributes(d) & attrMask
}

func tableDescriptor(table uintptr) Descriptor {
	return Descriptor(table)&descOutputAddrMask | descTable | descValid
}

// leafDescriptor builds the block (levels 1-2) or page (level 3) descriptor
// for frame. The access flag is always set as nothing handles access flag
// faults during boot.
func leafDescriptor(level uint8, frame uintptr, attrs Attributes) Descriptor {
	d := Descriptor(frame)&descOutputAddrMask |
		Descriptor((attrs|AttrAccessed)&attrMask) |
		descLeaf | descValid
	if level == pageLevels-1 {
		d |= descTable
	}

	return d
}
