package vmm

import (
	"math/rand/v2"
	"testing"
)

func classifications(d Descriptor) int {
	n := 0
	for _, v := range []bool{d.IsEmpty(), d.IsTable(), d.IsBlock()} {
		if v {
			n++
		}
	}
	return n
}

func TestDescriptorClassificationIsTotal(t *testing.T) {
	fillers := []Descriptor{0, ^(descValid | descTable | descLeaf), 0x0000_0000_4000_0740}

	for bits := 0; bits < 8; bits++ {
		var d Descriptor
		if bits&1 != 0 {
			d |= descValid
		}
		if bits&2 != 0 {
			d |= descTable
		}
		if bits&4 != 0 {
			d |= descLeaf
		}

		for _, filler := range fillers {
			if got := classifications(d | filler); got != 1 {
				t.Errorf("descriptor 0x%016x matches %d classifications", uint64(d|filler), got)
			}
		}
	}

	rng := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 10000; i++ {
		d := Descriptor(rng.Uint64())
		if got := classifications(d); got != 1 {
			t.Fatalf("descriptor 0x%016x matches %d classifications", uint64(d), got)
		}
	}
}

func TestDescriptorEncoding(t *testing.T) {
	specs := []struct {
		name     string
		d        Descriptor
		exp      Descriptor
		isTable  bool
		isBlock  bool
		outAddr  uintptr
		expAttrs Attributes
	}{
		{
			"empty",
			0, 0,
			false, false, 0, 0,
		},
		{
			"table",
			tableDescriptor(0x4000_3000),
			0x4000_3000 | 0b11,
			true, false, 0x4000_3000, 0,
		},
		{
			"level 3 page",
			leafDescriptor(3, 0x4000_5000, AttrKernelRWX),
			0x4000_5000 | 0b11 | 1<<58 | 1<<10 | 3<<8 | 1<<2 | 1<<54,
			false, true, 0x4000_5000, AttrKernelRWX | AttrAccessed,
		},
		{
			"level 2 block",
			leafDescriptor(2, 0x4020_0000, AttrDevice|AttrNotGlobal),
			0x4020_0000 | 0b01 | 1<<58 | 1<<10 | 1<<11 | 1<<53 | 1<<54,
			false, true, 0x4020_0000, AttrDevice | AttrNotGlobal | AttrAccessed,
		},
		{
			"output address bits outside the field are dropped",
			leafDescriptor(3, 0xFFFF_0000_4000_5FFF, 0),
			0x4000_5000 | 0b11 | 1<<58 | 1<<10,
			false, true, 0x4000_5000, AttrAccessed,
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			if spec.d != spec.exp {
				t.Fatalf("expected descriptor 0x%016x; got 0x%016x", uint64(spec.exp), uint64(spec.d))
			}
			if spec.d.IsTable() != spec.isTable || spec.d.IsBlock() != spec.isBlock {
				t.Fatalf("unexpected classification: table=%t block=%t", spec.d.IsTable(), spec.d.IsBlock())
			}
			if got := spec.d.OutputAddress(); got != spec.outAddr {
				t.Fatalf("expected output address 0x%x; got 0x%x", spec.outAddr, got)
			}
			if spec.isBlock {
				if got := spec.d.Attributes(); got != spec.expAttrs {
					t.Fatalf("expected attributes 0x%x; got 0x%x", uint64(spec.expAttrs), uint64(got))
				}
			}
		})
	}

	if got := AttrIndex(MairNormalNC); got != 2<<2 {
		t.Fatalf("expected AttrIndex(2) to be 0x8; got 0x%x", uint64(got))
	}
}
