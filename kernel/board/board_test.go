package board

import (
	"testing"

	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/vmm"
)

type fixedSource struct {
	val uint64
}

func (s *fixedSource) DRAMSize() mem.Size { return 0 }
func (s *fixedSource) TuneCPU(uint64)     {}
func (s *fixedSource) RandomBytes(p []byte) {
	for i := range p {
		p[i] = byte(s.val >> (8 * (i % 8)))
	}
}

func TestRandomRange(t *testing.T) {
	specs := []struct {
		val, min, max, exp uint64
	}{
		{0, 10, 20, 10},
		{10, 10, 20, 20},
		{11, 10, 20, 10},
		{0x1234, 0, ^uint64(0), 0x1234},
		{7, 5, 5, 5},
	}

	for specIndex, spec := range specs {
		got := RandomRange(&fixedSource{val: spec.val}, spec.min, spec.max)
		if got != spec.exp {
			t.Errorf("[spec %d] expected %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestMemorySizeForType(t *testing.T) {
	specs := []struct {
		memoryType uint8
		exp        mem.Size
	}{
		{MemoryType4GB, 4 * mem.Gb},
		{MemoryType6GB, 6 * mem.Gb},
		{MemoryType8GB, 8 * mem.Gb},
		{0xFF, 4 * mem.Gb},
	}

	for _, spec := range specs {
		q := &QEMUVirt{MemoryType: spec.memoryType}
		if got := q.DRAMSize(); got != spec.exp {
			t.Errorf("[type %d] expected %d bytes; got %d", spec.memoryType, spec.exp, got)
		}
	}
}

func TestQEMUVirtRandomBytes(t *testing.T) {
	defer func(orig func() uint64) { readCounterFn = orig }(readCounterFn)

	var ticks uint64
	readCounterFn = func() uint64 {
		ticks += 100
		return ticks
	}

	var q QEMUVirt
	a := make([]byte, 13)
	b := make([]byte, 13)
	q.RandomBytes(a)
	q.RandomBytes(b)

	if string(a) == string(b) {
		t.Fatal("expected consecutive calls to produce different bytes")
	}

	var zero int
	for _, v := range a {
		if v == 0 {
			zero++
		}
	}
	if zero == len(a) {
		t.Fatal("expected RandomBytes to fill the buffer")
	}
}

func TestCurrent(t *testing.T) {
	if Current.PageSize != Current.Granule.PageSize() {
		t.Fatalf("expected page size %d to match the granule size %d", Current.PageSize, Current.Granule.PageSize())
	}

	if !vmm.Supported(Current.Granule, vmm.PageSize(Current.PageSize)) {
		t.Fatal("expected the configured page size to be mappable")
	}
}
