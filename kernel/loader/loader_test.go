package loader

import (
	"fmt"
	"testing"
	"unsafe"

	"aa64boot/kernel"
	"aa64boot/kernel/board"
	"aa64boot/kernel/image"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/vmm"

	"github.com/google/go-cmp/cmp"
)

const (
	testMIDR   = uint64(0x410FD034)
	testMMFR0  = uint64(0x5)
	testSCTLR  = uint64(0x30D00800)
	layoutOff  = 0x10
	loaderOff  = 0x9000
	loaderSize = 0x2000
)

var testLayout = image.KernelLayout{
	TextStart: 0, TextEnd: 0x4000,
	RodataStart: 0x4000, RodataEnd: 0x6000,
	DataStart: 0x6000, DataEnd: 0x7000,
	BssStart: 0x7000, BssEnd: 0x9000,
	KernelEnd: 0x7000, DynamicStart: 0x6800,
}

type fakeBoard struct {
	dram  mem.Size
	state uint64
	midr  []uint64
}

func (b *fakeBoard) DRAMSize() mem.Size { return b.dram }

func (b *fakeBoard) RandomBytes(p []byte) {
	for i := range p {
		b.state = b.state*6364136223846793005 + 1442695040888963407
		p[i] = byte(b.state >> 56)
	}
}

func (b *fakeBoard) TuneCPU(midr uint64) { b.midr = append(b.midr, midr) }

// physRegion is ordinary test memory addressed by its host address, which
// the loader treats as physical memory with an identity mapping.
type physRegion struct {
	buf  []byte
	base uintptr
}

func newPhysRegion(size mem.Size) *physRegion {
	align := uintptr(kernelAlign)
	buf := make([]byte, uintptr(size)+align)
	host := uintptr(unsafe.Pointer(&buf[0]))
	return &physRegion{buf: buf, base: mem.AlignUp(host, align)}
}

func (r *physRegion) bytes(addr, size uintptr) []byte {
	off := addr - uintptr(unsafe.Pointer(&r.buf[0]))
	return r.buf[off : off+size]
}

// setupImage writes a kernel, an INI1 container with a single process and a
// loader image at the start of the region.
func setupImage(t *testing.T, r *physRegion, layout image.KernelLayout, dram mem.Size) (Env, *fakeBoard) {
	t.Helper()

	kernelBytes := r.bytes(r.base, uintptr(layout.KernelEnd))
	for i := range kernelBytes {
		kernelBytes[i] = byte(i)
	}
	layout.Encode(kernelBytes[layoutOff:])

	ini1 := make([]byte, 0x20)
	copy(ini1, image.Kip1Magic[:])
	blob, err := image.BuildIni1([][]byte{ini1})
	if err != nil {
		t.Fatal(err)
	}
	ini1Base := r.base + mem.AlignUp(uintptr(layout.KernelEnd), 0x1000)
	copy(r.bytes(ini1Base, uintptr(len(blob))), blob)

	b := &fakeBoard{dram: dram, state: 42}
	cfg := board.QEMUVirtConfig
	cfg.ExpectedDRAMSize = 16 * mem.Mb

	return Env{
		KernelBase: mem.PhysAddr(r.base),
		Layout:     (*image.KernelLayout)(unsafe.Pointer(r.base + layoutOff)),
		Ini1Base:   mem.PhysAddr(ini1Base),
		LoaderBase: mem.PhysAddr(r.base + loaderOff),
		LoaderEnd:  mem.PhysAddr(r.base + loaderOff + loaderSize),
		Board:      b,
		Config:     cfg,
	}, b
}

// mockHardware replaces the register accessors with recorders and returns
// the recorded operations.
func mockHardware(t *testing.T) *[]string {
	origs := []func(){
		func(orig func() uint64) func() { return func() { readMIDRFn = orig } }(readMIDRFn),
		func(orig func() uint64) func() { return func() { readMMFR0Fn = orig } }(readMMFR0Fn),
		func(orig func(uint64)) func() { return func() { writeMAIRFn = orig } }(writeMAIRFn),
		func(orig func(uint64)) func() { return func() { writeTCRFn = orig } }(writeTCRFn),
		func(orig func(uint64)) func() { return func() { writeTTBR0Fn = orig } }(writeTTBR0Fn),
		func(orig func(uint64)) func() { return func() { writeTTBR1Fn = orig } }(writeTTBR1Fn),
		func(orig func() uint64) func() { return func() { readSCTLRFn = orig } }(readSCTLRFn),
		func(orig func(uint64)) func() { return func() { writeSCTLRFn = orig } }(writeSCTLRFn),
		func(orig func()) func() { return func() { flushDataCacheFn = orig } }(flushDataCacheFn),
		func(orig func()) func() { return func() { invalidateICacheFn = orig } }(invalidateICacheFn),
		func(orig func()) func() { return func() { invalidateTLBFn = orig } }(invalidateTLBFn),
		func(orig func()) func() { return func() { dsbFn = orig } }(dsbFn),
		func(orig func()) func() { return func() { isbFn = orig } }(isbFn),
	}
	t.Cleanup(func() {
		for _, restore := range origs {
			restore()
		}
	})

	var ops []string
	record := func(format string, args ...interface{}) {
		ops = append(ops, fmt.Sprintf(format, args...))
	}

	readMIDRFn = func() uint64 { return testMIDR }
	readMMFR0Fn = func() uint64 { return testMMFR0 }
	readSCTLRFn = func() uint64 { return testSCTLR }
	writeMAIRFn = func(v uint64) { record("MAIR=0x%x", v) }
	writeTCRFn = func(v uint64) { record("TCR=0x%x", v) }
	writeTTBR0Fn = func(v uint64) { record("TTBR0") }
	writeTTBR1Fn = func(v uint64) { record("TTBR1") }
	writeSCTLRFn = func(v uint64) { record("SCTLR=0x%x", v) }
	flushDataCacheFn = func() { record("flush dcache") }
	invalidateICacheFn = func() { record("invalidate icache") }
	invalidateTLBFn = func() { record("invalidate tlb") }
	dsbFn = func() { record("dsb") }
	isbFn = func() { record("isb") }

	return &ops
}

func TestLoad(t *testing.T) {
	ops := mockHardware(t)
	r := newPhysRegion(24 * mem.Mb)
	env, b := setupImage(t, r, testLayout, 16*mem.Mb)

	var l Loader
	res, err := l.Load(env)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("kernel stays in place", func(t *testing.T) {
		if res.KernelBase != env.KernelBase || res.Layout != env.Layout {
			t.Fatalf("expected kernel to stay at 0x%x; got 0x%x", env.KernelBase, res.KernelBase)
		}
	})

	t.Run("INI1 placement", func(t *testing.T) {
		exp := env.KernelBase + 0x7000 + mem.PhysAddr(ReservedDataSize)
		if res.Ini1Base != exp {
			t.Fatalf("expected INI1 at 0x%x; got 0x%x", exp, res.Ini1Base)
		}

		src := r.bytes(uintptr(env.Ini1Base), image.Ini1HeaderSize+0x20)
		dst := r.bytes(uintptr(res.Ini1Base), image.Ini1HeaderSize+0x20)
		if diff := cmp.Diff(src, dst); diff != "" {
			t.Fatalf("INI1 copy mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("scratch region", func(t *testing.T) {
		expStart := mem.PhysAddr(mem.AlignUp(uintptr(res.Ini1Base)+uintptr(image.MaxIni1Size), 0x1000))
		if res.ScratchStart != expStart || res.ScratchEnd != expStart+mem.PhysAddr(ScratchSize) {
			t.Fatalf("unexpected scratch region [0x%x, 0x%x)", res.ScratchStart, res.ScratchEnd)
		}

		for _, root := range []mem.PhysAddr{res.TTBR0, res.TTBR1} {
			if root < res.ScratchStart || root >= res.ScratchEnd {
				t.Fatalf("expected table root 0x%x to be allocated from the scratch region", root)
			}
		}
	})

	t.Run("identity mappings", func(t *testing.T) {
		for _, addr := range []mem.PhysAddr{
			env.KernelBase,
			env.KernelBase + 0x8FFF,
			env.LoaderBase,
			env.LoaderEnd - 1,
			res.ScratchStart,
			res.ScratchEnd - 1,
		} {
			got, err := l.low.Translate(mem.VirtAddr(addr))
			if err != nil {
				t.Fatalf("expected 0x%x to be mapped: %v", addr, err)
			}
			if got != addr {
				t.Fatalf("expected 0x%x to map to itself; got 0x%x", addr, got)
			}
		}

		if _, err := l.low.Translate(mem.VirtAddr(res.ScratchEnd)); err == nil {
			t.Fatal("expected the page past the scratch region to be unmapped")
		}
	})

	t.Run("randomized kernel mapping", func(t *testing.T) {
		virt := uintptr(res.KernelVirtBase)
		if virt < kaslrStart || virt >= kaslrEnd || !mem.IsAligned(virt, uintptr(kernelAlign)) {
			t.Fatalf("unexpected kernel virtual base 0x%x", virt)
		}

		got, err := l.high.Translate(res.KernelVirtBase + 0x5123)
		if err != nil {
			t.Fatal(err)
		}
		if exp := env.KernelBase + 0x5123; got != exp {
			t.Fatalf("expected 0x%x; got 0x%x", exp, got)
		}

		if _, err = l.high.Translate(res.KernelVirtBase + 0x9000); err == nil {
			t.Fatal("expected the kernel mapping to end after bss")
		}
	})

	t.Run("register sequence", func(t *testing.T) {
		exp := []string{
			"MAIR=0x44ff00",
			"TCR=0x5b5103510",
			"TTBR0",
			"TTBR1",
			"flush dcache",
			"invalidate icache",
			"invalidate tlb",
			"dsb",
			"isb",
			"SCTLR=0x30d01805",
			"isb",
		}

		if diff := cmp.Diff(exp, *ops); diff != "" {
			t.Fatalf("unexpected hardware operations (-want +got):\n%s", diff)
		}

		if diff := cmp.Diff([]uint64{testMIDR}, b.midr); diff != "" {
			t.Fatalf("expected the board to be tuned once (-want +got):\n%s", diff)
		}
	})
}

func TestLoadRelocatesKernel(t *testing.T) {
	mockHardware(t)
	r := newPhysRegion(24 * mem.Mb)
	env, _ := setupImage(t, r, testLayout, 20*mem.Mb)
	orig := append([]byte(nil), r.bytes(r.base, uintptr(testLayout.DataEnd))...)

	var l Loader
	res, err := l.Load(env)
	if err != nil {
		t.Fatal(err)
	}

	delta := uintptr(2 * mem.Mb)
	if exp := env.KernelBase + mem.PhysAddr(delta); res.KernelBase != exp {
		t.Fatalf("expected kernel to move to 0x%x; got 0x%x", exp, res.KernelBase)
	}

	if exp := uintptr(unsafe.Pointer(env.Layout)) + delta; uintptr(unsafe.Pointer(res.Layout)) != exp {
		t.Fatalf("expected layout pointer to move to 0x%x; got 0x%x", exp, uintptr(unsafe.Pointer(res.Layout)))
	}

	if diff := cmp.Diff(testLayout, *res.Layout); diff != "" {
		t.Fatalf("relocated layout mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(orig, r.bytes(uintptr(res.KernelBase), uintptr(testLayout.DataEnd))); diff != "" {
		t.Fatal("expected the kernel image to be copied to the new base")
	}

	if exp := res.KernelBase + 0x7000 + mem.PhysAddr(ReservedDataSize); res.Ini1Base != exp {
		t.Fatalf("expected INI1 to follow the relocated kernel at 0x%x; got 0x%x", exp, res.Ini1Base)
	}

	if got, err := l.high.Translate(res.KernelVirtBase); err != nil || got != res.KernelBase {
		t.Fatalf("expected the high half to map the relocated kernel; got 0x%x, %v", got, err)
	}
}

func TestRelocationThreshold(t *testing.T) {
	specs := []struct {
		expected, actual mem.Size
		expDelta         uintptr
	}{
		{4 * mem.Gb, 4 * mem.Gb, 0},
		{4 * mem.Gb, 3 * mem.Gb, 0},
		{4 * mem.Gb, 6 * mem.Gb, uintptr(1 * mem.Gb)},
		{4 * mem.Gb, 8 * mem.Gb, 0},
		{4 * mem.Gb, 4*mem.Gb + 3*mem.Mb, 0},
		{4 * mem.Gb, 4*mem.Gb + 5*mem.Mb, uintptr(2 * mem.Mb)},
	}

	for specIndex, spec := range specs {
		layout := image.KernelLayout{}
		env := Env{
			KernelBase: 0x8000_0000,
			Layout:     &layout,
			Board:      &fakeBoard{dram: spec.actual},
			Config:     board.Config{ExpectedDRAMSize: spec.expected},
		}

		base, _ := relocateKernelPhysically(&env)
		if got := uintptr(base) - 0x8000_0000; got != spec.expDelta {
			t.Errorf("[spec %d] expected delta 0x%x; got 0x%x", specIndex, spec.expDelta, got)
		}
	}
}

func TestPlaceIni1(t *testing.T) {
	r := newPhysRegion(16 * mem.Mb)

	specs := []struct {
		name    string
		corrupt func(env *Env)
	}{
		{"bad magic", func(env *Env) { r.bytes(uintptr(env.Ini1Base), 1)[0] = 'X' }},
		{"oversized", func(env *Env) {
			hdr := (*image.Ini1Header)(unsafe.Pointer(uintptr(env.Ini1Base)))
			hdr.Size = uint32(image.MaxIni1Size) + 1
		}},
		{"missing", func(env *Env) { env.Ini1Base = 0 }},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			env, _ := setupImage(t, r, testLayout, 16*mem.Mb)
			spec.corrupt(&env)

			target := ini1Target(&env)
			copy(r.bytes(uintptr(target), image.Ini1HeaderSize), "garbage garbage!")

			if got := placeIni1(&env); got != target {
				t.Fatalf("expected INI1 target 0x%x; got 0x%x", target, got)
			}

			hdr, _ := image.DecodeIni1Header(r.bytes(uintptr(target), image.Ini1HeaderSize))
			if diff := cmp.Diff(image.Ini1Header{}, hdr); diff != "" {
				t.Fatalf("expected an invalid header to be written (-want +got):\n%s", diff)
			}

			if hdr.Validate(image.MaxIni1Size) == nil {
				t.Fatal("expected the written header to fail validation")
			}
		})
	}

	t.Run("increased reserved data", func(t *testing.T) {
		env, _ := setupImage(t, r, testLayout, 16*mem.Mb)
		env.Config.IncreaseReservedData = true

		if exp := env.KernelBase + 0x7000 + mem.PhysAddr(IncreasedReservedDataSize); ini1Target(&env) != exp {
			t.Fatalf("expected target 0x%x; got 0x%x", exp, ini1Target(&env))
		}
	})
}

func TestLoadErrors(t *testing.T) {
	t.Run("nil layout", func(t *testing.T) {
		var l Loader
		if _, err := l.Load(Env{}); err != errNoLayout {
			t.Fatalf("expected errNoLayout; got %v", err)
		}
	})

	t.Run("misaligned layout", func(t *testing.T) {
		ops := mockHardware(t)
		r := newPhysRegion(24 * mem.Mb)

		layout := testLayout
		layout.RodataStart = 0x4100
		env, _ := setupImage(t, r, layout, 16*mem.Mb)

		var l Loader
		_, err := l.Load(env)
		if err == nil || err.Module != "image" {
			t.Fatalf("expected an alignment error; got %v", err)
		}

		if len(*ops) != 0 {
			t.Fatalf("expected no hardware access after a failed check; got %v", *ops)
		}
	})

	t.Run("run halts on error", func(t *testing.T) {
		defer func(orig func(interface{})) { panicFn = orig }(panicFn)

		var got interface{}
		panicFn = func(e interface{}) { got = e }

		var l Loader
		l.Run(Env{})

		if err, ok := got.(*kernel.Error); !ok || err != errNoLayout {
			t.Fatalf("expected Run to halt with errNoLayout; got %v", got)
		}
	})
}

func TestRegisterValues(t *testing.T) {
	if exp, got := uint64(0x44FF00), mairValue(); got != exp {
		t.Errorf("expected MAIR 0x%x; got 0x%x", exp, got)
	}

	specs := []struct {
		granule  vmm.Granule
		mmfr0    uint64
		exp      uint64
		tg0, tg1 uint64
	}{
		{vmm.Granule4K, 0x5, 0x5_B510_3510, 0, 2},
		{vmm.Granule4K, 0xF, 0x6_B510_3510, 0, 2},
		{vmm.Granule16K, 0x2, 0x2_7510_B510, 2, 1},
		{vmm.Granule64K, 0x2, 0x2_F510_7510, 1, 3},
	}

	for specIndex, spec := range specs {
		tcr := tcrValue(spec.granule, spec.mmfr0)
		if tcr != spec.exp {
			t.Errorf("[spec %d] expected TCR 0x%x; got 0x%x", specIndex, spec.exp, tcr)
		}

		if got := (tcr >> tcrTG0Shift) & 0x3; got != spec.tg0 {
			t.Errorf("[spec %d] expected TG0 %d; got %d", specIndex, spec.tg0, got)
		}

		if got := (tcr >> tcrTG1Shift) & 0x3; got != spec.tg1 {
			t.Errorf("[spec %d] expected TG1 %d; got %d", specIndex, spec.tg1, got)
		}
	}
}

func TestPrepareLeavesMMUAlone(t *testing.T) {
	ops := mockHardware(t)
	r := newPhysRegion(24 * mem.Mb)
	env, _ := setupImage(t, r, testLayout, 16*mem.Mb)

	var l Loader
	res, err := l.Prepare(env)
	if err != nil {
		t.Fatal(err)
	}

	if len(*ops) != 0 {
		t.Fatalf("expected Prepare to leave the system registers alone; got %v", *ops)
	}

	low, high := l.Tables()
	if low.Root() != res.TTBR0 || high.Root() != res.TTBR1 {
		t.Fatal("expected Tables to return the tables whose roots were reported")
	}
}

func TestFootprint(t *testing.T) {
	cfg := board.QEMUVirtConfig
	cfg.ExpectedDRAMSize = 16 * mem.Mb

	// INI1 at 0x7000 + 2M, scratch after 12M more, then 2M of scratch.
	exp := mem.Size(0x7000) + ReservedDataSize + image.MaxIni1Size + ScratchSize
	if got := Footprint(&testLayout, cfg, 16*mem.Mb); got != exp {
		t.Fatalf("expected footprint 0x%x; got 0x%x", exp, got)
	}

	if got := Footprint(&testLayout, cfg, 20*mem.Mb); got != exp+2*mem.Mb {
		t.Fatalf("expected the kernel move to extend the footprint; got 0x%x", got)
	}
}
