package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"unsafe"

	"aa64boot/kernel/image"
	"aa64boot/kernel/kfmt"
	"aa64boot/kernel/loader"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/reloc"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// arenaAlign is the alignment of the simulated kernel base.
const arenaAlign = 2 * mem.Mb

var (
	// The following are mocked by tests.
	mmapFn = func(size int) ([]byte, error) {
		return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	}
	munmapFn = unix.Munmap
)

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	config      string
	dram        uint64
	seed        uint64
	applyRelocs bool
}

// Name implements subcommands.Command.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.
func (*Simulate) Synopsis() string {
	return "runs the loader preparation steps against a host memory arena"
}

// Usage implements subcommands.Command.
func (*Simulate) Usage() string {
	return `simulate [-config <target.toml>] [-dram <bytes>] [-seed <n>] <image.bin>
`
}

// SetFlags implements subcommands.Command.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.config, "config", "", "target description (TOML).")
	f.Uint64Var(&s.dram, "dram", 0, "installed memory reported by the simulated board; defaults to the expected size.")
	f.Uint64Var(&s.seed, "seed", 0, "seed for the simulated entropy source.")
	f.BoolVar(&s.applyRelocs, "apply-relocs", false, "apply the kernel's relative relocations in the arena.")
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	t, err := loadTarget(s.config)
	if err != nil {
		logrus.WithError(err).Error("simulate failed")
		return subcommands.ExitFailure
	}

	img, err := readFileFn(f.Arg(0))
	if err == nil {
		err = s.run(os.Stdout, t, img)
	}

	if err != nil {
		logrus.WithError(err).Error("simulate failed")
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

// hostBoard is a SystemControl backed by a seeded ChaCha8 generator.
type hostBoard struct {
	dram mem.Size
	rng  *rand.ChaCha8
}

func newHostBoard(dram mem.Size, seed uint64) *hostBoard {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], seed)
	return &hostBoard{dram: dram, rng: rand.NewChaCha8(key)}
}

// DRAMSize implements board.SystemControl.
func (b *hostBoard) DRAMSize() mem.Size { return b.dram }

// RandomBytes implements board.SystemControl.
func (b *hostBoard) RandomBytes(p []byte) {
	for len(p) > 0 {
		v := b.rng.Uint64()
		for i := 0; i < 8 && len(p) > 0; i++ {
			p[0] = byte(v >> (8 * i))
			p = p[1:]
		}
	}
}

// TuneCPU implements board.SystemControl.
func (*hostBoard) TuneCPU(uint64) {}

// run copies img into an anonymous mapping that stands in for physical
// memory and runs the loader preparation steps over it.
func (s *Simulate) run(w io.Writer, t *target, img []byte) error {
	p, err := parseImage(img)
	if err != nil {
		return err
	}

	dram := mem.Size(s.dram)
	if dram == 0 {
		dram = t.ExpectedDRAMSize
	}

	layout := p.kernel.Layout
	footprint := uintptr(loader.Footprint(&layout, t.Config, dram))
	if uintptr(len(img)) > footprint {
		footprint = uintptr(len(img))
	}

	arena, err := mmapFn(int(footprint + uintptr(arenaAlign)))
	if err != nil {
		return fmt.Errorf("mapping simulated memory: %w", err)
	}
	defer munmapFn(arena)

	host := uintptr(unsafe.Pointer(&arena[0]))
	base := mem.AlignUp(host, uintptr(arenaAlign))
	copy(arena[base-host:], img)

	logrus.WithFields(logrus.Fields{
		"arena": fmt.Sprintf("0x%x", host),
		"size":  fmt.Sprintf("0x%x", len(arena)),
		"base":  fmt.Sprintf("0x%x", base),
	}).Debug("simulated memory mapped")

	if s.applyRelocs && layout.DynamicStart != 0 {
		if res := reloc.Apply(base, base+uintptr(layout.DynamicStart)); res != reloc.Ok {
			return fmt.Errorf("applying kernel relocations: %w", res.Err())
		}
	}

	kfmt.SetOutputSink(w)
	defer kfmt.SetOutputSink(nil)

	env := loader.Env{
		KernelBase: mem.PhysAddr(base),
		Layout:     (*image.KernelLayout)(unsafe.Pointer(base + uintptr(p.kernelMetaOff) + image.KernelMetaSize - image.LayoutSize)),
		Ini1Base:   mem.PhysAddr(base + uintptr(p.kernel.Ini1Base)),
		LoaderBase: mem.PhysAddr(base + uintptr(p.kernel.LoaderBase)),
		LoaderEnd:  mem.PhysAddr(base + uintptr(len(img))),
		Board:      newHostBoard(dram, s.seed),
		Config:     t.Config,
	}

	var l loader.Loader
	res, kerr := l.Prepare(env)
	if kerr != nil {
		return kerr
	}

	report(w, base, &res, &l)
	return nil
}

// report prints where every kernel section ended up.
func report(w io.Writer, base uintptr, res *loader.Result, l *loader.Loader) {
	off := func(addr mem.PhysAddr) uintptr { return uintptr(addr) - base }

	fmt.Fprintf(w, "kernel base:   +0x%x\n", off(res.KernelBase))
	fmt.Fprintf(w, "kernel virt:   0x%x\n", uintptr(res.KernelVirtBase))
	fmt.Fprintf(w, "INI1:          +0x%x\n", off(res.Ini1Base))
	fmt.Fprintf(w, "scratch:       [+0x%x - +0x%x)\n", off(res.ScratchStart), off(res.ScratchEnd))
	fmt.Fprintf(w, "TTBR0/TTBR1:   +0x%x / +0x%x\n", off(res.TTBR0), off(res.TTBR1))

	_, high := l.Tables()
	layout := res.Layout
	for _, sec := range []struct {
		name       string
		start, end uint32
	}{
		{".text", layout.TextStart, layout.TextEnd},
		{".rodata", layout.RodataStart, layout.RodataEnd},
		{".data", layout.DataStart, layout.DataEnd},
		{".bss", layout.BssStart, layout.BssEnd},
	} {
		if sec.start == sec.end {
			continue
		}

		virt := res.KernelVirtBase + mem.VirtAddr(sec.start)
		phys, err := high.Translate(virt)
		if err != nil {
			fmt.Fprintf(w, "%-8s 0x%x unmapped: %v\n", sec.name, uintptr(virt), err)
			continue
		}

		fmt.Fprintf(w, "%-8s 0x%x -> +0x%x (0x%x bytes)\n", sec.name, uintptr(virt), off(phys), sec.end-sec.start)
	}
}
