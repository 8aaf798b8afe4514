package main

import (
	"context"
	"debug/elf"
	"flag"
	"fmt"
	"strings"

	"aa64boot/kernel/image"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// stringList collects the values of a repeated flag.
type stringList []string

// String implements flag.Value.
func (l *stringList) String() string { return strings.Join(*l, ",") }

// Set implements flag.Value.
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Build implements subcommands.Command for the "build" command.
type Build struct {
	config    string
	kernel    string
	loader    string
	loaderELF string
	ini1      string
	kips      stringList
	output    string
}

// Name implements subcommands.Command.
func (*Build) Name() string {
	return "build"
}

// Synopsis implements subcommands.Command.
func (*Build) Synopsis() string {
	return "packages a kernel, its initial processes and the loader into a boot image"
}

// Usage implements subcommands.Command.
func (*Build) Usage() string {
	return `build -kernel <kernel.bin> -loader <loader.bin> [-ini1 <ini1.bin> | -kip <p.kip>...] -o <image.bin>
`
}

// SetFlags implements subcommands.Command.
func (b *Build) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.config, "config", "", "target description (TOML).")
	f.StringVar(&b.kernel, "kernel", "", "raw kernel binary.")
	f.StringVar(&b.loader, "loader", "", "raw loader binary.")
	f.StringVar(&b.loaderELF, "loader-elf", "", "loader ELF; when set it must only carry relative relocations.")
	f.StringVar(&b.ini1, "ini1", "", "prebuilt INI1 container.")
	f.Var(&b.kips, "kip", "KIP1 process binary to pack into the INI1 container; may be repeated.")
	f.StringVar(&b.output, "o", "image.bin", "output image.")
}

// Execute implements subcommands.Command.Execute.
func (b *Build) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if b.kernel == "" || b.loader == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	if err := b.run(); err != nil {
		logrus.WithError(err).Error("build failed")
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func (b *Build) run() error {
	t, err := loadTarget(b.config)
	if err != nil {
		return err
	}

	if b.loaderELF != "" {
		if err := checkRelocations(b.loaderELF); err != nil {
			return err
		}
	}

	var builder image.Builder
	builder.WithVersion(t.major, t.minor, t.micro)

	kernelBin, err := readFileFn(b.kernel)
	if err != nil {
		return err
	}
	if kerr := builder.WithKernel(kernelBin); kerr != nil {
		return fmt.Errorf("%s: %w", b.kernel, kerr)
	}

	loaderBin, err := readFileFn(b.loader)
	if err != nil {
		return err
	}
	if kerr := builder.WithLoader(loaderBin); kerr != nil {
		return fmt.Errorf("%s: %w", b.loader, kerr)
	}

	if b.ini1 != "" {
		blob, err := readFileFn(b.ini1)
		if err != nil {
			return err
		}
		if kerr := builder.WithIni1(blob); kerr != nil {
			return fmt.Errorf("%s: %w", b.ini1, kerr)
		}
	}

	for _, path := range b.kips {
		kip, err := readFileFn(path)
		if err != nil {
			return err
		}
		if kerr := builder.AddKIP(kip); kerr != nil {
			return fmt.Errorf("%s: %w", path, kerr)
		}
	}

	out, kerr := builder.Build()
	if kerr != nil {
		return kerr
	}

	logrus.WithFields(logrus.Fields{
		"target": t.Name,
		"size":   fmt.Sprintf("0x%x", len(out)),
		"output": b.output,
	}).Info("image built")

	return writeFileFn(b.output, out, 0644)
}

// checkRelocations verifies that every relocation in an AArch64 ELF file is
// R_AARCH64_RELATIVE, the only type the loader can apply to itself.
func checkRelocations(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_AARCH64 {
		return fmt.Errorf("%s: not a 64-bit AArch64 ELF file", path)
	}

	for _, sec := range f.Sections {
		var entSize int
		switch sec.Type {
		case elf.SHT_RELA:
			entSize = 24
		case elf.SHT_REL:
			entSize = 16
		default:
			continue
		}

		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("%s: %s: %w", path, sec.Name, err)
		}

		for off := 0; off+entSize <= len(data); off += entSize {
			info := f.ByteOrder.Uint64(data[off+8:])
			if typ := elf.R_AARCH64(elf.R_TYPE64(info)); typ != elf.R_AARCH64_RELATIVE {
				return fmt.Errorf("%s: %s: unsupported relocation %v at 0x%x", path, sec.Name, typ, f.ByteOrder.Uint64(data[off:]))
			}
		}

		logrus.WithFields(logrus.Fields{
			"section": sec.Name,
			"count":   len(data) / entSize,
		}).Debug("relocations checked")
	}

	return nil
}
