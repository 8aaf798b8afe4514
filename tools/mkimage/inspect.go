package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"aa64boot/kernel/image"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct{}

// Name implements subcommands.Command.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.
func (*Inspect) Synopsis() string {
	return "prints the metadata, layout and INI1 header of a boot image"
}

// Usage implements subcommands.Command.
func (*Inspect) Usage() string {
	return `inspect <image.bin>
`
}

// SetFlags implements subcommands.Command.
func (*Inspect) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Inspect) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	img, err := readFileFn(f.Arg(0))
	if err == nil {
		err = inspectImage(os.Stdout, img)
	}

	if err != nil {
		logrus.WithError(err).Error("inspect failed")
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

// parsedImage holds the records located inside a packaged image.
type parsedImage struct {
	kernelMetaOff int
	kernel        image.KernelMeta
	loaderMetaOff int
	loader        image.LoaderMeta
	ini1          image.Ini1Header
	ini1Err       error
}

// parseImage locates the kernel and loader metadata records inside img.
func parseImage(img []byte) (*parsedImage, error) {
	var p parsedImage

	off, err := image.FindMeta(img, image.KernelMagic)
	if err != nil {
		return nil, fmt.Errorf("kernel metadata: %w", err)
	}
	p.kernelMetaOff = off

	if p.kernel, err = image.DecodeKernelMeta(img[off:]); err != nil {
		return nil, fmt.Errorf("kernel metadata: %w", err)
	}

	if p.kernel.LoaderBase >= uint64(len(img)) {
		return nil, fmt.Errorf("loader offset 0x%x lies outside the 0x%x byte image", p.kernel.LoaderBase, len(img))
	}

	loaderImg := img[p.kernel.LoaderBase:]
	if off, err = image.FindMeta(loaderImg, image.LoaderMagic); err != nil {
		return nil, fmt.Errorf("loader metadata: %w", err)
	}
	p.loaderMetaOff = off

	if p.loader, err = image.DecodeLoaderMeta(loaderImg[off:]); err != nil {
		return nil, fmt.Errorf("loader metadata: %w", err)
	}

	if p.kernel.Ini1Base < uint64(len(img)) {
		if p.ini1, err = image.DecodeIni1Header(img[p.kernel.Ini1Base:]); err == nil {
			err = p.ini1.Validate(image.MaxIni1Size)
		}
		if err != nil {
			p.ini1Err = err
		}
	}

	return &p, nil
}

// inspectImage writes a human readable description of img to w.
func inspectImage(w io.Writer, img []byte) error {
	p, err := parseImage(img)
	if err != nil {
		return err
	}

	k := &p.kernel
	fmt.Fprintf(w, "kernel metadata at 0x%x\n", p.kernelMetaOff)
	fmt.Fprintf(w, "  version:      %s\n", formatVersion(k.Version))
	fmt.Fprintf(w, "  ini1 base:    0x%x\n", k.Ini1Base)
	fmt.Fprintf(w, "  loader base:  0x%x\n", k.LoaderBase)

	l := &k.Layout
	fmt.Fprintf(w, "kernel layout\n")
	fmt.Fprintf(w, "  .text:        [0x%08x - 0x%08x)\n", l.TextStart, l.TextEnd)
	fmt.Fprintf(w, "  .rodata:      [0x%08x - 0x%08x)\n", l.RodataStart, l.RodataEnd)
	fmt.Fprintf(w, "  .data:        [0x%08x - 0x%08x)\n", l.DataStart, l.DataEnd)
	fmt.Fprintf(w, "  .bss:         [0x%08x - 0x%08x)\n", l.BssStart, l.BssEnd)
	fmt.Fprintf(w, "  kernel end:   0x%08x\n", l.KernelEnd)
	fmt.Fprintf(w, "  _DYNAMIC:     0x%08x\n", l.DynamicStart)

	fmt.Fprintf(w, "INI1\n")
	if p.ini1Err != nil {
		fmt.Fprintf(w, "  invalid:      %v\n", p.ini1Err)
	} else {
		fmt.Fprintf(w, "  size:         0x%x\n", p.ini1.Size)
		fmt.Fprintf(w, "  processes:    %d\n", p.ini1.Count)
	}

	fmt.Fprintf(w, "loader metadata at 0x%x\n", k.LoaderBase+uint64(p.loaderMetaOff))
	fmt.Fprintf(w, "  version:      %s\n", formatVersion(p.loader.Version))

	return nil
}

func formatVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>24, (v>>16)&0xFF, (v>>8)&0xFF)
}
