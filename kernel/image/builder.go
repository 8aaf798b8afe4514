package image

import (
	"aa64boot/kernel"
	"aa64boot/kernel/mem"
)

// imagePageSize is the alignment of every component inside a packaged image.
const imagePageSize = 0x1000

var (
	errKernelTooLarge   = &kernel.Error{Module: "image", Message: "kernel binary is larger than kernel_end"}
	errMissingComponent = &kernel.Error{Module: "image", Message: "an image needs at least a kernel and a loader"}
	errIni1AlreadySet   = &kernel.Error{Module: "image", Message: "INI1 container already supplied"}
)

// Builder assembles a bootable image from a kernel, an optional INI1
// container and a loader:
//
//	| kernel (padded to kernel_end) | INI1 | loader | zero page |
//
// Every component starts on a page boundary. The kernel metadata is patched
// with the final INI1 and loader offsets.
type Builder struct {
	kernel        []byte
	kernelMetaOff int
	kernelMeta    KernelMeta

	loader        []byte
	loaderMetaOff int
	loaderMeta    LoaderMeta

	ini1 []byte
	kips [][]byte

	version uint32
}

// WithKernel sets the kernel binary. The binary is zero-padded up to the
// kernel_end offset recorded in its layout.
func (b *Builder) WithKernel(bin []byte) *kernel.Error {
	off, err := FindMeta(bin, KernelMagic)
	if err != nil {
		return err
	}

	meta, err := DecodeKernelMeta(bin[off:])
	if err != nil {
		return err
	}

	if err = meta.Layout.Validate(); err != nil {
		return err
	}

	if len(bin) > int(meta.Layout.KernelEnd) {
		return errKernelTooLarge
	}

	b.kernel = make([]byte, meta.Layout.KernelEnd)
	copy(b.kernel, bin)
	b.kernelMetaOff = off
	b.kernelMeta = meta
	return nil
}

// WithLoader sets the loader binary.
func (b *Builder) WithLoader(bin []byte) *kernel.Error {
	off, err := FindMeta(bin, LoaderMagic)
	if err != nil {
		return err
	}

	meta, err := DecodeLoaderMeta(bin[off:])
	if err != nil {
		return err
	}

	b.loader = append([]byte(nil), bin...)
	b.loaderMetaOff = off
	b.loaderMeta = meta
	return nil
}

// WithIni1 sets a prebuilt INI1 container. It cannot be combined with AddKIP.
func (b *Builder) WithIni1(blob []byte) *kernel.Error {
	if b.ini1 != nil || len(b.kips) != 0 {
		return errIni1AlreadySet
	}

	hdr, err := DecodeIni1Header(blob)
	if err != nil {
		return err
	}

	if err = hdr.Validate(MaxIni1Size); err != nil {
		return err
	}

	if int(hdr.Size) > len(blob) {
		return errBadIni1Size
	}

	b.ini1 = append([]byte(nil), blob[:hdr.Size]...)
	return nil
}

// AddKIP appends a process binary to the INI1 container built by Build.
func (b *Builder) AddKIP(kip []byte) *kernel.Error {
	switch {
	case b.ini1 != nil:
		return errIni1AlreadySet
	case len(b.kips) >= MaxProcessCount:
		return errTooManyProcesses
	case len(kip) < len(Kip1Magic) || [4]byte(kip[:4]) != Kip1Magic:
		return errBadKip1Magic
	}

	b.kips = append(b.kips, kip)
	return nil
}

// WithVersion sets the version stored in both metadata records.
func (b *Builder) WithVersion(major, minor, micro uint8) {
	b.version = Version(major, minor, micro)
}

// Build lays out the image and returns its bytes.
func (b *Builder) Build() ([]byte, *kernel.Error) {
	if b.kernel == nil || b.loader == nil {
		return nil, errMissingComponent
	}

	ini1 := b.ini1
	if ini1 == nil && len(b.kips) != 0 {
		var err *kernel.Error
		if ini1, err = BuildIni1(b.kips); err != nil {
			return nil, err
		}
	}

	ini1Start := mem.AlignUp(uintptr(b.kernelMeta.Layout.KernelEnd), imagePageSize)
	ini1End := ini1Start + uintptr(len(ini1))

	loaderStart := mem.AlignUp(ini1End, imagePageSize)
	if len(ini1) == 0 {
		loaderStart += imagePageSize
	}
	loaderEnd := loaderStart + uintptr(len(b.loader))

	out := make([]byte, mem.AlignUp(loaderEnd, imagePageSize)+imagePageSize)

	kmeta := b.kernelMeta
	kmeta.Ini1Base = uint64(ini1Start)
	kmeta.LoaderBase = uint64(loaderStart)
	kmeta.Version = b.version
	copy(out, b.kernel)
	kmeta.Encode(out[b.kernelMetaOff:])

	copy(out[ini1Start:], ini1)

	lmeta := b.loaderMeta
	lmeta.Version = b.version
	copy(out[loaderStart:], b.loader)
	lmeta.Encode(out[loaderStart+uintptr(b.loaderMetaOff):])

	return out, nil
}
