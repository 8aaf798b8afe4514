package image

import (
	"encoding/binary"

	"aa64boot/kernel"
	"aa64boot/kernel/mem"
)

const (
	// Ini1HeaderSize is the encoded size of an Ini1Header.
	Ini1HeaderSize = 16

	// MaxProcessCount is the largest number of processes an INI1 container
	// may carry.
	MaxProcessCount = 0x50

	// MaxIni1Size bounds the size of an INI1 container, header included.
	MaxIni1Size = 12 * mem.Mb
)

var (
	// Ini1Magic starts an INI1 container.
	Ini1Magic = [4]byte{'I', 'N', 'I', '1'}

	// Kip1Magic starts every process embedded in an INI1 container.
	Kip1Magic = [4]byte{'K', 'I', 'P', '1'}

	errIni1TooShort     = &kernel.Error{Module: "image", Message: "buffer too short for an INI1 header"}
	errBadIni1Magic     = &kernel.Error{Module: "image", Message: "INI1 magic mismatch"}
	errBadIni1Size      = &kernel.Error{Module: "image", Message: "INI1 size out of bounds"}
	errTooManyProcesses = &kernel.Error{Module: "image", Message: "INI1 process count exceeds the maximum"}
	errBadKip1Magic     = &kernel.Error{Module: "image", Message: "process binary does not start with the KIP1 magic"}
	errNoProcesses      = &kernel.Error{Module: "image", Message: "INI1 container needs at least one process"}
)

// Ini1Header starts an INI1 container. The loader reads it in place, so the
// field layout matches the encoding.
type Ini1Header struct {
	Magic    [4]byte
	Size     uint32
	Count    uint32
	Reserved uint32
}

// DecodeIni1Header reads an Ini1Header from b without validating it.
func DecodeIni1Header(b []byte) (Ini1Header, *kernel.Error) {
	var h Ini1Header
	if len(b) < Ini1HeaderSize {
		return h, errIni1TooShort
	}

	copy(h.Magic[:], b)
	h.Size = binary.LittleEndian.Uint32(b[4:])
	h.Count = binary.LittleEndian.Uint32(b[8:])
	h.Reserved = binary.LittleEndian.Uint32(b[12:])
	return h, nil
}

// Encode writes the header to b which must be at least Ini1HeaderSize bytes.
func (h *Ini1Header) Encode(b []byte) {
	copy(b, h.Magic[:])
	binary.LittleEndian.PutUint32(b[4:], h.Size)
	binary.LittleEndian.PutUint32(b[8:], h.Count)
	binary.LittleEndian.PutUint32(b[12:], h.Reserved)
}

// Validate checks the magic, that the declared size covers at least the
// header without exceeding maxSize and that the process count is in range.
func (h *Ini1Header) Validate(maxSize mem.Size) *kernel.Error {
	switch {
	case h.Magic != Ini1Magic:
		return errBadIni1Magic
	case h.Size < Ini1HeaderSize || mem.Size(h.Size) > maxSize:
		return errBadIni1Size
	case h.Count > MaxProcessCount:
		return errTooManyProcesses
	}

	return nil
}

// BuildIni1 packs the supplied process binaries into an INI1 container.
func BuildIni1(kips [][]byte) ([]byte, *kernel.Error) {
	switch {
	case len(kips) == 0:
		return nil, errNoProcesses
	case len(kips) > MaxProcessCount:
		return nil, errTooManyProcesses
	}

	size := Ini1HeaderSize
	for _, kip := range kips {
		if len(kip) < len(Kip1Magic) || [4]byte(kip[:4]) != Kip1Magic {
			return nil, errBadKip1Magic
		}
		size += len(kip)
	}

	if mem.Size(size) > MaxIni1Size {
		return nil, errBadIni1Size
	}

	out := make([]byte, Ini1HeaderSize, size)
	hdr := Ini1Header{Magic: Ini1Magic, Size: uint32(size), Count: uint32(len(kips))}
	hdr.Encode(out)

	for _, kip := range kips {
		out = append(out, kip...)
	}

	return out, nil
}
