package main

import (
	"fmt"
	"strconv"
	"strings"

	"aa64boot/kernel/board"
	"aa64boot/kernel/mem"
	"aa64boot/kernel/mem/vmm"

	"github.com/BurntSushi/toml"
)

// targetFile mirrors the keys accepted in a target TOML file.
type targetFile struct {
	Name                 string `toml:"name"`
	PageSize             uint64 `toml:"page_size"`
	ExpectedDRAMSize     uint64 `toml:"expected_dram_size"`
	IncreaseReservedData bool   `toml:"increase_reserved_data"`
	Version              string `toml:"version"`
}

// target is a parsed and validated target description.
type target struct {
	board.Config
	major, minor, micro uint8
}

// granuleForPageSize maps a page size to the translation granule with the
// same size.
func granuleForPageSize(size uint64) (vmm.Granule, error) {
	for _, g := range []vmm.Granule{vmm.Granule4K, vmm.Granule16K, vmm.Granule64K} {
		if uint64(g.PageSize()) == size {
			return g, nil
		}
	}

	return 0, fmt.Errorf("page_size 0x%x is not a supported translation granule", size)
}

// parseVersion parses a "major.minor.micro" string.
func parseVersion(s string) (major, minor, micro uint8, err error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version %q is not of the form major.minor.micro", s)
	}

	var vals [3]uint8
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("version %q: %w", s, err)
		}
		vals[i] = uint8(v)
	}

	return vals[0], vals[1], vals[2], nil
}

// decodeTarget parses a target description. Missing keys default to the
// QEMU virt target.
func decodeTarget(data string) (*target, error) {
	var tf targetFile
	md, err := toml.Decode(data, &tf)
	if err != nil {
		return nil, err
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("unknown target keys: %v", undecoded)
	}

	t := &target{Config: board.QEMUVirtConfig}
	if tf.Name != "" {
		t.Name = tf.Name
	}

	if tf.PageSize != 0 {
		if t.Granule, err = granuleForPageSize(tf.PageSize); err != nil {
			return nil, err
		}
		t.PageSize = mem.Size(tf.PageSize)
	}

	if tf.ExpectedDRAMSize != 0 {
		t.ExpectedDRAMSize = mem.Size(tf.ExpectedDRAMSize)
	}
	t.IncreaseReservedData = tf.IncreaseReservedData

	if tf.Version != "" {
		if t.major, t.minor, t.micro, err = parseVersion(tf.Version); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// loadTarget reads and parses the target description at path. An empty path
// selects the QEMU virt defaults.
func loadTarget(path string) (*target, error) {
	if path == "" {
		return &target{Config: board.QEMUVirtConfig}, nil
	}

	data, err := readFileFn(path)
	if err != nil {
		return nil, err
	}

	t, err := decodeTarget(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return t, nil
}
