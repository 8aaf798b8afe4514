package kfmt

import (
	"aa64boot/kernel"
	"aa64boot/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errUnknownPanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints the supplied error to the output sink and halts the CPU. Every
// fatal loader condition ends up here; calls to Panic never return on real
// hardware.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errUnknownPanic.Message = t
		err = errUnknownPanic
	case error:
		errUnknownPanic.Message = t.Error()
		err = errUnknownPanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** loader panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
