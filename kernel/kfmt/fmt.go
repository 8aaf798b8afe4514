// Package kfmt implements the loader's debug console output. Everything in
// this package is safe to call before the Go allocator exists.
package kfmt

import (
	"io"
	"unsafe"
)

var (
	badArg   = []byte("%!(BADARG)")
	noArg    = []byte("%!(MISSING)")
	extraArg = []byte("%!(EXTRA)")
	noVerb   = []byte("%!(NOVERB)")

	hexDigits = "0123456789abcdef"

	// scratch holds a formatted number or a single character before it is
	// handed to the sink.
	scratch [64]byte

	// earlyLog captures output until a sink is attached.
	earlyLog captureBuffer

	// outputSink receives all Printf output. When nil, output is captured
	// by earlyLog.
	outputSink io.Writer
)

// SetOutputSink redirects Printf output to w and replays anything that was
// printed before a sink became available.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		earlyLog.drainTo(w)
	}
}

// Printf writes a formatted message to the active output sink. It supports a
// small subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  signed or unsigned integer in base 10
//	%x  unsigned integer in base 16 (lower-case)
//	%t  bool
//	%%  literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// numbers are left-padded with spaces and base-16 numbers with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	argIndex := 0
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' {
			putByte(w, ch)
			continue
		}

		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			emit(w, noVerb)
			break
		}

		verb := format[i]
		if verb == '%' {
			putByte(w, '%')
			continue
		}

		if argIndex >= len(args) {
			emit(w, noArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 's':
			formatString(w, arg, width)
		case 'd':
			formatInt(w, arg, 10, width)
		case 'x':
			formatInt(w, arg, 16, width)
		case 't':
			formatBool(w, arg)
		default:
			emit(w, noVerb)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		emit(w, extraArg)
	}
}

func formatBool(w io.Writer, arg interface{}) {
	v, ok := arg.(bool)
	switch {
	case !ok:
		emit(w, badArg)
	case v:
		putString(w, "true")
	default:
		putString(w, "false")
	}
}

func formatString(w io.Writer, arg interface{}, width int) {
	switch v := arg.(type) {
	case string:
		pad(w, ' ', width-len(v))
		putString(w, v)
	case []byte:
		pad(w, ' ', width-len(v))
		emit(w, v)
	default:
		emit(w, badArg)
	}
}

// formatInt renders arg right-aligned into scratch and emits it.
func formatInt(w io.Writer, arg interface{}, base uint64, width int) {
	var (
		u   uint64
		neg bool
	)

	switch v := arg.(type) {
	case uint8:
		u = uint64(v)
	case uint16:
		u = uint64(v)
	case uint32:
		u = uint64(v)
	case uint64:
		u = v
	case uint:
		u = uint64(v)
	case uintptr:
		u = uint64(v)
	case int8:
		u, neg = abs(int64(v))
	case int16:
		u, neg = abs(int64(v))
	case int32:
		u, neg = abs(int64(v))
	case int64:
		u, neg = abs(v)
	case int:
		u, neg = abs(int64(v))
	default:
		emit(w, badArg)
		return
	}

	if width > len(scratch)-1 {
		width = len(scratch) - 1
	}

	pos := len(scratch)
	for {
		pos--
		scratch[pos] = hexDigits[u%base]
		u /= base
		if u == 0 {
			break
		}
	}

	if base == 16 {
		signWidth := 0
		if neg {
			signWidth = 1
		}
		for len(scratch)-pos+signWidth < width {
			pos--
			scratch[pos] = '0'
		}
	}

	if neg {
		pos--
		scratch[pos] = '-'
	}

	for len(scratch)-pos < width {
		pos--
		scratch[pos] = ' '
	}

	emit(w, scratch[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		putByte(w, ch)
	}
}

// putString writes s one byte at a time; slicing a string into a []byte
// would allocate.
func putString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		putByte(w, s[i])
	}
}

func putByte(w io.Writer, ch byte) {
	scratch[0] = ch
	emit(w, scratch[:1])
}

// emit hides p from escape analysis. Without this the compiler assumes that
// the io.Writer call lets p escape and the variadic args of every Printf call
// end up heap allocated.
func emit(w io.Writer, p []byte) {
	realEmit(w, noEscape(unsafe.Pointer(&p)))
}

func realEmit(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
		return
	}

	earlyLog.Write(p)
}

// noEscape hides a pointer from escape analysis. Copied from runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
