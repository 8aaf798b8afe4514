package kfmt

import "io"

// captureBufferSize is the amount of early output retained before a sink is
// attached.
const captureBufferSize = 4096

// captureBuffer keeps the first captureBufferSize bytes written to it and
// counts the bytes it had to drop. The oldest boot messages are kept since
// they describe the image layout the rest of the log refers to.
type captureBuffer struct {
	data    [captureBufferSize]byte
	len     int
	dropped uint64
}

// Write implements io.Writer. It never fails.
func (cb *captureBuffer) Write(p []byte) (int, error) {
	n := copy(cb.data[cb.len:], p)
	cb.len += n
	cb.dropped += uint64(len(p) - n)
	return len(p), nil
}

// drainTo writes the captured bytes to w and resets the buffer.
func (cb *captureBuffer) drainTo(w io.Writer) {
	if cb.len > 0 {
		w.Write(cb.data[:cb.len])
	}

	if cb.dropped != 0 {
		Fprintf(w, "[kfmt] dropped %d bytes of early output\n", cb.dropped)
	}

	cb.len, cb.dropped = 0, 0
}
