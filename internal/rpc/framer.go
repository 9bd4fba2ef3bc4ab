package rpc

import "bytes"

// Delimiter terminates every message on the wire.
const Delimiter = '\n'

// Framer splits a byte stream into newline-delimited messages.
//
// Bytes are buffered across Feed calls so a message may arrive in any number
// of chunks. Only bytes appended since the last scan are searched for
// delimiters, and after each Feed only the trailing incomplete fragment is
// kept, so the cost per byte is constant.
type Framer struct {
	buf     []byte
	scanned int
}

// Feed appends p and calls emit once for every complete message, in order.
// The message excludes the delimiter and is only valid until emit returns.
// Blank lines are skipped.
func (f *Framer) Feed(p []byte, emit func(msg []byte)) {
	f.buf = append(f.buf, p...)

	start := 0
	for {
		i := bytes.IndexByte(f.buf[f.scanned:], Delimiter)
		if i < 0 {
			f.scanned = len(f.buf)
			break
		}
		end := f.scanned + i
		if msg := f.buf[start:end]; len(bytes.TrimSpace(msg)) > 0 {
			emit(msg)
		}
		start = end + 1
		f.scanned = start
	}

	if start > 0 {
		n := copy(f.buf, f.buf[start:])
		f.buf = f.buf[:n]
		f.scanned -= start
	}
}

// Pending returns the number of buffered bytes of an incomplete message.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards any buffered fragment.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.scanned = 0
}
