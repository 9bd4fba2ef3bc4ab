package rpc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Direction tags a traced message.
type Direction string

const (
	// Outbound marks messages written to the engine.
	Outbound Direction = "->"
	// Inbound marks messages read from the engine.
	Inbound Direction = "<-"
)

// Trace records every message crossing the connection, one per line, prefixed
// with its direction. A nil *Trace records nothing.
type Trace struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewTrace writes trace lines to w.
func NewTrace(w io.Writer) *Trace {
	return &Trace{w: w}
}

// OpenTrace creates or truncates the trace file at path.
func OpenTrace(path string) (*Trace, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	return &Trace{w: f, c: f}, nil
}

// Outbound records a message sent to the engine.
func (t *Trace) Outbound(msg []byte) { t.record(Outbound, msg) }

// Inbound records a message received from the engine.
func (t *Trace) Inbound(msg []byte) { t.record(Inbound, msg) }

func (t *Trace) record(dir Direction, msg []byte) {
	if t == nil {
		return
	}
	msg = bytes.TrimRight(msg, "\r\n")
	line := make([]byte, 0, len(dir)+1+len(msg)+1)
	line = append(line, string(dir)...)
	line = append(line, ' ')
	line = append(line, msg...)
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	// Write errors are ignored; tracing never affects the session.
	_, _ = t.w.Write(line)
}

// Close closes the trace file, if any.
func (t *Trace) Close() error {
	if t == nil || t.c == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.Close()
}

// TraceEntry is one recorded message.
type TraceEntry struct {
	Dir     Direction
	Message []byte
}

// ReadTrace calls fn for every entry in a trace, in order. Lines without a
// direction prefix are skipped.
func ReadTrace(r io.Reader, fn func(TraceEntry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, DefaultReadSize), 64*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var dir Direction
		switch {
		case bytes.HasPrefix(line, []byte(Outbound+" ")):
			dir = Outbound
		case bytes.HasPrefix(line, []byte(Inbound+" ")):
			dir = Inbound
		default:
			continue
		}
		msg := bytes.Clone(line[len(dir)+1:])
		if err := fn(TraceEntry{Dir: dir, Message: msg}); err != nil {
			return err
		}
	}
	return sc.Err()
}
