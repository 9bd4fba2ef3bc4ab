// Package protocol defines the messages exchanged with the remote editing
// engine. Inbound notifications and requests are decoded once, at the router
// boundary, into a closed set of typed variants; anything unrecognized becomes
// an Unknown variant carrying the raw payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// OpKind names one delta operation of an update.
type OpKind string

const (
	OpCopy       OpKind = "copy"
	OpUpdate     OpKind = "update"
	OpInsert     OpKind = "ins"
	OpInvalidate OpKind = "invalidate"
	OpSkip       OpKind = "skip"
)

// Known reports whether k is one of the defined op kinds.
func (k OpKind) Known() bool {
	switch k {
	case OpCopy, OpUpdate, OpInsert, OpInvalidate, OpSkip:
		return true
	}
	return false
}

// UpdateOp is one delta operation. N is a pointer so a missing count can be
// told apart from zero.
type UpdateOp struct {
	Kind  OpKind     `json:"op"`
	N     *int       `json:"n"`
	Lines []LineJSON `json:"lines,omitempty"`

	// DecodeErr is set when a field of the op had the wrong type. The op is
	// still decoded so the ops before it can be applied; Validate reports it.
	DecodeErr error `json:"-"`
}

// UnmarshalJSON decodes an op field by field. A badly typed field is recorded
// in DecodeErr instead of failing the whole update.
func (op *UpdateOp) UnmarshalJSON(data []byte) error {
	*op = UpdateOp{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		op.DecodeErr = fmt.Errorf("decode op: %w", err)
		return nil
	}
	decode := func(name string, v any) bool {
		raw, ok := fields[name]
		if !ok {
			return true
		}
		if err := json.Unmarshal(raw, v); err != nil {
			op.DecodeErr = fmt.Errorf("decode op field %q: %w", name, err)
			return false
		}
		return true
	}
	_ = decode("op", &op.Kind) && decode("n", &op.N) && decode("lines", &op.Lines)
	return nil
}

// Count returns the op count, or zero when absent.
func (op UpdateOp) Count() int {
	if op.N == nil {
		return 0
	}
	return *op.N
}

// Validate checks that the op carries everything its kind requires.
func (op UpdateOp) Validate() error {
	if op.DecodeErr != nil {
		return op.DecodeErr
	}
	if !op.Kind.Known() {
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	if op.N == nil {
		return fmt.Errorf("op %q: missing n", op.Kind)
	}
	if *op.N < 0 {
		return fmt.Errorf("op %q: negative n %d", op.Kind, *op.N)
	}
	switch op.Kind {
	case OpInsert, OpUpdate:
		if len(op.Lines) < *op.N {
			return fmt.Errorf("op %q: %d lines for n=%d", op.Kind, len(op.Lines), *op.N)
		}
	}
	return nil
}

// LineJSON is the wire form of one line. Styles is a flat list of
// (start delta, length, style id) triples; each start is relative to the end
// of the previous span, in UTF-8 bytes.
type LineJSON struct {
	Text   *string `json:"text,omitempty"`
	Cursor []int   `json:"cursor,omitempty"`
	Styles []int   `json:"styles,omitempty"`
	Number int     `json:"ln,omitempty"`
}

// UpdateDelta is the payload of an update notification.
type UpdateDelta struct {
	Ops      []UpdateOp `json:"ops"`
	Pristine *bool      `json:"pristine,omitempty"`
}

// Op builds an op, mostly for tests and tools.
func Op(kind OpKind, n int, lines ...LineJSON) UpdateOp {
	return UpdateOp{Kind: kind, N: &n, Lines: lines}
}

// TextLine builds a LineJSON carrying only text.
func TextLine(text string) LineJSON {
	return LineJSON{Text: &text}
}
