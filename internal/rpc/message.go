package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Kind classifies an inbound message.
type Kind int

// Message kinds.
const (
	KindInvalid Kind = iota
	KindReply
	KindRequest
	KindNotification
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is a classified inbound message.
type Message struct {
	Kind   Kind
	ID     int64
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RemoteError
}

var probePaths = []string{"id", "method", "params", "result", "error"}

// Classify decodes a single framed message.
//
// A message with an id and a result or error is a reply. A message with an id
// and a method is a request. A message with a method and no id is a
// notification. Anything else is rejected with ErrInvalidMessage.
func Classify(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, fmt.Errorf("%w: malformed json", ErrInvalidMessage)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}
	res := gjson.GetManyBytes(data, probePaths...)
	id, method, params, result, rerr := res[0], res[1], res[2], res[3], res[4]

	hasID := id.Exists() && id.Type != gjson.Null
	if hasID && id.Type != gjson.Number {
		return Message{}, fmt.Errorf("%w: non-numeric id %s", ErrInvalidMessage, id.Raw)
	}

	switch {
	case hasID && (result.Exists() || (rerr.Exists() && rerr.Type != gjson.Null)):
		msg := Message{Kind: KindReply, ID: id.Int()}
		if rerr.Exists() && rerr.Type != gjson.Null {
			re := &RemoteError{}
			if err := json.Unmarshal([]byte(rerr.Raw), re); err != nil {
				return Message{}, fmt.Errorf("%w: error object: %v", ErrInvalidMessage, err)
			}
			msg.Error = re
		} else {
			msg.Result = json.RawMessage(result.Raw)
		}
		return msg, nil

	case method.Type == gjson.String:
		msg := Message{Kind: KindNotification, Method: method.Str}
		if params.Exists() {
			msg.Params = json.RawMessage(params.Raw)
		}
		if hasID {
			msg.Kind = KindRequest
			msg.ID = id.Int()
		}
		return msg, nil
	}

	return Message{}, fmt.Errorf("%w: no method and no reply payload", ErrInvalidMessage)
}

// encodeParams marshals params, mapping nil to an empty object.
func encodeParams(params any) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		if len(raw) == 0 {
			return []byte("{}"), nil
		}
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

// encodeCall builds an outbound request or notification. A zero id produces a
// notification. Fields are written in method, params, id order.
func encodeCall(method string, params any, id int64) ([]byte, error) {
	p, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	msg, err := sjson.SetBytes([]byte("{}"), "method", method)
	if err != nil {
		return nil, err
	}
	if msg, err = sjson.SetRawBytes(msg, "params", p); err != nil {
		return nil, err
	}
	if id != 0 {
		if msg, err = sjson.SetBytes(msg, "id", id); err != nil {
			return nil, err
		}
	}
	return append(msg, Delimiter), nil
}

// encodeReply builds a reply to an inbound request.
func encodeReply(id int64, result any, rerr *RemoteError) ([]byte, error) {
	msg, err := sjson.SetBytes([]byte("{}"), "id", id)
	if err != nil {
		return nil, err
	}
	if rerr != nil {
		msg, err = sjson.SetBytes(msg, "error", rerr)
	} else {
		var r []byte
		if result == nil {
			r = []byte("null")
		} else if r, err = json.Marshal(result); err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		msg, err = sjson.SetRawBytes(msg, "result", r)
	}
	if err != nil {
		return nil, err
	}
	return append(msg, Delimiter), nil
}
