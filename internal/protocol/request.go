package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound request methods, asked by the engine of the client.
const (
	MethodMeasureWidth = "measure_width"
)

// Request is an inbound message that expects a reply.
type Request interface {
	Method() string
	request()
}

// MeasureItem asks for the widths of strings rendered in one style.
type MeasureItem struct {
	ID      int      `json:"id"`
	Strings []string `json:"strings"`
}

// MeasureWidth asks the client to measure rendered string widths. The reply
// is one []float64 per item, in order.
type MeasureWidth struct {
	Items []MeasureItem
}

// UnknownRequest is any request whose method is not recognized.
type UnknownRequest struct {
	Name   string
	Params json.RawMessage
}

func (MeasureWidth) Method() string     { return MethodMeasureWidth }
func (u UnknownRequest) Method() string { return u.Name }

func (MeasureWidth) request()   {}
func (UnknownRequest) request() {}

// DecodeRequest decodes params into the variant selected by method.
func DecodeRequest(method string, params json.RawMessage) (Request, error) {
	switch method {
	case MethodMeasureWidth:
		var items []MeasureItem
		if err := unmarshalParams(method, params, &items); err != nil {
			return nil, err
		}
		if items == nil {
			return nil, fmt.Errorf("%s: items: %w", method, ErrMissingField)
		}
		return MeasureWidth{Items: items}, nil
	default:
		return UnknownRequest{Name: method, Params: params}, nil
	}
}
