package rpc

import (
	"errors"
	"fmt"
)

// Standard errors returned by the connection.
var (
	// ErrClosed indicates the connection is closed. Calls still pending when
	// the reader stops are resolved with it.
	ErrClosed = errors.New("rpc connection closed")

	// ErrInvalidMessage indicates a framed message could not be classified.
	ErrInvalidMessage = errors.New("invalid rpc message")

	// ErrMethodNotFound is returned by request handlers for methods they do
	// not implement; it is sent back as CodeMethodNotFound.
	ErrMethodNotFound = errors.New("method not found")
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RemoteError is an error reply from the other side.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// toRemoteError converts a handler error into the error object sent back.
func toRemoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	code := CodeInternalError
	if errors.Is(err, ErrMethodNotFound) {
		code = CodeMethodNotFound
	}
	return &RemoteError{Code: code, Message: err.Error()}
}
