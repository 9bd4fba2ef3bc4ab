// Package rpc implements the newline-delimited JSON channel to the engine:
// message framing, request/reply correlation and inbound dispatch.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/logging"
)

// DefaultReadSize is the size of a single read from the engine.
const DefaultReadSize = 64 * 1024

// ReplyFunc receives the outcome of a Call. It is invoked exactly once: on
// the reader goroutine when the reply arrives, or with ErrClosed when the
// connection stops first.
type ReplyFunc func(result json.RawMessage, err error)

// Handler receives inbound traffic. Both methods run on the reader goroutine
// in arrival order, so a handler that blocks stalls the connection.
type Handler interface {
	HandleNotification(method string, params json.RawMessage)
	HandleRequest(method string, params json.RawMessage) (any, error)
}

// Options configures a Conn.
type Options struct {
	Logger   pslog.Logger
	Trace    *Trace
	ReadSize int
}

// Conn is a bidirectional message channel.
type Conn struct {
	r      io.Reader
	w      io.Writer
	closer io.Closer

	log      pslog.Logger
	trace    *Trace
	readSize int

	nextID atomic.Int64
	wmu    sync.Mutex

	mu      sync.Mutex
	pending map[int64]ReplyFunc
	closed  bool

	started atomic.Bool
	done    chan struct{}
	err     error
}

// NewConn creates a connection reading from r and writing to w. The optional
// closer is closed by Close and should unblock reads on r.
func NewConn(r io.Reader, w io.Writer, c io.Closer, opts Options) *Conn {
	size := opts.ReadSize
	if size <= 0 {
		size = DefaultReadSize
	}
	return &Conn{
		r:        r,
		w:        w,
		closer:   c,
		log:      logging.WithComponent(logging.OrDiscard(opts.Logger), "rpc"),
		trace:    opts.Trace,
		readSize: size,
		pending:  make(map[int64]ReplyFunc),
		done:     make(chan struct{}),
	}
}

// Start launches the reader goroutine. Cancelling ctx closes the connection.
func (c *Conn) Start(ctx context.Context, h Handler) error {
	if c.started.Swap(true) {
		return errors.New("rpc connection already started")
	}
	go c.readLoop(h)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	return nil
}

// Done is closed when the reader goroutine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that stopped the connection, or nil after a
// clean end of stream. It is only meaningful once Done is closed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close fails every pending call and closes the underlying closer.
func (c *Conn) Close() error {
	c.failPending()
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Notify sends a notification.
func (c *Conn) Notify(method string, params any) error {
	if c.isClosed() {
		return ErrClosed
	}
	data, err := encodeCall(method, params, 0)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	if err := c.write(data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// Call sends a request and returns its id without waiting. fn is invoked
// when the reply arrives. If Call returns an error fn is never invoked.
func (c *Conn) Call(method string, params any, fn ReplyFunc) (int64, error) {
	if fn == nil {
		fn = func(json.RawMessage, error) {}
	}
	id := c.nextID.Add(1)
	data, err := encodeCall(method, params, id)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", method, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.pending[id] = fn
	c.mu.Unlock()

	if err := c.write(data); err != nil {
		// The reader may already have failed the call; in that case fn has
		// run and the error must not be reported twice.
		if c.forget(id) {
			return 0, fmt.Errorf("send %s: %w", method, err)
		}
	}
	return id, nil
}

type reply struct {
	result json.RawMessage
	err    error
}

// CallSync sends a request and blocks until the reply arrives or ctx is done.
// A non-nil result is decoded from the reply.
func (c *Conn) CallSync(ctx context.Context, method string, params any, result any) error {
	ch := make(chan reply, 1)
	id, err := c.Call(method, params, func(r json.RawMessage, err error) {
		ch <- reply{result: r, err: err}
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case rep := <-ch:
		if rep.err != nil {
			return rep.err
		}
		if result != nil && len(rep.result) > 0 && string(rep.result) != "null" {
			if err := json.Unmarshal(rep.result, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Pending returns the number of calls awaiting a reply.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// forget removes a pending call and reports whether it was still pending.
func (c *Conn) forget(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	return ok
}

// write sends one encoded message. Whole messages are written under wmu so
// concurrent senders never interleave.
func (c *Conn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.trace.Outbound(data)
	_, err := c.w.Write(data)
	return err
}

func (c *Conn) readLoop(h Handler) {
	var (
		f   Framer
		buf = make([]byte, c.readSize)
	)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			f.Feed(buf[:n], func(msg []byte) { c.dispatch(h, msg) })
		}
		if err == nil {
			continue
		}
		if f.Pending() > 0 {
			c.log.Warn("discarding incomplete message", "bytes", f.Pending())
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || c.isClosed() {
			err = nil
		} else {
			c.log.Error("read failed", "error", err)
		}
		c.err = err
		c.failPending()
		close(c.done)
		return
	}
}

// failPending marks the connection closed and resolves every outstanding
// call with ErrClosed, in id order.
func (c *Conn) failPending() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]ReplyFunc)
	c.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	ids := make([]int64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	c.log.Debug("failing pending calls", "count", len(ids))
	for _, id := range ids {
		pending[id](nil, ErrClosed)
	}
}

func (c *Conn) dispatch(h Handler, data []byte) {
	c.trace.Inbound(data)

	msg, err := Classify(data)
	if err != nil {
		c.log.Warn("dropping undecodable message", "error", err, "bytes", len(data))
		return
	}

	switch msg.Kind {
	case KindReply:
		c.resolve(msg)
	case KindRequest:
		c.answer(h, msg)
	case KindNotification:
		if h == nil {
			c.log.Debug("no handler for notification", "method", msg.Method)
			return
		}
		h.HandleNotification(msg.Method, msg.Params)
	}
}

func (c *Conn) resolve(msg Message) {
	c.mu.Lock()
	fn, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()

	if !ok {
		c.log.Warn("reply for unknown request", "id", msg.ID)
		return
	}
	if msg.Error != nil {
		fn(nil, msg.Error)
		return
	}
	fn(msg.Result, nil)
}

func (c *Conn) answer(h Handler, msg Message) {
	var (
		result any
		err    = ErrMethodNotFound
	)
	if h != nil {
		result, err = h.HandleRequest(msg.Method, msg.Params)
	}

	var rerr *RemoteError
	if err != nil {
		rerr = toRemoteError(err)
		c.log.Warn("request failed", "method", msg.Method, "id", msg.ID, "code", rerr.Code, "error", err)
	}
	data, encErr := encodeReply(msg.ID, result, rerr)
	if encErr != nil {
		c.log.Error("encode reply failed", "method", msg.Method, "id", msg.ID, "error", encErr)
		data, _ = encodeReply(msg.ID, nil, &RemoteError{Code: CodeInternalError, Message: encErr.Error()})
	}
	if err := c.write(data); err != nil {
		c.log.Warn("send reply failed", "method", msg.Method, "id", msg.ID, "error", err)
	}
}
