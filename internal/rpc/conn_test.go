package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// fakeEngine is the far side of a Conn.
type fakeEngine struct {
	w    *io.PipeWriter
	sent chan []byte
}

func (e *fakeEngine) send(t *testing.T, msg string) {
	t.Helper()
	if _, err := io.WriteString(e.w, msg+"\n"); err != nil {
		t.Fatalf("engine write: %v", err)
	}
}

func (e *fakeEngine) next(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-e.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

type recorder struct {
	mu            sync.Mutex
	notifications chan string
	request       func(method string, params json.RawMessage) (any, error)
}

func newRecorder() *recorder {
	return &recorder{notifications: make(chan string, 16)}
}

func (r *recorder) HandleNotification(method string, params json.RawMessage) {
	r.notifications <- method + " " + string(params)
}

func (r *recorder) HandleRequest(method string, params json.RawMessage) (any, error) {
	r.mu.Lock()
	fn := r.request
	r.mu.Unlock()
	if fn == nil {
		return nil, ErrMethodNotFound
	}
	return fn(method, params)
}

func (r *recorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case n := <-r.notifications:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func newTestConn(t *testing.T, h Handler, opts Options) (*Conn, *fakeEngine) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	conn := NewConn(inR, outW, inR, opts)
	if err := conn.Start(context.Background(), h); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	e := &fakeEngine{w: inW, sent: make(chan []byte, 128)}
	go func() {
		br := bufio.NewReader(outR)
		for {
			line, err := br.ReadBytes('\n')
			if err != nil {
				return
			}
			e.sent <- bytes.TrimSuffix(line, []byte("\n"))
		}
	}()

	t.Cleanup(func() {
		conn.Close()
		inW.Close()
		outR.Close()
	})
	return conn, e
}

func TestConn_Notify(t *testing.T) {
	conn, e := newTestConn(t, nil, Options{})

	if err := conn.Notify("scroll", map[string]any{"view_id": "view-id-1"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	got := string(e.next(t))
	if want := `{"method":"scroll","params":{"view_id":"view-id-1"}}`; got != want {
		t.Errorf("sent %s, want %s", got, want)
	}
}

func TestConn_OutOfOrderReplies(t *testing.T) {
	conn, e := newTestConn(t, nil, Options{})

	order := make(chan string, 2)
	idA, err := conn.Call("a", nil, func(r json.RawMessage, err error) { order <- "A " + string(r) })
	if err != nil {
		t.Fatalf("Call(a) error = %v", err)
	}
	idB, err := conn.Call("b", nil, func(r json.RawMessage, err error) { order <- "B " + string(r) })
	if err != nil {
		t.Fatalf("Call(b) error = %v", err)
	}
	if idA == idB {
		t.Fatalf("ids collide: %d", idA)
	}
	e.next(t)
	e.next(t)

	e.send(t, fmt.Sprintf(`{"id":%d,"result":"rb"}`, idB))
	e.send(t, fmt.Sprintf(`{"id":%d,"result":"ra"}`, idA))

	for _, want := range []string{`B "rb"`, `A "ra"`} {
		select {
		case got := <-order:
			if got != want {
				t.Errorf("callback = %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for callback")
		}
	}
	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestConn_UniqueIDsUnderConcurrency(t *testing.T) {
	conn, e := newTestConn(t, nil, Options{})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := conn.Call("ping", nil, nil); err != nil {
				t.Errorf("Call() error = %v", err)
			}
		}()
	}

	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		msg := e.next(t)
		if !json.Valid(msg) {
			t.Fatalf("interleaved write: %s", msg)
		}
		id := gjson.GetBytes(msg, "id").Int()
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
	wg.Wait()
	if conn.Pending() != n {
		t.Errorf("Pending() = %d, want %d", conn.Pending(), n)
	}
}

func TestConn_OrphanReplyIgnored(t *testing.T) {
	h := newRecorder()
	_, e := newTestConn(t, h, Options{})

	e.send(t, `{"id":99,"result":true}`)
	e.send(t, `{"method":"alert","params":{"msg":"still here"}}`)

	if got, want := h.wait(t), `alert {"msg":"still here"}`; got != want {
		t.Errorf("notification = %s, want %s", got, want)
	}
}

func TestConn_DecodeErrorContinues(t *testing.T) {
	h := newRecorder()
	_, e := newTestConn(t, h, Options{})

	e.send(t, `this is not json`)
	e.send(t, `{"id":"x"}`)
	e.send(t, `{"method":"available_themes","params":{"themes":["a"]}}`)

	if got, want := h.wait(t), `available_themes {"themes":["a"]}`; got != want {
		t.Errorf("notification = %s, want %s", got, want)
	}
}

func TestConn_CallSync(t *testing.T) {
	conn, e := newTestConn(t, nil, Options{})

	go func() {
		msg := <-e.sent
		id := gjson.GetBytes(msg, "id").Int()
		fmt.Fprintf(e.w, "{\"id\":%d,\"result\":{\"view_id\":\"view-id-7\"}}\n", id)
	}()

	var res struct {
		ViewID string `json:"view_id"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.CallSync(ctx, "new_view", nil, &res); err != nil {
		t.Fatalf("CallSync() error = %v", err)
	}
	if res.ViewID != "view-id-7" {
		t.Errorf("view_id = %q, want view-id-7", res.ViewID)
	}
}

func TestConn_RemoteError(t *testing.T) {
	conn, e := newTestConn(t, nil, Options{})

	go func() {
		msg := <-e.sent
		id := gjson.GetBytes(msg, "id").Int()
		fmt.Fprintf(e.w, "{\"id\":%d,\"error\":{\"code\":-32602,\"message\":\"bad params\"}}\n", id)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := conn.CallSync(ctx, "save", nil, nil)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("CallSync() error = %v, want *RemoteError", err)
	}
	if re.Code != CodeInvalidParams || re.Message != "bad params" {
		t.Errorf("RemoteError = %+v", re)
	}
}

func TestConn_CallSyncContextCancel(t *testing.T) {
	conn, e := newTestConn(t, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-e.sent
		cancel()
	}()
	if err := conn.CallSync(ctx, "slow", nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("CallSync() error = %v, want context.Canceled", err)
	}
	if n := conn.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestConn_InboundRequest(t *testing.T) {
	h := newRecorder()
	h.request = func(method string, params json.RawMessage) (any, error) {
		if method != "measure_width" {
			return nil, ErrMethodNotFound
		}
		return []int{len(params)}, nil
	}
	_, e := newTestConn(t, h, Options{})

	e.send(t, `{"method":"measure_width","params":[1],"id":0}`)
	if got, want := string(e.next(t)), `{"id":0,"result":[3]}`; got != want {
		t.Errorf("reply = %s, want %s", got, want)
	}

	e.send(t, `{"method":"mystery","params":{},"id":1}`)
	reply := e.next(t)
	if code := gjson.GetBytes(reply, "error.code").Int(); code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d (reply %s)", code, CodeMethodNotFound, reply)
	}
	if id := gjson.GetBytes(reply, "id").Int(); id != 1 {
		t.Errorf("reply id = %d, want 1", id)
	}
}

func TestConn_EOFFailsPending(t *testing.T) {
	conn, e := newTestConn(t, nil, Options{})

	got := make(chan error, 1)
	if _, err := conn.Call("new_view", nil, func(_ json.RawMessage, err error) { got <- err }); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	e.next(t)
	e.w.Close()

	select {
	case err := <-got:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("callback error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call never resolved")
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after EOF")
	}
	if err := conn.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after clean EOF", err)
	}
	if _, err := conn.Call("late", nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Call() after close error = %v, want ErrClosed", err)
	}
	if err := conn.Notify("late", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify() after close error = %v, want ErrClosed", err)
	}
}

func TestConn_Trace(t *testing.T) {
	var buf safeBuffer
	h := newRecorder()
	conn, e := newTestConn(t, h, Options{Trace: NewTrace(&buf)})

	if err := conn.Notify("client_started", nil); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	e.next(t)
	e.send(t, `{"method":"alert","params":{"msg":"x"}}`)
	h.wait(t)

	var entries []string
	err := ReadTrace(strings.NewReader(buf.String()), func(te TraceEntry) error {
		entries = append(entries, string(te.Dir)+" "+string(te.Message))
		return nil
	})
	if err != nil {
		t.Fatalf("ReadTrace() error = %v", err)
	}
	want := []string{
		`-> {"method":"client_started","params":{}}`,
		`<- {"method":"alert","params":{"msg":"x"}}`,
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %q, want %q", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, entries[i], want[i])
		}
	}
}

func TestTrace_NilIsNoop(t *testing.T) {
	var tr *Trace
	tr.Inbound([]byte("{}"))
	tr.Outbound([]byte("{}"))
	if err := tr.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
