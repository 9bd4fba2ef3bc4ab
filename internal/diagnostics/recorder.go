// Package diagnostics keeps the engine's recent stderr output and writes it
// to a crash log when the engine terminates abnormally.
package diagnostics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/logging"
)

// Defaults for Options.
const (
	// DefaultCapacity is the number of stderr lines retained.
	DefaultCapacity = 256
	// DefaultMaxLineBytes is the longest line kept as one entry.
	DefaultMaxLineBytes = 4096
)

// ExitStatus is the termination status handed to HandleExit.
type ExitStatus interface {
	Success() bool
	String() string
}

// Options configures a Recorder.
type Options struct {
	// Capacity is the number of lines retained.
	Capacity int
	// MaxLineBytes splits longer lines into several entries, so output
	// without newlines stays bounded.
	MaxLineBytes int
	// Dir receives crash logs. Empty means os.TempDir().
	Dir string
	// Name identifies the engine in the crash log header.
	Name string
	// Logger receives every stderr line at debug level and write failures.
	Logger pslog.Logger
}

// Recorder retains the trailing window of a diagnostic stream.
type Recorder struct {
	ring    *Ring
	maxLine int
	dir     string
	name    string
	log     pslog.Logger
	now     func() time.Time

	mu      sync.Mutex
	partial []byte
}

// NewRecorder creates a recorder.
func NewRecorder(opts Options) *Recorder {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Recorder{
		ring:    NewRing(capacity),
		maxLine: maxLine,
		dir:     dir,
		name:    opts.Name,
		log:     logging.WithComponent(logging.OrDiscard(opts.Logger), "engine-stderr"),
		now:     time.Now,
	}
}

// Write records p line by line. A trailing partial line is held until it is
// completed or the recorder dumps. Lines longer than the maximum are stored
// in pieces. Write never fails.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := append(r.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		r.push(string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	for len(data) >= r.maxLine {
		r.push(string(data[:r.maxLine]))
		data = data[r.maxLine:]
	}
	if cap(r.partial) > 2*r.maxLine {
		r.partial = make([]byte, 0, r.maxLine)
	}
	r.partial = append(r.partial[:0], data...)
	return len(p), nil
}

func (r *Recorder) push(line string) {
	r.ring.Push(line)
	r.log.Debug("engine stderr", "line", line)
}

// Pump copies r into the recorder until EOF. It is meant to run on its own
// goroutine over the engine's stderr.
func (r *Recorder) Pump(src io.Reader) error {
	_, err := io.Copy(r, src)
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("read diagnostics: %w", err)
	}
	return nil
}

// Lines returns the retained lines, oldest first, including any pending
// partial line.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.ring.Entries()
	if len(r.partial) > 0 {
		lines = append(lines, string(r.partial))
	}
	return lines
}

// HandleExit persists the retained window when status is not a success and
// returns the crash log path. A successful exit writes nothing. Write failures
// are logged and reported as an empty path.
func (r *Recorder) HandleExit(status ExitStatus) string {
	if status.Success() {
		return ""
	}
	path, err := r.Persist(status.String())
	if err != nil {
		r.log.Error("write crash log failed", "dir", r.dir, "error", err)
		return ""
	}
	r.log.Warn("engine exited abnormally", "status", status.String(), "crash_log", path)
	return path
}

// Persist writes the retained window to a new timestamped file in the crash
// directory and returns its path.
func (r *Recorder) Persist(reason string) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}

	now := r.now().UTC()
	name := fmt.Sprintf("crash-%s-%s.log", now.Format("20060102T150405Z"), uuid.NewString()[:8])
	path := filepath.Join(r.dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "# engine: %s\n", r.name)
	fmt.Fprintf(&b, "# status: %s\n", reason)
	fmt.Fprintf(&b, "# time: %s\n", now.Format(time.RFC3339))
	for _, line := range r.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write crash log: %w", err)
	}
	return path, nil
}
