// Package linecache holds the local, line-oriented projection of a document
// whose authoritative state lives in the remote engine. The cache is updated
// only by applying update deltas and is read by the renderer, usually from a
// different goroutine, through Get and BlockingGet.
package linecache

import (
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/dshills/linesync/internal/dirty"
	"github.com/dshills/linesync/internal/logging"
)

// Config configures the line cache behavior.
type Config struct {
	// BlockingTimeout bounds how long BlockingGet waits for missing lines.
	BlockingTimeout time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		BlockingTimeout: 30 * time.Millisecond,
	}
}

// Cache is the line cache of one view.
//
// Its state is [invalidBefore unknown lines] ++ lines ++ [invalidAfter
// unknown lines]; a nil entry in lines is a line known to exist but not yet
// sent by the engine. All state is guarded by mu.
type Cache struct {
	mu sync.Mutex

	config Config
	log    pslog.Logger

	invalidBefore int
	lines         []*Line
	invalidAfter  int

	revision uint64
	pristine bool

	// pending accumulates invalidations until the renderer takes them.
	pending dirty.Set

	// wake is non-nil while at least one BlockingGet is waiting; applying a
	// delta closes and clears it.
	wake chan struct{}
}

// New creates an empty line cache.
func New(config Config, log pslog.Logger) *Cache {
	if config.BlockingTimeout <= 0 {
		config.BlockingTimeout = DefaultConfig().BlockingTimeout
	}
	return &Cache{
		config:   config,
		log:      logging.WithComponent(log, "linecache"),
		pristine: true,
	}
}

// SetConfig replaces the cache configuration. Waiters already blocked keep
// their original timeout.
func (c *Cache) SetConfig(config Config) {
	if config.BlockingTimeout <= 0 {
		config.BlockingTimeout = DefaultConfig().BlockingTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
}

// Get returns the line at index, or nil if it is unknown or out of range.
func (c *Cache) Get(index int) *Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(index)
}

func (c *Cache) getLocked(index int) *Line {
	i := index - c.invalidBefore
	if i < 0 || i >= len(c.lines) {
		return nil
	}
	return c.lines[i]
}

// Height returns the total number of lines, known or not.
func (c *Cache) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heightLocked()
}

func (c *Cache) heightLocked() int {
	return c.invalidBefore + len(c.lines) + c.invalidAfter
}

// Revision returns the number of deltas applied so far.
func (c *Cache) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Pristine reports the engine's last known pristine flag for the document.
func (c *Cache) Pristine() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pristine
}

// TakeInvalidation returns every range invalidated since the previous call
// and resets the accumulator.
func (c *Cache) TakeInvalidation() dirty.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	taken := c.pending
	c.pending = dirty.Set{}
	return taken
}

// FlushAssociatedData clears the renderer data of every line without
// touching text, styles or structure. Used when fonts or themes change.
// Every line is marked for redraw.
func (c *Cache) FlushAssociatedData() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if l != nil {
			l.clearAssoc()
		}
	}
	c.pending.Add(0, c.heightLocked())
}

// Snapshot is a consistent copy of the cache state.
type Snapshot struct {
	InvalidBefore int
	Lines         []*Line
	InvalidAfter  int
	Revision      uint64
	Pristine      bool
}

// Height returns the total number of lines in the snapshot.
func (s Snapshot) Height() int {
	return s.InvalidBefore + len(s.Lines) + s.InvalidAfter
}

// Snapshot returns a consistent copy of the cache state. Lines are shared,
// not copied.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]*Line, len(c.lines))
	copy(lines, c.lines)
	return Snapshot{
		InvalidBefore: c.invalidBefore,
		Lines:         lines,
		InvalidAfter:  c.invalidAfter,
		Revision:      c.revision,
		Pristine:      c.pristine,
	}
}
