package linecache

import "time"

// BlockingGet returns the lines in [start, end).
//
// If every line that exists in the range is already known, it returns at
// once. Otherwise it waits, without holding the cache lock, until the next
// delta is applied or the configured timeout passes, then returns whatever is
// present. It never waits twice, so missing entries may still be nil.
// Indices at or beyond the current height are returned as nil and are not
// waited for.
func (c *Cache) BlockingGet(start, end int) []*Line {
	if end <= start {
		return nil
	}

	c.mu.Lock()
	lines, complete := c.collectLocked(start, end)
	if complete {
		c.mu.Unlock()
		return lines
	}
	if c.wake == nil {
		c.wake = make(chan struct{})
	}
	wake := c.wake
	timeout := c.config.BlockingTimeout
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	select {
	case <-wake:
	case <-timer.C:
	}
	timer.Stop()

	// The wake may have fired between the timeout and relocking, or been
	// caused by a delta that did not cover this range. Either way the state
	// is re-read under the lock rather than trusting which case fired.
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, _ = c.collectLocked(start, end)
	return lines
}

// collectLocked gathers the lines in [start, end) and reports whether no
// existing line in the range is missing.
func (c *Cache) collectLocked(start, end int) ([]*Line, bool) {
	height := c.heightLocked()
	lines := make([]*Line, end-start)
	complete := true
	for ix := start; ix < end; ix++ {
		l := c.getLocked(ix)
		lines[ix-start] = l
		if l == nil && ix >= 0 && ix < height {
			complete = false
		}
	}
	return lines, complete
}
