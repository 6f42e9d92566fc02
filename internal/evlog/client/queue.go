package client

import (
	"github.com/julianstephens/evlog/internal/evlog"
)

// RangeFunc receives the outcome of a queued range read.
type RangeFunc func(res *evlog.Result, err error)

type entryKind int

const (
	sendEntry entryKind = iota
	rangeEntry
)

// entry is one request in the durable queue. It stays queued until it gets
// an answer other than "closed before confirmation".
type entry struct {
	kind entryKind

	// gen is the connection generation the entry was last issued on. 0 means
	// it has never been issued.
	gen uint64

	data     []byte
	sendOpts evlog.SendOptions
	onSend   evlog.SendFunc

	from, to  int64
	rangeOpts evlog.RangeOptions
	onRange   RangeFunc
}

func (e *entry) fail(err error) {
	switch e.kind {
	case sendEntry:
		e.onSend(0, err)
	case rangeEntry:
		e.onRange(nil, err)
	}
}

// takeLocked removes e from the queue and reports whether it was still there.
// Callers hold c.mu.
func (c *Client) takeLocked(e *entry) bool {
	for i, q := range c.queue {
		if q == e {
			copy(c.queue[i:], c.queue[i+1:])
			c.queue[len(c.queue)-1] = nil
			c.queue = c.queue[:len(c.queue)-1]
			c.opts.Metrics.SetQueued(len(c.queue))
			return true
		}
	}
	return false
}

func (c *Client) take(e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked(e)
}

// replayLocked marks every entry not yet issued on gen as issued and returns
// them in queue order.
func (c *Client) replayLocked(gen uint64) []*entry {
	var out []*entry
	for _, e := range c.queue {
		if e.gen != gen {
			e.gen = gen
			out = append(out, e)
		}
	}
	return out
}

// drainLocked empties the queue.
func (c *Client) drainLocked() []*entry {
	out := c.queue
	c.queue = nil
	c.opts.Metrics.SetQueued(0)
	return out
}
