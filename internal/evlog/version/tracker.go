// Package version tracks the stream position a live subscription resumes from.
package version

import "sync"

// Unknown marks a tracker that has not observed any version yet. Resuming
// from Unknown subscribes at the current head.
const Unknown int64 = -1

// Tracker holds the next version a resumed subscription should start at.
// It only moves forward.
type Tracker struct {
	mu   sync.Mutex
	next int64
}

// NewTracker constructs a tracker starting at from. Negative values mean Unknown.
func NewTracker(from int64) *Tracker {
	if from < 0 {
		from = Unknown
	}
	return &Tracker{next: from}
}

// Peek returns the version to resume from.
func (t *Tracker) Peek() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Advance records that every version below v has been delivered.
// Moving backwards is rejected and leaves the tracker unchanged.
func (t *Tracker) Advance(v uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int64(v) < t.next {
		return &Error{
			Err:  ErrRegression,
			Have: int64(v),
			Want: t.next,
		}
	}
	t.next = int64(v)
	return nil
}

// Reset moves the tracker to from unconditionally. Used when a new
// subscription replaces the old one.
func (t *Tracker) Reset(from int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from < 0 {
		from = Unknown
	}
	t.next = from
}
