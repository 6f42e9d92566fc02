package evlog

import "github.com/julianstephens/evlog/internal/evlog/wire"

// SendOptions controls optimistic concurrency for a single append.
type SendOptions struct {
	// TargetVersion is the version the caller last observed. 0 disables the check.
	TargetVersion uint32

	// ConflictKeys names the keys the append touches. Empty means no key-level check.
	ConflictKeys []string
}

// SubscribeOptions configures a subscribe request.
type SubscribeOptions struct {
	// MaxBytes caps the response body. nil means DefaultMaxBytes and, for a
	// persistent subscription, enables automatic resubscription until the
	// server reports the stream is current.
	MaxBytes *uint32

	// Oneshot requests a single bounded response instead of a live subscription.
	Oneshot bool
}

// RangeOptions configures a GetEvents call.
type RangeOptions struct {
	// MaxBytes caps each underlying subscribe response. nil means DefaultMaxBytes.
	MaxBytes *uint32
}

// Bytes returns a pointer to n, for use in MaxBytes fields.
func Bytes(n uint32) *uint32 {
	return &n
}

// ResolveMaxBytes returns the effective byte cap for p.
func ResolveMaxBytes(p *uint32) uint32 {
	if p == nil {
		return DefaultMaxBytes
	}
	return *p
}

// SendFunc receives the outcome of an append: the confirmed version or an error.
type SendFunc func(version uint32, err error)

// ResponseFunc receives a decoded subscribe response.
type ResponseFunc func(res *Result)

// EventsFunc receives live events together with the stream version after them.
type EventsFunc func(events []wire.Event, version uint32)
