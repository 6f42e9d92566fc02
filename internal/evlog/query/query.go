// Package query turns bounded range reads into a series of one-shot
// subscribe exchanges.
package query

import (
	"context"

	"github.com/julianstephens/go-utils/generic"

	"github.com/julianstephens/evlog/internal/evlog"
)

// Subscriber issues subscribe requests. *conn.Conn satisfies it.
type Subscriber interface {
	Subscribe(from int64, opts evlog.SubscribeOptions, done evlog.ResponseFunc)
}

// closer is implemented by subscribers that can go away mid-query.
type closer interface {
	Done() <-chan struct{}
}

// Run reads events starting at from until one of these holds: to is -1,
// the accumulated VEnd reaches to, the server reports the head was reached,
// or a round makes no progress. Events at or beyond a non-negative to are
// trimmed. done is called once with the accumulated result; if the
// subscriber drops a response, done is never called.
func Run(s Subscriber, from, to int64, opts evlog.RangeOptions, done func(*evlog.Result)) {
	sub := evlog.SubscribeOptions{
		MaxBytes: generic.If(opts.MaxBytes == nil, evlog.Bytes(evlog.DefaultMaxBytes), opts.MaxBytes),
		Oneshot:  true,
	}

	var acc *evlog.Result
	var round func(res *evlog.Result)
	round = func(res *evlog.Result) {
		if acc == nil {
			acc = res
		} else {
			acc.Merge(res)
		}

		stalled := len(res.Events) == 0 && !res.Current
		if to < 0 || int64(acc.VEnd) >= to || acc.Current || stalled {
			if to >= 0 {
				acc.Trim(uint32(to)) //nolint:gosec
			}
			done(acc)
			return
		}
		s.Subscribe(int64(acc.VEnd), sub, round)
	}
	s.Subscribe(from, sub, round)
}

// GetEvents runs a range read and waits for the result.
func GetEvents(ctx context.Context, s Subscriber, from, to int64, opts evlog.RangeOptions) (*evlog.Result, error) {
	ch := make(chan *evlog.Result, 1)
	Run(s, from, to, opts, func(res *evlog.Result) {
		ch <- res
	})

	var gone <-chan struct{}
	if c, ok := s.(closer); ok {
		gone = c.Done()
	}
	select {
	case res := <-ch:
		return res, nil
	case <-gone:
		// The result may have landed just before the close.
		select {
		case res := <-ch:
			return res, nil
		default:
			return nil, ErrAborted
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetVersion returns the version of the newest event, or -1 for an empty log.
func GetVersion(ctx context.Context, s Subscriber) (int64, error) {
	res, err := GetEvents(ctx, s, -1, -1, evlog.RangeOptions{MaxBytes: evlog.Bytes(0)})
	if err != nil {
		return 0, err
	}
	return HeadVersion(res), nil
}

// HeadVersion converts a head lookup response to the newest event version.
func HeadVersion(res *evlog.Result) int64 {
	if res == nil {
		return -1
	}
	return int64(res.VStart) - 1
}
