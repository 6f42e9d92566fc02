package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/julianstephens/evlog/internal/evlog"
	"github.com/julianstephens/evlog/internal/evlog/conn"
	"github.com/julianstephens/evlog/internal/evlog/query"
	"github.com/julianstephens/evlog/internal/evlog/wire"
	"github.com/julianstephens/evlog/internal/testutil"
)

// scripted answers each subscribe synchronously from an in-memory log of
// batch-size-1 records, at most perRound records per response.
type scripted struct {
	head     uint32
	perRound int
	stall    bool

	requests []int64
	opts     []evlog.SubscribeOptions
}

func (s *scripted) Subscribe(from int64, opts evlog.SubscribeOptions, done evlog.ResponseFunc) {
	s.requests = append(s.requests, from)
	s.opts = append(s.opts, opts)

	start := uint32(from) //nolint:gosec
	if from < 0 {
		start = s.head
	}
	var records []wire.Event
	if !s.stall {
		for v := start; v < s.head && len(records) < s.perRound; v++ {
			records = append(records, wire.Event{BatchSize: 1, Data: []byte{byte(v)}})
		}
	}
	res := evlog.NewResult(&wire.SubscribeResp{VStart: start, Flags: wire.FlagOneshot, Records: records})
	res.Current = res.VEnd >= s.head
	done(res)
}

type silent struct {
	done chan struct{}
}

func (s *silent) Subscribe(int64, evlog.SubscribeOptions, evlog.ResponseFunc) {}

func (s *silent) Done() <-chan struct{} { return s.done }

func versions(res *evlog.Result) []uint32 {
	out := make([]uint32, 0, len(res.Events))
	for _, ev := range res.Events {
		out = append(out, ev.Version)
	}
	return out
}

func TestGetEvents_MultiRoundTrimsToBound(t *testing.T) {
	s := &scripted{head: 10, perRound: 3}

	res, err := query.GetEvents(context.Background(), s, 0, 5, evlog.RangeOptions{})
	assert.NoError(t, err)
	assert.Equal(t, []int64{0, 3}, s.requests)
	for _, o := range s.opts {
		assert.True(t, o.Oneshot)
		assert.Equal(t, evlog.DefaultMaxBytes, *o.MaxBytes)
	}
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, versions(res))
	assert.Equal(t, uint32(0), res.VStart)
	assert.Equal(t, uint32(5), res.VEnd)
	assert.False(t, res.Current)
}

func TestGetEvents_StopConditions(t *testing.T) {
	testCases := []struct {
		name         string
		s            *scripted
		from, to     int64
		wantRequests []int64
		wantVersions []uint32
	}{
		{"UnboundedSingleRound", &scripted{head: 10, perRound: 3}, 2, -1, []int64{2}, []uint32{2, 3, 4}},
		{"ExactBoundary", &scripted{head: 10, perRound: 3}, 0, 3, []int64{0}, []uint32{0, 1, 2}},
		{"CurrentBeforeBound", &scripted{head: 4, perRound: 3}, 0, 100, []int64{0, 3}, []uint32{0, 1, 2, 3}},
		{"NoProgress", &scripted{head: 10, perRound: 3, stall: true}, 0, 5, []int64{0}, []uint32{}},
		{"EmptyRange", &scripted{head: 10, perRound: 3}, 4, 4, []int64{4}, []uint32{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := query.GetEvents(context.Background(), tc.s, tc.from, tc.to, evlog.RangeOptions{})
			assert.NoError(t, err)
			assert.Equal(t, tc.wantRequests, tc.s.requests)
			assert.Equal(t, tc.wantVersions, versions(res))
			if tc.to >= 0 {
				assert.True(t, int64(res.VEnd) <= tc.to || len(res.Events) == 0)
			}
		})
	}
}

func TestGetEvents_PassesMaxBytes(t *testing.T) {
	s := &scripted{head: 2, perRound: 5}

	_, err := query.GetEvents(context.Background(), s, 0, -1, evlog.RangeOptions{MaxBytes: evlog.Bytes(77)})
	assert.NoError(t, err)
	assert.Equal(t, uint32(77), *s.opts[0].MaxBytes)
}

func TestGetEvents_AbortedWhenSubscriberCloses(t *testing.T) {
	s := &silent{done: make(chan struct{})}
	close(s.done)

	_, err := query.GetEvents(context.Background(), s, 0, 5, evlog.RangeOptions{})
	assert.True(t, errors.Is(err, query.ErrAborted))
}

func TestGetEvents_ContextCancelled(t *testing.T) {
	s := &silent{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := query.GetEvents(ctx, s, 0, 5, evlog.RangeOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHeadVersion(t *testing.T) {
	assert.Equal(t, int64(-1), query.HeadVersion(nil))
	assert.Equal(t, int64(-1), query.HeadVersion(&evlog.Result{VStart: 0}))
	assert.Equal(t, int64(41), query.HeadVersion(&evlog.Result{VStart: 42}))
}

func dial(t *testing.T, srv *testutil.Server) *conn.Conn {
	t.Helper()
	c, err := conn.Dial(context.Background(), srv.Addr(), conn.Options{}, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetVersion_AgainstServer(t *testing.T) {
	srv := testutil.NewServer(t)
	c := dial(t, srv)

	v, err := query.GetVersion(context.Background(), c)
	assert.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	srv.Seed(1, 3)
	v, err = query.GetVersion(context.Background(), c)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestGetEvents_AgainstServerWithSmallResponses(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Seed(1, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	c := dial(t, srv)

	// Two one-byte records per response.
	maxBytes := uint32(2 * wire.EncodedRecordSize(1))
	res, err := query.GetEvents(context.Background(), c, 2, 7, evlog.RangeOptions{MaxBytes: &maxBytes})
	assert.NoError(t, err)
	assert.Equal(t, []uint32{2, 3, 4, 5, 6}, versions(res))
	assert.Equal(t, uint32(2), res.VStart)
	assert.Equal(t, uint32(7), res.VEnd)
	assert.True(t, res.Oneshot)

	all, err := query.GetEvents(context.Background(), c, 0, 100, evlog.RangeOptions{MaxBytes: &maxBytes})
	assert.NoError(t, err)
	assert.Equal(t, 10, len(all.Events))
	assert.True(t, all.Current)
}
