// Package client keeps an event-log connection alive across drops. It queues
// every request until it has an answer, replays unanswered requests in order
// on each new connection, and resumes the live subscription where it left off.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/julianstephens/evlog/internal/evlog"
	"github.com/julianstephens/evlog/internal/evlog/conn"
	"github.com/julianstephens/evlog/internal/evlog/metrics"
	"github.com/julianstephens/evlog/internal/evlog/query"
	"github.com/julianstephens/evlog/internal/evlog/version"
	"github.com/julianstephens/evlog/internal/evlog/wire"
	"github.com/julianstephens/evlog/internal/logger"
)

type Options struct {
	// RetryDelay is the fixed wait after a failed connection attempt
	// (default: evlog.DefaultRetryDelay).
	RetryDelay time.Duration

	VerifyChecksums bool
	ReadBufferSize  int

	// OnEvents receives every batch of live events.
	OnEvents evlog.EventsFunc

	// OnUnsubscribe fires when the server ends the live subscription.
	OnUnsubscribe func()

	// OnFatal fires once when the client stops on its own, e.g. on an
	// identity mismatch. It is not called for Close.
	OnFatal func(err error)

	// Metrics is optional.
	Metrics *metrics.Metrics
}

type liveSub struct {
	opts evlog.SubscribeOptions
	// done is cleared after the first response.
	done evlog.ResponseFunc
}

// Client supervises one logical connection to an event-log server.
type Client struct {
	addr   string
	opts   Options
	logger logger.Logger

	// connLogger is handed to each connection.
	connLogger logger.Logger

	// issueMu serializes queueing and issuing so the wire order of requests
	// matches queue order. Lock order: issueMu, then mu.
	issueMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	cur     *conn.Conn
	source  *wire.Source
	queue   []*entry
	sub     *liveSub
	stopErr error

	resume *version.Tracker

	stop      chan struct{}
	stopOnce  sync.Once
	ready     chan struct{}
	readyOnce sync.Once
}

// New starts a client for addr without waiting for the first connection.
// Requests made before it connects are queued.
func New(addr string, opts Options, lg logger.Logger) *Client {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = evlog.DefaultRetryDelay
	}

	c := &Client{
		addr:       addr,
		opts:       opts,
		logger:     logger.With(lg, "component", "client"),
		connLogger: lg,
		state:      StateConnecting,
		resume:     version.NewTracker(version.Unknown),
		stop:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
	go c.run()
	return c
}

// Open starts a client and waits for its first connection. If ctx ends
// first the client is closed.
func Open(ctx context.Context, addr string, opts Options, lg logger.Logger) (*Client, error) {
	c := New(addr, opts, lg)
	select {
	case <-c.ready:
		return c, nil
	case <-c.stop:
		return nil, c.Err()
	case <-ctx.Done():
		_ = c.Close()
		return nil, &ClientError{Err: conn.ErrConnect, Op: "open", Addr: addr, Cause: ctx.Err()}
	}
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// State returns the current supervisor state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Source returns the identity of the first server connected to, if any.
func (c *Client) Source() (wire.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return wire.Source{}, false
	}
	return *c.source, true
}

// Err returns why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopErr
}

// Pending returns the number of queued requests without a final answer.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// ResumeVersion returns the version a resumed subscription would start at.
func (c *Client) ResumeVersion() int64 {
	return c.resume.Peek()
}

// Close stops reconnection permanently. Queued requests fail with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopped
	c.stopErr = &ClientError{Err: ErrClientClosed, Op: "close", Addr: c.addr}
	failed := c.drainLocked()
	c.sub = nil
	cn := c.cur
	c.cur = nil
	stopErr := c.stopErr
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	if cn != nil {
		_ = cn.Close()
	}
	c.logger.Info("client closed", "addr", c.addr, "failed_requests", len(failed))
	for _, e := range failed {
		e.fail(stopErr)
	}
	return nil
}

// SendAsync queues an append. done is called exactly once with the
// confirmed version or a final error. Connection drops are retried.
func (c *Client) SendAsync(data []byte, opts evlog.SendOptions, done evlog.SendFunc) {
	if done == nil {
		done = func(uint32, error) {}
	}
	c.enqueue(&entry{kind: sendEntry, data: data, sendOpts: opts, onSend: done})
}

// Send queues an append and waits for its outcome. Cancelling ctx stops the
// wait; the append stays queued.
func (c *Client) Send(ctx context.Context, data []byte, opts evlog.SendOptions) (uint32, error) {
	type result struct {
		version uint32
		err     error
	}
	ch := make(chan result, 1)
	c.SendAsync(data, opts, func(v uint32, err error) {
		ch <- result{version: v, err: err}
	})
	select {
	case r := <-ch:
		return r.version, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// GetEventsAsync queues a range read of [from, to). A read interrupted by a
// drop restarts from from on the next connection.
func (c *Client) GetEventsAsync(from, to int64, opts evlog.RangeOptions, done RangeFunc) {
	if done == nil {
		done = func(*evlog.Result, error) {}
	}
	c.enqueue(&entry{kind: rangeEntry, from: from, to: to, rangeOpts: opts, onRange: done})
}

// GetEvents queues a range read and waits for its result.
func (c *Client) GetEvents(ctx context.Context, from, to int64, opts evlog.RangeOptions) (*evlog.Result, error) {
	type result struct {
		res *evlog.Result
		err error
	}
	ch := make(chan result, 1)
	c.GetEventsAsync(from, to, opts, func(res *evlog.Result, err error) {
		ch <- result{res: res, err: err}
	})
	select {
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetVersion returns the version of the newest event, or -1 for an empty log.
func (c *Client) GetVersion(ctx context.Context) (int64, error) {
	res, err := c.GetEvents(ctx, -1, -1, evlog.RangeOptions{MaxBytes: evlog.Bytes(0)})
	if err != nil {
		return 0, err
	}
	return query.HeadVersion(res), nil
}

// Subscribe starts the live subscription at from (-1 for the current head).
// done receives the first response only; later batches go to
// Options.OnEvents. The subscription is resumed after every reconnect from
// the last delivered version. A one-shot request is served as a range read
// through the queue instead. Subscribing while a live subscription is
// outstanding panics.
func (c *Client) Subscribe(from int64, opts evlog.SubscribeOptions, done evlog.ResponseFunc) {
	if opts.Oneshot {
		c.GetEventsAsync(from, -1, evlog.RangeOptions{MaxBytes: opts.MaxBytes}, func(res *evlog.Result, err error) {
			if err == nil && done != nil {
				done(res)
			}
		})
		return
	}

	c.issueMu.Lock()
	defer c.issueMu.Unlock()

	c.mu.Lock()
	if c.sub != nil {
		c.mu.Unlock()
		panic("client: live subscription already outstanding")
	}
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	sub := &liveSub{opts: opts, done: done}
	c.sub = sub
	c.resume.Reset(from)
	cn, gen := c.cur, c.gen
	c.mu.Unlock()

	if cn != nil {
		c.issueSubscribe(cn, gen, sub, from)
	}
}

func (c *Client) enqueue(e *entry) {
	c.issueMu.Lock()
	c.mu.Lock()
	if c.state == StateStopped {
		err := c.stopErr
		c.mu.Unlock()
		c.issueMu.Unlock()
		e.fail(err)
		return
	}
	c.queue = append(c.queue, e)
	c.opts.Metrics.SetQueued(len(c.queue))
	cn := c.cur
	if cn != nil {
		e.gen = c.gen
	}
	c.mu.Unlock()

	if cn != nil {
		c.issue(cn, e)
	}
	c.issueMu.Unlock()
}

func (c *Client) issue(cn *conn.Conn, e *entry) {
	switch e.kind {
	case sendEntry:
		cn.SendAsync(e.data, e.sendOpts, func(v uint32, err error) {
			if errors.Is(err, conn.ErrClosedBeforeConfirm) {
				c.logger.Debug("send interrupted; keeping it queued", "addr", c.addr)
				return
			}
			if c.take(e) {
				c.opts.Metrics.ObserveSend(err)
				e.onSend(v, err)
			}
		})
	case rangeEntry:
		query.Run(cn, e.from, e.to, e.rangeOpts, func(res *evlog.Result) {
			if c.take(e) {
				e.onRange(res, nil)
			}
		})
	}
}

func (c *Client) issueSubscribe(cn *conn.Conn, gen uint64, sub *liveSub, from int64) {
	c.logger.Debug("issuing live subscription", "addr", c.addr, "from", from, "generation", gen)
	cn.Subscribe(from, sub.opts, func(res *evlog.Result) {
		c.onSubscribeResponse(sub, res)
	})
}

func (c *Client) onSubscribeResponse(sub *liveSub, res *evlog.Result) {
	c.advance(res.VEnd)

	c.mu.Lock()
	if c.sub != sub {
		c.mu.Unlock()
		return
	}
	done := sub.done
	sub.done = nil
	// A byte-capped subscription is answered once and is then over.
	if res.Complete || sub.opts.MaxBytes != nil {
		c.sub = nil
	}
	c.mu.Unlock()

	if done != nil {
		done(res)
	}
}

func (c *Client) onEvents(events []wire.Event, v uint32) {
	c.advance(v)
	c.opts.Metrics.AddEvents(len(events))
	if h := c.opts.OnEvents; h != nil {
		h(events, v)
	}
}

func (c *Client) onUnsubscribe() {
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()

	c.logger.Info("live subscription ended by server", "addr", c.addr)
	if h := c.opts.OnUnsubscribe; h != nil {
		h()
	}
}

func (c *Client) advance(v uint32) {
	if err := c.resume.Advance(v); err != nil {
		c.logger.Warn("ignoring resume version regression", "addr", c.addr, "error", err)
	}
}

func (c *Client) setState(s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return false
	}
	if c.state != s {
		c.logger.Debug("state change", "addr", c.addr, "from", c.state.String(), "to", s.String())
		c.state = s
	}
	return true
}

func (c *Client) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if !c.setState(StateConnecting) {
			return
		}

		cn, err := conn.Dial(ctx, c.addr, conn.Options{
			VerifyChecksums: c.opts.VerifyChecksums,
			ReadBufferSize:  c.opts.ReadBufferSize,
			Handlers: conn.Handlers{
				OnEvents:      c.onEvents,
				OnUnsubscribe: c.onUnsubscribe,
			},
		}, c.connLogger)
		c.opts.Metrics.ObserveDial(err)
		if err != nil {
			if !c.setState(StateWaiting) {
				return
			}
			c.logger.Warn("connect failed; retrying", "addr", c.addr, "delay", c.opts.RetryDelay.String(), "error", err)
			select {
			case <-time.After(c.opts.RetryDelay):
			case <-c.stop:
				return
			}
			continue
		}

		if !c.attach(cn) {
			_ = cn.Close()
			return
		}

		select {
		case <-cn.Done():
			c.detach(cn)
			c.logger.Warn("connection lost; reconnecting", "addr", c.addr, "cause", cn.Err())
		case <-c.stop:
			_ = cn.Close()
			return
		}
	}
}

// attach installs a fresh connection: it checks the server identity,
// resumes the live subscription and replays the queue in order.
func (c *Client) attach(cn *conn.Conn) bool {
	c.issueMu.Lock()
	defer c.issueMu.Unlock()

	src := cn.Source()

	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return false
	}
	if c.source != nil && *c.source != src {
		err := &ClientError{
			Err:  ErrIdentityMismatch,
			Op:   "attach",
			Addr: c.addr,
			Want: c.source.String(),
			Have: src.String(),
		}
		c.state = StateStopped
		c.stopErr = err
		failed := c.drainLocked()
		c.sub = nil
		c.mu.Unlock()

		c.stopOnce.Do(func() { close(c.stop) })
		c.logger.Error("server identity changed; stopping", err, "addr", c.addr)
		for _, e := range failed {
			e.fail(err)
		}
		if h := c.opts.OnFatal; h != nil {
			h(err)
		}
		return false
	}

	first := c.source == nil
	c.source = &src
	c.gen++
	gen := c.gen
	c.cur = cn
	c.state = StateConnected
	sub := c.sub
	replay := c.replayLocked(gen)
	c.mu.Unlock()

	c.logger.Info("connected", "addr", c.addr, "source", src.String(), "generation", gen, "replay", len(replay))
	if first {
		c.readyOnce.Do(func() { close(c.ready) })
	} else {
		c.opts.Metrics.ObserveReconnect(len(replay))
	}
	if sub != nil {
		c.issueSubscribe(cn, gen, sub, c.resume.Peek())
	}
	for _, e := range replay {
		c.issue(cn, e)
	}
	return true
}

func (c *Client) detach(cn *conn.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == cn {
		c.cur = nil
	}
}
