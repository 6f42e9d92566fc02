package conn

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"

	"github.com/julianstephens/evlog/internal/evlog"
	"github.com/julianstephens/evlog/internal/evlog/errorutil"
	"github.com/julianstephens/evlog/internal/evlog/wire"
	"github.com/julianstephens/evlog/internal/logger"
)

// Handlers receive connection-level notifications. They run on the read
// goroutine and must not block.
type Handlers struct {
	// OnEvents receives every batch of events applied to the stream version.
	OnEvents evlog.EventsFunc

	// OnUnsubscribe fires when the server ends the persistent subscription.
	OnUnsubscribe func()

	// OnClose fires once when an established connection drops, before
	// pending sends are failed. It does not fire for failed handshakes.
	OnClose func(err error)
}

type Options struct {
	Handlers Handlers

	// VerifyChecksums rejects records whose non-zero CRC32-C does not match.
	VerifyChecksums bool

	// ReadBufferSize is the socket read chunk size (default: evlog.DefaultReadBufferSize).
	ReadBufferSize int
}

type subscription struct {
	// done is cleared once the caller has been answered.
	done evlog.ResponseFunc
	// auto re-issues the subscription until the server reports current.
	auto bool
}

// Conn is a single connection to an event-log server. It multiplexes
// appends, one-shot subscribes and at most one persistent subscription over
// one socket. All callbacks run on the connection's read goroutine.
type Conn struct {
	addr   string
	nc     net.Conn
	opts   Options
	logger logger.Logger

	source wire.Source
	hello  chan struct{}
	done   chan struct{}
	wake   chan struct{}

	mu            sync.Mutex
	closed        bool
	drained       bool
	established   bool
	closeErr      error
	streamVersion int64
	pendingSends  []evlog.SendFunc
	active        *subscription
	oneshots      []evlog.ResponseFunc
	outbound      [][]byte
}

// Dial connects to addr and returns once the server's Hello has arrived.
func Dial(ctx context.Context, addr string, opts Options, lg logger.Logger) (*Conn, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		lg.Warn("dial failed", "addr", addr, "error", err)
		return nil, wrapConnErr("dial", ErrConnect, addr, err)
	}
	return Handshake(ctx, nc, opts, lg)
}

// Handshake takes ownership of an established socket and waits for the
// server's Hello.
func Handshake(ctx context.Context, nc net.Conn, opts Options, lg logger.Logger) (*Conn, error) {
	lg = logger.With(lg, "component", "conn")
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = evlog.DefaultReadBufferSize
	}

	c := &Conn{
		addr:          nc.RemoteAddr().String(),
		nc:            nc,
		opts:          opts,
		logger:        lg,
		hello:         make(chan struct{}),
		done:          make(chan struct{}),
		wake:          make(chan struct{}, 1),
		streamVersion: -1,
	}
	go c.readLoop()
	go c.writeLoop()

	select {
	case <-c.hello:
		lg.Info("connected", "addr", c.addr, "source", c.source.String())
		return c, nil
	case <-c.done:
		lg.Warn("handshake failed", "addr", c.addr, "cause", c.Err())
		return nil, wrapConnErr("handshake", ErrConnect, c.addr, c.Err())
	case <-ctx.Done():
		c.teardown(ctx.Err())
		return nil, wrapConnErr("handshake", ErrConnect, c.addr, ctx.Err())
	}
}

// Addr returns the remote address.
func (c *Conn) Addr() string {
	return c.addr
}

// Source returns the identity the server announced in its Hello.
func (c *Conn) Source() wire.Source {
	return c.source
}

// StreamVersion returns the next version not yet seen, or -1 before the
// first subscription response.
func (c *Conn) StreamVersion() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamVersion
}

// PendingSends returns the number of appends awaiting confirmation.
func (c *Conn) PendingSends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingSends)
}

// Done is closed when the connection has been torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection was torn down, or nil while open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close tears the connection down. Pending sends fail with
// ErrClosedBeforeConfirm on the read goroutine, after any confirmation it is
// delivering; pending subscribe callbacks are dropped.
func (c *Conn) Close() error {
	c.teardown(wrapConnErr("close", ErrClosed, c.addr, nil))
	return nil
}

// SendAsync appends data to the log. done is called exactly once, with the
// confirmed version, ErrVersionConflict or ErrClosedBeforeConfirm.
// Confirmations are delivered in call order.
func (c *Conn) SendAsync(data []byte, opts evlog.SendOptions, done evlog.SendFunc) {
	if done == nil {
		done = func(uint32, error) {}
	}
	frame, err := wire.EncodeEventFrame(wire.EventRequest{
		TargetVersion: opts.TargetVersion,
		ConflictKeys:  opts.ConflictKeys,
		Data:          data,
	})
	if err != nil {
		done(0, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		if c.drained {
			c.mu.Unlock()
			done(0, ErrClosedBeforeConfirm)
			return
		}
		// The read goroutine still owes earlier sends their failure.
		c.pendingSends = append(c.pendingSends, done)
		c.mu.Unlock()
		return
	}
	c.pendingSends = append(c.pendingSends, done)
	c.enqueueLocked(frame)
	c.mu.Unlock()

	c.logger.Debug("send queued", "size", len(data), "target_version", opts.TargetVersion, "keys", len(opts.ConflictKeys))
}

type sendResult struct {
	version uint32
	err     error
}

// Send appends data and waits for its confirmation. Cancelling ctx stops the
// wait but not the request.
func (c *Conn) Send(ctx context.Context, data []byte, opts evlog.SendOptions) (uint32, error) {
	ch := make(chan sendResult, 1)
	c.SendAsync(data, opts, func(version uint32, err error) {
		ch <- sendResult{version: version, err: err}
	})
	select {
	case r := <-ch:
		return r.version, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Subscribe requests events starting at from (-1 means the current head).
// One-shot requests are answered exactly once, in request order. Starting a
// second persistent subscription while one is active panics. On a closed
// connection the request is dropped.
func (c *Conn) Subscribe(from int64, opts evlog.SubscribeOptions, done evlog.ResponseFunc) {
	if done == nil {
		done = func(*evlog.Result) {}
	}
	req := wire.SubscribeRequest{
		From:     fromWire(from),
		MaxBytes: evlog.ResolveMaxBytes(opts.MaxBytes),
	}
	if opts.Oneshot {
		req.Flags = wire.FlagOneshot
	}
	frame, err := wire.EncodeSubscribeFrame(req)
	if err != nil {
		c.logger.Error("failed to encode subscribe", err, "from", from)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if opts.Oneshot {
		c.oneshots = append(c.oneshots, done)
	} else {
		if c.active != nil {
			panic("conn: persistent subscription already active")
		}
		c.active = &subscription{done: done, auto: opts.MaxBytes == nil}
	}
	c.enqueueLocked(frame)
	c.logger.Debug("subscribe queued", "from", from, "oneshot", opts.Oneshot, "max_bytes", req.MaxBytes)
}

func fromWire(from int64) uint32 {
	if from < 0 {
		return wire.FromCurrent
	}
	return uint32(from) //nolint:gosec
}

func (c *Conn) enqueueLocked(frame []byte) {
	c.outbound = append(c.outbound, frame)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) writeLoop() {
	w := bufio.NewWriter(c.nc)
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}

		c.mu.Lock()
		frames := c.outbound
		c.outbound = nil
		c.mu.Unlock()

		for _, f := range frames {
			if _, err := w.Write(f); err != nil {
				c.teardown(wrapConnErr("write", ErrClosed, c.addr, err))
				return
			}
		}
		if err := w.Flush(); err != nil {
			c.teardown(wrapConnErr("write", ErrClosed, c.addr, err))
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer c.finish()
	chunk := make([]byte, c.opts.ReadBufferSize)
	var buf []byte
	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var derr error
			if buf, derr = c.drain(buf); derr != nil {
				c.logger.Error("protocol violation", derr, "addr", c.addr)
				c.teardown(derr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				c.logger.Debug("server closed connection", "addr", c.addr)
			}
			c.teardown(wrapConnErr("read", ErrClosed, c.addr, err))
			return
		}
	}
}

// drain decodes and dispatches every complete message at the front of buf
// and returns the unconsumed remainder.
func (c *Conn) drain(buf []byte) ([]byte, error) {
	off := 0
	for off < len(buf) {
		msg, n, err := wire.DecodeMessage(buf[off:])
		if err != nil {
			if wire.IsShort(err) {
				break
			}
			return buf, err
		}
		if err := c.dispatch(msg, off); err != nil {
			return buf, err
		}
		off += n
	}
	rest := copy(buf, buf[off:])
	return buf[:rest], nil
}

func (c *Conn) dispatch(msg wire.Message, at int) error {
	var calls []func()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	sv := c.streamVersion
	if !c.established && msg.Type() != wire.MsgHello {
		c.mu.Unlock()
		return c.unexpected(msg, at, sv)
	}

	switch m := msg.(type) {
	case *wire.Hello:
		if c.established {
			c.mu.Unlock()
			return c.unexpected(msg, at, sv)
		}
		c.source = m.Source
		c.established = true
		close(c.hello)

	case *wire.EventMsg:
		ev := m.Record
		base := sv
		if base < 0 {
			c.logger.Warn("event before any subscription; assuming version 0", "addr", c.addr)
			base = 0
		}
		ev.Version = uint32(base) //nolint:gosec
		if c.opts.VerifyChecksums && !wire.VerifyChecksum(ev) {
			c.mu.Unlock()
			return checksumErr(at, ev.Version)
		}
		next := ev.Version + uint32(ev.BatchSize)
		c.streamVersion = int64(next)
		if h := c.opts.Handlers.OnEvents; h != nil {
			calls = append(calls, func() { h([]wire.Event{ev}, next) })
		}

	case *wire.EventConfirm:
		if len(c.pendingSends) == 0 {
			c.mu.Unlock()
			return c.unexpected(msg, at, sv)
		}
		cb := c.pendingSends[0]
		c.pendingSends[0] = nil
		c.pendingSends = c.pendingSends[1:]
		if m.Conflict() {
			calls = append(calls, func() { cb(0, ErrVersionConflict) })
		} else {
			v := m.Version
			calls = append(calls, func() { cb(v, nil) })
		}

	case *wire.SubscribeResp:
		subCalls, err := c.handleSubscribeLocked(m, at)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		calls = subCalls

	case *wire.SubscribeEnd:
		c.active = nil
		if h := c.opts.Handlers.OnUnsubscribe; h != nil {
			calls = append(calls, h)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("dispatched message", "type", msg.Type().String(), "callbacks", len(calls))
	for _, call := range calls {
		call()
	}
	return nil
}

func (c *Conn) handleSubscribeLocked(m *wire.SubscribeResp, at int) ([]func(), error) {
	res := evlog.NewResult(m)
	if c.opts.VerifyChecksums {
		for _, ev := range res.Events {
			if !wire.VerifyChecksum(ev) {
				return nil, checksumErr(at, ev.Version)
			}
		}
	}

	if res.Oneshot {
		if len(c.oneshots) == 0 {
			return nil, c.unexpected(m, at, c.streamVersion)
		}
		cb := c.oneshots[0]
		c.oneshots[0] = nil
		c.oneshots = c.oneshots[1:]
		return []func(){func() { cb(res) }}, nil
	}

	sub := c.active
	if sub == nil {
		return nil, c.unexpected(m, at, c.streamVersion)
	}

	var calls []func()
	c.streamVersion = int64(res.VEnd)
	if h := c.opts.Handlers.OnEvents; h != nil && len(res.Events) > 0 {
		events, v := res.Events, res.VEnd
		calls = append(calls, func() { h(events, v) })
	}

	switch {
	case res.Complete:
		c.active = nil
		if done := sub.done; done != nil {
			calls = append(calls, func() { done(res) })
		}
		if h := c.opts.Handlers.OnUnsubscribe; h != nil {
			calls = append(calls, h)
		}
	case sub.auto && !res.Current:
		frame, err := wire.EncodeSubscribeFrame(wire.SubscribeRequest{
			From:     res.VEnd,
			MaxBytes: evlog.DefaultMaxBytes,
		})
		if err != nil {
			return nil, err
		}
		c.enqueueLocked(frame)
		c.logger.Debug("resubscribing", "from", res.VEnd)
	case sub.auto:
		if done := sub.done; done != nil {
			sub.done = nil
			calls = append(calls, func() { done(res) })
		}
	default:
		c.active = nil
		done := sub.done
		calls = append(calls, func() { done(res) })
	}
	return calls, nil
}

// unexpected reports a message that is valid on its own but not in the
// current connection state. A known stream version is attached.
func (c *Conn) unexpected(msg wire.Message, at int, streamVersion int64) error {
	coords := errorutil.At(at).WithMsgType(uint8(msg.Type()))
	if streamVersion >= 0 {
		coords = coords.WithVersion(uint32(streamVersion)) //nolint:gosec
	}
	return wrapConnErr("dispatch", ErrUnexpectedMessage, c.addr, &wire.ParseError{
		Kind:        wire.KindUnknownType,
		Coordinates: coords,
		Field:       msg.Type().String(),
		Err:         wire.ErrProtocol,
	})
}

func checksumErr(at int, version uint32) error {
	coords := errorutil.At(at).WithMsgType(uint8(wire.MsgEvent)).WithVersion(version)
	return &wire.ParseError{
		Kind:        wire.KindChecksum,
		Coordinates: coords,
		Field:       "crc32",
		Err:         wire.ErrChecksum,
	}
}

// teardown runs once: it records the cause and closes the socket. Close
// notification and send failures are left to finish on the read goroutine.
func (c *Conn) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	c.oneshots = nil
	c.active = nil
	c.outbound = nil
	close(c.done)
	c.mu.Unlock()

	_ = c.nc.Close()
}

// finish runs when the read goroutine exits, after any callback it was
// delivering. It notifies OnClose and then fails unanswered sends in order,
// including sends queued while it ran.
func (c *Conn) finish() {
	c.mu.Lock()
	established, cause := c.established, c.closeErr
	pending := len(c.pendingSends)
	c.mu.Unlock()

	if established {
		c.logger.Warn("connection closed", "addr", c.addr, "pending_sends", pending, "cause", cause)
		if h := c.opts.Handlers.OnClose; h != nil {
			h(cause)
		}
	}
	for {
		c.mu.Lock()
		batch := c.pendingSends
		c.pendingSends = nil
		if len(batch) == 0 {
			c.drained = true
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for _, cb := range batch {
			cb(0, ErrClosedBeforeConfirm)
		}
	}
}
