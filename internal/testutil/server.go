package testutil

import (
	"net"
	"sync"
	"testing"

	"github.com/julianstephens/evlog/internal/evlog/wire"
)

// DefaultSource is the identity a Server announces unless SetSource is called.
const DefaultSource = "testsrv1"

type heldRequest struct {
	sc      *serverConn
	t       wire.MsgType
	payload []byte
}

type serverConn struct {
	nc   net.Conn
	wmu  sync.Mutex
	live bool
	gone bool
}

func (sc *serverConn) write(b []byte) {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	_, _ = sc.nc.Write(b)
}

// Server is an in-process event-log server speaking the wire protocol over
// TCP. It keeps the log in memory, rejects appends whose conflict keys were
// modified after the target version, and serves one-shot and persistent
// subscriptions with live event push.
type Server struct {
	ln net.Listener

	mu           sync.Mutex
	source       wire.Source
	records      []wire.Event
	head         uint32
	lastModified map[string]uint32
	conns        map[*serverConn]struct{}
	accepted     int
	paused       bool
	draining     bool
	held         []heldRequest
	appends      int
	closed       bool

	wg sync.WaitGroup
}

// NewServer starts a server on a loopback port and stops it when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("failed to listen: %v", err)
	}
	s := &Server{
		ln:           ln,
		source:       wire.SourceFromString(DefaultSource),
		lastModified: make(map[string]uint32),
		conns:        make(map[*serverConn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// SetSource changes the identity announced to new connections.
func (s *Server) SetSource(src string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = wire.SourceFromString(src)
}

// Seed appends records with the given batch sizes directly to the log.
func (s *Server) Seed(batchSizes ...uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bs := range batchSizes {
		s.appendLocked([]byte{byte(len(s.records))}, bs, nil)
	}
}

// Records returns a copy of the log.
func (s *Server) Records() []wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Event(nil), s.records...)
}

// Head returns the next version to be assigned.
func (s *Server) Head() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Appends returns the number of client append requests processed, including
// rejected ones.
func (s *Server) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// SetPaused holds incoming requests unanswered while paused. Unpausing
// processes held requests of still-open connections in arrival order.
func (s *Server) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	if paused {
		return
	}

	for {
		s.mu.Lock()
		if len(s.held) == 0 || s.paused {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.draining = true
		h := s.held[0]
		s.held = s.held[1:]
		s.mu.Unlock()

		s.handle(h.sc, h.t, h.payload)
	}
}

// Held returns the number of requests waiting for SetPaused(false).
func (s *Server) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// DropConnections closes every open connection. Held requests from those
// connections are discarded.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		sc.gone = true
		conns = append(conns, sc)
	}
	kept := s.held[:0]
	for _, h := range s.held {
		if !h.sc.gone {
			kept = append(kept, h)
		}
	}
	s.held = kept
	s.mu.Unlock()

	for _, sc := range conns {
		_ = sc.nc.Close()
	}
}

// EndSubscriptions sends SubscribeEnd to every live subscriber.
func (s *Server) EndSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc := range s.conns {
		if sc.live {
			sc.live = false
			sc.write(wire.AppendSubscribeEnd(nil))
		}
	}
}

// Close stops the listener and drops every connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		sc := &serverConn{nc: nc}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[sc] = struct{}{}
		s.accepted++
		src := s.source
		s.mu.Unlock()

		sc.write(wire.AppendHello(nil, src))
		s.wg.Add(1)
		go s.serve(sc)
	}
}

func (s *Server) serve(sc *serverConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		sc.gone = true
		delete(s.conns, sc)
		s.mu.Unlock()
		_ = sc.nc.Close()
	}()

	chunk := make([]byte, 4096)
	var buf []byte
	for {
		n, err := sc.nc.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for {
			t, payload, used, derr := wire.DecodeFrame(buf)
			if derr != nil {
				if wire.IsShort(derr) {
					break
				}
				return
			}
			p := append([]byte(nil), payload...)
			buf = buf[used:]
			if !s.hold(sc, t, p) {
				s.handle(sc, t, p)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) hold(sc *serverConn, t wire.MsgType, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused && !s.draining {
		return false
	}
	if sc.gone {
		return true
	}
	s.held = append(s.held, heldRequest{sc: sc, t: t, payload: payload})
	return true
}

func (s *Server) handle(sc *serverConn, t wire.MsgType, payload []byte) {
	switch t {
	case wire.MsgEvent:
		req, err := wire.DecodeEventRequest(payload)
		if err != nil {
			_ = sc.nc.Close()
			return
		}
		s.handleEvent(sc, req)
	case wire.MsgSubscribe:
		req, err := wire.DecodeSubscribeRequest(payload)
		if err != nil {
			_ = sc.nc.Close()
			return
		}
		s.handleSubscribe(sc, req)
	default:
		_ = sc.nc.Close()
	}
}

func (s *Server) handleEvent(sc *serverConn, req wire.EventRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.gone {
		return
	}

	s.appends++
	if s.conflictLocked(req) {
		sc.write(wire.AppendEventConfirm(nil, wire.ConflictVersion))
		return
	}
	ev := s.appendLocked(req.Data, 1, req.ConflictKeys)

	// Live pushes and responses are written under mu so every subscriber
	// sees its subscribe response before any event that follows it.
	push := wire.AppendEventMsg(nil, ev)
	for c := range s.conns {
		if c.live {
			c.write(push)
		}
	}
	sc.write(wire.AppendEventConfirm(nil, uint64(s.head)))
}

func (s *Server) conflictLocked(req wire.EventRequest) bool {
	if req.TargetVersion == 0 {
		return false
	}
	for _, k := range req.ConflictKeys {
		if s.lastModified[k] > req.TargetVersion {
			return true
		}
	}
	return false
}

func (s *Server) appendLocked(data []byte, batchSize uint16, keys []string) wire.Event {
	ev := wire.Event{
		Version:   s.head,
		CRC32:     wire.ComputeChecksum(data),
		BatchSize: batchSize,
		Data:      append([]byte(nil), data...),
	}
	s.records = append(s.records, ev)
	s.head += uint32(batchSize)
	for _, k := range keys {
		s.lastModified[k] = s.head
	}
	return ev
}

func (s *Server) handleSubscribe(sc *serverConn, req wire.SubscribeRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.gone {
		return
	}

	from := req.From
	if from == wire.FromCurrent || from > s.head {
		from = s.head
	}

	var (
		out  []wire.Event
		size int
		next = from
	)
	for _, rec := range s.records {
		if rec.Version < from {
			continue
		}
		if len(out) == 0 {
			next = rec.Version
			from = rec.Version
		}
		recSize := wire.EncodedRecordSize(len(rec.Data))
		if size+recSize > int(req.MaxBytes) {
			break
		}
		out = append(out, rec)
		size += recSize
		next = rec.Version + uint32(rec.BatchSize)
	}

	oneshot := req.Flags&wire.FlagOneshot != 0
	current := next >= s.head
	flags := req.Flags & wire.FlagOneshot
	if current {
		flags |= wire.FlagCurrent
	}
	if !oneshot {
		sc.live = current
	}
	sc.write(wire.AppendSubscribeResp(nil, uint64(from), flags, out))
}

// DeadAddr returns a loopback address nothing is listening on.
func DeadAddr(tb testing.TB) string {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
