package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/julianstephens/evlog/internal/evlog/wire"
)

// Frame is one outbound frame captured by a Peer.
type Frame struct {
	Type    wire.MsgType
	Payload []byte
}

// Peer is the server end of an in-memory connection. Tests write raw
// inbound bytes with Write and read the client's frames with Next.
type Peer struct {
	nc     net.Conn
	frames chan Frame
}

// NewPipe returns the client end of a net.Pipe and a Peer driving the
// other end. Both are closed when the test ends.
func NewPipe(tb testing.TB) (net.Conn, *Peer) {
	tb.Helper()

	client, server := net.Pipe()
	p := &Peer{nc: server, frames: make(chan Frame, 64)}
	go p.readLoop()
	tb.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, p
}

func (p *Peer) readLoop() {
	defer close(p.frames)
	chunk := make([]byte, 4096)
	var buf []byte
	for {
		n, err := p.nc.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for {
			t, payload, used, derr := wire.DecodeFrame(buf)
			if derr != nil {
				if wire.IsShort(derr) {
					break
				}
				return
			}
			p.frames <- Frame{Type: t, Payload: append([]byte(nil), payload...)}
			buf = buf[used:]
		}
		if err != nil {
			return
		}
	}
}

// Write delivers raw inbound bytes to the client.
func (p *Peer) Write(tb testing.TB, b []byte) {
	tb.Helper()
	if _, err := p.nc.Write(b); err != nil {
		tb.Fatalf("peer write failed: %v", err)
	}
}

// Next waits for the client's next frame.
func (p *Peer) Next(tb testing.TB) Frame {
	tb.Helper()
	select {
	case f, ok := <-p.frames:
		if !ok {
			tb.Fatalf("peer connection closed")
		}
		return f
	case <-time.After(5 * time.Second):
		tb.Fatalf("timed out waiting for client frame")
	}
	return Frame{}
}

// Close closes the server end.
func (p *Peer) Close() {
	_ = p.nc.Close()
}
