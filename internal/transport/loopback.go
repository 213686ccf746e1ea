package transport

import (
	"context"
	"sync"
)

// Loopback is an in-memory Channel pair used by tests and by the demo
// CLI, standing in for a real camera/display or WebRTC data channel.
// Two Loopbacks wired to each other's inbound queue behave like a
// lossless, order-preserving point-to-point link; LossyLoopback (below)
// adds deterministic drops. Nothing here reorders messages.
type Loopback struct {
	mu       sync.Mutex
	peer     *Loopback
	handler  InboundHandler
	buffered int
	closed   bool
}

// NewLoopbackPair returns two Loopback channels, each other's peer.
func NewLoopbackPair() (a, b *Loopback) {
	a = &Loopback{}
	b = &Loopback{}
	a.peer = b
	b.peer = a
	return
}

func (l *Loopback) Send(ctx context.Context, data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errClosed
	}
	peer := l.peer
	l.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	peer.mu.Lock()
	h := peer.handler
	peer.mu.Unlock()
	if h != nil {
		h(cp)
	}
	return nil
}

func (l *Loopback) BufferedAmount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffered
}

func (l *Loopback) OnInbound(h InboundHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *Loopback) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

type closedErr struct{}

func (closedErr) Error() string { return "transport: channel closed" }

var errClosed = closedErr{}

// LossyLoopback wraps a Loopback and drops sends for which drop(seq)
// reports true, where seq is simply the 0-based count of calls to
// Send on this channel. The demo CLI's -drop-every flag and this
// package's tests use it to lose messages deterministically without a
// real flaky network.
type LossyLoopback struct {
	*Loopback
	mu    sync.Mutex
	count int
	Drop  func(seq int) bool
}

func NewLossyLoopback(inner *Loopback, drop func(seq int) bool) *LossyLoopback {
	return &LossyLoopback{Loopback: inner, Drop: drop}
}

func (l *LossyLoopback) Send(ctx context.Context, data []byte) error {
	l.mu.Lock()
	seq := l.count
	l.count++
	l.mu.Unlock()

	if l.Drop != nil && l.Drop(seq) {
		return nil
	}
	return l.Loopback.Send(ctx, data)
}
