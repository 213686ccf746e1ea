// Package transport defines the dual-channel adapter boundary: the
// visual (QR-frame) channel and the optional binary (P2P) channel each
// implement Channel, and the transfer engine depends only on this
// interface, never on a concrete camera, display, or socket library.
// This mirrors the teacher's own separation between its RPC layer and
// the underlying net.Conn / simnet transport (see srv.go, netrpc.go
// there): the engine drives an abstract peer, and a concrete adapter
// wires it to real hardware or a real socket.
package transport

import "context"

// Frame is one rendered visual payload: the bytes of a single QR code
// (or a batch of them, for multi-code-per-frame layouts), already
// base-safe-encoded text ready for encoding into a QR image.
type Frame struct {
	Seq     int
	Total   int
	Payload []byte
}

// InboundHandler is invoked by a Channel whenever it receives data from
// the peer. Implementations must not block for long inside the
// callback; hand off to a channel or goroutine if processing is slow.
type InboundHandler func(data []byte)

// Channel is the capability set both the visual and binary channels
// must provide. A channel that cannot do something reports it via its
// capability flags rather than returning an error from every call, so
// the arbiter (internal/arbiter equivalent in the root package) can
// make a routing decision up front instead of on every send.
type Channel interface {
	// Send transmits data over this channel. For the visual channel,
	// data is a single frame's payload (already sized to fit one code);
	// for the binary channel it may be arbitrarily large.
	Send(ctx context.Context, data []byte) error

	// BufferedAmount reports bytes queued but not yet delivered,
	// backing the binary channel's high-watermark backpressure
	// (section 4.6.1).
	BufferedAmount() int

	// OnInbound registers the callback invoked for each received
	// message. Only one handler is supported; a second call replaces
	// the first.
	OnInbound(h InboundHandler)

	// Close tears down the channel. Idempotent.
	Close() error
}

// Capable channels may additionally report availability changes (a
// peer connecting or disconnecting on the binary channel).
type Capable interface {
	Channel
	Available() bool
}
