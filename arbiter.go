package opticalsend

import (
	"context"

	"github.com/opticalsend/opticalsend/internal/transport"
)

// Arbiter decides, per block, which channels to use and enforces the
// binary channel's backpressure watermark (section 4.6.1 steps a-c).
// The visual channel is never subject to backpressure: it always
// renders, since it is the protocol's required fallback.
type Arbiter struct {
	Binary  transport.Channel // nil if no binary channel is available
	Visual  transport.Channel
	HighWatermark int
}

// BinaryAvailable reports whether the binary channel exists and is
// under its high watermark.
func (a *Arbiter) BinaryAvailable() bool {
	if a.Binary == nil {
		return false
	}
	if c, ok := a.Binary.(transport.Capable); ok && !c.Available() {
		return false
	}
	return a.Binary.BufferedAmount() <= a.HighWatermark
}

// SendControl sends a control message over the binary channel, if
// available. It is a no-op (not an error) when the binary channel is
// absent or saturated; control traffic never blocks the pipeline.
func (a *Arbiter) SendControl(ctx context.Context, msg ControlMessage) error {
	if !a.BinaryAvailable() {
		return nil
	}
	enc, err := EncodeControl(msg)
	if err != nil {
		return err
	}
	return a.Binary.Send(ctx, enc)
}

// SendBinaryPayload sends raw block ciphertext over the binary
// channel. Caller must have already checked BinaryAvailable.
func (a *Arbiter) SendBinaryPayload(ctx context.Context, payload []byte) error {
	if a.Binary == nil {
		return newEngineError(ErrBinaryClosed, "no binary channel configured", nil)
	}
	return a.Binary.Send(ctx, payload)
}

// SendVisualFrame always renders, regardless of binary channel state
// (section 4.6.1 step b: "dual-channel redundant" mode).
func (a *Arbiter) SendVisualFrame(ctx context.Context, frame []byte) error {
	if a.Visual == nil {
		return newEngineError(ErrVisualScanLost, "no visual channel configured", nil)
	}
	return a.Visual.Send(ctx, frame)
}
