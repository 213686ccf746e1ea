package opticalsend

import (
	"context"
	"testing"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/opticalsend/opticalsend/internal/transport"
)

func Test100_arbiter_binary_available_respects_watermark(t *testing.T) {
	cv.Convey("BinaryAvailable is true while buffered bytes are under the watermark", t, func() {
		a, b := transport.NewLoopbackPair()
		_ = b
		arb := &Arbiter{Binary: a, HighWatermark: 1 << 20}
		cv.So(arb.BinaryAvailable(), cv.ShouldBeTrue)
	})
}

func Test200_arbiter_nil_binary_channel_reports_unavailable(t *testing.T) {
	cv.Convey("an absent binary channel is reported unavailable, not an error", t, func() {
		arb := &Arbiter{HighWatermark: 1024}
		cv.So(arb.BinaryAvailable(), cv.ShouldBeFalse)
	})
}

func Test300_send_control_is_noop_without_binary_channel(t *testing.T) {
	cv.Convey("SendControl silently no-ops when there is no binary channel", t, func() {
		arb := &Arbiter{}
		err := arb.SendControl(context.Background(), ControlMessage{Type: ControlHeartbeat})
		cv.So(err, cv.ShouldBeNil)
	})
}

func Test400_visual_frame_always_sends_regardless_of_binary_state(t *testing.T) {
	cv.Convey("SendVisualFrame works even when no binary channel exists", t, func() {
		visA, visB := transport.NewLoopbackPair()
		var got []byte
		visB.OnInbound(func(data []byte) { got = data })

		arb := &Arbiter{Visual: visA}
		err := arb.SendVisualFrame(context.Background(), []byte("frame-data"))
		cv.So(err, cv.ShouldBeNil)
		cv.So(string(got), cv.ShouldEqual, "frame-data")
	})
}

func Test500_closed_binary_channel_reports_unavailable(t *testing.T) {
	cv.Convey("a closed binary channel is treated as unavailable via its Capable interface", t, func() {
		a, _ := transport.NewLoopbackPair()
		a.Close()
		arb := &Arbiter{Binary: a, HighWatermark: 1024}
		cv.So(arb.BinaryAvailable(), cv.ShouldBeFalse)
	})
}
