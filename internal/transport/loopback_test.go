package transport

import (
	"context"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test100_loopback_pair_delivers_to_peer(t *testing.T) {
	cv.Convey("a send on one end invokes the other end's inbound handler", t, func() {
		a, b := NewLoopbackPair()
		var got []byte
		b.OnInbound(func(data []byte) { got = data })

		err := a.Send(context.Background(), []byte("hello"))
		cv.So(err, cv.ShouldBeNil)
		cv.So(string(got), cv.ShouldEqual, "hello")
	})
}

func Test200_closed_channel_rejects_send(t *testing.T) {
	cv.Convey("Send after Close returns an error and never reaches the peer", t, func() {
		a, b := NewLoopbackPair()
		called := false
		b.OnInbound(func(data []byte) { called = true })

		cv.So(a.Close(), cv.ShouldBeNil)
		err := a.Send(context.Background(), []byte("x"))
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(called, cv.ShouldBeFalse)
	})
}

func Test300_lossy_loopback_drops_by_predicate(t *testing.T) {
	cv.Convey("a lossy loopback drops exactly the sends its predicate marks", t, func() {
		a, b := NewLoopbackPair()
		var received []string
		b.OnInbound(func(data []byte) { received = append(received, string(data)) })

		lossy := NewLossyLoopback(a, func(seq int) bool { return seq == 1 })
		for _, msg := range []string{"zero", "one", "two"} {
			err := lossy.Send(context.Background(), []byte(msg))
			cv.So(err, cv.ShouldBeNil)
		}
		cv.So(received, cv.ShouldResemble, []string{"zero", "two"})
	})
}
