package opticalsend

import (
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test100_handshake_both_sides_derive_identical_session_key(t *testing.T) {
	cv.Convey("a sender offer and receiver response finalize to the same key and fingerprint", t, func() {
		sessionID := NewID()
		sender, offer, err := NewSenderHandshake(sessionID, []int{1024}, []string{"gzip", "none"})
		cv.So(err, cv.ShouldBeNil)
		cv.So(sender.State, cv.ShouldEqual, HandshakeAwaitingPeer)

		receiver, response, err := NewReceiverHandshake(offer, 1024, "gzip")
		cv.So(err, cv.ShouldBeNil)
		cv.So(receiver.State, cv.ShouldEqual, HandshakeFinalized)

		err = sender.ReceiveAsSender(response)
		cv.So(err, cv.ShouldBeNil)
		cv.So(sender.State, cv.ShouldEqual, HandshakeFinalized)

		cv.So(len(sender.SessionKey), cv.ShouldEqual, 32)
		cv.So(sender.SessionKey, cv.ShouldResemble, receiver.SessionKey)
		cv.So(sender.Fingerprint, cv.ShouldNotEqual, receiver.Fingerprint)
	})
}

func Test200_receiver_rejects_offer_with_wrong_role(t *testing.T) {
	cv.Convey("an offer frame claiming role receiver is rejected as invalid", t, func() {
		badOffer := HandshakeFrame{Role: RoleReceiver, SessionID: "s1"}
		h, _, err := NewReceiverHandshake(badOffer, 1024, "gzip")
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(h.State, cv.ShouldEqual, HandshakeFailed)
		cv.So(h.FailReason, cv.ShouldEqual, ErrInvalidPeerFrame)
	})
}

func Test300_sender_rejects_response_for_different_session(t *testing.T) {
	cv.Convey("a response naming a different session_id fails with mismatched_session", t, func() {
		sessionID := NewID()
		sender, offer, err := NewSenderHandshake(sessionID, []int{1024}, []string{"gzip"})
		cv.So(err, cv.ShouldBeNil)

		_, response, err := NewReceiverHandshake(offer, 1024, "gzip")
		cv.So(err, cv.ShouldBeNil)
		response.SessionID = "some-other-session"

		err = sender.ReceiveAsSender(response)
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(sender.State, cv.ShouldEqual, HandshakeFailed)
		cv.So(sender.FailReason, cv.ShouldEqual, ErrMismatchedSession)
	})
}

func Test400_sender_rejects_malformed_public_key(t *testing.T) {
	cv.Convey("a response with a corrupt public key point fails as invalid_peer_frame", t, func() {
		sessionID := NewID()
		sender, offer, err := NewSenderHandshake(sessionID, []int{1024}, []string{"gzip"})
		cv.So(err, cv.ShouldBeNil)

		_, response, err := NewReceiverHandshake(offer, 1024, "gzip")
		cv.So(err, cv.ShouldBeNil)
		response.PublicRaw = encodeBS([]byte{0x01, 0x02, 0x03})

		err = sender.ReceiveAsSender(response)
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(sender.FailReason, cv.ShouldEqual, ErrInvalidPeerFrame)
	})
}

func Test500_session_keys_derived_with_fresh_session_ids_differ(t *testing.T) {
	cv.Convey("two independent handshakes never share a session key", t, func() {
		s1, o1, _ := NewSenderHandshake(NewID(), []int{1024}, []string{"gzip"})
		_, r1, _ := NewReceiverHandshake(o1, 1024, "gzip")
		s1.ReceiveAsSender(r1)

		s2, o2, _ := NewSenderHandshake(NewID(), []int{1024}, []string{"gzip"})
		_, r2, _ := NewReceiverHandshake(o2, 1024, "gzip")
		s2.ReceiveAsSender(r2)

		cv.So(s1.SessionKey, cv.ShouldNotResemble, s2.SessionKey)
	})
}

func Test600_await_handshake_returns_nil_once_finalized(t *testing.T) {
	cv.Convey("AwaitHandshake returns immediately once a handshake has already finalized", t, func() {
		sessionID := NewID()
		sender, offer, _ := NewSenderHandshake(sessionID, []int{1024}, []string{"gzip"})
		receiver, response, _ := NewReceiverHandshake(offer, 1024, "gzip")
		cv.So(sender.ReceiveAsSender(response), cv.ShouldBeNil)

		cv.So(AwaitHandshake(sender, time.Second), cv.ShouldBeNil)
		cv.So(AwaitHandshake(receiver, time.Second), cv.ShouldBeNil)
	})
}

func Test700_await_handshake_times_out_when_never_finalized(t *testing.T) {
	cv.Convey("AwaitHandshake fails with handshake_timeout when the peer never responds", t, func() {
		sender, _, _ := NewSenderHandshake(NewID(), []int{1024}, []string{"gzip"})

		err := AwaitHandshake(sender, 10*time.Millisecond)
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(sender.State, cv.ShouldEqual, HandshakeFailed)
		cv.So(sender.FailReason, cv.ShouldEqual, ErrHandshakeTimeout)
	})
}
