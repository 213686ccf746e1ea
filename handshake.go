package opticalsend

import (
	"crypto/ecdh"
	"sync"
	"time"

	"github.com/glycerine/loquet"

	"github.com/opticalsend/opticalsend/internal/aead"
)

// HandshakeState is the per-role state machine from section 4.5.
type HandshakeState string

const (
	HandshakeIdle          HandshakeState = "idle"
	HandshakeAwaitingPeer  HandshakeState = "awaiting_peer" // sender only
	HandshakeResponded     HandshakeState = "responded"     // not entered: NewReceiverHandshake goes from idle straight to finalized
	HandshakeFinalized     HandshakeState = "finalized"
	HandshakeFailed        HandshakeState = "failed"
)

const handshakeInfoTag = "opticalsend-v1"

// HandshakeFrame is the wire shape exchanged during the handshake,
// covering both the sender's offer and the receiver's response; unused
// fields for a given role are left zero.
type HandshakeFrame struct {
	Role                 Role     `json:"role"`
	SessionID            string   `json:"sessionId"`
	PublicRaw            string   `json:"publicRaw"`
	Nonce                string   `json:"nonce"`
	OfferedCompression   []string `json:"offeredCompression,omitempty"`
	SupportedBlockSizes  []int    `json:"supportedBlockSizes,omitempty"`
	Ack                  bool     `json:"ack,omitempty"`
	RequestedBlockSize   int      `json:"requestedBlockSize,omitempty"`
	PreferCompression    string   `json:"preferCompression,omitempty"`
	Timestamp            string   `json:"timestamp"`
}

// Handshake drives one side's state machine through to a finalized
// session key, or to failed with a recorded reason.
type Handshake struct {
	Role       Role
	SessionID  string
	State      HandshakeState
	FailReason ErrorKind

	priv *ecdh.PrivateKey
	pub  []byte
	nonce []byte

	SessionKey  []byte
	Fingerprint string

	// done is closed exactly once, on either finalize or fail, so a
	// caller driving the handshake over a real asynchronous transport
	// (unlike the synchronous call/response used by a loopback demo)
	// can select against it with a timeout. Modeled on the teacher's
	// loquet.Chan-as-one-shot-future pattern (hdr.go's Message.DoneCh).
	done     *loquet.Chan[HandshakeState]
	doneOnce sync.Once
}

func newHandshakeDoneChan() *loquet.Chan[HandshakeState] {
	return loquet.NewChan[HandshakeState](nil)
}

// WhenFinalized returns a channel closed once the handshake reaches a
// terminal state (finalized or failed). Check State/FailReason after
// it fires to learn which.
func (h *Handshake) WhenFinalized() <-chan struct{} {
	return h.done.WhenClosed()
}

func (h *Handshake) markDone() {
	h.doneOnce.Do(func() { h.done.Close() })
}

// AwaitHandshake blocks until h reaches a terminal state or timeout
// elapses, implementing the HandshakeTimeout config option (section
// 6) for callers driving the exchange asynchronously.
func AwaitHandshake(h *Handshake, timeout time.Duration) error {
	select {
	case <-h.WhenFinalized():
		if h.State == HandshakeFinalized {
			return nil
		}
		return newEngineError(h.FailReason, "handshake did not finalize", nil)
	case <-time.After(timeout):
		h.State = HandshakeFailed
		h.FailReason = ErrHandshakeTimeout
		h.markDone()
		return newEngineError(ErrHandshakeTimeout, "handshake timed out", nil)
	}
}

// NewSenderHandshake generates the sender's ephemeral keypair and
// nonce and returns the offer frame to transmit (state idle ->
// awaiting_peer).
func NewSenderHandshake(sessionID string, blockSizes []int, offeredCompression []string) (*Handshake, HandshakeFrame, error) {
	kp, err := aead.GenerateEphemeralKeypair()
	if err != nil {
		return nil, HandshakeFrame{}, newEngineError(ErrCryptoKeygenFailed, "sender keypair generation failed", err)
	}
	nonce := new128bytes()

	h := &Handshake{
		Role: RoleSender, SessionID: sessionID, State: HandshakeAwaitingPeer,
		priv: kp, pub: aead.ExportPublicRaw(kp.PublicKey()), nonce: nonce,
		done: newHandshakeDoneChan(),
	}
	frame := HandshakeFrame{
		Role: RoleSender, SessionID: sessionID,
		PublicRaw: encodeBS(h.pub), Nonce: encodeBS(nonce),
		OfferedCompression: offeredCompression, SupportedBlockSizes: blockSizes,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return h, frame, nil
}

// ReceiveAsSender consumes the receiver's response frame, derives the
// session key, and transitions to finalized (or failed).
func (h *Handshake) ReceiveAsSender(peer HandshakeFrame) error {
	if h.Role != RoleSender || h.State != HandshakeAwaitingPeer {
		return h.fail(ErrMismatchedSession, "sender received response out of state")
	}
	if peer.Role != RoleReceiver || peer.SessionID != h.SessionID {
		return h.fail(ErrMismatchedSession, "peer frame role or session_id mismatch")
	}
	peerPub, err := decodeBS(peer.PublicRaw)
	if err != nil {
		return h.fail(ErrInvalidPeerFrame, "bad peer public key encoding")
	}
	peerNonce, err := decodeBS(peer.Nonce)
	if err != nil {
		return h.fail(ErrInvalidPeerFrame, "bad peer nonce encoding")
	}
	return h.finalize(peerPub, h.nonce, peerNonce)
}

// NewReceiverHandshake consumes the sender's offer frame and responds
// with the receiver's own frame, having already derived the session
// key (state idle -> finalized; HandshakeResponded is not used).
func NewReceiverHandshake(offer HandshakeFrame, requestedBlockSize int, preferCompression string) (*Handshake, HandshakeFrame, error) {
	h := &Handshake{Role: RoleReceiver, SessionID: offer.SessionID, State: HandshakeIdle, done: newHandshakeDoneChan()}

	if offer.Role != RoleSender {
		return h.failReturn(ErrInvalidPeerFrame, "offer frame is not from a sender", HandshakeFrame{})
	}
	senderPub, err := decodeBS(offer.PublicRaw)
	if err != nil {
		return h.failReturn(ErrInvalidPeerFrame, "bad sender public key encoding", HandshakeFrame{})
	}
	senderNonce, err := decodeBS(offer.Nonce)
	if err != nil {
		return h.failReturn(ErrInvalidPeerFrame, "bad sender nonce encoding", HandshakeFrame{})
	}

	kp, err := aead.GenerateEphemeralKeypair()
	if err != nil {
		return h.failReturn(ErrCryptoKeygenFailed, "receiver keypair generation failed", HandshakeFrame{})
	}
	h.priv = kp
	h.pub = aead.ExportPublicRaw(kp.PublicKey())
	h.nonce = new128bytes()

	if err := h.finalize(senderPub, senderNonce, h.nonce); err != nil {
		return h, HandshakeFrame{}, err
	}

	frame := HandshakeFrame{
		Role: RoleReceiver, SessionID: offer.SessionID,
		PublicRaw: encodeBS(h.pub), Nonce: encodeBS(h.nonce), Ack: true,
		RequestedBlockSize: requestedBlockSize, PreferCompression: preferCompression,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return h, frame, nil
}

// finalize runs the shared key-derivation steps common to both roles:
// salt = content_hash(N_S || N_R) in sender-then-receiver nonce order
// regardless of which side is computing it, so both sides land on the
// identical salt.
func (h *Handshake) finalize(peerPub, senderNonce, receiverNonce []byte) error {
	peerKey, err := aead.ImportPublicRaw(peerPub)
	if err != nil {
		return h.fail(ErrInvalidPeerFrame, "bad peer public key point")
	}
	shared, err := aead.DeriveSharedBits(h.priv, peerKey)
	if err != nil {
		return h.fail(ErrInvalidPeerFrame, "shared secret derivation failed")
	}

	salt := aead.ContentHashBytes(append(append([]byte{}, senderNonce...), receiverNonce...))
	key, err := aead.DeriveSessionKey(shared, salt, handshakeInfoTag)
	if err != nil {
		return h.fail(ErrInvalidPeerFrame, "session key derivation failed")
	}

	h.SessionKey = key
	h.Fingerprint = aead.Fingerprint(h.pub)
	h.State = HandshakeFinalized
	h.markDone()
	return nil
}

func (h *Handshake) fail(kind ErrorKind, detail string) error {
	h.State = HandshakeFailed
	h.FailReason = kind
	h.markDone()
	return newEngineError(kind, detail, nil)
}

func (h *Handshake) failReturn(kind ErrorKind, detail string, frame HandshakeFrame) (*Handshake, HandshakeFrame, error) {
	return h, frame, h.fail(kind, detail)
}

func new128bytes() []byte {
	b := new128()
	return b[:]
}
