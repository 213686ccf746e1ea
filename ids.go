package opticalsend

import (
	cryrand "crypto/rand"

	cristalbase64 "github.com/cristalhq/base64"
)

// new128 returns 16 fresh random bytes, suitable for a file, block, or
// session identifier, or a handshake nonce.
func new128() [16]byte {
	var b [16]byte
	_, err := cryrand.Read(b[:])
	panicOn(err)
	return b
}

// NewID returns a fresh 128-bit identifier in canonical text form: the
// URL-safe base64 encoding used throughout the wire format for
// "base-safe-encoded" fields.
func NewID() string {
	b := new128()
	return cristalbase64.URLEncoding.EncodeToString(b[:])
}

// encodeBS is the "base-safe-encoded" form the wire format calls for:
// URL-safe base64, used for nonces, ids, and raw payload bytes.
func encodeBS(b []byte) string {
	return cristalbase64.URLEncoding.EncodeToString(b)
}

func decodeBS(s string) ([]byte, error) {
	return cristalbase64.URLEncoding.DecodeString(s)
}
