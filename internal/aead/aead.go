// Package aead provides the standards-named cryptographic primitives
// the OpticalSend protocol composes: ECDH key agreement on P-256, HKDF
// key derivation, AES-GCM authenticated encryption, and SHA-256 content
// hashing.
//
// No custom cryptography lives here; this package is a thin, typed
// wrapper so callers never touch a raw curve point or nonce by
// accident. Nonce generation follows the teacher's XChaCha20 pattern
// (fresh crypto/rand bytes per seal) adapted to AES-GCM's 96-bit nonce,
// since the wire format names "AES-GCM" explicitly.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	cryrand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionInfo is the constant HKDF info tag binding every derived key
// to this protocol version.
const SessionInfo = "opticalsend-v1"

const (
	// KeySize is the AES-GCM key size in bytes (256 bits).
	KeySize = 32
	// NonceSize is the AES-GCM nonce size in bytes (96 bits).
	NonceSize = 12
)

var curve = ecdh.P256()

// GenerateEphemeralKeypair creates a fresh ECDH keypair on the agreed
// 256-bit prime-order curve (NIST P-256, per the wire "kdf":
// "ECDH-P256" tag).
func GenerateEphemeralKeypair() (priv *ecdh.PrivateKey, err error) {
	priv, err = curve.GenerateKey(cryrand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto_keygen_failed: %w", err)
	}
	return priv, nil
}

// ExportPublicRaw serializes a public key as a raw, lossless curve
// point (uncompressed SEC1 form).
func ExportPublicRaw(pub *ecdh.PublicKey) []byte {
	return pub.Bytes()
}

// ImportPublicRaw parses a raw curve point back into a public key.
// Returns an error (never panics) on a malformed peer-supplied point,
// since this is reachable from untrusted handshake frames.
func ImportPublicRaw(raw []byte) (*ecdh.PublicKey, error) {
	pub, err := curve.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	return pub, nil
}

// DeriveSharedBits runs ECDH between our private key and the peer's
// public key, returning the raw (unhashed) shared secret.
func DeriveSharedBits(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	return shared, nil
}

// DeriveSessionKey runs HKDF-SHA256 over the shared bits: extract with
// salt, expand with info, to exactly KeySize bytes of AEAD key
// material.
func DeriveSessionKey(sharedBits, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, sharedBits, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext under key with a fresh random 96-bit nonce,
// returning ciphertext-with-tag and the nonce used. Nonces must never
// repeat under the same key; a fresh crypto/rand draw per call makes
// collision vanishingly unlikely over any single session's block
// count.
func Seal(plaintext, key []byte) (sealed, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := cryrand.Read(nonce); err != nil {
		return nil, nil, err
	}
	sealed = gcm.Seal(nil, nonce, plaintext, nil)
	return sealed, nonce, nil
}

// Open authenticates and decrypts sealed under key and nonce. Any
// tampering with the ciphertext or the tag causes this to fail; the
// caller maps that to ErrDecryptAuthFailed.
func Open(sealed, key, nonce []byte) (plaintext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, sealed, nil)
}

// ContentHash returns the hex-encoded SHA-256 digest of b. This never
// fails. The wire format names this algorithm explicitly ("sha256" in
// the manifest, a 64-hex-char checksum on each block header), so this
// stays on crypto/sha256 rather than the BLAKE3 hashing used elsewhere
// in this module's content-addressed cache.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ContentHashBytes is ContentHash without the hex encoding, used where
// the raw digest itself is needed (the handshake uses the raw digest
// of N_S‖N_R as the HKDF salt).
func ContentHashBytes(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// Fingerprint returns the first 16 hex characters of ContentHash(b), a
// short human-comparable identifier. Used both for the visual
// public-key fingerprint and the session key-derivative stored in the
// journal.
func Fingerprint(b []byte) string {
	h := ContentHash(b)
	return h[:16]
}
