// Package codec implements the OpticalSend block codec: gzip-with-
// deflate compression, or the identity passthrough, chosen per block by
// a size heuristic so a block never pays framing overhead for
// incompressible bytes.
//
// The gzip implementation comes from klauspost/compress/gzip rather
// than the standard library's compress/gzip: it is a drop-in,
// wire-compatible replacement (same RFC 1952 container the spec's
// "deflate-with-gzip-wrapper" mode names), following this module's
// teacher's practice of always reaching for klauspost/compress over the
// stdlib compressors it wraps.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Mode is a block's compression mode, as carried in its header.
type Mode string

const (
	ModeGzip Mode = "gzip"
	ModeNone Mode = "none"
)

// gzipShrinkThreshold is the selection heuristic's cutoff: gzip is kept
// only when its output is strictly smaller than this fraction of the
// input.
const gzipShrinkThreshold = 0.95

// Encode compresses data under the given mode. ModeNone returns data
// unchanged (a copy is not made; callers must not mutate the result if
// they still hold the input).
func Encode(mode Mode, data []byte) ([]byte, error) {
	switch mode {
	case ModeGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ModeNone:
		return data, nil
	default:
		return nil, fmt.Errorf("codec: unknown mode %q", mode)
	}
}

// Decode reverses Encode. A malformed gzip stream (truncated header,
// bad checksum, corrupted deflate stream) is a fatal error for that
// block; the caller maps this to ErrDecompressFailed and NACKs.
func Decode(mode Mode, data []byte) ([]byte, error) {
	switch mode {
	case ModeGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return out, nil
	case ModeNone:
		return data, nil
	default:
		return nil, fmt.Errorf("codec: unknown mode %q", mode)
	}
}

// SelectBest implements select_best(data): compress with gzip; keep it
// only if the compressed output is strictly smaller than
// gzipShrinkThreshold * len(data). Otherwise fall back to ModeNone with
// the raw bytes, avoiding framing overhead for incompressible input.
//
// A gzip library error is not fatal here: it falls back to ModeNone,
// per the spec's failure-handling rule that compression errors are
// never fatal on the sending side.
func SelectBest(data []byte) (mode Mode, out []byte) {
	compressed, err := Encode(ModeGzip, data)
	if err != nil {
		return ModeNone, data
	}
	if float64(len(compressed)) < gzipShrinkThreshold*float64(len(data)) {
		return ModeGzip, compressed
	}
	return ModeNone, data
}
