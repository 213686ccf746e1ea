package opticalsend

import (
	"fmt"

	"github.com/opticalsend/opticalsend/internal/aead"
	gjson "github.com/goccy/go-json"
)

// VisualChunk is one QR-frame-sized slice of a block, per section
// 4.6.3. Single-frame blocks still travel as a VisualChunk with
// ChunkCount == 1, so the receiver's reassembly path has no special
// case for "small" blocks.
type VisualChunk struct {
	FileID      string       `json:"fileId"`
	BlockID     string       `json:"blockId"`
	Seq         int          `json:"seq"`
	ChunkIndex  int          `json:"chunkIndex"`
	ChunkCount  int          `json:"chunkCount"`
	ChunkSize   int          `json:"chunkSize"`
	ContentHash string       `json:"contentHash"`
	Payload     string       `json:"payload"` // base-safe-encoded slice bytes
	Header      *BlockHeader `json:"header,omitempty"` // present only on chunk 0
}

// SplitForVisual splits a block's header+payload into one or more
// VisualChunks sized to fit within maxFrameBytes. The header travels
// only on chunk 0 (section 6's chunk frame does not say where it goes;
// SPEC_FULL.md section 3 records this choice); chunks 1..n-1 carry raw
// payload slices only, keeping their framing overhead minimal since
// repeated headers would waste QR capacity.
func SplitForVisual(hdr BlockHeader, payload []byte, maxFrameBytes int) ([]VisualChunk, error) {
	hash := aead.ContentHash(payload)

	// size the slice so that its base64 form plus the chunk envelope
	// (header included, as on chunk 0) stays within maxFrameBytes; the
	// extra 32 bytes cover the digits of the integer fields.
	envelope, err := gjson.Marshal(VisualChunk{
		FileID: hdr.FileID, BlockID: hdr.BlockID, Seq: hdr.Seq,
		ContentHash: hash, Header: &hdr,
	})
	if err != nil {
		return nil, err
	}
	budget := (maxFrameBytes - len(envelope) - 32) * 3 / 4
	if budget < 1 {
		budget = 1
	}

	if len(payload) == 0 {
		h := hdr
		return []VisualChunk{{
			FileID: hdr.FileID, BlockID: hdr.BlockID, Seq: hdr.Seq,
			ChunkIndex: 0, ChunkCount: 1, ChunkSize: 0,
			ContentHash: hash, Payload: "", Header: &h,
		}}, nil
	}

	total := (len(payload) + budget - 1) / budget
	chunks := make([]VisualChunk, 0, total)
	for i := 0; i < total; i++ {
		beg := i * budget
		end := beg + budget
		if end > len(payload) {
			end = len(payload)
		}
		slice := payload[beg:end]
		c := VisualChunk{
			FileID: hdr.FileID, BlockID: hdr.BlockID, Seq: hdr.Seq,
			ChunkIndex: i, ChunkCount: total, ChunkSize: len(slice),
			ContentHash: hash, Payload: encodeBS(slice),
		}
		if i == 0 {
			h := hdr
			c.Header = &h
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// EncodeVisualFrame renders a single chunk to the text payload a QR encoder
// consumes. The exact encoding (JSON) is an implementation choice;
// what matters is that EncodeVisualFrame/DecodeVisualFrame round-trip.
func EncodeVisualFrame(c VisualChunk) ([]byte, error) {
	return gjson.Marshal(c)
}

func DecodeVisualFrame(b []byte) (VisualChunk, error) {
	var c VisualChunk
	err := gjson.Unmarshal(b, &c)
	return c, err
}

// visualKey identifies a block for reassembly purposes: (blockId) is
// already globally unique per section 3, so it alone keys the
// reassembly map; fileId/seq are carried for convenience only.
func visualKey(blockID string) string { return blockID }

// VisualReassembler accumulates chunks for in-flight blocks and
// reports a block complete once every chunk index [0, chunkCount) has
// arrived, per section 4.6.3's "delivered visually" rule.
type VisualReassembler struct {
	pending map[string]*visualAssembly
}

type visualAssembly struct {
	total  int
	hash   string
	fileID string
	seq    int
	header *BlockHeader
	have   map[int][]byte
}

func NewVisualReassembler() *VisualReassembler {
	return &VisualReassembler{pending: make(map[string]*visualAssembly)}
}

// Add records one chunk. It returns (payload, header, true, nil) once
// the block's full payload and its chunk-0 header have arrived and the
// content hash is verified; otherwise it returns (nil, BlockHeader{},
// false, nil) while more chunks are still outstanding, or a non-nil
// error if a chunk contradicts an already-seen chunk count, carries a
// badly encoded payload, or fails final hash verification.
func (r *VisualReassembler) Add(c VisualChunk) (payload []byte, hdr BlockHeader, complete bool, err error) {
	key := visualKey(c.BlockID)
	a, ok := r.pending[key]
	if !ok {
		a = &visualAssembly{total: c.ChunkCount, hash: c.ContentHash, fileID: c.FileID, seq: c.Seq, have: make(map[int][]byte)}
		r.pending[key] = a
	}
	if c.ChunkCount != a.total {
		return nil, BlockHeader{}, false, fmt.Errorf("visual reassembly: chunk_count mismatch for block %s: %d vs %d", c.BlockID, c.ChunkCount, a.total)
	}
	if c.Header != nil {
		a.header = c.Header
	}

	raw, err := decodeBS(c.Payload)
	if err != nil {
		return nil, BlockHeader{}, false, fmt.Errorf("visual reassembly: bad chunk payload encoding: %w", err)
	}
	a.have[c.ChunkIndex] = raw

	if len(a.have) < a.total || a.header == nil {
		return nil, BlockHeader{}, false, nil
	}

	full := make([]byte, 0)
	for i := 0; i < a.total; i++ {
		slice, ok := a.have[i]
		if !ok {
			return nil, BlockHeader{}, false, nil
		}
		full = append(full, slice...)
	}

	if aead.ContentHash(full) != a.hash {
		delete(r.pending, key)
		return nil, BlockHeader{}, false, newEngineError(ErrHashMismatch, "visual reassembly content hash mismatch", nil)
	}

	delete(r.pending, key)
	return full, *a.header, true, nil
}
