package opticalsend

import (
	"time"

	gjson "github.com/goccy/go-json"

	"github.com/opticalsend/opticalsend/internal/aead"
	"github.com/opticalsend/opticalsend/internal/cas"
	"github.com/opticalsend/opticalsend/internal/codec"
)

const protocolTag = "opticalsend-v1"
const encryptionTag = "AES-GCM"
const kdfTag = "ECDH-P256"

// BlockHeader is immutable once emitted; see section 3 (Data Model).
type BlockHeader struct {
	Protocol     string    `json:"protocol"`
	FileID       string    `json:"fileId"`
	BlockID      string    `json:"blockId"`
	Seq          int       `json:"seq"`
	TotalSeq     int       `json:"totalSeq"`
	PayloadSize  int       `json:"payloadSize"`
	RawSize      int       `json:"rawSize"`
	Compression  codec.Mode `json:"compression"`
	Encryption   string    `json:"encryption"`
	IV           string    `json:"iv"`
	KDF          string    `json:"kdf"`
	Checksum     string    `json:"checksum"`
	Timestamp    string    `json:"timestamp"`
}

// BlockState is the in-memory lifecycle of a block record.
type BlockState string

const (
	BlockPending   BlockState = "pending"
	BlockQueued    BlockState = "queued"
	BlockSending   BlockState = "sending"
	BlockCompleted BlockState = "completed"
	BlockFailed    BlockState = "failed"
	BlockSkipped   BlockState = "skipped"
)

// BlockRecord is the in-memory, mutable view of one block. The journal
// is the durable source of truth; this struct is a shared view over it,
// never a back-pointer into it (see section 9, cyclic-structure note).
type BlockRecord struct {
	Header  BlockHeader
	Payload []byte // ciphertext + AEAD tag

	State           BlockState
	Attempts        int
	SentOverBinary  bool
	SentOverVisual  bool
	Verified        bool
	LastError       ErrorKind
	RetransmitCount int
}

// chunkBounds returns the [beg, end) byte range for chunk i of an
// n-byte file split into blocks of blockSize bytes: ceil(n/blockSize)
// blocks total, block i carrying bytes [i*blockSize, min((i+1)*blockSize, n)).
func chunkBounds(i, n, blockSize int) (beg, end int) {
	beg = i * blockSize
	end = beg + blockSize
	if end > n {
		end = n
	}
	return
}

// totalBlocksFor returns ceil(n/blockSize), with the spec's chosen
// zero-byte convention: an empty file yields exactly one (empty)
// block, so a session always has totalSeq >= 1 and the invariant
// "sequence indices form a dense range [0, totalSeq)" never degenerates
// to an empty range that could vacuously "complete" without ever
// exercising the pipeline. See SPEC_FULL.md open-question resolution.
func totalBlocksFor(n, blockSize int) int {
	if n == 0 {
		return 1
	}
	return (n + blockSize - 1) / blockSize
}

// BuildBlock runs the encryption order from section 4.3: compress,
// hash the compressed bytes, encrypt with a fresh nonce, assemble the
// header. seq/totalSeq/fileID are supplied by the caller (the sender
// pipeline), since they are properties of the whole chunking pass, not
// of a single chunk. cache may be nil; when present it is consulted
// and populated by plaintext digest, so resending a file that shares
// chunks with an earlier one skips recompression for the repeated
// ones (see internal/cas).
func BuildBlock(fileID string, seq, totalSeq int, raw []byte, key []byte, cache *cas.Cache) (*BlockRecord, error) {
	mode, compressed := compressWithCache(raw, cache)
	checksum := aead.ContentHash(compressed)

	sealed, nonce, err := aead.Seal(compressed, key)
	if err != nil {
		return nil, err
	}

	hdr := BlockHeader{
		Protocol:    protocolTag,
		FileID:      fileID,
		BlockID:     NewID(),
		Seq:         seq,
		TotalSeq:    totalSeq,
		PayloadSize: len(sealed),
		RawSize:     len(raw),
		Compression: mode,
		Encryption:  encryptionTag,
		IV:          encodeBS(nonce),
		KDF:         kdfTag,
		Checksum:    checksum,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	return &BlockRecord{
		Header:  hdr,
		Payload: sealed,
		State:   BlockPending,
	}, nil
}

// headerJSON/parseHeader (de)serialize a BlockHeader for the journal's
// opaque StoredBlock.Header field, so a resumed sender can reconstruct
// the exact IV/Checksum/Compression/BlockID a re-emitted block needs
// (see ResumeSenderFromJournal) rather than a placeholder header that
// would make OpenBlock and SplitForVisual fail on resume.
func headerJSON(h BlockHeader) ([]byte, error) {
	return gjson.Marshal(h)
}

func parseHeader(b []byte) (BlockHeader, error) {
	var h BlockHeader
	err := gjson.Unmarshal(b, &h)
	return h, err
}

// compressWithCache runs codec.SelectBest, or returns a cached result
// keyed by the plaintext's blake3 digest when cache is non-nil and
// already holds an entry for this exact chunk.
func compressWithCache(raw []byte, cache *cas.Cache) (codec.Mode, []byte) {
	if cache == nil {
		return codec.SelectBest(raw)
	}
	digest := cache.Digest(raw)
	if entry, ok := cache.Get(digest); ok {
		return codec.Mode(entry.Mode), entry.Compressed
	}
	mode, compressed := codec.SelectBest(raw)
	cache.Put(digest, cas.Entry{Compressed: compressed, Mode: string(mode)})
	return mode, compressed
}

// OpenBlock runs the receiver's verification order from section 4.6.2
// steps 2-4: authenticate+decrypt, verify the content hash against the
// header (over the decrypted-but-still-compressed bytes, matching
// exactly what the sender hashed), then decompress. On any failure it
// returns the ErrorKind the caller should NACK with.
func OpenBlock(hdr BlockHeader, payload []byte, key []byte) (decoded []byte, kind ErrorKind, err error) {
	nonce, err := decodeBS(hdr.IV)
	if err != nil {
		return nil, ErrDecryptAuthFailed, err
	}
	compressed, err := aead.Open(payload, key, nonce)
	if err != nil {
		return nil, ErrDecryptAuthFailed, err
	}

	if aead.ContentHash(compressed) != hdr.Checksum {
		return nil, ErrHashMismatch, newEngineError(ErrHashMismatch, "checksum mismatch after decrypt", nil)
	}

	out, err := codec.Decode(hdr.Compression, compressed)
	if err != nil {
		return nil, ErrDecompressFailed, err
	}
	return out, "", nil
}
