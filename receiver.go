package opticalsend

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/opticalsend/opticalsend/internal/aead"
	"github.com/opticalsend/opticalsend/internal/journal"
)

// Receiver drives the receiver pipeline (section 4.6.2) and the
// assembly step (section 4.6.4) for one file.
type Receiver struct {
	Config  *EngineConfig
	Arbiter *Arbiter
	Tracker *Tracker
	Journal *journal.Journal
	Key     []byte

	FileID   string
	visual   *VisualReassembler
	assembled map[int][]byte
}

// NewReceiver constructs a receiver for fileID. The total block count
// is not known yet: it is taken from the first arriving block header's
// TotalSeq (see ensureTracker).
func NewReceiver(cfg *EngineConfig, arb *Arbiter, j *journal.Journal, key []byte, fileID string) *Receiver {
	return &Receiver{
		Config: cfg, Arbiter: arb, Journal: j, Key: key, FileID: fileID,
		visual: NewVisualReassembler(), assembled: make(map[int][]byte),
	}
}

// ensureTracker lazily creates the tracker once totalSeq is known,
// since the receiver has no a priori block count (section 4.6.2 is
// silent on this; section 3 makes totalSeq a header field learned on
// first arrival).
func (r *Receiver) ensureTracker(totalSeq int) {
	if r.Tracker == nil {
		r.Tracker = NewTracker(r.FileID, totalSeq, r.Config.MaxRetransmitsPerBlock)
	}
}

// HandleBinaryBlock processes one fully-received block delivered over
// the binary channel: steps 1-5 of section 4.6.2.
func (r *Receiver) HandleBinaryBlock(ctx context.Context, hdr BlockHeader, payload []byte) error {
	r.ensureTracker(hdr.TotalSeq)

	decoded, kind, err := OpenBlock(hdr, payload, r.Key)
	if err != nil {
		if rec, ok := r.Tracker.Get(hdr.Seq); !ok || rec.State != BlockCompleted {
			r.Tracker.Put(hdr.Seq, &BlockRecord{Header: hdr, State: BlockFailed, LastError: kind})
		}
		r.nack(ctx, hdr.Seq, hdr.BlockID, kind)
		return nil
	}

	return r.commitBlock(ctx, hdr, decoded)
}

// HandleVisualChunk feeds one visual chunk into the reassembler; once
// a block's chunks are complete (including its header, carried only
// on chunk 0) it runs the same verification as the binary path, since
// the chunk payload is still the sealed block ciphertext, just sliced.
func (r *Receiver) HandleVisualChunk(ctx context.Context, c VisualChunk) error {
	payload, hdr, complete, err := r.visual.Add(c)
	if err != nil {
		r.nack(ctx, c.Seq, c.BlockID, ErrHashMismatch)
		return nil
	}
	if !complete {
		return nil
	}
	r.ensureTracker(hdr.TotalSeq)

	decoded, kind, err := OpenBlock(hdr, payload, r.Key)
	if err != nil {
		r.nack(ctx, hdr.Seq, hdr.BlockID, kind)
		return nil
	}
	return r.commitBlock(ctx, hdr, decoded)
}

func (r *Receiver) commitBlock(ctx context.Context, hdr BlockHeader, decoded []byte) error {
	hdrBytes, err := headerJSON(hdr)
	if err != nil {
		return newEngineError(ErrJournalWriteFailed, "header serialize failed", err)
	}
	if err := withJournalRetry(ErrJournalWriteFailed, func() error {
		return r.Journal.PutBlock(journal.StoredBlock{
			FileID: r.FileID, Seq: hdr.Seq, Header: hdrBytes, Decompressed: decoded,
			State: string(BlockCompleted),
		})
	}); err != nil {
		return err
	}

	rec, ok := r.Tracker.Get(hdr.Seq)
	if !ok {
		rec = &BlockRecord{Header: hdr}
		r.Tracker.Put(hdr.Seq, rec)
	}
	r.Tracker.MarkCompleted(hdr.Seq)
	r.assembled[hdr.Seq] = decoded

	r.Arbiter.SendControl(ctx, ControlMessage{
		Type: ControlAck, FileID: r.FileID, BlockID: hdr.BlockID, Seq: hdr.Seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	return nil
}

func (r *Receiver) nack(ctx context.Context, seq int, blockID string, reason ErrorKind) {
	r.Arbiter.SendControl(ctx, ControlMessage{
		Type: ControlNack, FileID: r.FileID, BlockID: blockID, Seq: seq, Reason: reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// ReadyForAssembly reports whether every sequence has arrived.
func (r *Receiver) ReadyForAssembly() bool {
	return r.Tracker != nil && r.Tracker.AllReceived()
}

// Assemble runs section 4.6.4: concatenate decrypted+decompressed
// payloads in sequence order, hash the whole buffer, and compare to
// the manifest's declared hash.
func (r *Receiver) Assemble(manifest Manifest) ([]byte, error) {
	if !r.ReadyForAssembly() {
		return nil, newEngineError(ErrMissingBlocks, "not all blocks received", nil)
	}
	seqs := make([]int, 0, len(r.assembled))
	for seq := range r.assembled {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	var buf bytes.Buffer
	for _, seq := range seqs {
		buf.Write(r.assembled[seq])
	}
	whole := buf.Bytes()

	if aead.ContentHash(whole) != manifest.SHA256 {
		return nil, newEngineError(ErrManifestMismatch, "whole-file hash does not match manifest", nil)
	}
	return whole, nil
}
