package opticalsend

import (
	"context"
	"time"

	"github.com/opticalsend/opticalsend/internal/cas"
	"github.com/opticalsend/opticalsend/internal/journal"
)

// Sender drives the sender pipeline (section 4.6.1) for one file. It
// assumes a finalized handshake has already produced SessionKey; the
// handshake itself is Handshake's concern, not Sender's.
type Sender struct {
	Config  *EngineConfig
	Arbiter *Arbiter
	Tracker *Tracker
	Journal *journal.Journal
	Key     []byte
	Cache   *cas.Cache // optional; nil disables cross-file chunk reuse

	FileID   string
	Filename string
	blocks   []*BlockRecord
}

// PrepareFile chunks raw into blocks per section 4.3, builds each
// block's header+ciphertext, installs them in Tracker, and persists an
// initial pending journal row for each — step 1 of the sender
// pipeline.
func (s *Sender) PrepareFile(raw []byte) error {
	total := totalBlocksFor(len(raw), s.Config.BlockSize)
	s.Tracker = NewTracker(s.FileID, total, s.Config.MaxRetransmitsPerBlock)
	s.blocks = make([]*BlockRecord, total)

	for i := 0; i < total; i++ {
		beg, end := chunkBounds(i, len(raw), s.Config.BlockSize)
		rec, err := BuildBlock(s.FileID, i, total, raw[beg:end], s.Key, s.Cache)
		if err != nil {
			return newEngineError(ErrJournalWriteFailed, "block build failed", err)
		}
		s.blocks[i] = rec
		s.Tracker.Put(i, rec)

		hdrBytes, err := headerJSON(rec.Header)
		if err != nil {
			return newEngineError(ErrJournalWriteFailed, "header serialize failed", err)
		}
		if err := withJournalRetry(ErrJournalWriteFailed, func() error {
			return s.Journal.PutBlock(journal.StoredBlock{
				FileID: s.FileID, Seq: i, Header: hdrBytes, Payload: rec.Payload, State: string(BlockPending),
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

// EmitBlock runs step 2 of the sender pipeline for one sequence:
// announce+send over binary if available, always render visually,
// and mark the record sent. It does not wait for ack; the caller
// drives retries from inbound control traffic via HandleControl.
func (s *Sender) EmitBlock(ctx context.Context, seq int) error {
	rec, ok := s.Tracker.Get(seq)
	if !ok {
		return newEngineError(ErrMissingBlocks, "no such sequence", nil)
	}

	sentBinary := false
	if s.Arbiter.BinaryAvailable() {
		announce := ControlMessage{
			Type: ControlAnnounce, FileID: s.FileID, BlockID: rec.Header.BlockID, Seq: seq,
			Size: rec.Header.PayloadSize, Checksum: rec.Header.Checksum,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := s.Arbiter.SendControl(ctx, announce); err == nil {
			if err := s.Arbiter.SendBinaryPayload(ctx, rec.Payload); err == nil {
				sentBinary = true
			}
		}
	}

	chunks, err := SplitForVisual(rec.Header, rec.Payload, s.Config.EffectiveVisualFrameBytes())
	if err != nil {
		return newEngineError(ErrVisualScanLost, "visual split failed", err)
	}
	sentVisual := true
	for _, c := range chunks {
		frame, err := EncodeVisualFrame(c)
		if err != nil {
			sentVisual = false
			break
		}
		if err := s.Arbiter.SendVisualFrame(ctx, frame); err != nil {
			sentVisual = false
			break
		}
	}

	s.Tracker.MarkSent(seq, sentBinary, sentVisual)
	return nil
}

// EmitAll drives every still-pending sequence once, in ascending
// order, honoring the binary backpressure rule (section 4.6.1 step c):
// when the binary channel is saturated, binary emission is skipped for
// this pass but visual emission still proceeds.
func (s *Sender) EmitAll(ctx context.Context) error {
	for _, seq := range s.Tracker.PendingSeqs() {
		if err := s.EmitBlock(ctx, seq); err != nil {
			return err
		}
	}
	return nil
}

// HandleControl processes an inbound ack/nack (section 4.6.1 step 3).
func (s *Sender) HandleControl(ctx context.Context, msg ControlMessage) error {
	switch msg.Type {
	case ControlAck:
		s.Tracker.MarkCompleted(msg.Seq)
		return withJournalRetry(ErrJournalWriteFailed, func() error {
			return s.Journal.UpdateBlockState(s.FileID, msg.Seq, string(BlockCompleted))
		})
	case ControlNack:
		st := s.Tracker.MarkFailedAttempt(msg.Seq, msg.Reason)
		if err := withJournalRetry(ErrJournalWriteFailed, func() error {
			return s.Journal.UpdateBlockState(s.FileID, msg.Seq, string(st))
		}); err != nil {
			return err
		}
		if st == BlockSkipped {
			return nil
		}
		return s.EmitBlock(ctx, msg.Seq)
	default:
		return nil
	}
}

// Complete runs step 5: if every block is accounted for, emit the
// manifest (over binary if available, else as a final visual frame)
// and report whether the transfer is fully successful (no skipped
// blocks) or degraded (some blocks skipped, manifest validation will
// fail on the receiver).
func (s *Sender) Complete(ctx context.Context, totalSize int64, sha256Hex string) (fullySent bool, err error) {
	if !s.Tracker.AllAccountedFor() {
		return false, newEngineError(ErrMissingBlocks, "not all blocks accounted for", nil)
	}
	manifest := Manifest{
		FileID: s.FileID, Filename: s.Filename, TotalSize: totalSize,
		TotalBlocks: len(s.blocks), SHA256: sha256Hex,
	}
	enc, err := EncodeManifest(manifest)
	if err != nil {
		return false, err
	}
	if s.Arbiter.BinaryAvailable() {
		if err := s.Arbiter.SendBinaryPayload(ctx, enc); err != nil {
			return false, err
		}
	} else {
		if err := s.Arbiter.SendVisualFrame(ctx, enc); err != nil {
			return false, err
		}
	}
	return s.Tracker.CompletedCount() == len(s.blocks), nil
}
