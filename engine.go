package opticalsend

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/opticalsend/opticalsend/internal/aead"
	"github.com/opticalsend/opticalsend/internal/cas"
	"github.com/opticalsend/opticalsend/internal/journal"
	"github.com/opticalsend/opticalsend/internal/transport"
)

// Engine owns one session end to end: the sender or receiver pipeline,
// the journal, and the transport adapters. The handshake runs outside
// it; callers pass in the derived key. It is the top-level object
// cmd/opticalsend constructs.
type Engine struct {
	Config  *EngineConfig
	Journal *journal.Journal
	Arbiter *Arbiter

	Session *Session
	Sender  *Sender
	Receiver *Receiver

	cache      *cas.Cache
	sendSHA256 string
	stopped    bool
}

// NewEngine opens (or creates) the journal at cfg.StateDir and wires
// an Arbiter over the given channels. The binary channel may be nil.
func NewEngine(cfg *EngineConfig, binary, visual transport.Channel) (*Engine, error) {
	j, err := journal.Open(filepath.Join(cfg.StateDir, "journal.bolt"))
	if err != nil {
		return nil, newEngineError(ErrJournalUnavailable, "could not open journal", err)
	}
	var cache *cas.Cache
	if cfg.CASCacheEntries > 0 {
		cache = cas.NewCache(cfg.CASCacheEntries)
	}
	return &Engine{
		Config:  cfg,
		Journal: j,
		Arbiter: &Arbiter{Binary: binary, Visual: visual, HighWatermark: cfg.BinaryWatermark},
		cache:   cache,
	}, nil
}

// StartSend begins a new sender-role session for raw, a finite,
// already-fully-read file.
func (e *Engine) StartSend(ctx context.Context, filename string, raw []byte, key []byte, fingerprint string) error {
	fileID := NewID()
	now := time.Now()
	e.sendSHA256 = aead.ContentHash(raw)

	e.Sender = &Sender{
		Config: e.Config, Arbiter: e.Arbiter, Journal: e.Journal,
		Key: key, FileID: fileID, Filename: filename, Cache: e.cache,
	}
	if err := e.Sender.PrepareFile(raw); err != nil {
		return err
	}

	e.Session = &Session{
		SessionID: NewID(), Role: RoleSender, FileID: fileID, Filename: filename,
		TotalSize: int64(len(raw)), TotalBlocks: e.Sender.Tracker.totalSeq,
		KeyFingerprint: fingerprint, CreatedAt: now, UpdatedAt: now, State: SessionActive,
	}
	if err := e.persistSession(); err != nil {
		return err
	}

	if err := e.Sender.EmitAll(ctx); err != nil {
		return err
	}
	return nil
}

// SendSHA256 returns the whole-file hash computed when StartSend ran,
// the same value FinishSend embeds in the manifest. Exposed so a
// caller assembling on the receiving side in the same process (as the
// demo CLI does over loopback transports) can build a matching
// Manifest without re-reading the file.
func (e *Engine) SendSHA256() string {
	return e.sendSHA256
}

// FinishSend runs Sender.Complete using the whole-file hash computed
// when the send began, and updates the session state accordingly. It
// is expected to be called once the tracker reports every block
// accounted for (after any NACK-driven retries have settled).
func (e *Engine) FinishSend(ctx context.Context) (fullySent bool, err error) {
	if e.Sender == nil {
		return false, newEngineError(ErrMissingBlocks, "no active send", nil)
	}
	fullySent, err = e.Sender.Complete(ctx, e.Session.TotalSize, e.sendSHA256)
	if err != nil {
		return false, err
	}
	if e.Session != nil {
		if fullySent {
			e.Session.State = SessionCompleted
		} else {
			e.Session.State = SessionFailed
			e.Session.ErrorReason = ErrManifestMismatch
		}
		e.Session.UpdatedAt = time.Now()
		if err := e.persistSession(); err != nil {
			return fullySent, err
		}
	}
	return fullySent, nil
}

// StartReceive begins a new receiver-role session for the caller-chosen
// fileID, under which received blocks are journaled; the FileID carried
// in arriving block headers is not consulted.
func (e *Engine) StartReceive(ctx context.Context, fileID string, key []byte, fingerprint string) {
	now := time.Now()
	e.Receiver = NewReceiver(e.Config, e.Arbiter, e.Journal, key, fileID)
	e.Session = &Session{
		SessionID: NewID(), Role: RoleReceiver, FileID: fileID,
		KeyFingerprint: fingerprint, CreatedAt: now, UpdatedAt: now, State: SessionActive,
	}
	e.persistSession()
}

func (e *Engine) persistSession() error {
	if e.Session == nil {
		return nil
	}
	return withJournalRetry(ErrJournalWriteFailed, func() error {
		return e.Journal.PutSession(journal.StoredSession{
			SessionID: e.Session.SessionID, FileID: e.Session.FileID, Role: string(e.Session.Role),
			Filename: e.Session.Filename, TotalSize: e.Session.TotalSize, TotalBlocks: e.Session.TotalBlocks,
			SymmetricKeyDerivative: e.Session.KeyFingerprint, State: string(e.Session.State),
			ErrorReason: string(e.Session.ErrorReason), CreatedAt: e.Session.CreatedAt, UpdatedAt: e.Session.UpdatedAt,
		})
	})
}

// Pause freezes the session per section 4.6.5.
func (e *Engine) Pause() error {
	if e.Session == nil {
		return nil
	}
	e.Session.Pause(time.Now())
	return e.persistSession()
}

// Resume continues the session per section 4.6.5.
func (e *Engine) Resume() error {
	if e.Session == nil {
		return nil
	}
	e.Session.Resume(time.Now())
	return e.persistSession()
}

// Stop marks the session completed or failed and releases the journal.
func (e *Engine) Stop() error {
	if e.stopped {
		return nil
	}
	e.stopped = true
	if e.Session != nil {
		if (e.Sender != nil && e.Sender.Tracker.CompletedCount() == e.Sender.Tracker.totalSeq) ||
			(e.Receiver != nil && e.Receiver.ReadyForAssembly()) {
			e.Session.State = SessionCompleted
		} else {
			e.Session.State = SessionFailed
		}
		e.Session.UpdatedAt = time.Now()
		e.persistSession()
	}
	if e.Sender != nil {
		zeroBytes(e.Sender.Key)
	}
	if e.Receiver != nil {
		zeroBytes(e.Receiver.Key)
	}
	return e.Journal.Close()
}

// ResumeSenderFromJournal implements section 4.6.5's restart path for
// the sender role: given a freshly derived key whose fingerprint
// matches a persisted paused/active session for fileID, it rebuilds
// the in-memory tracker from every journal row for the file, keeping
// each row's stored state, so PendingSeqs starts at the first
// non-completed sequence.
func ResumeSenderFromJournal(cfg *EngineConfig, j *journal.Journal, arb *Arbiter, fileID string, key []byte, freshFingerprint string) (*Sender, bool, error) {
	var sessions []journal.StoredSession
	if err := withJournalRetry(ErrJournalReadFailed, func() error {
		var err error
		sessions, err = j.GetSessionsForFile(fileID)
		return err
	}); err != nil {
		return nil, false, err
	}

	var match *journal.StoredSession
	for i := range sessions {
		s := sessions[i]
		if (s.State == string(SessionPaused) || s.State == string(SessionActive)) && s.SymmetricKeyDerivative == freshFingerprint {
			match = &s
			break
		}
	}
	if match == nil {
		return nil, false, nil
	}

	var rows []journal.StoredBlock
	if err := withJournalRetry(ErrJournalReadFailed, func() error {
		var err error
		rows, err = j.GetBlocksForFile(fileID)
		return err
	}); err != nil {
		return nil, false, err
	}
	sort.Slice(rows, func(i, k int) bool { return rows[i].Seq < rows[k].Seq })

	var cache *cas.Cache
	if cfg.CASCacheEntries > 0 {
		cache = cas.NewCache(cfg.CASCacheEntries)
	}
	sender := &Sender{
		Config: cfg, Arbiter: arb, Journal: j, Key: key, Cache: cache,
		FileID: fileID, Filename: match.Filename,
	}
	sender.Tracker = NewTracker(fileID, match.TotalBlocks, cfg.MaxRetransmitsPerBlock)
	sender.blocks = make([]*BlockRecord, match.TotalBlocks)
	for _, row := range rows {
		// row.Header carries the full header (IV, Checksum, Compression,
		// BlockID) this exact ciphertext was built with; a resumed
		// re-emission needs it verbatim, not a placeholder, since
		// SplitForVisual/OpenBlock depend on all of those fields.
		hdr := BlockHeader{FileID: fileID, Seq: row.Seq, TotalSeq: match.TotalBlocks}
		if len(row.Header) > 0 {
			if parsed, err := parseHeader(row.Header); err == nil {
				hdr = parsed
			}
		}
		rec := &BlockRecord{
			Header:  hdr,
			Payload: row.Payload,
			State:   BlockState(row.State),
		}
		sender.blocks[row.Seq] = rec
		sender.Tracker.Put(row.Seq, rec)
	}
	return sender, true, nil
}
