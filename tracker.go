package opticalsend

import "sync"

// Tracker is the engine's in-memory view of per-block progress for one
// file transfer, used by the sender and receiver pipelines. The journal remains the durable source of truth (section
// 9); Tracker exists so hot-path decisions (what to send next, whether
// a file is fully received) don't require a journal round-trip.
type Tracker struct {
	mu          sync.Mutex
	fileID      string
	totalSeq    int
	records     map[int]*BlockRecord
	maxRetransmits int
}

func NewTracker(fileID string, totalSeq int, maxRetransmits int) *Tracker {
	return &Tracker{
		fileID:         fileID,
		totalSeq:       totalSeq,
		records:        make(map[int]*BlockRecord, totalSeq),
		maxRetransmits: maxRetransmits,
	}
}

// Put installs or replaces the record for one sequence.
func (tr *Tracker) Put(seq int, rec *BlockRecord) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.records[seq] = rec
}

// Get retrieves the record for one sequence, if present.
func (tr *Tracker) Get(seq int) (*BlockRecord, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	r, ok := tr.records[seq]
	return r, ok
}

// MarkSent records that a block was emitted over a channel; it does
// not change State, since "sent" is not yet "completed" (section
// 4.6.1 step 2: completion only follows ack/verification).
func (tr *Tracker) MarkSent(seq int, overBinary, overVisual bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	r, ok := tr.records[seq]
	if !ok {
		return
	}
	if overBinary {
		r.SentOverBinary = true
	}
	if overVisual {
		r.SentOverVisual = true
	}
	if r.State == BlockPending {
		r.State = BlockQueued
	}
}

// MarkCompleted transitions a block to completed; a no-op if it is
// already completed (idempotent per the ordering guarantee in section
// 5: a late ack after a nack-triggered retransmit must not regress
// state).
func (tr *Tracker) MarkCompleted(seq int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	r, ok := tr.records[seq]
	if !ok {
		return
	}
	r.State = BlockCompleted
	r.Verified = true
}

// MarkFailedAttempt increments the retransmit counter for a NACKed
// block. It returns the resulting state: BlockQueued if under the
// retry cap (the caller should re-send), BlockSkipped once the count
// reaches the cap (section 4.6.1 step 4).
func (tr *Tracker) MarkFailedAttempt(seq int, reason ErrorKind) BlockState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	r, ok := tr.records[seq]
	if !ok {
		return BlockFailed
	}
	if r.State == BlockCompleted {
		// a late nack arriving after the block already completed via
		// the other channel is a no-op.
		return BlockCompleted
	}
	r.RetransmitCount++
	r.LastError = reason
	if r.RetransmitCount >= tr.maxRetransmits {
		r.State = BlockSkipped
	} else {
		r.State = BlockQueued
	}
	return r.State
}

// PendingSeqs returns, in ascending order, the sequences not yet
// completed or skipped — candidates for (re)transmission.
func (tr *Tracker) PendingSeqs() []int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var out []int
	for seq := 0; seq < tr.totalSeq; seq++ {
		r, ok := tr.records[seq]
		if !ok || (r.State != BlockCompleted && r.State != BlockSkipped) {
			out = append(out, seq)
		}
	}
	return out
}

// AllAccountedFor reports whether every sequence in [0, totalSeq) has
// reached a terminal state (completed or skipped) — the condition
// under which the sender can emit its final manifest, per section
// 4.6.1 step 5, and the receiver can attempt assembly, per step 6 of
// 4.6.2, distinguished by CompletedCount == totalSeq for the latter.
func (tr *Tracker) AllAccountedFor() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.records) < tr.totalSeq {
		return false
	}
	for seq := 0; seq < tr.totalSeq; seq++ {
		r, ok := tr.records[seq]
		if !ok || (r.State != BlockCompleted && r.State != BlockSkipped) {
			return false
		}
	}
	return true
}

// CompletedCount returns how many sequences have reached completed.
func (tr *Tracker) CompletedCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, r := range tr.records {
		if r.State == BlockCompleted {
			n++
		}
	}
	return n
}

// AllReceived reports whether every sequence in [0, totalSeq) is
// completed (not merely accounted-for) — the receiver's exact trigger
// for assembly, since a receiver has no concept of "skipped".
func (tr *Tracker) AllReceived() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.records) < tr.totalSeq {
		return false
	}
	for seq := 0; seq < tr.totalSeq; seq++ {
		r, ok := tr.records[seq]
		if !ok || r.State != BlockCompleted {
			return false
		}
	}
	return true
}
