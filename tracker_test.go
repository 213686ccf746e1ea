package opticalsend

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func newFilledTracker(n int) *Tracker {
	tr := NewTracker("f1", n, 5)
	for i := 0; i < n; i++ {
		tr.Put(i, &BlockRecord{Header: BlockHeader{Seq: i, TotalSeq: n}, State: BlockPending})
	}
	return tr
}

func Test100_tracker_all_received_only_when_every_seq_completed(t *testing.T) {
	cv.Convey("AllReceived is false until the last sequence completes", t, func() {
		tr := newFilledTracker(3)
		cv.So(tr.AllReceived(), cv.ShouldBeFalse)
		tr.MarkCompleted(0)
		tr.MarkCompleted(1)
		cv.So(tr.AllReceived(), cv.ShouldBeFalse)
		tr.MarkCompleted(2)
		cv.So(tr.AllReceived(), cv.ShouldBeTrue)
	})
}

func Test200_mark_failed_attempt_skips_after_retry_cap(t *testing.T) {
	cv.Convey("a block reaching max_retransmits_per_block failed attempts becomes skipped, not completed", t, func() {
		tr := NewTracker("f1", 1, 2)
		tr.Put(0, &BlockRecord{Header: BlockHeader{Seq: 0, TotalSeq: 1}, State: BlockPending})

		st := tr.MarkFailedAttempt(0, ErrHashMismatch)
		cv.So(st, cv.ShouldEqual, BlockQueued)
		st = tr.MarkFailedAttempt(0, ErrHashMismatch)
		cv.So(st, cv.ShouldEqual, BlockSkipped)

		cv.So(tr.AllAccountedFor(), cv.ShouldBeTrue)
		cv.So(tr.AllReceived(), cv.ShouldBeFalse)
	})
}

func Test300_late_nack_after_completion_is_a_no_op(t *testing.T) {
	cv.Convey("a nack arriving after the block already completed does not regress its state", t, func() {
		tr := NewTracker("f1", 1, 5)
		tr.Put(0, &BlockRecord{Header: BlockHeader{Seq: 0, TotalSeq: 1}, State: BlockPending})
		tr.MarkCompleted(0)

		st := tr.MarkFailedAttempt(0, ErrHashMismatch)
		cv.So(st, cv.ShouldEqual, BlockCompleted)

		rec, _ := tr.Get(0)
		cv.So(rec.State, cv.ShouldEqual, BlockCompleted)
	})
}

func Test400_pending_seqs_excludes_completed_and_skipped(t *testing.T) {
	cv.Convey("PendingSeqs lists only blocks still needing transmission", t, func() {
		tr := newFilledTracker(4)
		tr.MarkCompleted(1)
		tr.MarkFailedAttempt(2, ErrDecryptAuthFailed)
		tr.MarkFailedAttempt(2, ErrDecryptAuthFailed)
		tr.MarkFailedAttempt(2, ErrDecryptAuthFailed)
		tr.MarkFailedAttempt(2, ErrDecryptAuthFailed)
		tr.MarkFailedAttempt(2, ErrDecryptAuthFailed)
		tr.MarkFailedAttempt(2, ErrDecryptAuthFailed)

		pending := tr.PendingSeqs()
		cv.So(pending, cv.ShouldResemble, []int{0, 3})
	})
}
