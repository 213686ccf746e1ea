package opticalsend

import (
	"bytes"
	"context"
	cryrand "crypto/rand"
	"path/filepath"
	"testing"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/opticalsend/opticalsend/internal/aead"
	"github.com/opticalsend/opticalsend/internal/cas"
	"github.com/opticalsend/opticalsend/internal/journal"
	"github.com/opticalsend/opticalsend/internal/transport"
)

func newTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "j.bolt"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// deliverBlock hands a built block's header and payload straight to
// the receiver, standing in for the binary channel's announce+payload
// exchange in these tests; here we drive Sender/Receiver directly,
// without any wire framing.
func deliverBlock(t *testing.T, recv *Receiver, rec *BlockRecord) {
	t.Helper()
	err := recv.HandleBinaryBlock(context.Background(), rec.Header, rec.Payload)
	if err != nil {
		t.Fatal(err)
	}
}

func Test100_single_block_happy_path(t *testing.T) {
	cv.Convey("an 8-byte file under block_size 1024 yields one block and round-trips exactly", t, func() {
		cfg := NewConfig()
		key := make([]byte, 32)
		cryrand.Read(key)
		raw := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

		fileID := NewID()
		j := newTestJournal(t)
		sender := &Sender{Config: cfg, Arbiter: &Arbiter{}, Journal: j, Key: key, FileID: fileID}
		cv.So(sender.PrepareFile(raw), cv.ShouldBeNil)
		cv.So(sender.Tracker.totalSeq, cv.ShouldEqual, 1)
		cv.So(sender.blocks[0].Header.RawSize, cv.ShouldEqual, 8)
		cv.So(len(sender.blocks[0].Payload), cv.ShouldEqual, 8+16)

		recv := NewReceiver(cfg, &Arbiter{}, j, key, fileID)
		deliverBlock(t, recv, sender.blocks[0])
		cv.So(recv.ReadyForAssembly(), cv.ShouldBeTrue)

		sum := aead.ContentHash(raw)
		manifest := Manifest{FileID: fileID, TotalSize: 8, TotalBlocks: 1, SHA256: sum}
		out, err := recv.Assemble(manifest)
		cv.So(err, cv.ShouldBeNil)
		cv.So(bytes.Equal(out, raw), cv.ShouldBeTrue)
	})
}

func Test200_multi_block_out_of_order_arrival(t *testing.T) {
	cv.Convey("3000 bytes at block_size 1024 yields 3 blocks, and arrival order 2,0,1 still assembles correctly", t, func() {
		cfg := NewConfig()
		key := make([]byte, 32)
		cryrand.Read(key)
		raw := make([]byte, 3000)
		cryrand.Read(raw)

		fileID := NewID()
		j := newTestJournal(t)
		sender := &Sender{Config: cfg, Arbiter: &Arbiter{}, Journal: j, Key: key, FileID: fileID}
		cv.So(sender.PrepareFile(raw), cv.ShouldBeNil)
		cv.So(sender.Tracker.totalSeq, cv.ShouldEqual, 3)

		recv := NewReceiver(cfg, &Arbiter{}, j, key, fileID)
		for _, seq := range []int{2, 0, 1} {
			deliverBlock(t, recv, sender.blocks[seq])
		}
		cv.So(recv.ReadyForAssembly(), cv.ShouldBeTrue)

		manifest := Manifest{FileID: fileID, TotalSize: int64(len(raw)), TotalBlocks: 3, SHA256: aead.ContentHash(raw)}
		out, err := recv.Assemble(manifest)
		cv.So(err, cv.ShouldBeNil)
		cv.So(bytes.Equal(out, raw), cv.ShouldBeTrue)
	})
}

func Test300_corrupted_ciphertext_triggers_nack_then_retransmit_recovers(t *testing.T) {
	cv.Convey("flipping a ciphertext bit causes decrypt_auth_failed, and a clean retransmit completes", t, func() {
		cfg := NewConfig()
		key := make([]byte, 32)
		cryrand.Read(key)
		raw := make([]byte, 2048)
		cryrand.Read(raw)

		fileID := NewID()
		j := newTestJournal(t)
		sa, sb := transport.NewLoopbackPair()
		_ = sb
		senderArb := &Arbiter{Binary: sa, Visual: sa, HighWatermark: cfg.BinaryWatermark}
		sender := &Sender{Config: cfg, Arbiter: senderArb, Journal: j, Key: key, FileID: fileID}
		cv.So(sender.PrepareFile(raw), cv.ShouldBeNil)

		recv := NewReceiver(cfg, &Arbiter{}, j, key, fileID)

		corrupted := append([]byte{}, sender.blocks[0].Payload...)
		corrupted[0] ^= 0x01

		err := recv.HandleBinaryBlock(context.Background(), sender.blocks[0].Header, corrupted)
		cv.So(err, cv.ShouldBeNil)
		rec, ok := recv.Tracker.Get(0)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(rec.State, cv.ShouldNotEqual, BlockCompleted)

		err = recv.HandleBinaryBlock(context.Background(), sender.blocks[0].Header, sender.blocks[0].Payload)
		cv.So(err, cv.ShouldBeNil)
		rec, _ = recv.Tracker.Get(0)
		cv.So(rec.State, cv.ShouldEqual, BlockCompleted)
	})
}

func Test400_dropped_block_reaches_skipped_after_retry_cap(t *testing.T) {
	cv.Convey("a block that never arrives is skipped after max_retransmits_per_block nacks, and the transfer is not yet fully accounted for", t, func() {
		cfg := NewConfig()
		cfg.MaxRetransmitsPerBlock = 3
		key := make([]byte, 32)
		cryrand.Read(key)
		raw := make([]byte, 2048)
		cryrand.Read(raw)

		fileID := NewID()
		j := newTestJournal(t)
		sender := &Sender{Config: cfg, Arbiter: &Arbiter{}, Journal: j, Key: key, FileID: fileID}
		cv.So(sender.PrepareFile(raw), cv.ShouldBeNil)

		for i := 0; i < cfg.MaxRetransmitsPerBlock; i++ {
			err := sender.HandleControl(context.Background(), ControlMessage{Type: ControlNack, Seq: 0, Reason: ErrDecryptAuthFailed})
			cv.So(err, cv.ShouldBeNil)
		}
		rec, _ := sender.Tracker.Get(0)
		cv.So(rec.State, cv.ShouldEqual, BlockSkipped)
		cv.So(sender.Tracker.AllAccountedFor(), cv.ShouldBeFalse)
	})
}

func Test500_compression_selection_scenario(t *testing.T) {
	cv.Convey("repetitive input selects gzip, random input selects none, matching section 8 scenario 5", t, func() {
		raw := make([]byte, 1000)
		for i := range raw {
			raw[i] = 0x41
		}
		hdr, err := BuildBlock(NewID(), 0, 1, raw, mustKey(), nil)
		cv.So(err, cv.ShouldBeNil)
		cv.So(string(hdr.Header.Compression), cv.ShouldEqual, "gzip")

		rnd := make([]byte, 1000)
		cryrand.Read(rnd)
		hdr2, err := BuildBlock(NewID(), 0, 1, rnd, mustKey(), nil)
		cv.So(err, cv.ShouldBeNil)
		cv.So(string(hdr2.Header.Compression), cv.ShouldEqual, "none")
	})
}

func Test510_build_block_reuses_cached_compression_for_repeated_chunk(t *testing.T) {
	cv.Convey("a cache hit on identical plaintext skips recompression and returns the same compressed bytes", t, func() {
		cache := cas.NewCache(8)
		raw := bytes.Repeat([]byte("same chunk content, twice"), 40)
		key := mustKey()

		rec1, err := BuildBlock(NewID(), 0, 1, raw, key, cache)
		cv.So(err, cv.ShouldBeNil)
		cv.So(cache.Len(), cv.ShouldEqual, 1)

		rec2, err := BuildBlock(NewID(), 0, 1, raw, key, cache)
		cv.So(err, cv.ShouldBeNil)
		cv.So(cache.Len(), cv.ShouldEqual, 1)

		cv.So(rec1.Header.Checksum, cv.ShouldEqual, rec2.Header.Checksum)
		cv.So(rec1.Header.Compression, cv.ShouldEqual, rec2.Header.Compression)
	})
}

func mustKey() []byte {
	k := make([]byte, 32)
	cryrand.Read(k)
	return k
}
