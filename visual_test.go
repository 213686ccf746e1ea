package opticalsend

import (
	"bytes"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test100_split_for_visual_single_frame_when_small(t *testing.T) {
	cv.Convey("a payload well under budget yields exactly one chunk with chunk_count 1", t, func() {
		hdr := BlockHeader{FileID: "f1", BlockID: "b1", Seq: 0, TotalSeq: 1}
		payload := []byte("small payload")
		chunks, err := SplitForVisual(hdr, payload, 2953)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(chunks), cv.ShouldEqual, 1)
		cv.So(chunks[0].ChunkCount, cv.ShouldEqual, 1)
		cv.So(chunks[0].ChunkIndex, cv.ShouldEqual, 0)
	})
}

func Test200_split_for_visual_multi_frame_when_large(t *testing.T) {
	cv.Convey("a payload exceeding budget splits into multiple indexed chunks", t, func() {
		hdr := BlockHeader{FileID: "f1", BlockID: "b1", Seq: 0, TotalSeq: 1}
		payload := bytes.Repeat([]byte{0x42}, 5000)
		chunks, err := SplitForVisual(hdr, payload, 500)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(chunks), cv.ShouldBeGreaterThan, 1)
		for i, c := range chunks {
			cv.So(c.ChunkIndex, cv.ShouldEqual, i)
			cv.So(c.ChunkCount, cv.ShouldEqual, len(chunks))
		}
	})
}

func Test300_visual_reassembler_completes_only_when_all_chunks_present(t *testing.T) {
	cv.Convey("reassembly waits for every chunk index and verifies content hash", t, func() {
		hdr := BlockHeader{FileID: "f1", BlockID: "b1", Seq: 2, TotalSeq: 5}
		payload := bytes.Repeat([]byte("chunked-data-"), 100)
		chunks, err := SplitForVisual(hdr, payload, 300)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(chunks), cv.ShouldBeGreaterThan, 2)

		r := NewVisualReassembler()
		var out []byte
		var complete bool
		for i, c := range chunks {
			if i == len(chunks)-1 {
				out, _, complete, err = r.Add(c)
			} else {
				_, _, complete, err = r.Add(c)
				cv.So(complete, cv.ShouldBeFalse)
			}
			cv.So(err, cv.ShouldBeNil)
		}
		cv.So(complete, cv.ShouldBeTrue)
		cv.So(bytes.Equal(out, payload), cv.ShouldBeTrue)
	})
}

func Test400_visual_reassembler_out_of_order_chunks_still_complete(t *testing.T) {
	cv.Convey("chunks delivered out of order still reassemble correctly", t, func() {
		hdr := BlockHeader{FileID: "f1", BlockID: "b2", Seq: 0, TotalSeq: 1}
		payload := bytes.Repeat([]byte("X"), 900)
		chunks, err := SplitForVisual(hdr, payload, 300)
		cv.So(err, cv.ShouldBeNil)

		reversed := make([]VisualChunk, len(chunks))
		for i, c := range chunks {
			reversed[len(chunks)-1-i] = c
		}

		r := NewVisualReassembler()
		var out []byte
		var complete bool
		for _, c := range reversed {
			out, _, complete, err = r.Add(c)
			cv.So(err, cv.ShouldBeNil)
		}
		cv.So(complete, cv.ShouldBeTrue)
		cv.So(bytes.Equal(out, payload), cv.ShouldBeTrue)
	})
}
