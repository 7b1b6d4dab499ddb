package fmp4

import (
	"encoding/binary"

	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"github.com/jmylchreest/mediahls/internal/mp4box"
	"github.com/jmylchreest/mediahls/internal/mp4reader"
)

const (
	sampleFlagsKeyframe    = 0x02000000
	sampleFlagsNonKeyframe = 0x01010000
	defaultBaseIsMoof      = 0x020000

	trunFlagDataOffsetPresent      = 0x000001
	trunFlagSampleSizePresent      = 0x000200
	trunFlagSampleFlagsPresent     = 0x000400
	trunFlagSampleCompositionOffset = 0x000800
)

// TrackFragment is one track's contribution to a media segment: its track
// ID, the absolute decode time of its first sample (in the track's own
// timescale), and the slice of resolved samples the segment planner
// assigned to this segment.
type TrackFragment struct {
	TrackID   uint32
	Timescale uint32
	BaseDTS   int64
	Samples   []mp4reader.SampleEntry
}

// MediaSegment is the precomputed, fully self-contained header pair for one
// HLS media segment: the complete moof box, and the 8 (or 16, if the
// payload exceeds 32-bit range) leading bytes of its mdat box. Serving a
// segment means writing Moof, then MdatHeader, then the raw sample bytes
// read directly from the source file in the same order the trun entries
// describe.
type MediaSegment struct {
	Moof       []byte
	MdatHeader []byte
	// PayloadSize is the total number of sample bytes that follow
	// MdatHeader, i.e. the sum of every fragment's sample sizes.
	PayloadSize uint64
}

// WriteMediaSegmentHeader serializes the moof and mdat-header for one HLS
// segment. fragments must be in the same order the caller will stream
// payload bytes in (video first, then audio);
// the trun boxes are assembled in that order and tfhd/trun data_offset
// values are computed to match exactly.
func WriteMediaSegmentHeader(sequenceNumber uint32, fragments []TrackFragment) (*MediaSegment, error) {
	if len(fragments) == 0 {
		return nil, mediaerr.New(mediaerr.MissingAtom, "no track fragments for segment")
	}

	// First pass: compute each fragment's total sample byte count to derive
	// data_offset values, since trun.data_offset for fragment N is measured
	// from the first byte of the moof box to the first sample byte of
	// fragment N's payload within mdat.
	payloadSizes := make([]uint64, len(fragments))
	var totalPayload uint64
	for i, f := range fragments {
		var sum uint64
		for _, s := range f.Samples {
			sum += uint64(s.Size)
		}
		payloadSizes[i] = sum
		if totalPayload+sum < totalPayload {
			return nil, mediaerr.New(mediaerr.SerializationOverflow, "segment payload exceeds 64-bit mdat range")
		}
		totalPayload += sum
	}

	// moof size must be known before trun.data_offset can be computed, but
	// trun's own size depends on nothing size-variable (every trun field is
	// fixed-width, entry count aside) so we can serialize moof once, read
	// back its length, then patch the data_offset fields in place.
	w := mp4box.NewWriter()
	moofStart := w.StartBox("moof")
	writeMfhd(w, sequenceNumber)

	trunOffsetPatchPositions := make([]int, len(fragments))
	for i, f := range fragments {
		trafStart := w.StartBox("traf")
		writeTfhd(w, f.TrackID)
		writeTfdt(w, f.BaseDTS)
		trunOffsetPatchPositions[i] = writeTrun(w, f.Samples)
		w.EndBox(trafStart)
	}
	w.EndBox(moofStart)

	moofBytes := w.Bytes()
	moofSize := uint64(len(moofBytes))
	mdatHeader := writeMdatHeader(totalPayload)

	var priorPayload uint64
	for i := range fragments {
		dataOffset := int64(moofSize + uint64(len(mdatHeader)) + priorPayload)
		pos := trunOffsetPatchPositions[i]
		binary.BigEndian.PutUint32(moofBytes[pos:pos+4], uint32(dataOffset))
		priorPayload += payloadSizes[i]
	}

	return &MediaSegment{
		Moof:        moofBytes,
		MdatHeader:  mdatHeader,
		PayloadSize: totalPayload,
	}, nil
}

func writeMfhd(w *mp4box.Writer, sequenceNumber uint32) {
	start := w.StartBox("mfhd")
	w.WriteU32(0)
	w.WriteU32(sequenceNumber)
	w.EndBox(start)
}

func writeTfhd(w *mp4box.Writer, trackID uint32) {
	start := w.StartBox("tfhd")
	w.WriteU8(0) // version
	w.WriteU24(defaultBaseIsMoof)
	w.WriteU32(trackID)
	w.EndBox(start)
}

func writeTfdt(w *mp4box.Writer, baseDTS int64) {
	start := w.StartBox("tfdt")
	w.WriteU8(1) // version 1: 64-bit base media decode time
	w.WriteU24(0)
	w.WriteU64(uint64(baseDTS))
	w.EndBox(start)
}

// writeTrun writes one trun box and returns the byte offset (within the
// writer's full buffer) of its data_offset field, to be patched once the
// moof's total size is known.
func writeTrun(w *mp4box.Writer, samples []mp4reader.SampleEntry) int {
	flags := trunFlagDataOffsetPresent | trunFlagSampleSizePresent |
		trunFlagSampleFlagsPresent | trunFlagSampleCompositionOffset

	start := w.StartBox("trun")
	w.WriteU8(1) // version 1: signed sample_composition_time_offset
	w.WriteU24(uint32(flags))
	w.WriteU32(uint32(len(samples)))
	dataOffsetPos := w.Len()
	w.WriteI32(0) // data_offset placeholder, patched by the caller

	for _, s := range samples {
		w.WriteU32(s.Size)
		if s.IsKeyframe {
			w.WriteU32(sampleFlagsKeyframe)
		} else {
			w.WriteU32(sampleFlagsNonKeyframe)
		}
		w.WriteI32(s.CTSOffset)
	}
	w.EndBox(start)
	return dataOffsetPos
}

// writeMdatHeader returns the leading bytes of an mdat box sized to hold
// payloadSize bytes of sample data, upgrading to the 64-bit extended-size
// form when the total exceeds what a 32-bit size field can address.
func writeMdatHeader(payloadSize uint64) []byte {
	const maxOrdinarySize = 0xFFFFFFFF - 8
	if payloadSize <= maxOrdinarySize {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf[0:4], uint32(payloadSize+8))
		copy(buf[4:8], "mdat")
		return buf
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], 1)
	copy(buf[4:8], "mdat")
	binary.BigEndian.PutUint64(buf[8:16], payloadSize+16)
	return buf
}
