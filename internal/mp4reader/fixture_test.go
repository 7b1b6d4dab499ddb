package mp4reader

import (
	"encoding/binary"

	"github.com/jmylchreest/mediahls/internal/mp4box"
)

// fixtureTrack describes one track for buildFixtureMP4: sample sizes and
// decode-time deltas are parallel slices of equal length, syncSamples holds
// the 1-based sample indices written to stss (nil for audio, meaning "no
// stss box", in which case every sample counts as a keyframe).
type fixtureTrack struct {
	trackID     uint32
	handlerType string // "vide" or "soun"
	codec       string // "avc1", "mp4a"
	timescale   uint32
	width       uint16
	height      uint16
	sizes       []uint32
	deltas      []uint32
	ctts        []int32 // per-sample CTS offsets, nil means no ctts box
	syncSamples []uint32
	codecConfig []byte
}

// buildFixtureMP4 assembles a minimal but structurally valid non-fragmented
// MP4 with the given tracks, placing each track's sample bytes contiguously
// in a single mdat, video track first. It returns the full file bytes. This
// mirrors the box layout mp4reader.Parse expects: ftyp, moov/trak/mdia/
// minf/stbl with stsd/stts/ctts/stss/stsc/stsz/stco, then mdat.
func buildFixtureMP4(tracks []fixtureTrack) []byte {
	w := mp4box.NewWriter()
	writeFixtureFtyp(w)

	moovStart := w.StartBox("moov")
	writeFixtureMvhd(w)

	// stco offset fields are written as zero placeholders; patch positions
	// are recorded so the caller can fill in absolute file offsets once the
	// mdat's start is known.
	var patchPositions [][]int // per-track chunk offset field positions
	for _, tr := range tracks {
		positions := writeFixtureTrak(w, tr)
		patchPositions = append(patchPositions, positions)
	}
	w.EndBox(moovStart)

	headerLen := w.Len()
	mdatPayloadStart := uint64(headerLen) + 8 // +8 for the mdat box header

	var totalPayload uint64
	var trackPayloadStart []uint64
	for _, tr := range tracks {
		trackPayloadStart = append(trackPayloadStart, mdatPayloadStart+totalPayload)
		var sum uint64
		for _, s := range tr.sizes {
			sum += uint64(s)
		}
		totalPayload += sum
	}

	buf := w.Bytes()
	for i, positions := range patchPositions {
		for _, pos := range positions {
			binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(trackPayloadStart[i]))
		}
	}

	mdatStart := len(buf)
	mdatBuf := make([]byte, 8+int(totalPayload))
	binary.BigEndian.PutUint32(mdatBuf[0:4], uint32(8+totalPayload))
	copy(mdatBuf[4:8], "mdat")
	// Payload content is irrelevant to the sample-table resolution tests;
	// fill with a recognizable, non-zero pattern to catch offset mistakes.
	for i := 8; i < len(mdatBuf); i++ {
		mdatBuf[i] = byte(0xA0 + (i % 16))
	}
	buf = append(buf, mdatBuf...)
	_ = mdatStart

	return buf
}

func writeFixtureFtyp(w *mp4box.Writer) {
	start := w.StartBox("ftyp")
	w.WriteFourCC("isom")
	w.WriteU32(512)
	w.WriteFourCC("isom")
	w.WriteFourCC("iso2")
	w.WriteFourCC("avc1")
	w.WriteFourCC("mp41")
	w.EndBox(start)
}

func writeFixtureMvhd(w *mp4box.Writer) {
	start := w.StartBox("mvhd")
	w.WriteU32(0) // version+flags
	w.WriteU32(0) // creation_time
	w.WriteU32(0) // modification_time
	w.WriteU32(1000)
	w.WriteU32(1000)
	w.WriteU32(0x00010000)
	w.WriteU16(0x0100)
	w.WriteU16(0)
	w.WriteU32(0)
	w.WriteU32(0)
	matrix := [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, m := range matrix {
		w.WriteU32(m)
	}
	for i := 0; i < 6; i++ {
		w.WriteU32(0)
	}
	w.WriteU32(3) // next_track_ID
	w.EndBox(start)
}

// writeFixtureTrak writes one trak box and returns the byte positions (within
// w's full buffer) of each stco chunk-offset field, for later patching.
func writeFixtureTrak(w *mp4box.Writer, tr fixtureTrack) []int {
	trakStart := w.StartBox("trak")

	tkhdStart := w.StartBox("tkhd")
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU32(tr.trackID)
	w.WriteU32(0)
	w.WriteU32(0) // duration
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU16(0)
	w.WriteU16(0)
	w.WriteU16(0)
	w.WriteU16(0)
	matrix := [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, m := range matrix {
		w.WriteU32(m)
	}
	w.WriteU32(uint32(tr.width) << 16)
	w.WriteU32(uint32(tr.height) << 16)
	w.EndBox(tkhdStart)

	mdiaStart := w.StartBox("mdia")

	mdhdStart := w.StartBox("mdhd")
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU32(tr.timescale)
	var duration uint32
	for _, d := range tr.deltas {
		duration += d
	}
	w.WriteU32(duration)
	w.WriteU16(0x55C4)
	w.WriteU16(0)
	w.EndBox(mdhdStart)

	hdlrStart := w.StartBox("hdlr")
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteFourCC(tr.handlerType)
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU32(0)
	w.Write([]byte("handler\x00"))
	w.EndBox(hdlrStart)

	minfStart := w.StartBox("minf")
	if tr.handlerType == "vide" {
		vmhdStart := w.StartBox("vmhd")
		w.WriteU24(0)
		w.WriteU8(1)
		w.WriteU16(0)
		w.WriteU16(0)
		w.WriteU16(0)
		w.WriteU16(0)
		w.EndBox(vmhdStart)
	} else {
		smhdStart := w.StartBox("smhd")
		w.WriteU32(0)
		w.WriteU16(0)
		w.WriteU16(0)
		w.EndBox(smhdStart)
	}

	dinfStart := w.StartBox("dinf")
	drefStart := w.StartBox("dref")
	w.WriteU32(0)
	w.WriteU32(1)
	urlStart := w.StartBox("url ")
	w.WriteU24(0)
	w.WriteU8(1)
	w.EndBox(urlStart)
	w.EndBox(drefStart)
	w.EndBox(dinfStart)

	stblStart := w.StartBox("stbl")
	writeFixtureStsd(w, tr)
	writeFixtureStts(w, tr.deltas)
	if tr.ctts != nil {
		writeFixtureCtts(w, tr.ctts)
	}
	if tr.syncSamples != nil {
		writeFixtureStss(w, tr.syncSamples)
	}
	writeFixtureStsc(w, uint32(len(tr.sizes)))
	writeFixtureStsz(w, tr.sizes)
	offsetPos := writeFixtureStco(w)
	w.EndBox(stblStart)

	w.EndBox(minfStart)
	w.EndBox(mdiaStart)
	w.EndBox(trakStart)

	return []int{offsetPos}
}

func writeFixtureStsd(w *mp4box.Writer, tr fixtureTrack) {
	stsdStart := w.StartBox("stsd")
	w.WriteU32(0)
	w.WriteU32(1)

	entryStart := w.StartBox(tr.codec)
	if tr.handlerType == "vide" {
		w.WriteU32(0)
		w.WriteU16(0)
		w.WriteU16(1) // data_reference_index
		w.WriteU16(0)
		w.WriteU16(0)
		w.WriteU32(0)
		w.WriteU32(0)
		w.WriteU32(0)
		w.WriteU16(tr.width)
		w.WriteU16(tr.height)
		w.WriteU32(0x00480000)
		w.WriteU32(0x00480000)
		w.WriteU32(0)
		w.WriteU16(1)
		var compressorName [32]byte
		w.Write(compressorName[:])
		w.WriteU16(0x0018)
		w.WriteU16(0xFFFF) // pre_defined = -1
		if len(tr.codecConfig) > 0 {
			mp4box.WriteBox(w, "avcC", tr.codecConfig)
		}
	} else {
		w.WriteU32(0)
		w.WriteU16(0)
		w.WriteU16(1)
		w.WriteU32(0)
		w.WriteU32(0)
		w.WriteU16(2) // channels
		w.WriteU16(16)
		w.WriteU16(0)
		w.WriteU16(0)
		w.WriteU32(48000 << 16)
		if len(tr.codecConfig) > 0 {
			mp4box.WriteBox(w, "esds", tr.codecConfig)
		}
	}
	w.EndBox(entryStart)
	w.EndBox(stsdStart)
}

func writeFixtureStts(w *mp4box.Writer, deltas []uint32) {
	start := w.StartBox("stts")
	w.WriteU32(0)
	w.WriteU32(uint32(len(deltas)))
	for _, d := range deltas {
		w.WriteU32(1) // sample_count (one run per sample, keeps the fixture simple)
		w.WriteU32(d)
	}
	w.EndBox(start)
}

func writeFixtureCtts(w *mp4box.Writer, offsets []int32) {
	start := w.StartBox("ctts")
	w.WriteU8(1)
	w.WriteU24(0)
	w.WriteU32(uint32(len(offsets)))
	for _, o := range offsets {
		w.WriteU32(1)
		w.WriteI32(o)
	}
	w.EndBox(start)
}

func writeFixtureStss(w *mp4box.Writer, syncSamples []uint32) {
	start := w.StartBox("stss")
	w.WriteU32(0)
	w.WriteU32(uint32(len(syncSamples)))
	for _, s := range syncSamples {
		w.WriteU32(s)
	}
	w.EndBox(start)
}

func writeFixtureStsc(w *mp4box.Writer, sampleCount uint32) {
	start := w.StartBox("stsc")
	w.WriteU32(0)
	w.WriteU32(1)
	w.WriteU32(1) // first_chunk
	w.WriteU32(sampleCount)
	w.WriteU32(1) // sample_description_index
	w.EndBox(start)
}

func writeFixtureStsz(w *mp4box.Writer, sizes []uint32) {
	start := w.StartBox("stsz")
	w.WriteU32(0)
	w.WriteU32(0) // sample_size=0 means per-sample sizes follow
	w.WriteU32(uint32(len(sizes)))
	for _, s := range sizes {
		w.WriteU32(s)
	}
	w.EndBox(start)
}

// writeFixtureStco writes a single-chunk stco box with a placeholder offset
// and returns the byte position of that offset field within w's buffer.
func writeFixtureStco(w *mp4box.Writer) int {
	start := w.StartBox("stco")
	w.WriteU32(0)
	w.WriteU32(1) // entry_count
	pos := w.Len()
	w.WriteU32(0) // placeholder chunk_offset
	w.EndBox(start)
	return pos
}
