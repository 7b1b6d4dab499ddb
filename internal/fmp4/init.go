// Package fmp4 hand-rolls the fragmented-MP4 boxes this engine precomputes
// once and replays verbatim on every segment request: the init segment
// (ftyp+moov with mvex/trex, empty sample tables) and, per segment, a moof
// plus the leading header of its mdat box. Sample payload bytes are never
// passed through this package; they are copied from the source file
// straight into the response body by the HLS handler.
package fmp4

import (
	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"github.com/jmylchreest/mediahls/internal/mp4box"
	"github.com/jmylchreest/mediahls/internal/mp4reader"
)

const (
	moovTimescaleFallback = 90000
)

// WriteInitSegment serializes an ftyp+moov pair describing the given tracks,
// with empty sample tables (stts/stsc/stsz/stco all zero-entry) and an mvex
// advertising fragmented playback via trex. Tracks with a nil entry are
// omitted (e.g. no audio).
func WriteInitSegment(video, audio *mp4reader.TrackInfo) ([]byte, error) {
	if video == nil {
		return nil, mediaerr.New(mediaerr.MissingAtom, "video track required for init segment")
	}

	w := mp4box.NewWriter()
	writeFtyp(w)

	moovStart := w.StartBox("moov")
	writeMvhd(w, video)

	writeTrak(w, video, 1)
	if audio != nil {
		writeTrak(w, audio, 2)
	}

	mvexStart := w.StartBox("mvex")
	writeTrex(w, 1)
	if audio != nil {
		writeTrex(w, 2)
	}
	w.EndBox(mvexStart)

	w.EndBox(moovStart)
	return w.Bytes(), nil
}

func writeFtyp(w *mp4box.Writer) {
	start := w.StartBox("ftyp")
	w.WriteFourCC("iso5")
	w.WriteU32(512)
	w.WriteFourCC("iso5")
	w.WriteFourCC("iso6")
	w.WriteFourCC("mp41")
	w.EndBox(start)
}

func writeMvhd(w *mp4box.Writer, video *mp4reader.TrackInfo) {
	start := w.StartBox("mvhd")
	w.WriteU8(1) // version 1: 64-bit times
	w.WriteU24(0)
	w.WriteU64(0) // creation_time
	w.WriteU64(0) // modification_time
	timescale := video.Timescale
	if timescale == 0 {
		timescale = moovTimescaleFallback
	}
	w.WriteU32(timescale)
	w.WriteU64(0) // duration unknown ahead of time in a live-prepared fragment sequence
	w.WriteU32(0x00010000) // rate 1.0
	w.WriteU16(0x0100)     // volume 1.0
	w.WriteU16(0)          // reserved
	w.WriteU32(0)          // reserved[2]
	w.WriteU32(0)
	// unity matrix
	matrix := [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, m := range matrix {
		w.WriteU32(m)
	}
	for i := 0; i < 6; i++ {
		w.WriteU32(0) // pre_defined
	}
	w.WriteU32(3) // next_track_ID (video=1, audio=2, next=3)
	w.EndBox(start)
}

func writeTrak(w *mp4box.Writer, track *mp4reader.TrackInfo, trackID uint32) {
	trakStart := w.StartBox("trak")
	writeTkhd(w, track, trackID)

	mdiaStart := w.StartBox("mdia")
	writeMdhd(w, track)
	writeHdlr(w, track)

	minfStart := w.StartBox("minf")
	if track.Handler == mp4reader.HandlerVideo {
		writeVmhd(w)
	} else {
		writeSmhd(w)
	}
	writeDinf(w)

	stblStart := w.StartBox("stbl")
	writeStsd(w, track)
	writeEmptyFullBox(w, "stts")
	writeEmptyFullBox(w, "stsc")
	writeEmptyStsz(w)
	writeEmptyFullBox(w, "stco")
	w.EndBox(stblStart)

	w.EndBox(minfStart)
	w.EndBox(mdiaStart)
	w.EndBox(trakStart)
}

func writeTkhd(w *mp4box.Writer, track *mp4reader.TrackInfo, trackID uint32) {
	start := w.StartBox("tkhd")
	w.WriteU8(1)
	w.WriteU24(0x000007) // enabled | in-movie | in-preview
	w.WriteU64(0)
	w.WriteU64(0)
	w.WriteU32(trackID)
	w.WriteU32(0) // reserved
	w.WriteU64(0) // duration unknown
	w.WriteU32(0) // reserved[2]
	w.WriteU32(0)
	w.WriteU16(0) // layer
	w.WriteU16(0) // alternate_group
	if track.Handler == mp4reader.HandlerAudio {
		w.WriteU16(0x0100) // volume 1.0
	} else {
		w.WriteU16(0)
	}
	w.WriteU16(0) // reserved
	matrix := [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, m := range matrix {
		w.WriteU32(m)
	}
	w.WriteU32(uint32(track.Width) << 16)
	w.WriteU32(uint32(track.Height) << 16)
	w.EndBox(start)
}

func writeMdhd(w *mp4box.Writer, track *mp4reader.TrackInfo) {
	start := w.StartBox("mdhd")
	w.WriteU8(1)
	w.WriteU24(0)
	w.WriteU64(0)
	w.WriteU64(0)
	w.WriteU32(track.Timescale)
	w.WriteU64(0) // duration unknown
	w.WriteU16(0x55C4) // language "und"
	w.WriteU16(0)      // pre_defined
	w.EndBox(start)
}

func writeHdlr(w *mp4box.Writer, track *mp4reader.TrackInfo) {
	start := w.StartBox("hdlr")
	w.WriteU32(0) // version+flags
	w.WriteU32(0) // pre_defined
	var handlerType, name string
	if track.Handler == mp4reader.HandlerAudio {
		handlerType, name = "soun", "SoundHandler\x00"
	} else {
		handlerType, name = "vide", "VideoHandler\x00"
	}
	w.WriteFourCC(handlerType)
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU32(0)
	w.Write([]byte(name))
	w.EndBox(start)
}

func writeVmhd(w *mp4box.Writer) {
	start := w.StartBox("vmhd")
	w.WriteU24(0)
	w.WriteU8(1) // flags=1 (required)
	w.WriteU16(0)
	w.WriteU16(0) // graphicsmode
	w.WriteU16(0)
	w.WriteU16(0)
	w.WriteU16(0) // opcolor
	w.EndBox(start)
}

func writeSmhd(w *mp4box.Writer) {
	start := w.StartBox("smhd")
	w.WriteU32(0)
	w.WriteU16(0) // balance
	w.WriteU16(0) // reserved
	w.EndBox(start)
}

func writeDinf(w *mp4box.Writer) {
	dinfStart := w.StartBox("dinf")
	drefStart := w.StartBox("dref")
	w.WriteU32(0)
	w.WriteU32(1) // entry_count
	urlStart := w.StartBox("url ")
	w.WriteU24(0)
	w.WriteU8(1) // flags=1: media data is in the same file
	w.EndBox(urlStart)
	w.EndBox(drefStart)
	w.EndBox(dinfStart)
}

func writeStsd(w *mp4box.Writer, track *mp4reader.TrackInfo) {
	stsdStart := w.StartBox("stsd")
	w.WriteU32(0)
	w.WriteU32(1) // entry_count

	if track.Handler == mp4reader.HandlerVideo {
		writeVisualSampleEntry(w, track)
	} else {
		writeAudioSampleEntry(w, track)
	}

	w.EndBox(stsdStart)
}

func writeVisualSampleEntry(w *mp4box.Writer, track *mp4reader.TrackInfo) {
	boxType := track.Codec
	if boxType == "" {
		boxType = "avc1"
	}
	start := w.StartBox(boxType)
	w.WriteU32(0) // reserved[6] (first 4 of 6)
	w.WriteU16(0) // reserved, rest of the 6
	w.WriteU16(1) // data_reference_index
	w.WriteU16(0) // pre_defined
	w.WriteU16(0) // reserved
	w.WriteU32(0) // pre_defined[3]
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU16(track.Width)
	w.WriteU16(track.Height)
	w.WriteU32(0x00480000) // horizresolution 72dpi
	w.WriteU32(0x00480000) // vertresolution 72dpi
	w.WriteU32(0)          // reserved
	w.WriteU16(1)          // frame_count
	var compressorName [32]byte
	w.Write(compressorName[:])
	w.WriteU16(0x0018) // depth 24
	w.WriteU16(0xFFFF) // pre_defined = -1

	configBoxType := "avcC"
	if boxType == "hvc1" || boxType == "hev1" {
		configBoxType = "hvcC"
	}
	if len(track.CodecConfig) > 0 {
		mp4box.WriteBox(w, configBoxType, track.CodecConfig)
	}
	w.EndBox(start)
}

func writeAudioSampleEntry(w *mp4box.Writer, track *mp4reader.TrackInfo) {
	boxType := track.Codec
	if boxType == "" {
		boxType = "mp4a"
	}
	start := w.StartBox(boxType)
	w.WriteU32(0) // reserved[6]
	w.WriteU16(0)
	w.WriteU16(1) // data_reference_index
	w.WriteU32(0) // reserved[2]
	w.WriteU32(0)
	channels := track.ChannelCount
	if channels == 0 {
		channels = 2
	}
	w.WriteU16(channels)
	w.WriteU16(16) // samplesize
	w.WriteU16(0)  // pre_defined
	w.WriteU16(0)  // reserved
	sampleRate := track.SampleRate
	if sampleRate == 0 {
		sampleRate = 48000
	}
	w.WriteU32(sampleRate << 16)

	if len(track.CodecConfig) > 0 {
		mp4box.WriteBox(w, "esds", track.CodecConfig)
	}
	w.EndBox(start)
}

func writeEmptyFullBox(w *mp4box.Writer, boxType string) {
	start := w.StartBox(boxType)
	w.WriteU32(0) // version+flags
	w.WriteU32(0) // entry_count
	w.EndBox(start)
}

func writeEmptyStsz(w *mp4box.Writer) {
	start := w.StartBox("stsz")
	w.WriteU32(0) // version+flags
	w.WriteU32(0) // sample_size
	w.WriteU32(0) // sample_count
	w.EndBox(start)
}

func writeTrex(w *mp4box.Writer, trackID uint32) {
	start := w.StartBox("trex")
	w.WriteU32(0)
	w.WriteU32(trackID)
	w.WriteU32(1) // default_sample_description_index
	w.WriteU32(0) // default_sample_duration
	w.WriteU32(0) // default_sample_size
	w.WriteU32(0) // default_sample_flags
	w.EndBox(start)
}
