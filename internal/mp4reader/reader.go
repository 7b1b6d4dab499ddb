package mp4reader

import (
	"encoding/binary"
	"io"

	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"github.com/jmylchreest/mediahls/internal/mp4box"
)

// isoBMFFBrands lists the major/compatible brands this reader accepts. Any
// brand outside this set still parses (most ISO-BMFF files declare at least
// one of these as a compatible brand), but an ftyp naming none of them is
// rejected as InvalidContainer.
var isoBMFFBrands = map[string]bool{
	"isom": true, "iso2": true, "iso3": true, "iso4": true, "iso5": true, "iso6": true,
	"mp41": true, "mp42": true, "avc1": true, "qt  ": true, "3gp4": true, "3gp5": true,
	"dash": true, "msdh": true, "M4V ": true, "M4A ": true,
}

// Parse walks a non-fragmented MP4's top-level box sequence and resolves the
// video and audio tracks' sample tables. source must support random access
// the way an *os.File does.
func Parse(source io.ReaderAt, size int64) (*Mp4Metadata, error) {
	top, err := mp4box.Children(source, 0, uint64(size))
	if err != nil {
		return nil, err
	}

	var ftyp, moov *mp4box.Header
	for i := range top {
		switch top[i].Type {
		case "ftyp":
			h := top[i]
			ftyp = &h
		case "moov":
			h := top[i]
			moov = &h
		}
	}

	if ftyp == nil {
		return nil, mediaerr.New(mediaerr.InvalidContainer, "no ftyp box")
	}
	if err := validateFtyp(source, *ftyp); err != nil {
		return nil, err
	}
	if moov == nil {
		return nil, mediaerr.New(mediaerr.MissingAtom, "moov")
	}

	meta, err := parseMoov(source, *moov)
	if err != nil {
		return nil, err
	}

	if meta.Video == nil {
		return nil, mediaerr.New(mediaerr.MissingAtom, "video trak")
	}
	switch meta.Video.Codec {
	case "avc1", "avc3", "hvc1", "hev1":
		// ok
	default:
		return nil, mediaerr.New(mediaerr.UnsupportedCodec, meta.Video.Codec)
	}

	if err := validateSampleBounds(meta.Video, uint64(size)); err != nil {
		return nil, err
	}
	if meta.Audio != nil {
		if err := validateSampleBounds(meta.Audio, uint64(size)); err != nil {
			return nil, err
		}
	}

	return meta, nil
}

// validateSampleBounds enforces the SampleEntry invariant that every
// sample's offset+size lies within the source file: a moov whose chunk
// offsets point past EOF would otherwise only surface as a short read at
// serve time, mid-response.
func validateSampleBounds(track *TrackInfo, fileSize uint64) error {
	for _, s := range track.Samples {
		end := s.Offset + uint64(s.Size)
		if end < s.Offset || end > fileSize {
			return mediaerr.New(mediaerr.OffsetOutOfBounds, track.Codec+" sample beyond source file end")
		}
	}
	return nil
}

func validateFtyp(source io.ReaderAt, h mp4box.Header) error {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return err
	}
	if len(content) < 8 {
		return mediaerr.New(mediaerr.InvalidContainer, "truncated ftyp")
	}
	majorBrand := string(content[0:4])
	if isoBMFFBrands[majorBrand] {
		return nil
	}
	for pos := 8; pos+4 <= len(content); pos += 4 {
		if isoBMFFBrands[string(content[pos:pos+4])] {
			return nil
		}
	}
	return mediaerr.New(mediaerr.InvalidContainer, "major brand is not an ISO-BMFF variant: "+majorBrand)
}

func parseMoov(source io.ReaderAt, moov mp4box.Header) (*Mp4Metadata, error) {
	children, err := mp4box.Children(source, moov.ContentOffset(), moov.End())
	if err != nil {
		return nil, err
	}

	meta := &Mp4Metadata{}
	for _, c := range children {
		if c.Type != "mvhd" {
			continue
		}
		content, err := mp4box.ReadContent(source, c)
		if err != nil {
			return nil, err
		}
		if len(content) < 4 {
			return nil, mediaerr.New(mediaerr.Truncated, "mvhd")
		}
		version := content[0]
		if version == 1 {
			if len(content) < 28 {
				return nil, mediaerr.New(mediaerr.Truncated, "mvhd v1")
			}
			meta.MovieTimescale = binary.BigEndian.Uint32(content[20:24])
			meta.MovieDuration = binary.BigEndian.Uint64(content[24:32])
		} else {
			if len(content) < 20 {
				return nil, mediaerr.New(mediaerr.Truncated, "mvhd v0")
			}
			meta.MovieTimescale = binary.BigEndian.Uint32(content[12:16])
			meta.MovieDuration = uint64(binary.BigEndian.Uint32(content[16:20]))
		}
	}

	haveVideo, haveAudio := false, false
	for _, c := range children {
		if c.Type != "trak" {
			continue
		}
		track, err := parseTrak(source, c)
		if err != nil {
			return nil, err
		}
		if track == nil {
			continue
		}
		switch track.Handler {
		case HandlerVideo:
			if !haveVideo {
				meta.Video = track
				haveVideo = true
			}
		case HandlerAudio:
			if !haveAudio {
				meta.Audio = track
				haveAudio = true
			}
		}
	}

	return meta, nil
}

func parseTrak(source io.ReaderAt, trak mp4box.Header) (*TrackInfo, error) {
	children, err := mp4box.Children(source, trak.ContentOffset(), trak.End())
	if err != nil {
		return nil, err
	}

	track := &TrackInfo{}

	tkhd, ok, err := mp4box.Find(source, trak.ContentOffset(), trak.End(), "tkhd")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.MissingAtom, "tkhd")
	}
	if err := parseTkhd(source, tkhd, track); err != nil {
		return nil, err
	}

	var mdia *mp4box.Header
	for _, c := range children {
		if c.Type == "mdia" {
			h := c
			mdia = &h
		}
	}
	if mdia == nil {
		return nil, mediaerr.New(mediaerr.MissingAtom, "mdia")
	}

	mdhd, ok, err := mp4box.Find(source, mdia.ContentOffset(), mdia.End(), "mdhd")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.MissingAtom, "mdhd")
	}
	if err := parseMdhd(source, mdhd, track); err != nil {
		return nil, err
	}

	hdlr, ok, err := mp4box.Find(source, mdia.ContentOffset(), mdia.End(), "hdlr")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.MissingAtom, "hdlr")
	}
	if err := parseHdlr(source, hdlr, track); err != nil {
		return nil, err
	}

	if track.Handler != HandlerVideo && track.Handler != HandlerAudio {
		// Subtitle/other tracks carry no sample table we need; the contract
		// only asks for the first video and first audio track.
		return track, nil
	}

	minf, ok, err := mp4box.Find(source, mdia.ContentOffset(), mdia.End(), "minf")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.MissingAtom, "minf")
	}
	stbl, ok, err := mp4box.Find(source, minf.ContentOffset(), minf.End(), "stbl")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.MissingAtom, "stbl")
	}

	if err := parseStbl(source, stbl, track); err != nil {
		return nil, err
	}

	return track, nil
}

func fixed16_16(v uint32) uint16 {
	return uint16(v >> 16)
}

func parseTkhd(source io.ReaderAt, h mp4box.Header, track *TrackInfo) error {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return err
	}
	if len(content) < 4 {
		return mediaerr.New(mediaerr.Truncated, "tkhd")
	}
	version := content[0]
	var pos int
	if version == 1 {
		if len(content) < 32 {
			return mediaerr.New(mediaerr.Truncated, "tkhd v1")
		}
		track.TrackID = binary.BigEndian.Uint32(content[20:24])
		pos = 36 // version+flags(4)+creation(8)+mod(8)+id(4)+reserved(4)+duration(8)=36
	} else {
		if len(content) < 20 {
			return mediaerr.New(mediaerr.Truncated, "tkhd v0")
		}
		track.TrackID = binary.BigEndian.Uint32(content[12:16])
		pos = 24 // version+flags(4)+creation(4)+mod(4)+id(4)+reserved(4)+duration(4)=24
	}
	// reserved(8)+layer(2)+alternate_group(2)+volume(2)+reserved(2)+matrix(36) = 52
	widthOffset := pos + 52
	if widthOffset+8 <= len(content) {
		width := binary.BigEndian.Uint32(content[widthOffset : widthOffset+4])
		height := binary.BigEndian.Uint32(content[widthOffset+4 : widthOffset+8])
		track.Width = fixed16_16(width)
		track.Height = fixed16_16(height)
	}
	return nil
}

func parseMdhd(source io.ReaderAt, h mp4box.Header, track *TrackInfo) error {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return err
	}
	if len(content) < 4 {
		return mediaerr.New(mediaerr.Truncated, "mdhd")
	}
	version := content[0]
	if version == 1 {
		if len(content) < 36 {
			return mediaerr.New(mediaerr.Truncated, "mdhd v1")
		}
		track.Timescale = binary.BigEndian.Uint32(content[20:24])
		track.Duration = binary.BigEndian.Uint64(content[24:32])
	} else {
		if len(content) < 24 {
			return mediaerr.New(mediaerr.Truncated, "mdhd v0")
		}
		track.Timescale = binary.BigEndian.Uint32(content[12:16])
		track.Duration = uint64(binary.BigEndian.Uint32(content[16:20]))
	}
	return nil
}

func parseHdlr(source io.ReaderAt, h mp4box.Header, track *TrackInfo) error {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return err
	}
	if len(content) < 12 {
		return mediaerr.New(mediaerr.Truncated, "hdlr")
	}
	switch string(content[8:12]) {
	case "vide":
		track.Handler = HandlerVideo
	case "soun":
		track.Handler = HandlerAudio
	case "sbtl", "subt", "text":
		track.Handler = HandlerSubtitle
	default:
		track.Handler = HandlerOther
	}
	return nil
}

func parseStbl(source io.ReaderAt, stbl mp4box.Header, track *TrackInfo) error {
	stsd, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "stsd")
	if err != nil {
		return err
	}
	if !ok {
		return mediaerr.New(mediaerr.MissingAtom, "stsd")
	}
	if err := parseStsd(source, stsd, track); err != nil {
		return err
	}

	stts, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "stts")
	if err != nil {
		return err
	}
	if !ok {
		return mediaerr.New(mediaerr.MissingAtom, "stts")
	}
	sttsEntries, err := parseSttsBox(source, stts)
	if err != nil {
		return err
	}

	var cttsEntries []cttsEntry
	if ctts, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "ctts"); err != nil {
		return err
	} else if ok {
		cttsEntries, err = parseCttsBox(source, ctts)
		if err != nil {
			return err
		}
	}

	var syncSamples map[uint32]bool
	if stss, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "stss"); err != nil {
		return err
	} else if ok {
		syncSamples, err = parseStssBox(source, stss)
		if err != nil {
			return err
		}
	}

	stsc, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "stsc")
	if err != nil {
		return err
	}
	if !ok {
		return mediaerr.New(mediaerr.MissingAtom, "stsc")
	}
	stscEntries, err := parseStscBox(source, stsc)
	if err != nil {
		return err
	}

	stsz, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "stsz")
	if err != nil {
		return err
	}
	if !ok {
		return mediaerr.New(mediaerr.MissingAtom, "stsz")
	}
	sizes, err := parseStszBox(source, stsz)
	if err != nil {
		return err
	}

	var chunkOffsets []uint64
	if stco, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "stco"); err != nil {
		return err
	} else if ok {
		chunkOffsets, err = parseStcoBox(source, stco)
		if err != nil {
			return err
		}
	} else if co64, ok, err := mp4box.Find(source, stbl.ContentOffset(), stbl.End(), "co64"); err != nil {
		return err
	} else if ok {
		chunkOffsets, err = parseCo64Box(source, co64)
		if err != nil {
			return err
		}
	} else {
		return mediaerr.New(mediaerr.MissingAtom, "stco/co64")
	}

	samples, err := resolveSamples(sizes, chunkOffsets, stscEntries, sttsEntries, cttsEntries, syncSamples, track.Handler == HandlerVideo)
	if err != nil {
		return err
	}
	track.Samples = samples
	return nil
}

// resolveSamples is the sample-table resolution algorithm: for each
// sample, determine its chunk from the compressed stsc runs,
// determine the chunk's file offset from stco/co64, then place the sample
// after the sizes of all preceding samples in that chunk.
func resolveSamples(sizes []uint32, chunkOffsets []uint64, stsc []stscEntry, stts []sttsEntry, ctts []cttsEntry, syncSamples map[uint32]bool, isVideo bool) ([]SampleEntry, error) {
	n := len(sizes)
	if n == 0 {
		return nil, nil
	}

	samplesPerChunk := expandStsc(stsc, len(chunkOffsets))

	samples := make([]SampleEntry, n)
	sampleIdx := 0
	for chunkIdx := 0; chunkIdx < len(chunkOffsets) && sampleIdx < n; chunkIdx++ {
		offset := chunkOffsets[chunkIdx]
		count := samplesPerChunk[chunkIdx]
		for j := uint32(0); j < count && sampleIdx < n; j++ {
			samples[sampleIdx].Index = sampleIdx
			samples[sampleIdx].Offset = offset
			samples[sampleIdx].Size = sizes[sampleIdx]
			offset += uint64(sizes[sampleIdx])
			sampleIdx++
		}
	}
	if sampleIdx < n {
		return nil, mediaerr.New(mediaerr.Truncated, "stsc/stco do not cover all samples")
	}

	// Decode timestamps from stts deltas, cumulative starting at 0.
	dtsIdx := 0
	var dts int64
	for _, e := range stts {
		for c := uint32(0); c < e.count && dtsIdx < n; c++ {
			samples[dtsIdx].DTS = dts
			dts += int64(e.delta)
			dtsIdx++
		}
	}
	for ; dtsIdx < n; dtsIdx++ {
		samples[dtsIdx].DTS = dts
	}

	// Composition offsets default to zero when ctts is absent.
	if len(ctts) > 0 {
		ctsIdx := 0
		for _, e := range ctts {
			for c := uint32(0); c < e.count && ctsIdx < n; c++ {
				samples[ctsIdx].CTSOffset = e.offset
				ctsIdx++
			}
		}
	}

	// Keyframes: membership in stss, or every sample when stss is absent
	// (the policy for audio, and for sync-point-less video).
	if syncSamples == nil {
		for i := range samples {
			samples[i].IsKeyframe = true
		}
	} else {
		for i := range samples {
			samples[i].IsKeyframe = syncSamples[uint32(i+1)]
		}
	}
	if isVideo && len(samples) > 0 {
		samples[0].IsKeyframe = true
	}

	return samples, nil
}

// expandStsc turns the compressed stsc runs into a per-chunk samples-count
// table of length numChunks. Each run implicitly extends until the next
// run's first_chunk; the final run extends to the last chunk.
func expandStsc(entries []stscEntry, numChunks int) []uint32 {
	out := make([]uint32, numChunks)
	if len(entries) == 0 {
		return out
	}
	for i, e := range entries {
		start := int(e.firstChunk) - 1
		end := numChunks
		if i+1 < len(entries) {
			end = int(entries[i+1].firstChunk) - 1
		}
		if start < 0 {
			start = 0
		}
		if end > numChunks {
			end = numChunks
		}
		for c := start; c < end; c++ {
			out[c] = e.samplesPerChunk
		}
	}
	return out
}
