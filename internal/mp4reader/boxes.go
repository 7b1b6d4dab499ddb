package mp4reader

import (
	"encoding/binary"

	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"github.com/jmylchreest/mediahls/internal/mp4box"
	"io"
)

// parseStsd extracts the first sample description entry's codec fourCC,
// its configuration record (avcC/hvcC/esds payload), and the width/height or
// sample-rate/channel-count from the entry's own fixed fields. Video
// dimensions read here replace those taken from tkhd; when they are still
// zero, the SPS in avcC/hvcC supplies them.
func parseStsd(source io.ReaderAt, h mp4box.Header, track *TrackInfo) error {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return err
	}
	if len(content) < 8 {
		return mediaerr.New(mediaerr.Truncated, "stsd")
	}
	entryCount := binary.BigEndian.Uint32(content[4:8])
	if entryCount == 0 {
		return mediaerr.New(mediaerr.MissingAtom, "stsd sample entry")
	}

	// The first sample entry begins at offset 8 within stsd's content and is
	// itself framed like a box: size(4) + fourCC(4) + entry-specific fields.
	if len(content) < 16 {
		return mediaerr.New(mediaerr.Truncated, "stsd sample entry header")
	}
	entrySize := binary.BigEndian.Uint32(content[8:12])
	codec := string(content[12:16])
	if uint64(8+entrySize) > uint64(len(content)) {
		return mediaerr.New(mediaerr.Truncated, "stsd sample entry exceeds box")
	}
	entry := content[8 : 8+entrySize]
	track.Codec = codec

	switch track.Handler {
	case HandlerVideo:
		// box header(8) + SampleEntry reserved+data_reference_index(8) +
		// VisualSampleEntry fixed fields(70) = 86 bytes before any child
		// boxes (e.g. avcC/hvcC). Width/height live at a fixed offset
		// within those fixed fields.
		const visualFixedLen = 86
		if len(entry) >= visualFixedLen {
			track.Width = binary.BigEndian.Uint16(entry[32:34])
			track.Height = binary.BigEndian.Uint16(entry[34:36])
		}
		if len(entry) > visualFixedLen {
			children, err := mp4box.Children(inMemorySource(entry), uint64(visualFixedLen), uint64(len(entry)))
			if err == nil {
				for _, c := range children {
					if c.Type == "avcC" || c.Type == "hvcC" {
						cfg, err := mp4box.ReadContent(inMemorySource(entry), c)
						if err == nil {
							track.CodecConfig = cfg
						}
						break
					}
				}
			}
		}
		if track.Width == 0 || track.Height == 0 {
			if w, h, ok := fallbackDimensions(codec, track.CodecConfig); ok {
				track.Width, track.Height = w, h
			}
		}
	case HandlerAudio:
		// box header(8) + SampleEntry reserved+data_reference_index(8) +
		// AudioSampleEntry fixed fields(20) = 36 bytes.
		const audioFixedLen = 36
		if len(entry) >= audioFixedLen {
			track.ChannelCount = binary.BigEndian.Uint16(entry[24:26])
			track.SampleRate = uint32(fixed16_16(binary.BigEndian.Uint32(entry[32:36])))
		}
		if len(entry) > audioFixedLen {
			children, err := mp4box.Children(inMemorySource(entry), uint64(audioFixedLen), uint64(len(entry)))
			if err == nil {
				for _, c := range children {
					if c.Type == "esds" {
						cfg, err := mp4box.ReadContent(inMemorySource(entry), c)
						if err == nil {
							track.CodecConfig = cfg
						}
						break
					}
				}
			}
		}
	}

	return nil
}

func fallbackDimensions(codec string, config []byte) (uint16, uint16, bool) {
	switch codec {
	case "avc1", "avc3":
		return avcDimensions(config)
	case "hvc1", "hev1":
		return hevcDimensions(config)
	default:
		return 0, 0, false
	}
}

// inMemorySource adapts an in-memory byte slice to io.ReaderAt so the
// generic mp4box walker can be reused on sample-entry child boxes, which
// are always small enough to hold entirely in memory already.
type inMemorySource []byte

func (s inMemorySource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s)) {
		return 0, io.EOF
	}
	n := copy(p, s[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func parseSttsBox(source io.ReaderAt, h mp4box.Header) ([]sttsEntry, error) {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return nil, err
	}
	if len(content) < 8 {
		return nil, mediaerr.New(mediaerr.Truncated, "stts")
	}
	count := binary.BigEndian.Uint32(content[4:8])
	need := 8 + int(count)*8
	if len(content) < need {
		return nil, mediaerr.New(mediaerr.Truncated, "stts entries")
	}
	out := make([]sttsEntry, count)
	pos := 8
	for i := range out {
		out[i].count = binary.BigEndian.Uint32(content[pos : pos+4])
		out[i].delta = binary.BigEndian.Uint32(content[pos+4 : pos+8])
		pos += 8
	}
	return out, nil
}

func parseCttsBox(source io.ReaderAt, h mp4box.Header) ([]cttsEntry, error) {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return nil, err
	}
	if len(content) < 8 {
		return nil, mediaerr.New(mediaerr.Truncated, "ctts")
	}
	version := content[0]
	count := binary.BigEndian.Uint32(content[4:8])
	need := 8 + int(count)*8
	if len(content) < need {
		return nil, mediaerr.New(mediaerr.Truncated, "ctts entries")
	}
	out := make([]cttsEntry, count)
	pos := 8
	for i := range out {
		out[i].count = binary.BigEndian.Uint32(content[pos : pos+4])
		raw := binary.BigEndian.Uint32(content[pos+4 : pos+8])
		if version == 1 {
			out[i].offset = int32(raw)
		} else {
			// Version 0 offsets are unsigned per 14496-12 but every real
			// encoder writes small values that fit signed range; treat
			// identically so B-frame reordering works either way.
			out[i].offset = int32(raw)
		}
		pos += 8
	}
	return out, nil
}

func parseStssBox(source io.ReaderAt, h mp4box.Header) (map[uint32]bool, error) {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return nil, err
	}
	if len(content) < 8 {
		return nil, mediaerr.New(mediaerr.Truncated, "stss")
	}
	count := binary.BigEndian.Uint32(content[4:8])
	need := 8 + int(count)*4
	if len(content) < need {
		return nil, mediaerr.New(mediaerr.Truncated, "stss entries")
	}
	out := make(map[uint32]bool, count)
	pos := 8
	for i := uint32(0); i < count; i++ {
		out[binary.BigEndian.Uint32(content[pos:pos+4])] = true
		pos += 4
	}
	return out, nil
}

func parseStscBox(source io.ReaderAt, h mp4box.Header) ([]stscEntry, error) {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return nil, err
	}
	if len(content) < 8 {
		return nil, mediaerr.New(mediaerr.Truncated, "stsc")
	}
	count := binary.BigEndian.Uint32(content[4:8])
	need := 8 + int(count)*12
	if len(content) < need {
		return nil, mediaerr.New(mediaerr.Truncated, "stsc entries")
	}
	out := make([]stscEntry, count)
	pos := 8
	for i := range out {
		out[i].firstChunk = binary.BigEndian.Uint32(content[pos : pos+4])
		out[i].samplesPerChunk = binary.BigEndian.Uint32(content[pos+4 : pos+8])
		out[i].sampleDescIndex = binary.BigEndian.Uint32(content[pos+8 : pos+12])
		pos += 12
	}
	return out, nil
}

func parseStszBox(source io.ReaderAt, h mp4box.Header) ([]uint32, error) {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return nil, err
	}
	if len(content) < 12 {
		return nil, mediaerr.New(mediaerr.Truncated, "stsz")
	}
	sampleSize := binary.BigEndian.Uint32(content[4:8])
	count := binary.BigEndian.Uint32(content[8:12])
	out := make([]uint32, count)
	if sampleSize != 0 {
		for i := range out {
			out[i] = sampleSize
		}
		return out, nil
	}
	need := 12 + int(count)*4
	if len(content) < need {
		return nil, mediaerr.New(mediaerr.Truncated, "stsz entries")
	}
	pos := 12
	for i := range out {
		out[i] = binary.BigEndian.Uint32(content[pos : pos+4])
		pos += 4
	}
	return out, nil
}

func parseStcoBox(source io.ReaderAt, h mp4box.Header) ([]uint64, error) {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return nil, err
	}
	if len(content) < 8 {
		return nil, mediaerr.New(mediaerr.Truncated, "stco")
	}
	count := binary.BigEndian.Uint32(content[4:8])
	need := 8 + int(count)*4
	if len(content) < need {
		return nil, mediaerr.New(mediaerr.Truncated, "stco entries")
	}
	out := make([]uint64, count)
	pos := 8
	for i := range out {
		out[i] = uint64(binary.BigEndian.Uint32(content[pos : pos+4]))
		pos += 4
	}
	return out, nil
}

func parseCo64Box(source io.ReaderAt, h mp4box.Header) ([]uint64, error) {
	content, err := mp4box.ReadContent(source, h)
	if err != nil {
		return nil, err
	}
	if len(content) < 8 {
		return nil, mediaerr.New(mediaerr.Truncated, "co64")
	}
	count := binary.BigEndian.Uint32(content[4:8])
	need := 8 + int(count)*8
	if len(content) < need {
		return nil, mediaerr.New(mediaerr.Truncated, "co64 entries")
	}
	out := make([]uint64, count)
	pos := 8
	for i := range out {
		out[i] = binary.BigEndian.Uint64(content[pos : pos+8])
		pos += 8
	}
	return out, nil
}
