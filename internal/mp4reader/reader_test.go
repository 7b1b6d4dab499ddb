package mp4reader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"github.com/jmylchreest/mediahls/internal/mp4box"
)

func sampleVideoTrack() fixtureTrack {
	return fixtureTrack{
		trackID:     1,
		handlerType: "vide",
		codec:       "avc1",
		timescale:   30000,
		width:       640,
		height:      360,
		sizes:       []uint32{5000, 800, 800, 4800, 800, 800},
		deltas:      []uint32{1000, 1000, 1000, 1000, 1000, 1000},
		syncSamples: []uint32{1, 4},
		codecConfig: []byte{1, 0x64, 0, 0x1f, 0xff, 0xe1, 0, 0},
	}
}

func sampleAudioTrack() fixtureTrack {
	return fixtureTrack{
		trackID:     2,
		handlerType: "soun",
		codec:       "mp4a",
		timescale:   48000,
		sizes:       []uint32{200, 200, 200, 200},
		deltas:      []uint32{1024, 1024, 1024, 1024},
		codecConfig: []byte{0, 1, 2, 3},
	}
}

func TestParse_VideoAndAudioTracks(t *testing.T) {
	data := buildFixtureMP4([]fixtureTrack{sampleVideoTrack(), sampleAudioTrack()})

	meta, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.NotNil(t, meta.Video)
	require.NotNil(t, meta.Audio)

	video := meta.Video
	assert.Equal(t, "avc1", video.Codec)
	assert.Equal(t, uint16(640), video.Width)
	assert.Equal(t, uint16(360), video.Height)
	assert.Equal(t, uint32(30000), video.Timescale)
	require.Len(t, video.Samples, 6)

	// DTS is cumulative from the stts deltas, starting at zero.
	wantDTS := []int64{0, 1000, 2000, 3000, 4000, 5000}
	for i, s := range video.Samples {
		assert.Equal(t, wantDTS[i], s.DTS, "sample %d dts", i)
		assert.Equal(t, i, s.Index)
	}

	// Keyframes per stss: 1-based indices {1, 4} -> 0-based {0, 3}.
	wantKeyframe := []bool{true, false, false, true, false, false}
	for i, s := range video.Samples {
		assert.Equal(t, wantKeyframe[i], s.IsKeyframe, "sample %d keyframe", i)
	}

	// Offsets are chunk-base plus the running sum of preceding sample sizes
	// within that single chunk.
	sizes := []uint32{5000, 800, 800, 4800, 800, 800}
	var want uint64
	base := video.Samples[0].Offset
	for i, s := range video.Samples {
		assert.Equal(t, base+want, s.Offset, "sample %d offset", i)
		assert.Equal(t, sizes[i], s.Size)
		want += uint64(sizes[i])
	}

	audio := meta.Audio
	assert.Equal(t, "mp4a", audio.Codec)
	require.Len(t, audio.Samples, 4)
	assert.True(t, audio.Samples[0].IsKeyframe, "audio has no stss; every sample is a keyframe")
	assert.True(t, audio.Samples[3].IsKeyframe)
}

func TestParse_FirstVideoSampleIsAlwaysKeyframe(t *testing.T) {
	video := sampleVideoTrack()
	video.syncSamples = nil // no stss at all
	data := buildFixtureMP4([]fixtureTrack{video})

	meta, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.True(t, meta.Video.Samples[0].IsKeyframe)
}

func TestParse_CTTSSignedOffsets(t *testing.T) {
	video := sampleVideoTrack()
	video.ctts = []int32{0, 2000, -1000, 0, 3000, -2000}
	data := buildFixtureMP4([]fixtureTrack{video})

	meta, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	want := []int32{0, 2000, -1000, 0, 3000, -2000}
	for i, s := range meta.Video.Samples {
		assert.Equal(t, want[i], s.CTSOffset, "sample %d cts offset", i)
	}
}

func TestParse_NoCTTSMeansZeroOffsets(t *testing.T) {
	video := sampleVideoTrack()
	video.ctts = nil
	data := buildFixtureMP4([]fixtureTrack{video})

	meta, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, s := range meta.Video.Samples {
		assert.Zero(t, s.CTSOffset)
	}
}

func TestParse_NoFtyp(t *testing.T) {
	data := buildFixtureMP4([]fixtureTrack{sampleVideoTrack()})
	// Drop the leading ftyp box entirely by slicing past its declared size.
	ftypSize := bytesBE(data[0:4])
	withoutFtyp := data[ftypSize:]

	_, err := Parse(bytes.NewReader(withoutFtyp), int64(len(withoutFtyp)))
	require.Error(t, err)
	assert.Equal(t, mediaerr.InvalidContainer, mustKind(t, err))
}

func TestParse_BadMajorBrand(t *testing.T) {
	video := sampleVideoTrack()
	data := buildFixtureMP4([]fixtureTrack{video})
	corrupted := append([]byte{}, data...)
	copy(corrupted[8:12], "zzzz") // major_brand
	// All four compatible brands: the validator accepts any recognized brand
	// anywhere in the list.
	copy(corrupted[16:20], "zzzz")
	copy(corrupted[20:24], "zzzz")
	copy(corrupted[24:28], "zzzz")
	copy(corrupted[28:32], "zzzz")

	_, err := Parse(bytes.NewReader(corrupted), int64(len(corrupted)))
	require.Error(t, err)
	assert.Equal(t, mediaerr.InvalidContainer, mustKind(t, err))
}

func TestParse_UnsupportedCodec(t *testing.T) {
	video := sampleVideoTrack()
	video.codec = "av01"
	data := buildFixtureMP4([]fixtureTrack{video})

	_, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.Equal(t, mediaerr.UnsupportedCodec, mustKind(t, err))
}

func TestParse_MissingMoov(t *testing.T) {
	w := []byte{}
	// A file with only a valid ftyp and no moov.
	data := buildFixtureMP4([]fixtureTrack{sampleVideoTrack()})
	ftypSize := bytesBE(data[0:4])
	onlyFtyp := append(w, data[:ftypSize]...)

	_, err := Parse(bytes.NewReader(onlyFtyp), int64(len(onlyFtyp)))
	require.Error(t, err)
	assert.Equal(t, mediaerr.MissingAtom, mustKind(t, err))
}

func TestParse_Truncated(t *testing.T) {
	data := buildFixtureMP4([]fixtureTrack{sampleVideoTrack()})
	truncated := data[:len(data)-20]

	_, err := Parse(bytes.NewReader(truncated), int64(len(truncated)))
	require.Error(t, err)
	assert.Equal(t, mediaerr.Truncated, mustKind(t, err))
}

func TestParse_SampleBeyondFileEndIsRejected(t *testing.T) {
	data := buildFixtureMP4([]fixtureTrack{sampleVideoTrack()})

	// Shrink the trailing mdat's declared size and cut the file to match, so
	// every box still parses but the last samples' chunk offsets now point
	// past EOF.
	const cut = 1000
	top, err := mp4box.Children(bytes.NewReader(data), 0, uint64(len(data)))
	require.NoError(t, err)
	var mdat mp4box.Header
	for _, h := range top {
		if h.Type == "mdat" {
			mdat = h
		}
	}
	require.NotZero(t, mdat.Size)
	binary.BigEndian.PutUint32(data[mdat.Offset:mdat.Offset+4], uint32(mdat.Size-cut))
	data = data[:len(data)-cut]

	_, err = Parse(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.Equal(t, mediaerr.OffsetOutOfBounds, mustKind(t, err))
}

func TestParse_AudioOnlyHasNoVideoTrack(t *testing.T) {
	data := buildFixtureMP4([]fixtureTrack{sampleAudioTrack()})
	_, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.Equal(t, mediaerr.MissingAtom, mustKind(t, err))
}

func bytesBE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func mustKind(t *testing.T, err error) mediaerr.Kind {
	t.Helper()
	kind, ok := mediaerr.KindOf(err)
	require.True(t, ok, "expected a *mediaerr.Error, got %T", err)
	return kind
}
