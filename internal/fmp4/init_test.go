package fmp4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mediahls/internal/mp4box"
	"github.com/jmylchreest/mediahls/internal/mp4reader"
)

func videoTrackInfo() *mp4reader.TrackInfo {
	return &mp4reader.TrackInfo{
		TrackID:     1,
		Handler:     mp4reader.HandlerVideo,
		Timescale:   30000,
		Codec:       "avc1",
		CodecConfig: []byte{1, 0x64, 0, 0x1f, 0xff, 0xe1, 0, 0},
		Width:       1280,
		Height:      720,
	}
}

func audioTrackInfo() *mp4reader.TrackInfo {
	return &mp4reader.TrackInfo{
		TrackID:      2,
		Handler:      mp4reader.HandlerAudio,
		Timescale:    48000,
		Codec:        "mp4a",
		CodecConfig:  []byte{0xAA, 0xBB, 0xCC},
		ChannelCount: 2,
		SampleRate:   48000,
	}
}

func TestWriteInitSegment_RequiresVideo(t *testing.T) {
	_, err := WriteInitSegment(nil, audioTrackInfo())
	require.Error(t, err)
}

func TestWriteInitSegment_StructureVideoOnly(t *testing.T) {
	data, err := WriteInitSegment(videoTrackInfo(), nil)
	require.NoError(t, err)

	top, err := mp4box.Children(byteSource(data), 0, uint64(len(data)))
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "ftyp", top[0].Type)
	assert.Equal(t, "moov", top[1].Type)

	moov := top[1]
	children, err := mp4box.Children(byteSource(data), moov.ContentOffset(), moov.End())
	require.NoError(t, err)

	var sawTrak, sawMvex bool
	for _, c := range children {
		switch c.Type {
		case "trak":
			sawTrak = true
		case "mvex":
			sawMvex = true
			mvexChildren, err := mp4box.Children(byteSource(data), c.ContentOffset(), c.End())
			require.NoError(t, err)
			require.Len(t, mvexChildren, 1, "one trex for the one track")
			assert.Equal(t, "trex", mvexChildren[0].Type)
		}
	}
	assert.True(t, sawTrak)
	assert.True(t, sawMvex)
}

func TestWriteInitSegment_StructureVideoAndAudio(t *testing.T) {
	data, err := WriteInitSegment(videoTrackInfo(), audioTrackInfo())
	require.NoError(t, err)

	top, err := mp4box.Children(byteSource(data), 0, uint64(len(data)))
	require.NoError(t, err)
	moov := top[1]

	children, err := mp4box.Children(byteSource(data), moov.ContentOffset(), moov.End())
	require.NoError(t, err)

	trakCount := 0
	var mvex mp4box.Header
	for _, c := range children {
		if c.Type == "trak" {
			trakCount++
		}
		if c.Type == "mvex" {
			mvex = c
		}
	}
	assert.Equal(t, 2, trakCount)

	trexes, err := mp4box.Children(byteSource(data), mvex.ContentOffset(), mvex.End())
	require.NoError(t, err)
	require.Len(t, trexes, 2)
}

func TestWriteInitSegment_AvcCPreservedVerbatim(t *testing.T) {
	video := videoTrackInfo()
	data, err := WriteInitSegment(video, nil)
	require.NoError(t, err)

	avcC := findNested(t, data, "moov", "trak", "mdia", "minf", "stbl", "stsd")
	entry, ok, err := mp4box.Find(byteSource(data), avcC.ContentOffset()+8, avcC.End(), video.Codec)
	require.NoError(t, err)
	require.True(t, ok)

	cfg, ok, err := mp4box.Find(byteSource(data), entry.Offset+86, entry.End(), "avcC")
	require.NoError(t, err)
	require.True(t, ok, "avcC must start exactly at the 86-byte VisualSampleEntry boundary")

	content, err := mp4box.ReadContent(byteSource(data), cfg)
	require.NoError(t, err)
	assert.Equal(t, video.CodecConfig, content)
}

func TestWriteInitSegment_EsdsPreservedVerbatim(t *testing.T) {
	audio := audioTrackInfo()
	data, err := WriteInitSegment(videoTrackInfo(), audio)
	require.NoError(t, err)

	stsd := findNestedTrack(t, data, 1, "mdia", "minf", "stbl", "stsd")
	entry, ok, err := mp4box.Find(byteSource(data), stsd.ContentOffset()+8, stsd.End(), audio.Codec)
	require.NoError(t, err)
	require.True(t, ok)

	cfg, ok, err := mp4box.Find(byteSource(data), entry.Offset+36, entry.End(), "esds")
	require.NoError(t, err)
	require.True(t, ok, "esds must start exactly at the 36-byte AudioSampleEntry boundary")

	content, err := mp4box.ReadContent(byteSource(data), cfg)
	require.NoError(t, err)
	assert.Equal(t, audio.CodecConfig, content)
}

func TestWriteInitSegment_EmptySampleTables(t *testing.T) {
	data, err := WriteInitSegment(videoTrackInfo(), nil)
	require.NoError(t, err)

	stbl := findNested(t, data, "moov", "trak", "mdia", "minf", "stbl")
	for _, boxType := range []string{"stts", "stsc", "stco"} {
		h, ok, err := mp4box.Find(byteSource(data), stbl.ContentOffset(), stbl.End(), boxType)
		require.NoError(t, err)
		require.True(t, ok)
		content, err := mp4box.ReadContent(byteSource(data), h)
		require.NoError(t, err)
		entryCount := content[len(content)-1] // last byte of a zero entry_count is 0 regardless of endianness
		assert.Zero(t, entryCount, "%s must declare zero entries", boxType)
	}
}

// findNested walks a chain of first-matching child box types starting from
// the top-level box sequence.
func findNested(t *testing.T, data []byte, path ...string) mp4box.Header {
	t.Helper()
	start, end := uint64(0), uint64(len(data))
	var h mp4box.Header
	for i, name := range path {
		found, ok, err := mp4box.Find(byteSource(data), start, end, name)
		require.NoError(t, err)
		require.True(t, ok, "missing %s at path index %d", name, i)
		h = found
		start, end = h.ContentOffset(), h.End()
	}
	return h
}

// findNestedTrack finds the Nth trak (1-based) then walks path under it.
func findNestedTrack(t *testing.T, data []byte, trakIndex int, path ...string) mp4box.Header {
	t.Helper()
	moov := findNested(t, data, "moov")
	children, err := mp4box.Children(byteSource(data), moov.ContentOffset(), moov.End())
	require.NoError(t, err)

	count := 0
	var trak mp4box.Header
	for _, c := range children {
		if c.Type == "trak" {
			count++
			if count == trakIndex {
				trak = c
				break
			}
		}
	}
	require.Equal(t, trakIndex, count, "expected at least %d trak boxes", trakIndex)

	start, end := trak.ContentOffset(), trak.End()
	h := trak
	for _, name := range path {
		found, ok, err := mp4box.Find(byteSource(data), start, end, name)
		require.NoError(t, err)
		require.True(t, ok, "missing %s under trak %d", name, trakIndex)
		h = found
		start, end = h.ContentOffset(), h.End()
	}
	return h
}
