package segmentplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mediahls/internal/mp4reader"
)

// videoWithKeyframesEvery builds a video track of n samples at a fixed
// timescale/spacing, with a keyframe every kfInterval samples (sample 0 is
// always a keyframe).
func videoWithKeyframesEvery(n, kfInterval int, timescale uint32, spacing int64) *mp4reader.TrackInfo {
	samples := make([]mp4reader.SampleEntry, n)
	for i := 0; i < n; i++ {
		samples[i] = mp4reader.SampleEntry{
			Index:      i,
			DTS:        int64(i) * spacing,
			Size:       1000,
			IsKeyframe: i%kfInterval == 0,
		}
	}
	return &mp4reader.TrackInfo{Timescale: timescale, Duration: uint64(n) * uint64(spacing), Samples: samples}
}

func audioTrack(n int, timescale uint32, spacing int64) *mp4reader.TrackInfo {
	samples := make([]mp4reader.SampleEntry, n)
	for i := 0; i < n; i++ {
		samples[i] = mp4reader.SampleEntry{Index: i, DTS: int64(i) * spacing, Size: 200, IsKeyframe: true}
	}
	return &mp4reader.TrackInfo{Timescale: timescale, Samples: samples}
}

func TestPlan_NilVideoReturnsNil(t *testing.T) {
	assert.Nil(t, Plan(nil, nil, 6))
}

func TestPlan_CoversEveryVideoSampleExactlyOnce(t *testing.T) {
	video := videoWithKeyframesEvery(100, 30, 30000, 1000) // keyframe every 1 second, 30fps
	boundaries := Plan(video, nil, 6)
	require.NotEmpty(t, boundaries)

	want := 0
	for i, b := range boundaries {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, want, b.VideoStart, "segment %d starts where the previous ended", i)
		assert.Less(t, b.VideoStart, b.VideoEnd, "segment %d must be non-empty", i)
		want = b.VideoEnd
	}
	assert.Equal(t, len(video.Samples), want, "boundaries must cover every sample with no gap")
}

func TestPlan_SegmentsStartOnKeyframes(t *testing.T) {
	video := videoWithKeyframesEvery(100, 30, 30000, 1000)
	boundaries := Plan(video, nil, 6)
	for _, b := range boundaries {
		assert.True(t, video.Samples[b.VideoStart].IsKeyframe, "segment %d must start on a keyframe", b.Index)
	}
}

func TestPlan_SingleKeyframeAllIntra(t *testing.T) {
	// Every sample is a keyframe; no cut should happen before the target
	// duration elapses relative to the segment's own start, but every
	// boundary still must start on (the universally true) keyframe.
	video := videoWithKeyframesEvery(10, 1, 30000, 1000)
	boundaries := Plan(video, nil, 6)
	require.NotEmpty(t, boundaries)
	assert.Equal(t, 0, boundaries[0].VideoStart)
	assert.Equal(t, len(video.Samples), boundaries[len(boundaries)-1].VideoEnd)
}

func TestPlan_NoKeyframesAfterFirstMeansOneSegment(t *testing.T) {
	samples := make([]mp4reader.SampleEntry, 20)
	for i := range samples {
		samples[i] = mp4reader.SampleEntry{Index: i, DTS: int64(i) * 1000, Size: 1000, IsKeyframe: i == 0}
	}
	video := &mp4reader.TrackInfo{Timescale: 30000, Samples: samples}
	boundaries := Plan(video, nil, 6)
	require.Len(t, boundaries, 1)
	assert.Equal(t, 0, boundaries[0].VideoStart)
	assert.Equal(t, 20, boundaries[0].VideoEnd)
}

func TestPlan_DurationConservation(t *testing.T) {
	video := videoWithKeyframesEvery(150, 30, 30000, 1000)
	boundaries := Plan(video, nil, 6)

	var sumExact int64
	for _, b := range boundaries[:len(boundaries)-1] {
		sumExact += b.Duration
	}
	lastStart := boundaries[len(boundaries)-1].StartDTS
	firstStart := boundaries[0].StartDTS
	assert.Equal(t, lastStart-firstStart, sumExact, "non-trailing segment durations must sum to the span they cover")
}

func TestPlan_TrailingSegmentAlwaysIncluded(t *testing.T) {
	// 65 samples at 1 keyframe/sec, 30fps: target 6s should produce full
	// segments plus a short trailing one rather than dropping the remainder.
	video := videoWithKeyframesEvery(65, 30, 30000, 1000)
	boundaries := Plan(video, nil, 6)
	last := boundaries[len(boundaries)-1]
	assert.Equal(t, 65, last.VideoEnd)
	assert.Greater(t, last.Duration, int64(0))
}

func TestPlan_TrailingDurationFromTrackDuration(t *testing.T) {
	video := videoWithKeyframesEvery(150, 30, 30000, 1000)
	boundaries := Plan(video, nil, 2)
	require.Greater(t, len(boundaries), 1)

	last := boundaries[len(boundaries)-1]
	assert.Equal(t, int64(video.Duration)-last.StartDTS, last.Duration,
		"trailing segment must cover the track's declared duration from its own start")

	var sum int64
	for _, b := range boundaries {
		sum += b.Duration
	}
	assert.Equal(t, int64(video.Duration), sum, "segment durations must sum to the track duration")
}

func TestPlan_TrailingDurationFallsBackWhenTrackDurationMissing(t *testing.T) {
	video := videoWithKeyframesEvery(65, 30, 30000, 1000)
	video.Duration = 0
	boundaries := Plan(video, nil, 6)

	last := boundaries[len(boundaries)-1]
	assert.Greater(t, last.Duration, int64(0))
}

func TestPlan_AudioAssignedByDTSContainment(t *testing.T) {
	video := videoWithKeyframesEvery(180, 30, 30000, 1000) // keyframe every 1s, 6s in all, 30000 ticks/sec
	audio := audioTrack(300, 48000, 960)                   // matches video's wall-clock span
	boundaries := Plan(video, audio, 6)

	require.NotEmpty(t, boundaries)
	total := 0
	for i, b := range boundaries {
		assert.Equal(t, total, b.AudioStart, "segment %d audio start must continue from the previous end", i)
		assert.LessOrEqual(t, b.AudioStart, b.AudioEnd)
		total = b.AudioEnd
	}
	assert.Equal(t, len(audio.Samples), total, "every audio sample must be assigned to some segment")
}

func TestPlan_AudioClampedIntoLastSegmentWhenTrailing(t *testing.T) {
	video := videoWithKeyframesEvery(30, 30, 30000, 1000) // single ~1s segment
	audio := audioTrack(50, 48000, 1600)                  // extends well past the video's last sample
	boundaries := Plan(video, audio, 6)

	require.NotEmpty(t, boundaries)
	last := boundaries[len(boundaries)-1]
	assert.Equal(t, len(audio.Samples), last.AudioEnd)
}

func TestPlan_NoAudioTrackLeavesZeroLengthAudioRanges(t *testing.T) {
	video := videoWithKeyframesEvery(60, 30, 30000, 1000)
	boundaries := Plan(video, nil, 6)
	for _, b := range boundaries {
		assert.Zero(t, b.AudioStart)
		assert.Zero(t, b.AudioEnd)
	}
}

func TestPlan_EmptyAudioTrackLeavesZeroLengthAudioRanges(t *testing.T) {
	video := videoWithKeyframesEvery(60, 30, 30000, 1000)
	emptyAudio := &mp4reader.TrackInfo{Timescale: 48000}
	boundaries := Plan(video, emptyAudio, 6)
	for _, b := range boundaries {
		assert.Zero(t, b.AudioStart)
		assert.Zero(t, b.AudioEnd)
	}
}
