// Package segmentplan computes keyframe-aligned HLS segment boundaries from
// a video track's resolved sample table, then assigns the companion audio
// track's samples to those same segments by decode-timestamp containment.
package segmentplan

import "github.com/jmylchreest/mediahls/internal/mp4reader"

// Boundary is one planned segment's sample-index range, expressed as
// half-open [VideoStart, VideoEnd) into the video track's sample table and
// [AudioStart, AudioEnd) into the audio track's (zero-length when there is
// no audio track).
type Boundary struct {
	Index      int
	VideoStart int
	VideoEnd   int
	AudioStart int
	AudioEnd   int
	// StartDTS and Duration are expressed in the video track's timescale.
	StartDTS int64
	Duration int64
}

// Plan walks the video track's samples in decode order, starting a new
// segment at every keyframe once the running duration since the current
// segment's start has reached targetSeconds. The very first sample always
// starts segment 0, and a trailing partial segment is always emitted.
func Plan(video *mp4reader.TrackInfo, audio *mp4reader.TrackInfo, targetSeconds float64) []Boundary {
	if video == nil || len(video.Samples) == 0 {
		return nil
	}
	targetTicks := int64(targetSeconds * float64(video.Timescale))
	if targetTicks <= 0 {
		targetTicks = 1
	}

	samples := video.Samples
	var boundaries []Boundary
	segStart := 0
	segStartDTS := samples[0].DTS

	for i := 1; i < len(samples); i++ {
		if !samples[i].IsKeyframe {
			continue
		}
		elapsed := samples[i].DTS - segStartDTS
		if elapsed < targetTicks {
			continue
		}
		boundaries = append(boundaries, Boundary{
			Index:      len(boundaries),
			VideoStart: segStart,
			VideoEnd:   i,
			StartDTS:   segStartDTS,
			Duration:   samples[i].DTS - segStartDTS,
		})
		segStart = i
		segStartDTS = samples[i].DTS
	}

	boundaries = append(boundaries, Boundary{
		Index:      len(boundaries),
		VideoStart: segStart,
		VideoEnd:   len(samples),
		StartDTS:   segStartDTS,
	})

	// The trailing segment's duration is the track's declared duration
	// minus the segment's start time. Fall back to the average sample
	// spacing when mdhd carried no duration (or a bogus one that ends
	// before the last sample's DTS).
	if n := len(boundaries); n > 0 {
		b := boundaries[n-1]
		switch {
		case video.Duration > uint64(samples[b.VideoEnd-1].DTS):
			boundaries[n-1].Duration = int64(video.Duration) - b.StartDTS
		case b.VideoEnd-b.VideoStart > 1:
			span := samples[b.VideoEnd-1].DTS - samples[b.VideoStart].DTS
			perSample := span / int64(b.VideoEnd-b.VideoStart-1)
			boundaries[n-1].Duration = span + perSample
		default:
			boundaries[n-1].Duration = targetTicks
		}
	}

	if audio != nil && len(audio.Samples) > 0 {
		assignAudio(boundaries, samples, audio.Samples, video.Timescale, audio.Timescale)
	}

	return boundaries
}

// assignAudio places each audio sample into the video segment whose decode
// time range contains it, converting between the two tracks' timescales.
// Audio samples before the first segment's start or after the last
// segment's end are clamped into the nearest segment, since HLS requires
// every audio sample to belong to some segment.
func assignAudio(boundaries []Boundary, videoSamples []mp4reader.SampleEntry, audioSamples []mp4reader.SampleEntry, videoTimescale, audioTimescale uint32) {
	if len(boundaries) == 0 {
		return
	}
	toVideoTicks := func(audioDTS int64) int64 {
		if audioTimescale == 0 {
			return audioDTS
		}
		return audioDTS * int64(videoTimescale) / int64(audioTimescale)
	}

	segIdx := 0
	segEndDTS := func(i int) int64 {
		b := boundaries[i]
		if b.VideoEnd < len(videoSamples) {
			return videoSamples[b.VideoEnd].DTS
		}
		return int64(1) << 62 // last segment absorbs everything remaining
	}

	boundaries[0].AudioStart = 0
	for i, s := range audioSamples {
		dts := toVideoTicks(s.DTS)
		for segIdx < len(boundaries)-1 && dts >= segEndDTS(segIdx) {
			boundaries[segIdx].AudioEnd = i
			segIdx++
			boundaries[segIdx].AudioStart = i
		}
	}
	boundaries[len(boundaries)-1].AudioEnd = len(audioSamples)
}
