package hlscache

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/mediahls/internal/fmp4"
	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"github.com/jmylchreest/mediahls/internal/mp4reader"
	"github.com/jmylchreest/mediahls/internal/segmentplan"
	"github.com/jmylchreest/mediahls/internal/source"
)

// Build runs the full preparation pipeline once per media file: parse the
// source file's moov, plan keyframe-aligned segment boundaries,
// serialize the init segment and every media segment's moof/mdat header,
// and assemble the immutable PreparedMedia artifact. Sample payload bytes
// are never read here — only their (offset, length) within the source file
// are recorded, to be streamed at serve time.
func Build(mediaFileID string, identity source.Identity, src *source.File, targetSegmentSeconds float64) (*PreparedMedia, error) {
	meta, err := mp4reader.Parse(src, src.Size())
	if err != nil {
		return nil, err
	}

	boundaries := segmentplan.Plan(meta.Video, meta.Audio, targetSegmentSeconds)
	if len(boundaries) == 0 {
		return nil, mediaerr.New(mediaerr.MissingAtom, "no video samples to segment")
	}

	initSegment, err := fmp4.WriteInitSegment(meta.Video, meta.Audio)
	if err != nil {
		return nil, err
	}

	segments := make([]PrecomputedSegment, len(boundaries))
	var targetDuration uint32
	for i, b := range boundaries {
		videoSamples := meta.Video.Samples[b.VideoStart:b.VideoEnd]
		fragments := []fmp4.TrackFragment{{
			TrackID:   1,
			Timescale: meta.Video.Timescale,
			BaseDTS:   b.StartDTS,
			Samples:   videoSamples,
		}}
		var audioSamples []mp4reader.SampleEntry
		if meta.Audio != nil && b.AudioEnd > b.AudioStart {
			audioSamples = meta.Audio.Samples[b.AudioStart:b.AudioEnd]
			fragments = append(fragments, fmp4.TrackFragment{
				TrackID:   2,
				Timescale: meta.Audio.Timescale,
				BaseDTS:   firstDTS(audioSamples),
				Samples:   audioSamples,
			})
		}

		seg, err := fmp4.WriteMediaSegmentHeader(uint32(i+1), fragments)
		if err != nil {
			return nil, err
		}

		durationSecs := float64(b.Duration) / float64(meta.Video.Timescale)
		if d := uint32(durationSecs + 0.999); d > targetDuration {
			targetDuration = d
		}

		segments[i] = PrecomputedSegment{
			MoofBytes:     seg.Moof,
			MdatHeader:    seg.MdatHeader,
			DataLength:    seg.PayloadSize,
			VideoRanges:   toRanges(videoSamples),
			AudioRanges:   toRanges(audioSamples),
			DurationSecs:  durationSecs,
			StartTimeSecs: float64(b.StartDTS) / float64(meta.Video.Timescale),
		}
	}

	pm := &PreparedMedia{
		MediaFileID:     mediaFileID,
		SourcePath:      identity.Path,
		SourceSize:      identity.Size,
		SourceModUnix:   identity.ModUnix,
		Width:           meta.Video.Width,
		Height:          meta.Video.Height,
		TargetDuration:  targetDuration,
		InitSegment:     initSegment,
		Segments:        segments,
		VideoCodec:      meta.Video.Codec,
	}
	if meta.Audio != nil {
		pm.AudioCodec = meta.Audio.Codec
	}
	pm.DurationSecs = totalDurationSecs(segments)
	pm.VariantPlaylist = RenderPlaylist(pm)

	return pm, nil
}

func firstDTS(samples []mp4reader.SampleEntry) int64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[0].DTS
}

func toRanges(samples []mp4reader.SampleEntry) []DataRange {
	if len(samples) == 0 {
		return nil
	}
	ranges := make([]DataRange, 0, len(samples))
	for _, s := range samples {
		if n := len(ranges); n > 0 {
			last := &ranges[n-1]
			if last.Offset+last.Length == s.Offset {
				last.Length += uint64(s.Size)
				continue
			}
		}
		ranges = append(ranges, DataRange{Offset: s.Offset, Length: uint64(s.Size)})
	}
	return ranges
}

func totalDurationSecs(segments []PrecomputedSegment) float64 {
	var total float64
	for _, s := range segments {
		total += s.DurationSecs
	}
	return total
}

// RenderPlaylist renders the VOD variant playlist text: EXTM3U header,
// version 7, target duration, one EXTINF per segment, and the init-segment
// map entry.
func RenderPlaylist(pm *PreparedMedia) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", pm.TargetDuration)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString("#EXT-X-MAP:URI=\"init.mp4\"\n")
	for i, seg := range pm.Segments {
		fmt.Fprintf(&b, "#EXTINF:%.5f,\n", seg.DurationSecs)
		fmt.Fprintf(&b, "segment_%d.m4s\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
