// Package hlscache persists and serves PreparedMedia: the precomputed init
// segment, per-segment moof/mdat headers, and sample byte ranges that let
// the HLS handler serve segments without ever re-parsing or re-muxing the
// source file.
package hlscache

// DataRange is a half-open byte range [Offset, Offset+Length) within the
// original source file. The HLS handler streams these bytes verbatim as a
// segment's mdat payload.
type DataRange struct {
	Offset uint64
	Length uint64
}

// PrecomputedSegment is everything needed to serve one HLS media segment:
// its fully serialized moof box, the leading bytes of its mdat box, and the
// ranges of the source file to stream as that mdat's payload, in order.
type PrecomputedSegment struct {
	MoofBytes      []byte
	MdatHeader     []byte
	DataLength     uint64
	VideoRanges    []DataRange
	AudioRanges    []DataRange
	DurationSecs   float64
	StartTimeSecs  float64
}

// PreparedMedia is the full precomputed artifact for one source media file:
// enough to serve its HLS playlist, init segment, and every media segment
// by reading only from the original file plus this structure. Immutable
// once constructed; built once per (media_file_id, source-file-content)
// pair.
type PreparedMedia struct {
	MediaFileID   string
	SourcePath    string
	SourceSize    int64
	SourceModUnix int64

	Width          uint16
	Height         uint16
	DurationSecs   float64
	TargetDuration uint32

	InitSegment     []byte
	VariantPlaylist string
	Segments        []PrecomputedSegment

	VideoCodec string
	AudioCodec string
}
