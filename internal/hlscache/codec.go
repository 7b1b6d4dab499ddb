package hlscache

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/jmylchreest/mediahls/internal/mediaerr"
)

func floatBits(v float64) uint64       { return math.Float64bits(v) }
func floatFromBits(v uint64) float64   { return math.Float64frombits(v) }

// blobFormatV1 is the only encoding version this package writes. A reader
// encountering an unrecognized leading byte treats the blob as corrupt,
// which the cache maps to a rebuild rather than a hard failure.
const blobFormatV1 = 0x01

// Encode serializes a PreparedMedia into a stable binary format: a format
// byte followed by a self-describing sequence of
// length-prefixed strings/vectors and little-endian fixed-width integers.
// The encoding never touches the source file; everything written here was
// already resolved at build time.
func Encode(pm *PreparedMedia) []byte {
	var buf bytes.Buffer
	buf.WriteByte(blobFormatV1)

	writeString(&buf, pm.MediaFileID)
	writeString(&buf, pm.SourcePath)
	writeInt64(&buf, pm.SourceSize)
	writeInt64(&buf, pm.SourceModUnix)
	writeUint16(&buf, pm.Width)
	writeUint16(&buf, pm.Height)
	writeFloat64(&buf, pm.DurationSecs)
	writeUint32(&buf, pm.TargetDuration)
	writeBytes(&buf, pm.InitSegment)
	writeString(&buf, pm.VariantPlaylist)
	writeString(&buf, pm.VideoCodec)
	writeString(&buf, pm.AudioCodec)

	writeUint32(&buf, uint32(len(pm.Segments)))
	for _, seg := range pm.Segments {
		writeBytes(&buf, seg.MoofBytes)
		writeBytes(&buf, seg.MdatHeader)
		writeUint64(&buf, seg.DataLength)
		writeFloat64(&buf, seg.DurationSecs)
		writeFloat64(&buf, seg.StartTimeSecs)
		writeRanges(&buf, seg.VideoRanges)
		writeRanges(&buf, seg.AudioRanges)
	}

	return buf.Bytes()
}

// Decode reverses Encode. It returns a BlobDecodeFailed error on any
// malformed or truncated input, including an unrecognized format byte; the
// cache treats that as a transparent cache miss and rebuilds.
func Decode(data []byte) (*PreparedMedia, error) {
	r := bytes.NewReader(data)
	format, err := r.ReadByte()
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.BlobDecodeFailed, "empty blob", err)
	}
	if format != blobFormatV1 {
		return nil, mediaerr.New(mediaerr.BlobDecodeFailed, "unrecognized blob format byte")
	}

	pm := &PreparedMedia{}
	var dec decodeErr

	pm.MediaFileID = dec.string(r)
	pm.SourcePath = dec.string(r)
	pm.SourceSize = dec.int64(r)
	pm.SourceModUnix = dec.int64(r)
	pm.Width = dec.uint16(r)
	pm.Height = dec.uint16(r)
	pm.DurationSecs = dec.float64(r)
	pm.TargetDuration = dec.uint32(r)
	pm.InitSegment = dec.bytes(r)
	pm.VariantPlaylist = dec.string(r)
	pm.VideoCodec = dec.string(r)
	pm.AudioCodec = dec.string(r)

	count := dec.uint32(r)
	if dec.err != nil {
		return nil, mediaerr.Wrap(mediaerr.BlobDecodeFailed, "decoding blob header", dec.err)
	}

	segments := make([]PrecomputedSegment, count)
	for i := range segments {
		segments[i].MoofBytes = dec.bytes(r)
		segments[i].MdatHeader = dec.bytes(r)
		segments[i].DataLength = dec.uint64(r)
		segments[i].DurationSecs = dec.float64(r)
		segments[i].StartTimeSecs = dec.float64(r)
		segments[i].VideoRanges = dec.ranges(r)
		segments[i].AudioRanges = dec.ranges(r)
	}
	pm.Segments = segments

	if dec.err != nil {
		return nil, mediaerr.Wrap(mediaerr.BlobDecodeFailed, "decoding blob segments", dec.err)
	}

	return pm, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	writeUint64(buf, floatBits(v))
}

func writeRanges(buf *bytes.Buffer, ranges []DataRange) {
	writeUint32(buf, uint32(len(ranges)))
	for _, r := range ranges {
		writeUint64(buf, r.Offset)
		writeUint64(buf, r.Length)
	}
}

// decodeErr accumulates the first error encountered across a sequence of
// field reads, so callers can decode a whole record and check once at the
// end rather than threading an error return through every field.
type decodeErr struct {
	err error
}

func (d *decodeErr) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decodeErr) uint16(r io.Reader) uint16 {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint16(b[:])
}

func (d *decodeErr) uint32(r io.Reader) uint32 {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (d *decodeErr) uint64(r io.Reader) uint64 {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		d.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (d *decodeErr) int64(r io.Reader) int64 {
	return int64(d.uint64(r))
}

func (d *decodeErr) float64(r io.Reader) float64 {
	return floatFromBits(d.uint64(r))
}

func (d *decodeErr) bytes(r io.Reader) []byte {
	n := d.uint32(r)
	if d.err != nil || n == 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		d.fail(err)
		return nil
	}
	return buf
}

func (d *decodeErr) string(r io.Reader) string {
	return string(d.bytes(r))
}

func (d *decodeErr) ranges(r io.Reader) []DataRange {
	n := d.uint32(r)
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]DataRange, n)
	for i := range out {
		out[i].Offset = d.uint64(r)
		out[i].Length = d.uint64(r)
	}
	return out
}
