// Package mp4box implements the generic ISO-BMFF box-header walker shared by
// the MP4 reader and the fMP4 serializer: reading a (size, type, payload)
// header and its children, and writing one back out once a box's content is
// known.
package mp4box

import (
	"encoding/binary"
	"io"

	"github.com/jmylchreest/mediahls/internal/mediaerr"
)

// HeaderSize8 and HeaderSize16 are the two header layouts a box may use:
// the ordinary 32-bit size field, or the sentinel value 1 followed by a
// 64-bit extended size.
const (
	HeaderSize8  = 8
	HeaderSize16 = 16
)

// Header describes one box's position and framing within its source.
type Header struct {
	Type string
	// Size is the box's total size (header + payload) in bytes.
	Size uint64
	// HeaderSize is 8 or 16, depending on whether the extended-size form was used.
	HeaderSize int
	// Offset is the byte offset of the header's first byte within the source.
	Offset uint64
}

// ContentOffset returns the offset of the box's payload (immediately after
// the header).
func (h Header) ContentOffset() uint64 {
	return h.Offset + uint64(h.HeaderSize)
}

// ContentSize returns the payload length.
func (h Header) ContentSize() uint64 {
	return h.Size - uint64(h.HeaderSize)
}

// End returns the offset one past the box's last byte.
func (h Header) End() uint64 {
	return h.Offset + h.Size
}

// ReadHeader reads a single box header at offset, validating that its
// declared size does not exceed limit (the end of the enclosing box or
// source). limit of 0 disables the check.
func ReadHeader(r io.ReaderAt, offset uint64, limit uint64) (Header, error) {
	var buf [16]byte
	n, err := r.ReadAt(buf[:8], int64(offset))
	if err != nil && n < 8 {
		return Header{}, mediaerr.Wrap(mediaerr.Truncated, "reading box header", err)
	}

	size64 := uint64(binary.BigEndian.Uint32(buf[0:4]))
	boxType := string(buf[4:8])
	headerSize := HeaderSize8

	switch size64 {
	case 1:
		if _, err := r.ReadAt(buf[8:16], int64(offset)+8); err != nil {
			return Header{}, mediaerr.Wrap(mediaerr.Truncated, "reading extended box size", err)
		}
		size64 = binary.BigEndian.Uint64(buf[8:16])
		headerSize = HeaderSize16
	case 0:
		// A size of 0 means "extends to the end of the containing box or
		// file" (only valid for the last box of its sequence). Resolve it
		// against limit when one was given.
		if limit > offset {
			size64 = limit - offset
		}
	}

	h := Header{Type: boxType, Size: size64, HeaderSize: headerSize, Offset: offset}

	if h.Size < uint64(h.HeaderSize) {
		return Header{}, mediaerr.New(mediaerr.Truncated, "box size smaller than its own header: "+boxType)
	}
	if limit != 0 && h.End() > limit {
		return Header{}, mediaerr.New(mediaerr.Truncated, "box exceeds parent bounds: "+boxType)
	}

	return h, nil
}

// Children walks every top-level box in [start, end) and returns their
// headers in file order.
func Children(r io.ReaderAt, start, end uint64) ([]Header, error) {
	var out []Header
	offset := start
	for offset < end {
		h, err := ReadHeader(r, offset, end)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
		offset = h.End()
	}
	return out, nil
}

// Find returns the first child box of the given type within [start, end).
func Find(r io.ReaderAt, start, end uint64, boxType string) (Header, bool, error) {
	children, err := Children(r, start, end)
	if err != nil {
		return Header{}, false, err
	}
	for _, h := range children {
		if h.Type == boxType {
			return h, true, nil
		}
	}
	return Header{}, false, nil
}

// ReadContent reads a box's entire payload into memory. Intended for small,
// bounded boxes (ftyp, stsd entries, codec configs) — never for sample data.
func ReadContent(r io.ReaderAt, h Header) ([]byte, error) {
	buf := make([]byte, h.ContentSize())
	if len(buf) == 0 {
		return buf, nil
	}
	if _, err := r.ReadAt(buf, int64(h.ContentOffset())); err != nil {
		return nil, mediaerr.Wrap(mediaerr.Truncated, "reading box content: "+h.Type, err)
	}
	return buf, nil
}

// Writer accumulates a box tree in memory, patching each box's size prefix
// once its content length is known: write, then go back and fill in a size.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty box Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Write appends raw bytes.
func (w *Writer) Write(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteU16 appends a big-endian uint16.
func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteU24 appends a big-endian 24-bit integer (used by FullBox version/flags).
func (w *Writer) WriteU24(v uint32) {
	w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
}

// WriteU32 appends a big-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteI32 appends a big-endian signed int32.
func (w *Writer) WriteI32(v int32) {
	w.WriteU32(uint32(v))
}

// WriteU64 appends a big-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteFourCC appends a four-character box type code.
func (w *Writer) WriteFourCC(s string) {
	w.buf = append(w.buf, s[0], s[1], s[2], s[3])
}

// StartBox reserves an 8-byte placeholder header for boxType and returns the
// offset of that header, to be passed to EndBox once the content has been
// written.
func (w *Writer) StartBox(boxType string) int {
	start := len(w.buf)
	w.WriteU32(0) // placeholder size
	w.WriteFourCC(boxType)
	return start
}

// EndBox patches the size placeholder at start with the box's actual size
// (from start to the writer's current position). It upgrades to the
// extended 64-bit form only if the box has grown past uint32 range, which
// never happens for the boxes this package emits but is handled for safety.
func (w *Writer) EndBox(start int) {
	size := uint64(len(w.buf) - start)
	if size <= 0xFFFFFFFF {
		binary.BigEndian.PutUint32(w.buf[start:start+4], uint32(size))
		return
	}
	// Upgrade to extended size: insert an 8-byte size field after the
	// 4-byte placeholder + fourCC, and set size field to 1.
	ext := make([]byte, 8)
	binary.BigEndian.PutUint64(ext, size+8)
	head := append([]byte{}, w.buf[start:start+8]...)
	tail := append([]byte{}, w.buf[start+8:]...)
	binary.BigEndian.PutUint32(head[0:4], 1)
	newBuf := w.buf[:start]
	newBuf = append(newBuf, head...)
	newBuf = append(newBuf, ext...)
	newBuf = append(newBuf, tail...)
	w.buf = newBuf
}

// WriteBox writes a complete, self-contained box (header + content) in one
// call, for boxes whose content is already fully serialized.
func WriteBox(w *Writer, boxType string, content []byte) {
	start := w.StartBox(boxType)
	w.Write(content)
	w.EndBox(start)
}
