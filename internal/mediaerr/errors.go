// Package mediaerr defines the error kinds shared by the MP4 reader,
// segment planner, fMP4 serializer, prepared-media cache, and HLS handler.
package mediaerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure raised by the core engine.
type Kind string

const (
	// InvalidContainer means the ftyp box is absent or its major brand is
	// not an ISO-BMFF variant the reader understands.
	InvalidContainer Kind = "invalid_container"
	// MissingAtom means a required box (moov, trak/mdia/minf/stbl, ...) is absent.
	MissingAtom Kind = "missing_atom"
	// UnsupportedCodec means the first video track is neither H.264 nor H.265.
	UnsupportedCodec Kind = "unsupported_codec"
	// Truncated means a box's declared size exceeds the source length.
	Truncated Kind = "truncated"
	// OffsetOutOfBounds means a sample's offset+size falls outside the source file.
	OffsetOutOfBounds Kind = "offset_out_of_bounds"
	// SerializationOverflow means a segment's sample sizes sum past what a
	// 64-bit mdat box can address.
	SerializationOverflow Kind = "serialization_overflow"
	// BlobDecodeFailed means a persisted PreparedMedia blob could not be
	// decoded; callers should treat this as a cache miss and rebuild.
	BlobDecodeFailed Kind = "blob_decode_failed"
	// IoFailed wraps an underlying I/O error from the source file or blob store.
	IoFailed Kind = "io_failed"
	// NotFound means a requested segment index is out of range.
	NotFound Kind = "not_found"
	// InvalidPath means a segment filename could not be parsed.
	InvalidPath Kind = "invalid_path"
)

// Error is the error type raised by the core engine. It always carries a
// Kind so callers (particularly the HLS handler) can map it to behavior
// without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, mediaerr.New(mediaerr.NotFound, "")) — more commonly
// they use Is(err, kind) below instead.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ("", false) if err is not a
// *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
