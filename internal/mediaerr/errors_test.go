package mediaerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_ErrorString(t *testing.T) {
	err := New(NotFound, "segment 99 out of range")
	assert.Equal(t, "not_found: segment 99 out of range", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap_ErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IoFailed, "persisting blob", cause)
	assert.Equal(t, "io_failed: persisting blob: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestIs_MatchesByKind(t *testing.T) {
	err := Wrap(Truncated, "box exceeds source length", errors.New("eof"))
	assert.True(t, Is(err, Truncated))
	assert.False(t, Is(err, MissingAtom))
}

func TestIs_FalseForNonMediaerrErrors(t *testing.T) {
	assert.False(t, Is(errors.New("plain error"), NotFound))
}

func TestIs_MatchesThroughFmtWrapping(t *testing.T) {
	base := New(InvalidPath, "segment_abc.m4s")
	wrapped := fmt.Errorf("handling request: %w", base)
	assert.True(t, Is(wrapped, InvalidPath))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(New(UnsupportedCodec, "track 0"))
	assert.True(t, ok)
	assert.Equal(t, UnsupportedCodec, kind)

	_, ok = KindOf(errors.New("not ours"))
	assert.False(t, ok)
}

func TestError_IsComparesKindNotMessage(t *testing.T) {
	a := New(NotFound, "segment 1")
	b := New(NotFound, "segment 2")
	assert.True(t, errors.Is(a, b))

	c := New(InvalidPath, "segment 1")
	assert.False(t, errors.Is(a, c))
}
