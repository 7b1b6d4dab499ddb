package hlscache

import (
	"context"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/jmylchreest/mediahls/internal/mediaerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// blobCompressionByte marks a stored blob as brotli-compressed ahead of the
// format-versioned payload Encode/Decode understand; it is stripped before
// the format byte is inspected. Uncompressed blobs start directly with
// blobFormatV1, so the two are unambiguous without a shared header.
const blobCompressionByte = 0x02

// PreparedMediaRow is the single table backing the persistent blob store:
// `media_file_id BLOB PRIMARY KEY, prepared_blob BLOB NOT NULL`.
type PreparedMediaRow struct {
	MediaFileID  string `gorm:"column:media_file_id;primaryKey"`
	PreparedBlob []byte `gorm:"column:prepared_blob;not null"`
	UpdatedAt    time.Time
}

// TableName pins the GORM table name regardless of struct name pluralization.
func (PreparedMediaRow) TableName() string { return "prepared_media" }

// Repository is the persistent blob store: get returns the decoded
// PreparedMedia for a key if a row exists, Put upserts one, backed by GORM.
type Repository struct {
	db       *gorm.DB
	compress bool
}

// NewRepository wraps db. When compress is true, blobs are brotli-compressed
// before storage and decompressed transparently on load.
func NewRepository(db *gorm.DB, compress bool) *Repository {
	return &Repository{db: db, compress: compress}
}

// Migrate creates the prepared_media table if absent.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&PreparedMediaRow{}); err != nil {
		return mediaerr.Wrap(mediaerr.IoFailed, "migrating prepared_media table", err)
	}
	return nil
}

// Get loads and decodes the blob for mediaFileID, or returns (nil, false, nil)
// if no row exists. A decode failure is returned as an error so the caller
// (the Cache) can treat it as a transparent rebuild.
func (r *Repository) Get(ctx context.Context, mediaFileID string) (*PreparedMedia, bool, error) {
	var row PreparedMediaRow
	err := r.db.WithContext(ctx).Where("media_file_id = ?", mediaFileID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, mediaerr.Wrap(mediaerr.IoFailed, "loading prepared media blob", err)
	}

	raw, err := r.decompress(row.PreparedBlob)
	if err != nil {
		return nil, false, err
	}
	pm, err := Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return pm, true, nil
}

// Put upserts the blob for pm.MediaFileID; concurrent writers for the same
// key are safe because the encoded artifact is deterministic.
func (r *Repository) Put(ctx context.Context, pm *PreparedMedia) error {
	raw := Encode(pm)
	blob, err := r.compressBytes(raw)
	if err != nil {
		return err
	}
	row := PreparedMediaRow{
		MediaFileID:  pm.MediaFileID,
		PreparedBlob: blob,
		UpdatedAt:    time.Now(),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"prepared_blob", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return mediaerr.Wrap(mediaerr.IoFailed, "persisting prepared media blob", err)
	}
	return nil
}

// Delete removes the persisted blob for mediaFileID, if any.
func (r *Repository) Delete(ctx context.Context, mediaFileID string) error {
	err := r.db.WithContext(ctx).Where("media_file_id = ?", mediaFileID).Delete(&PreparedMediaRow{}).Error
	if err != nil {
		return mediaerr.Wrap(mediaerr.IoFailed, "deleting prepared media blob", err)
	}
	return nil
}

func (r *Repository) compressBytes(raw []byte) ([]byte, error) {
	if !r.compress {
		return raw, nil
	}
	var buf []byte
	w := brotli.NewWriterLevel(sliceWriter{&buf}, brotli.DefaultCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, mediaerr.Wrap(mediaerr.IoFailed, "compressing prepared media blob", err)
	}
	if err := w.Close(); err != nil {
		return nil, mediaerr.Wrap(mediaerr.IoFailed, "closing brotli writer", err)
	}
	out := make([]byte, 0, len(buf)+1)
	out = append(out, blobCompressionByte)
	out = append(out, buf...)
	return out, nil
}

func (r *Repository) decompress(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, mediaerr.New(mediaerr.BlobDecodeFailed, "empty stored blob")
	}
	if stored[0] != blobCompressionByte {
		return stored, nil
	}
	reader := brotli.NewReader(&byteSliceReader{data: stored[1:]})
	buf := make([]byte, 0, len(stored)*3)
	chunk := make([]byte, 64*1024)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

// sliceWriter adapts a *[]byte to io.Writer for brotli's streaming API.
type sliceWriter struct {
	buf *[]byte
}

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// byteSliceReader adapts an in-memory slice to io.Reader.
type byteSliceReader struct {
	data []byte
	pos  int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
