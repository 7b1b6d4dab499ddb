// Package source resolves a media file identity to a sandboxed, seekable
// source file and exposes the random-access reader the MP4 parser and HLS
// handler both need, without ever copying the file's sample bytes.
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/mediahls/internal/mediaerr"
)

// File is an open handle on a source media file: random-access reads plus
// its total size, as required by mp4reader.Parse and the HLS handler's
// range-read serving path.
type File struct {
	f    *os.File
	size int64
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

// Size returns the file's length in bytes, as observed at Open time.
func (f *File) Size() int64 {
	return f.size
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	return f.f.Close()
}

var _ io.ReaderAt = (*File)(nil)

// Store resolves relative media paths against a root directory, rejecting
// anything that would escape it. Media file identities are paths relative
// to this root, so every resolution goes through the same check.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root, creating the directory if absent.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.IoFailed, "resolving media root", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, mediaerr.Wrap(mediaerr.IoFailed, "creating media root", err)
	}
	return &Store{root: abs}, nil
}

// resolve maps relPath onto the media root. Absolute paths and any path
// that cleans to something outside the root are rejected; the returned
// path is the root itself or a path inside it.
func (s *Store) resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", mediaerr.New(mediaerr.InvalidPath, relPath)
	}
	full := filepath.Join(s.root, filepath.Clean(relPath))
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", mediaerr.Wrap(mediaerr.InvalidPath, relPath, err)
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", mediaerr.New(mediaerr.InvalidPath, fmt.Sprintf("%s escapes media root", relPath))
	}
	return abs, nil
}

// Open resolves relPath within the media root and opens it for
// random-access reads. The returned File must be Closed by the caller.
func (s *Store) Open(relPath string) (*File, error) {
	resolved, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mediaerr.Wrap(mediaerr.NotFound, relPath, err)
		}
		return nil, mediaerr.Wrap(mediaerr.IoFailed, "opening source file: "+relPath, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mediaerr.Wrap(mediaerr.IoFailed, "stat source file: "+relPath, err)
	}
	return &File{f: f, size: stat.Size()}, nil
}

// Identity derives the stable media-file identity this engine keys prepared
// blobs by: the root-relative path together with the file's size and
// modification time, so a file replaced in place (same name, different
// content) is treated as a distinct media file rather than serving stale
// precomputed segments.
func (s *Store) Identity(relPath string) (Identity, error) {
	resolved, err := s.resolve(relPath)
	if err != nil {
		return Identity{}, err
	}
	stat, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, mediaerr.Wrap(mediaerr.NotFound, relPath, err)
		}
		return Identity{}, mediaerr.Wrap(mediaerr.IoFailed, "stat source file: "+relPath, err)
	}
	return Identity{
		Path:    relPath,
		Size:    stat.Size(),
		ModUnix: stat.ModTime().UnixNano(),
	}, nil
}

// Identity uniquely identifies a media file's content for cache-keying
// purposes.
type Identity struct {
	Path    string
	Size    int64
	ModUnix int64
}
