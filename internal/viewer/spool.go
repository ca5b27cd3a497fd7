package viewer

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/gaslight/leakview/internal/session"
	"github.com/gaslight/leakview/internal/transport"
)

var (
	// ErrEmptyUpload is returned for a zero-byte file.
	ErrEmptyUpload = errors.New("uploaded file is empty")
	// ErrUploadTooLarge is returned when a file exceeds the configured limit.
	ErrUploadTooLarge = errors.New("uploaded file is too large")
)

// Spool keeps selected files on local disk until their session lets go of them.
type Spool struct {
	dir      string
	maxBytes int64
}

// NewSpool creates a spool in dir (os.TempDir when empty).
func NewSpool(dir string, maxBytes int64) (*Spool, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: dir, maxBytes: maxBytes}, nil
}

// MaxBytes is the largest file the spool accepts.
func (s *Spool) MaxBytes() int64 { return s.maxBytes }

// Save copies an uploaded form file to disk. The returned file's Release removes it.
func (s *Spool) Save(fh *multipart.FileHeader) (session.File, error) {
	if fh.Size > s.maxBytes {
		return session.File{}, ErrUploadTooLarge
	}
	src, err := fh.Open()
	if err != nil {
		return session.File{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	return s.store(filepath.Base(fh.Filename), fh.Header.Get("Content-Type"), src)
}

func (s *Spool) store(name, contentType string, src io.Reader) (session.File, error) {
	dst, err := os.CreateTemp(s.dir, "leakview-*"+filepath.Ext(name))
	if err != nil {
		return session.File{}, fmt.Errorf("create spool file: %w", err)
	}
	path := dst.Name()
	n, err := io.Copy(dst, io.LimitReader(src, s.maxBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		_ = os.Remove(path)
		return session.File{}, fmt.Errorf("spool upload: %w", err)
	case n == 0:
		_ = os.Remove(path)
		return session.File{}, ErrEmptyUpload
	case n > s.maxBytes:
		_ = os.Remove(path)
		return session.File{}, ErrUploadTooLarge
	}

	return session.File{
		File: transport.File{
			Name:        name,
			ContentType: contentType,
			Size:        n,
			Open:        func() (io.ReadCloser, error) { return os.Open(path) },
		},
		Release: func() { _ = os.Remove(path) },
	}, nil
}
