package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrTooLarge is returned by Put when the stream exceeds the size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// ErrInvalidKey is returned for keys that escape the base directory.
var ErrInvalidKey = errors.New("invalid storage key")

// LocalStorage keeps attachment blobs on disk under a base directory. Keys are
// slash separated and relative to the base.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./attachments"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// AttachmentKey builds the storage key for an attachment uploaded at t.
func AttachmentKey(id, ext string, t time.Time) string {
	t = t.UTC()
	return path.Join(fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), id+ext)
}

// Put streams r into key, writing through a temp file so readers never see a
// partial blob. A non-positive limit disables the size check.
func (s *LocalStorage) Put(key string, r io.Reader, limit int64) (int64, error) {
	target, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("prepare storage directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	written, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if limit > 0 && written > limit {
		return 0, ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("commit blob: %w", err)
	}
	return written, nil
}

// Open returns a read-only handle for the stored blob. Missing blobs wrap
// os.ErrNotExist.
func (s *LocalStorage) Open(key string) (*os.File, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob if present.
func (s *LocalStorage) Delete(key string) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *LocalStorage) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "\\") || path.IsAbs(key) {
		return "", ErrInvalidKey
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}
