package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge signals that an upload exceeds the configured size limit.
var ErrTooLarge = errors.New("storage: file exceeds size limit")

// Store persists uploaded verification documents.
type Store interface {
	Save(ctx context.Context, category, fileName string, r io.Reader) (string, int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// LocalStore writes documents under a base directory, one subdirectory per
// category, with generated names so uploads can never collide or traverse.
type LocalStore struct {
	baseDir     string
	maxFileSize int64
}

// NewLocalStore builds a LocalStore rooted at dir.
func NewLocalStore(dir string, maxFileSize int64) (*LocalStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create base directory: %w", err)
	}
	return &LocalStore{baseDir: dir, maxFileSize: maxFileSize}, nil
}

// Save streams the reader to disk and returns the relative path and size.
func (s *LocalStore) Save(ctx context.Context, category, fileName string, r io.Reader) (string, int64, error) {
	category = sanitizeSegment(category)
	if category == "" {
		category = "misc"
	}

	dir := filepath.Join(s.baseDir, category)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("storage: create directory: %w", err)
	}

	name := uuid.NewString()
	if ext := filepath.Ext(fileName); ext != "" && len(ext) <= 10 {
		name += strings.ToLower(ext)
	}

	relPath := filepath.Join(category, name)
	fullPath := filepath.Join(s.baseDir, relPath)

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, fmt.Errorf("storage: create file: %w", err)
	}

	limit := s.maxFileSize
	if limit <= 0 {
		limit = 10 << 20
	}

	written, err := io.Copy(f, io.LimitReader(r, limit+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return "", 0, fmt.Errorf("storage: write file: %w", err)
	}
	if written > limit {
		_ = os.Remove(fullPath)
		return "", 0, ErrTooLarge
	}

	return relPath, written, nil
}

// Open returns a reader over a previously stored document.
func (s *LocalStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete removes a stored document. Missing files are not an error.
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

func (s *LocalStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: invalid path %q", path)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

func sanitizeSegment(segment string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(segment)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
