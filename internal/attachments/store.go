package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bizdash/internal/core"
)

// DiskStore keeps uploaded attachments as plain files under one directory.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("attachments directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid attachment key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

// Put writes r under key and returns the number of bytes stored. A partial
// write leaves nothing behind.
func (s *DiskStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	dst, err := s.path(key)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write attachment %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("store attachment %s: %w", key, err)
	}
	slog.DebugContext(ctx, "Attachment stored", "key", key, "bytes", n)
	return n, nil
}

// Open returns the stored content; the caller closes it.
func (s *DiskStore) Open(_ context.Context, key string) (io.ReadSeekCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("attachment %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open attachment %s: %w", key, err)
	}
	return f, nil
}

// Delete removes key. Missing keys are not an error.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete attachment %s: %w", key, err)
	}
	slog.DebugContext(ctx, "Attachment deleted", "key", key)
	return nil
}
