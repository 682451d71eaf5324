// Package fs stores cache objects as files under a base directory. Objects
// are sharded by the first two characters of their name. A write goes to an
// exclusively created "<name>.partial" file and becomes visible only when
// Commit hard-links it into place, so readers never observe a half-written
// object and a second writer on the same name fails with storage.ErrExists.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/any-hub/cloudcache/internal/storage"
)

const (
	partialSuffix = ".partial"
	// 超过该时长的 partial 文件视为崩溃残留，允许新的写入方接管。
	defaultStaleAfter = 10 * time.Minute
)

// Store 是基于本地或挂载目录的 storage.Backend。
type Store struct {
	basePath   string
	staleAfter time.Duration
}

var _ storage.Backend = (*Store)(nil)

// New 以 basePath 为根目录构建存储，目录不存在时自动创建。
func New(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Store{basePath: abs, staleAfter: defaultStaleAfter}, nil
}

// BasePath 返回解析后的绝对根目录。
func (s *Store) BasePath() string {
	return s.basePath
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	filePath, err := s.objectPath(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (s *Store) OpenWrite(ctx context.Context, name string) (storage.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.objectPath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filePath); err == nil {
		return nil, storage.ErrExists
	}

	partial := filePath + partialSuffix
	s.reclaimStale(partial)

	f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return nil, storage.ErrExists
		}
		return nil, err
	}
	return &fileWriter{file: f, partial: partial, target: filePath}, nil
}

func (s *Store) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.objectPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, storage.ErrNotFound
	}
	return f, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	filePath, err := s.objectPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) objectPath(name string) (string, error) {
	if err := storage.ValidatePath(name); err != nil {
		return "", err
	}
	shard := "_"
	if len(name) >= 2 {
		shard = name[:2]
	}
	return filepath.Join(s.basePath, shard, name), nil
}

func (s *Store) reclaimStale(partial string) {
	info, err := os.Stat(partial)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > s.staleAfter {
		os.Remove(partial)
	}
}

type fileWriter struct {
	file    *os.File
	partial string
	target  string
	done    bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.file.Write(p)
}

func (w *fileWriter) Commit() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true
	defer os.Remove(w.partial)

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Link(w.partial, w.target); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return storage.ErrExists
		}
		return err
	}
	return nil
}

func (w *fileWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	if err := os.Remove(w.partial); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	return nil
}
