// Package memory is an in-process storage.Backend, used by tests and by
// deployments that only need the cache for the lifetime of the process.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/any-hub/cloudcache/internal/storage"
)

// Store 以 map 保存已提交对象，并记录正在写入的路径。
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	writing map[string]struct{}
}

var _ storage.Backend = (*Store)(nil)

// New 创建空的内存存储。
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		writing: make(map[string]struct{}),
	}
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := storage.ValidatePath(path); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *Store) OpenWrite(ctx context.Context, path string) (storage.Writer, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; ok {
		return nil, storage.ErrExists
	}
	if _, ok := s.writing[path]; ok {
		return nil, storage.ErrExists
	}
	s.writing[path] = struct{}{}
	return &writer{store: s, path: path}, nil
}

func (s *Store) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// Len 返回已提交对象数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

type writer struct {
	store *Store
	path  string
	buf   bytes.Buffer
	done  bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *writer) Commit() error {
	if w.done {
		return io.ErrClosedPipe
	}
	w.done = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	delete(w.store.writing, w.path)
	if _, ok := w.store.objects[w.path]; ok {
		return storage.ErrExists
	}
	w.store.objects[w.path] = bytes.Clone(w.buf.Bytes())
	return nil
}

func (w *writer) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	delete(w.store.writing, w.path)
	return nil
}
