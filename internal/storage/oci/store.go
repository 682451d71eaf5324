// Package oci keeps cache objects in an OCI image layout directory. Each
// object is pushed as a content-addressed blob and tagged with its storage
// path, so identical outputs under different keys share one blob. An object
// becomes visible only once its tag is written.
package oci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/errdef"

	"github.com/any-hub/cloudcache/internal/storage"
)

// MediaType 标记由缓存写入的 blob。
const MediaType = "application/vnd.cloudcache.object.v1"

// Store 是基于 oras OCI layout 的 storage.Backend。
type Store struct {
	layout *oci.Store

	mu      sync.Mutex
	pending map[string]struct{}
}

var _ storage.Backend = (*Store)(nil)

// New 在 root 目录打开（或初始化）OCI layout。
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create layout dir: %w", err)
	}
	layout, err := oci.New(root)
	if err != nil {
		return nil, fmt.Errorf("open oci layout: %w", err)
	}
	return &Store{
		layout:  layout,
		pending: make(map[string]struct{}),
	}, nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := storage.ValidatePath(path); err != nil {
		return false, err
	}
	_, err := s.layout.Resolve(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errdef.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) OpenWrite(ctx context.Context, path string) (storage.Writer, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, storage.ErrExists
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[path]; ok {
		return nil, storage.ErrExists
	}
	s.pending[path] = struct{}{}
	return &blobWriter{store: s, ctx: ctx, path: path}, nil
}

func (s *Store) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	desc, err := s.layout.Resolve(ctx, path)
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	rc, err := s.layout.Fetch(ctx, desc)
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return rc, nil
}

// Delete 仅移除标签；共享的 blob 由 layout 的 GC 回收。
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if err := s.layout.Untag(ctx, path); err != nil && !errors.Is(err, errdef.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Store) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, path)
}

func (s *Store) commit(ctx context.Context, path string, data []byte) error {
	desc := content.NewDescriptorFromBytes(MediaType, data)
	desc.Annotations = map[string]string{ocispec.AnnotationTitle: path}
	if err := s.layout.Push(ctx, desc, bytes.NewReader(data)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return fmt.Errorf("push blob: %w", err)
	}
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrExists
	}
	if err := s.layout.Tag(ctx, desc, path); err != nil {
		return fmt.Errorf("tag blob: %w", err)
	}
	return nil
}

type blobWriter struct {
	store *Store
	ctx   context.Context
	path  string
	buf   bytes.Buffer
	done  bool
}

func (w *blobWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *blobWriter) Commit() error {
	if w.done {
		return io.ErrClosedPipe
	}
	w.done = true
	defer w.store.release(w.path)
	return w.store.commit(w.ctx, w.path, w.buf.Bytes())
}

func (w *blobWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.store.release(w.path)
	return nil
}
