package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compressed 返回在写入时 zstd 压缩、读取时解压的 Backend 包装。
func Compressed(backend Backend) Backend {
	return &compressedBackend{Backend: backend}
}

type compressedBackend struct {
	Backend
}

func (c *compressedBackend) OpenWrite(ctx context.Context, path string) (Writer, error) {
	w, err := c.Backend.OpenWrite(ctx, path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		_ = w.Discard()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &compressedWriter{enc: enc, inner: w}, nil
}

func (c *compressedBackend) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := c.Backend.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &compressedReader{dec: dec.IOReadCloser(), inner: rc}, nil
}

type compressedWriter struct {
	enc   *zstd.Encoder
	inner Writer
}

func (w *compressedWriter) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

func (w *compressedWriter) Commit() error {
	if err := w.enc.Close(); err != nil {
		_ = w.inner.Discard()
		return fmt.Errorf("flush zstd encoder: %w", err)
	}
	return w.inner.Commit()
}

func (w *compressedWriter) Discard() error {
	_ = w.enc.Close()
	return w.inner.Discard()
}

type compressedReader struct {
	dec   io.ReadCloser
	inner io.ReadCloser
}

func (r *compressedReader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r *compressedReader) Close() error {
	return errors.Join(r.dec.Close(), r.inner.Close())
}
