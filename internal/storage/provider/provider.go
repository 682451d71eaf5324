// Package provider builds the configured storage.Backend.
package provider

import (
	"fmt"

	"github.com/any-hub/cloudcache/internal/config"
	"github.com/any-hub/cloudcache/internal/storage"
	"github.com/any-hub/cloudcache/internal/storage/fs"
	"github.com/any-hub/cloudcache/internal/storage/memory"
	"github.com/any-hub/cloudcache/internal/storage/oci"
)

// Open 根据 StorageConfig 创建后端，Compress 为 true 时套上 zstd 包装。
func Open(cfg config.StorageConfig) (storage.Backend, error) {
	var (
		backend storage.Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendFS, "":
		backend, err = fs.New(cfg.Path)
	case config.BackendMemory:
		backend = memory.New()
	case config.BackendOCI:
		backend, err = oci.New(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}
	if cfg.Compress {
		backend = storage.Compressed(backend)
	}
	return backend, nil
}
