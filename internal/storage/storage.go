package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound 表示对象不存在或仍在写入中。
	ErrNotFound = errors.New("storage object not found")
	// ErrExists 表示对象已存在，或另一个写入方正在写同一路径。
	ErrExists = errors.New("storage object already exists")
	// ErrInvalidPath 表示对象名称不合法。
	ErrInvalidPath = errors.New("invalid storage path")
)

// Backend 是缓存编排器依赖的远端对象存储能力，实现必须并发安全。
type Backend interface {
	// Exists 判断对象是否已完整写入。
	Exists(ctx context.Context, path string) (bool, error)

	// OpenWrite 打开一个写入会话；对象已存在或正被写入时返回 ErrExists。
	OpenWrite(ctx context.Context, path string) (Writer, error)

	// OpenRead 打开已提交对象；不存在或写入尚未提交时返回 ErrNotFound。
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete 删除对象，对象不存在时返回 nil。
	Delete(ctx context.Context, path string) error
}

// Writer 是一次写入会话。Commit 使对象可见（若他人已抢先提交则返回 ErrExists），
// Discard 丢弃已写内容；二者只能调用其一，之后的调用无效果。
type Writer interface {
	io.Writer
	Commit() error
	Discard() error
}

// ValidatePath 拒绝空路径与包含目录分隔符的路径。
func ValidatePath(path string) error {
	if path == "" || path == "." || path == ".." {
		return ErrInvalidPath
	}
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '/', '\\', 0:
			return ErrInvalidPath
		}
	}
	return nil
}
