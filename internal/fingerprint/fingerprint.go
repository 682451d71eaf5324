// Package fingerprint maps logical cache keys onto fixed-length object names.
// A StoragePath is the lowercase SHA-256 hex digest of the key followed by the
// lowercased extension. Because the whole name is already lowercase, the remote
// object name and the case-folded index and lock keys always agree.
package fingerprint

import (
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// Size 是 Fingerprint 返回值的固定长度（SHA-256 十六进制）。
const Size = 64

// Fingerprint 对 key 的 UTF-8 字节计算 SHA-256，返回小写十六进制串。
func Fingerprint(key string) string {
	return digest.SHA256.FromString(key).Encoded()
}

// StoragePath 组合指纹与小写扩展名："<hex>.<ext>"。扩展名的首个 "." 会被去掉，
// 为空时仅返回指纹，不带末尾的点。
func StoragePath(key, extension string) string {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(extension), "."))
	if ext == "" {
		return Fingerprint(key)
	}
	return Fingerprint(key) + "." + ext
}

// Normalize 返回路径的大小写无关形式，供索引与锁表作为键使用。
func Normalize(path string) string {
	return strings.ToLower(path)
}
