// Package index records which storage paths are known to exist remotely.
// Entries are only ever added after a confirmed durable write (or an observed
// remote object). There is no eviction; an entry goes away only when the
// object is found missing or purged.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/any-hub/cloudcache/internal/fingerprint"
)

// Index 是大小写无关的并发存在性集合。
type Index struct {
	entries sync.Map // key: normalized path, value: struct{}
	size    atomic.Int64
}

// New 创建空索引。
func New() *Index {
	return &Index{}
}

// Insert 记录 path 已持久化，重复插入无副作用。
func (i *Index) Insert(path string) {
	if _, loaded := i.entries.LoadOrStore(fingerprint.Normalize(path), struct{}{}); !loaded {
		i.size.Add(1)
	}
}

// Exists 判断 path 是否已知存在。
func (i *Index) Exists(path string) bool {
	_, ok := i.entries.Load(fingerprint.Normalize(path))
	return ok
}

// Remove 删除单个条目，用于对象在存储中被发现缺失时的局部纠正。
func (i *Index) Remove(path string) {
	if _, loaded := i.entries.LoadAndDelete(fingerprint.Normalize(path)); loaded {
		i.size.Add(-1)
	}
}

// Clear 清空全部条目。
func (i *Index) Clear() {
	i.entries.Range(func(key, _ any) bool {
		if _, loaded := i.entries.LoadAndDelete(key); loaded {
			i.size.Add(-1)
		}
		return true
	})
}

// Len 返回当前条目数。
func (i *Index) Len() int {
	return int(i.size.Load())
}
