// Package keylock provides process-local, per-key mutual exclusion with a
// bounded wait. Locks are created on first use and dropped from the table as
// soon as nobody holds or waits on them, so the table only grows with
// contention.
package keylock

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/any-hub/cloudcache/internal/fingerprint"
)

// Provider 维护 key → entry 的引用计数表，不同 key 互不阻塞。
type Provider struct {
	name string

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// New 创建一个独立的锁表；name 仅用于日志与诊断。
func New(name string) *Provider {
	return &Provider{
		name:    name,
		entries: make(map[string]*entry),
	}
}

// Name 返回构造时的名称。
func (p *Provider) Name() string {
	return p.name
}

// TryExecute 在 timeout 内获取 key 的独占权并执行 action。
// 未能获取时返回 (false, nil) 且不执行 action；否则返回 (true, action 的错误)。
// timeout <= 0 表示仅尝试一次非阻塞获取。
func (p *Provider) TryExecute(key string, timeout time.Duration, action func() error) (bool, error) {
	normalized := fingerprint.Normalize(key)
	e := p.acquireRef(normalized)
	defer p.releaseRef(normalized, e)

	if !e.sem.TryAcquire(1) {
		if timeout <= 0 {
			return false, nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := e.sem.Acquire(ctx, 1)
		cancel()
		if err != nil {
			return false, nil
		}
	}
	defer e.sem.Release(1)

	return true, action()
}

// MayBeHeld 粗略判断 key 当前是否被持有或等待，结果可能立即过期，
// 只能用于决定是否值得做一次昂贵的复查。
func (p *Provider) MayBeHeld(key string) bool {
	normalized := fingerprint.Normalize(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[normalized]
	return ok && e.refs > 0
}

// Len 返回当前锁表中的条目数。
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Provider) acquireRef(key string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[key]
	if e == nil {
		e = &entry{sem: semaphore.NewWeighted(1)}
		p.entries[key] = e
	}
	e.refs++
	return e
}

func (p *Provider) releaseRef(key string, e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(p.entries, key)
	}
}
