// Package writequeue holds produced bytes in memory while a background worker
// persists them, bounded by a byte ceiling. Admission is all-or-nothing: a job
// that would push the queued total over the ceiling is rejected and the
// caller writes inline instead.
package writequeue

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/cloudcache/internal/fingerprint"
)

// Queue 记录在途 Job 与其字节总量。
type Queue struct {
	maxBytes int64
	logger   logrus.FieldLogger

	mu     sync.Mutex
	jobs   map[string]*Job
	queued int64

	inflight sync.WaitGroup
}

// Stats 是队列的瞬时快照。
type Stats struct {
	Jobs        int   `json:"jobs"`
	QueuedBytes int64 `json:"queued_bytes"`
	MaxBytes    int64 `json:"max_bytes"`
}

// New 创建容量为 maxBytes 的队列；logger 为空时丢弃日志。
func New(maxBytes int64, logger logrus.FieldLogger) *Queue {
	if maxBytes < 0 {
		maxBytes = 0
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Queue{
		maxBytes: maxBytes,
		logger:   logger,
		jobs:     make(map[string]*Job),
	}
}

// Enqueue 在容量允许且同路径无在途 Job 时登记 job，并在独立 goroutine 中执行
// onComplete(job)；无论 onComplete 成功、失败或 panic，结束后都会调用 Remove。
// 拒绝时不登记任何状态并返回 false。
func (q *Queue) Enqueue(job *Job, onComplete func(*Job)) bool {
	key := fingerprint.Normalize(job.Path())

	q.mu.Lock()
	if _, exists := q.jobs[key]; exists || q.maxBytes == 0 || q.queued+job.Size() > q.maxBytes {
		q.mu.Unlock()
		return false
	}
	q.jobs[key] = job
	q.queued += job.Size()
	q.inflight.Add(1)
	q.mu.Unlock()

	go q.run(job, onComplete)
	return true
}

func (q *Queue) run(job *Job, onComplete func(*Job)) {
	started := time.Now()
	defer q.inflight.Done()
	defer q.Remove(job)
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"action": "queue_flush",
				"path":   job.Path(),
			}).Error(fmt.Sprintf("flush panic: %v", r))
		}
	}()

	onComplete(job)

	q.logger.WithFields(logrus.Fields{
		"action":      "queue_flush",
		"path":        job.Path(),
		"bytes":       job.Size(),
		"queued_ms":   started.Sub(job.CreatedAt()).Milliseconds(),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("flush finished")
}

// Lookup 返回 path 对应的在途 Job，不存在时返回 nil。
func (q *Queue) Lookup(path string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[fingerprint.Normalize(path)]
}

// Remove 注销 job 并归还其容量；仅当登记的正是该 job 时生效，重复调用无副作用。
func (q *Queue) Remove(job *Job) {
	key := fingerprint.Normalize(job.Path())
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.jobs[key]; ok && current == job {
		delete(q.jobs, key)
		q.queued -= job.Size()
	}
}

// Stats 返回当前 Job 数与已占用字节。
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Jobs:        len(q.jobs),
		QueuedBytes: q.queued,
		MaxBytes:    q.maxBytes,
	}
}

// Wait 阻塞直到所有已接纳 Job 的后台 flush 结束。
func (q *Queue) Wait() {
	q.inflight.Wait()
}
