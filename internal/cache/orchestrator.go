package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/cloudcache/internal/fingerprint"
	"github.com/any-hub/cloudcache/internal/index"
	"github.com/any-hub/cloudcache/internal/keylock"
	"github.com/any-hub/cloudcache/internal/storage"
	"github.com/any-hub/cloudcache/internal/writequeue"
)

const defaultRacePollInterval = 100 * time.Millisecond

// Options 是宿主层传入的纯值配置。
type Options struct {
	// MaxQueueBytes 是异步写队列的字节上限，0 表示所有异步请求都退化为同步写入。
	MaxQueueBytes int64
	// RacePollInterval 是写冲突后轮询读取的固定间隔，默认 100ms。
	RacePollInterval time.Duration
	// FlushTimeout 是后台 flush 获取写锁的预算，<= 0 时沿用请求自身的 Timeout。
	FlushTimeout time.Duration
	Logger       logrus.FieldLogger
	Observers    []Observer
}

// Orchestrator 组合指纹、索引、双锁表与写队列，实现命中/未命中/失败决策。
type Orchestrator struct {
	backend        storage.Backend
	index          *index.Index
	writeLock      *keylock.Provider
	productionLock *keylock.Provider
	queue          *writequeue.Queue
	logger         logrus.FieldLogger
	pollInterval   time.Duration
	flushTimeout   time.Duration

	obsMu     sync.RWMutex
	observers []Observer
}

// New 构建 Orchestrator，backend 不能为空。
func New(backend storage.Backend, opts Options) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	if opts.MaxQueueBytes < 0 {
		return nil, fmt.Errorf("invalid max queue bytes: %d", opts.MaxQueueBytes)
	}
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	poll := opts.RacePollInterval
	if poll <= 0 {
		poll = defaultRacePollInterval
	}
	return &Orchestrator{
		backend:        backend,
		index:          index.New(),
		writeLock:      keylock.New("write"),
		productionLock: keylock.New("production"),
		queue:          writequeue.New(opts.MaxQueueBytes, logger),
		logger:         logger,
		pollInterval:   poll,
		flushTimeout:   opts.FlushTimeout,
		observers:      append([]Observer(nil), opts.Observers...),
	}, nil
}

// AddObserver 注册额外的结果观察者。
func (o *Orchestrator) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	o.obsMu.Lock()
	o.observers = append(o.observers, obs)
	o.obsMu.Unlock()
}

// GetCachedFile 返回 req 对应对象的缓存状态，必要时调用 req.Produce 生成并持久化。
// 锁超时总是表现为 OutcomeFailed 而非错误；生产者错误原样返回；
// 写冲突轮询超时返回 OutcomeFailed 与 ErrRemoteRace。
func (o *Orchestrator) GetCachedFile(ctx context.Context, req Request) (res Result, err error) {
	started := time.Now()
	path := fingerprint.StoragePath(req.KeyBasis, req.Extension)
	event := Event{Path: path, Async: req.Async}
	defer func() {
		event.Outcome = res.Outcome
		event.Err = err
		event.Duration = time.Since(started)
		o.notify(event)
	}()

	if req.Produce == nil {
		return Result{Path: path, Outcome: OutcomeFailed}, ErrNoProducer
	}
	if req.Timeout < 0 {
		req.Timeout = 0
	}

	// 锁等待、生产与写冲突轮询共用同一个时间预算。
	deadline := started.Add(req.Timeout)
	if req.Async {
		return o.getAsync(ctx, path, req, deadline, &event)
	}
	return o.getSync(ctx, path, req, deadline)
}

func (o *Orchestrator) getSync(ctx context.Context, path string, req Request, deadline time.Time) (Result, error) {
	if !o.writeLock.MayBeHeld(path) && o.index.Exists(path) {
		return Result{Path: path, Outcome: OutcomeHit}, nil
	}

	wait := time.Until(deadline)
	result := Result{Path: path, Outcome: OutcomeFailed}
	locked, err := o.writeLock.TryExecute(path, wait, func() error {
		var persistErr error
		result, persistErr = o.persist(ctx, path, req.Produce, deadline)
		return persistErr
	})
	if !locked {
		o.logger.WithFields(logrus.Fields{
			"action":     "write_lock",
			"path":       path,
			"timeout_ms": req.Timeout.Milliseconds(),
		}).Warn("write lock timeout")
		return Result{Path: path, Outcome: OutcomeFailed}, nil
	}
	return result, err
}

func (o *Orchestrator) getAsync(ctx context.Context, path string, req Request, deadline time.Time, event *Event) (Result, error) {
	if o.index.Exists(path) && !o.writeLock.MayBeHeld(path) {
		return Result{Path: path, Outcome: OutcomeHit}, nil
	}

	result := Result{Path: path, Outcome: OutcomeFailed}
	locked, err := o.productionLock.TryExecute(path, time.Until(deadline), func() error {
		if job := o.queue.Lookup(path); job != nil {
			event.Coalesced = true
			result = Result{Path: path, Outcome: OutcomeMiss, Body: job.NewReader()}
			return nil
		}
		if o.index.Exists(path) {
			result = Result{Path: path, Outcome: OutcomeHit}
			return nil
		}

		var buf bytes.Buffer
		if err := req.Produce(&buf); err != nil {
			return err
		}
		job := writequeue.NewJob(path, buf.Bytes())

		flushTimeout := o.flushTimeout
		if flushTimeout <= 0 {
			flushTimeout = req.Timeout
		}
		if o.queue.Enqueue(job, func(j *writequeue.Job) { o.flush(j, flushTimeout) }) {
			result = Result{Path: path, Outcome: OutcomeMiss, Body: job.NewReader()}
			return nil
		}

		event.QueueRejected = true
		o.logger.WithFields(logrus.Fields{
			"action": "queue_admission",
			"path":   path,
			"bytes":  job.Size(),
		}).Debug("write queue full, writing inline")

		inline, err := o.getSync(ctx, path, Request{Produce: jobProducer(job), Timeout: req.Timeout}, deadline)
		result = inline
		if err == nil && inline.Outcome == OutcomeMiss {
			result.Body = job.NewReader()
		}
		return err
	})
	if !locked {
		o.logger.WithFields(logrus.Fields{
			"action":     "production_lock",
			"path":       path,
			"timeout_ms": req.Timeout.Milliseconds(),
		}).Warn("production lock timeout")
		return Result{Path: path, Outcome: OutcomeFailed}, nil
	}
	if err != nil {
		return Result{Path: path, Outcome: OutcomeFailed}, err
	}
	return result, nil
}

// flush 在写队列的后台 goroutine 中执行，错误只记录不外抛。
func (o *Orchestrator) flush(job *writequeue.Job, timeout time.Duration) {
	started := time.Now()
	fields := logrus.Fields{
		"action": "flush",
		"path":   job.Path(),
		"bytes":  job.Size(),
	}

	deadline := started.Add(timeout)
	var result Result
	locked, err := o.writeLock.TryExecute(job.Path(), timeout, func() error {
		var persistErr error
		result, persistErr = o.persist(context.Background(), job.Path(), jobProducer(job), deadline)
		return persistErr
	})
	fields["duration_ms"] = time.Since(started).Milliseconds()

	switch {
	case !locked:
		o.logger.WithFields(fields).Warn("flush skipped: write lock timeout")
	case err != nil:
		o.logger.WithFields(fields).WithError(err).Error("flush failed")
	default:
		fields["outcome"] = result.Outcome.String()
		o.logger.WithFields(fields).Debug("flush complete")
	}
}

// persist 必须在持有 writeLock 时调用；deadline 是调用方整体预算的截止时间。
func (o *Orchestrator) persist(ctx context.Context, path string, produce ProduceFunc, deadline time.Time) (Result, error) {
	if o.index.Exists(path) {
		return Result{Path: path, Outcome: OutcomeHit}, nil
	}

	exists, err := o.backend.Exists(ctx, path)
	if err != nil {
		return Result{Path: path, Outcome: OutcomeFailed}, fmt.Errorf("check %s: %w", path, err)
	}
	if exists {
		o.index.Insert(path)
		return Result{Path: path, Outcome: OutcomeHit}, nil
	}

	w, err := o.backend.OpenWrite(ctx, path)
	if errors.Is(err, storage.ErrExists) {
		return o.awaitReadable(ctx, path, deadline)
	}
	if err != nil {
		return Result{Path: path, Outcome: OutcomeFailed}, fmt.Errorf("open %s for write: %w", path, err)
	}

	if err := produce(w); err != nil {
		o.discard(path, w)
		if errors.Is(err, storage.ErrExists) {
			return o.awaitReadable(ctx, path, deadline)
		}
		return Result{Path: path, Outcome: OutcomeFailed}, err
	}

	if err := w.Commit(); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return o.awaitReadable(ctx, path, deadline)
		}
		o.discard(path, w)
		return Result{Path: path, Outcome: OutcomeFailed}, fmt.Errorf("commit %s: %w", path, err)
	}

	o.index.Insert(path)
	return Result{Path: path, Outcome: OutcomeMiss}, nil
}

// awaitReadable 处理另一写入方抢先创建对象的情况：固定间隔轮询读取，
// 成功视为命中，过了 deadline 返回 ErrRemoteRace。总耗时最多超出 deadline 一个轮询间隔。
func (o *Orchestrator) awaitReadable(ctx context.Context, path string, deadline time.Time) (Result, error) {
	started := time.Now()
	attempts := 0
	var lastErr error
	for {
		attempts++
		rc, err := o.backend.OpenRead(ctx, path)
		if err == nil {
			rc.Close()
			o.index.Insert(path)
			o.logger.WithFields(logrus.Fields{
				"action":      "write_race",
				"path":        path,
				"attempts":    attempts,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Debug("object written by another writer")
			return Result{Path: path, Outcome: OutcomeHit}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			lastErr = err
		}
		if !time.Now().Before(deadline) {
			break
		}
		wait := o.pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		time.Sleep(wait)
	}

	o.logger.WithFields(logrus.Fields{
		"action":   "write_race",
		"path":     path,
		"attempts": attempts,
	}).Warn("object never became readable")
	if lastErr != nil {
		return Result{Path: path, Outcome: OutcomeFailed}, fmt.Errorf("%w: %s: %w", ErrRemoteRace, path, lastErr)
	}
	return Result{Path: path, Outcome: OutcomeFailed}, fmt.Errorf("%w: %s", ErrRemoteRace, path)
}

// discard 尽力清理未完成对象，清理失败只记录日志。
func (o *Orchestrator) discard(path string, w storage.Writer) {
	if err := w.Discard(); err != nil {
		o.logger.WithFields(logrus.Fields{
			"action": "discard_partial",
			"path":   path,
		}).WithError(err).Warn("failed to remove partial object")
	}
}

func (o *Orchestrator) notify(event Event) {
	o.obsMu.RLock()
	observers := o.observers
	o.obsMu.RUnlock()
	for _, obs := range observers {
		o.safeObserve(obs, event)
	}
}

func (o *Orchestrator) safeObserve(obs Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("action", "observer").Error(fmt.Sprintf("observer panic: %v", r))
		}
	}()
	obs.Observe(event)
}

// Open 返回结果对应的正文：优先使用内存字节，否则从存储读取。
func (o *Orchestrator) Open(ctx context.Context, res Result) (io.ReadCloser, error) {
	if res.Body != nil {
		if _, err := res.Body.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return io.NopCloser(res.Body), nil
	}
	if res.Outcome == OutcomeFailed {
		return nil, storage.ErrNotFound
	}
	return o.backend.OpenRead(ctx, res.Path)
}

// Stats 返回索引与写队列的瞬时状态。
func (o *Orchestrator) Stats() Stats {
	q := o.queue.Stats()
	return Stats{
		IndexEntries: o.index.Len(),
		QueuedJobs:   q.Jobs,
		QueuedBytes:  q.QueuedBytes,
		MaxQueue:     q.MaxBytes,
	}
}

// Forget 从索引中移除单个路径，用于读取时发现对象已在存储中缺失的情况。
func (o *Orchestrator) Forget(path string) {
	o.index.Remove(path)
	o.logger.WithFields(logrus.Fields{
		"action": "index_forget",
		"path":   path,
	}).Warn("indexed object missing from storage")
}

// Purge 在持有 path 的写锁时删除远端对象并移除索引条目。
// timeout 内拿不到写锁返回 ErrPurgeBusy；对象不存在不视为错误。
func (o *Orchestrator) Purge(ctx context.Context, path string, timeout time.Duration) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	locked, err := o.writeLock.TryExecute(path, timeout, func() error {
		if err := o.backend.Delete(ctx, path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", path, err)
		}
		o.index.Remove(path)
		return nil
	})
	if !locked {
		return ErrPurgeBusy
	}
	if err == nil {
		o.logger.WithFields(logrus.Fields{
			"action": "purge",
			"path":   path,
		}).Info("object purged")
	}
	return err
}

// ClearIndex 清空本地存在性索引，之后的请求会重新向存储确认。
func (o *Orchestrator) ClearIndex() {
	o.index.Clear()
}

// Close 等待所有后台 flush 完成。
func (o *Orchestrator) Close() {
	o.queue.Wait()
}

func jobProducer(job *writequeue.Job) ProduceFunc {
	return func(w io.Writer) error {
		_, err := job.WriteTo(w)
		return err
	}
}
