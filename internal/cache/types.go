package cache

import (
	"io"
	"time"
)

// Outcome 表示一次 GetCachedFile 的结果类别。
type Outcome int

const (
	// OutcomeFailed 表示在超时内未取得锁，对数据可用性不做任何假设。
	OutcomeFailed Outcome = iota
	// OutcomeHit 表示对象已持久化，本次未生产新字节。
	OutcomeHit
	// OutcomeMiss 表示本次调用（或并发合并的在途任务）生产了新字节。
	OutcomeMiss
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	default:
		return "failed"
	}
}

// ProduceFunc 将输出字节写入 w，返回错误即视为生产失败。
type ProduceFunc func(w io.Writer) error

// Request 描述一次缓存访问。
type Request struct {
	// KeyBasis 是稳定的逻辑键，不应包含修改时间等易变成分。
	KeyBasis string
	// Extension 会附加在指纹后作为对象名后缀。
	Extension string
	Produce   ProduceFunc
	// Timeout 是获取锁以及写冲突后轮询读取的时间预算。
	Timeout time.Duration
	Async   bool
}

// Result 是 GetCachedFile 的返回值。Body 非空时携带尚未（或刚刚）持久化的内存字节。
type Result struct {
	Path    string
	Outcome Outcome
	Body    io.ReadSeeker
}

// Event 在每次 GetCachedFile 结束时恰好通知一次观察者。
type Event struct {
	Path    string
	Outcome Outcome
	Async   bool
	// QueueRejected 表示异步请求因队列容量不足而退化为同步写入。
	QueueRejected bool
	// Coalesced 表示结果来自已在途的写入任务，未再次调用生产者。
	Coalesced bool
	Duration  time.Duration
	Err       error
}

// Observer 接收结果通知，仅用于观测，不得影响控制流。
type Observer interface {
	Observe(Event)
}

// ObserverFunc 让普通函数满足 Observer。
type ObserverFunc func(Event)

// Observe 实现 Observer。
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Stats 汇总索引与写队列状态，供诊断接口输出。
type Stats struct {
	IndexEntries int   `json:"index_entries"`
	QueuedJobs   int   `json:"queued_jobs"`
	QueuedBytes  int64 `json:"queued_bytes"`
	MaxQueue     int64 `json:"max_queue_bytes"`
}
