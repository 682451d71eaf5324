package cache

import "errors"

var (
	// ErrRemoteRace 表示写冲突后在时间预算内仍未能读取到另一写入方的对象。
	ErrRemoteRace = errors.New("object appeared concurrently but never became readable")
	// ErrNoProducer 表示请求未提供生产函数。
	ErrNoProducer = errors.New("produce callback required")
	// ErrPurgeBusy 表示删除对象时未能在时间预算内取得写锁。
	ErrPurgeBusy = errors.New("object is being written")
)
