package writequeue

import (
	"bytes"
	"io"
	"time"
)

// Job 持有一份已生成字节的不可变快照，直到后台 flush 结束。
type Job struct {
	path      string
	data      []byte
	createdAt time.Time
}

// NewJob 拷贝 data 构建 Job，调用方之后对原缓冲区的修改不会影响 Job。
func NewJob(path string, data []byte) *Job {
	return &Job{
		path:      path,
		data:      bytes.Clone(data),
		createdAt: time.Now(),
	}
}

// Path 返回目标存储路径。
func (j *Job) Path() string { return j.path }

// Size 返回快照字节数。
func (j *Job) Size() int64 { return int64(len(j.data)) }

// CreatedAt 返回 Job 创建时间。
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// NewReader 返回独立的只读视图，可同时交给后台 flush 与多个请求方。
func (j *Job) NewReader() *bytes.Reader {
	return bytes.NewReader(j.data)
}

// WriteTo 将快照写入 w，使 Job 可直接充当生产者。
func (j *Job) WriteTo(w io.Writer) (int64, error) {
	return j.NewReader().WriteTo(w)
}
