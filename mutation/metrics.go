package mutation

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics 注册表计数器，作为 Observer 挂在注册表上
type Metrics struct {
	Begun     int64
	Rejected  int64
	Cancelled int64
	Committed int64
	Failed    int64
	Partial   int64
	Stale     int64

	startTime time.Time
}

// NewMetrics 创建计数器
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// OnEvent 实现 Observer
func (m *Metrics) OnEvent(_ context.Context, evt Event) {
	switch evt.Type {
	case EventBegun:
		atomic.AddInt64(&m.Begun, 1)
	case EventRejected:
		atomic.AddInt64(&m.Rejected, 1)
	case EventCancelled:
		atomic.AddInt64(&m.Cancelled, 1)
	case EventCommitted:
		atomic.AddInt64(&m.Committed, 1)
	case EventFailed:
		atomic.AddInt64(&m.Failed, 1)
		if len(evt.Succeeded) > 0 {
			atomic.AddInt64(&m.Partial, 1)
		}
	case EventStale:
		atomic.AddInt64(&m.Stale, 1)
	}
}

// MetricsSnapshot 计数器快照
type MetricsSnapshot struct {
	Begun     int64         `json:"begun"`
	Rejected  int64         `json:"rejected"`
	Cancelled int64         `json:"cancelled"`
	Committed int64         `json:"committed"`
	Failed    int64         `json:"failed"`
	Partial   int64         `json:"partial"`
	Stale     int64         `json:"stale"`
	Uptime    time.Duration `json:"uptime"`
}

// Snapshot 读取当前计数
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Begun:     atomic.LoadInt64(&m.Begun),
		Rejected:  atomic.LoadInt64(&m.Rejected),
		Cancelled: atomic.LoadInt64(&m.Cancelled),
		Committed: atomic.LoadInt64(&m.Committed),
		Failed:    atomic.LoadInt64(&m.Failed),
		Partial:   atomic.LoadInt64(&m.Partial),
		Stale:     atomic.LoadInt64(&m.Stale),
		Uptime:    time.Since(m.startTime),
	}
}

// InFlight 已开始但尚未结束的记录数
func (s MetricsSnapshot) InFlight() int64 {
	return s.Begun - s.Cancelled - s.Committed - s.Failed
}
