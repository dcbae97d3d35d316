// Package scheduler 为每条待提交记录维护一次性倒计时。
//
// 回调只接收 recordID，由调用方在触发时查询记录的当前状态，
// 而不是信任注册时捕获的闭包快照。
package scheduler

import (
	"context"
	"sync"
	"time"

	"docflow/clock"
	"docflow/logging"
)

// ExpireFunc 倒计时结束时的回调
type ExpireFunc func(recordID string)

// Scheduler 按 recordID 管理倒计时
//
// 保证：
//   - onExpire 至多触发一次；
//   - Cancel 先于自然到期发生时，onExpire 不会再触发。
type Scheduler struct {
	clock   clock.Clock
	logger  logging.Logger
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	timer clock.Timer
}

// New 创建调度器，c 为 nil 时使用真实时钟
func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	return &Scheduler{
		clock:   c,
		logger:  logging.ComponentLogger("mutation.scheduler"),
		entries: make(map[string]*entry),
	}
}

// Schedule 启动 recordID 的倒计时。
//
// 同一 recordID 在触发前重复调度属于调用方错误，此时旧倒计时被取消。
// ttl <= 0 时 onExpire 在返回前同步执行。
func (s *Scheduler) Schedule(recordID string, ttl time.Duration, onExpire ExpireFunc) {
	if ttl <= 0 {
		onExpire(recordID)
		return
	}

	s.mu.Lock()
	if old, ok := s.entries[recordID]; ok {
		s.logger.Warn(context.Background(), "timer rescheduled before expiry",
			logging.String("record_id", recordID))
		old.timer.Stop()
	}
	e := &entry{}
	s.entries[recordID] = e
	// 持锁期间注册，fire 在取得锁之前无法观察到未赋值的 timer
	e.timer = s.clock.AfterFunc(ttl, func() { s.fire(recordID, e, onExpire) })
	s.mu.Unlock()
}

func (s *Scheduler) fire(recordID string, e *entry, onExpire ExpireFunc) {
	s.mu.Lock()
	current, ok := s.entries[recordID]
	if !ok || current != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, recordID)
	s.mu.Unlock()

	onExpire(recordID)
}

// Cancel 停止倒计时，幂等。返回是否确实取消了一个未触发的倒计时。
func (s *Scheduler) Cancel(recordID string) bool {
	s.mu.Lock()
	e, ok := s.entries[recordID]
	if ok {
		delete(s.entries, recordID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	return true
}

// Len 返回尚未触发的倒计时数量
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop 取消全部倒计时
func (s *Scheduler) Stop() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
	}
}
