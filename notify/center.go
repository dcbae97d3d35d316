package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"docflow/clock"
	"docflow/logging"
)

// DefaultDisplayDuration 终态提示的默认展示时长
const DefaultDisplayDuration = 3 * time.Second

// ToastKind 提示类型
type ToastKind string

const (
	ToastPending ToastKind = "pending"
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// Toast 当前可见的一条提示
type Toast struct {
	ID        string
	RecordID  string // 仅 pending 提示
	Kind      ToastKind
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time // pending 提示为零值
}

type toastState struct {
	Toast
	actions Actions
	acted   bool
	timer   clock.Timer
}

// Center 默认的内存通知中心
//
// 界面层通过 Toasts/Subscribe 渲染提示，通过 Confirm/Cancel 转发按钮点击。
type Center struct {
	clock   clock.Clock
	display time.Duration
	logger  logging.Logger

	mu       sync.Mutex
	toasts   []*toastState
	byRecord map[string]*toastState

	listenerMu sync.Mutex
	listeners  map[int]func([]Toast)
	nextID     int
}

// NewCenter 创建通知中心，display <= 0 时使用 DefaultDisplayDuration
func NewCenter(c clock.Clock, display time.Duration) *Center {
	if c == nil {
		c = clock.Real()
	}
	if display <= 0 {
		display = DefaultDisplayDuration
	}
	return &Center{
		clock:     c,
		display:   display,
		logger:    logging.ComponentLogger("notify.center"),
		byRecord:  make(map[string]*toastState),
		listeners: make(map[int]func([]Toast)),
	}
}

var _ Channel = (*Center)(nil)

// ShowPending 实现 Channel
func (c *Center) ShowPending(recordID, message string, actions Actions) {
	c.mu.Lock()
	if old, ok := c.byRecord[recordID]; ok {
		c.removeLocked(old.ID)
	}
	st := &toastState{
		Toast: Toast{
			ID:        uuid.NewString(),
			RecordID:  recordID,
			Kind:      ToastPending,
			Message:   message,
			CreatedAt: c.clock.Now(),
		},
		actions: actions,
	}
	c.toasts = append(c.toasts, st)
	c.byRecord[recordID] = st
	view := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(view)
}

// ResolvePending 实现 Channel
func (c *Center) ResolvePending(recordID string) {
	c.mu.Lock()
	st, ok := c.byRecord[recordID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.removeLocked(st.ID)
	view := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(view)
}

// ShowResult 实现 Channel
func (c *Center) ShowResult(kind ResultKind, message string) {
	toastKind := ToastSuccess
	if kind == ResultError {
		toastKind = ToastError
	}

	c.mu.Lock()
	now := c.clock.Now()
	st := &toastState{Toast: Toast{
		ID:        uuid.NewString(),
		Kind:      toastKind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(c.display),
	}}
	c.toasts = append(c.toasts, st)
	view := c.snapshotLocked()
	c.mu.Unlock()

	// 锁外注册，FakeClock 在 d <= 0 时会同步回调
	id := st.ID
	timer := c.clock.AfterFunc(c.display, func() { c.Dismiss(id) })
	c.mu.Lock()
	st.timer = timer
	c.mu.Unlock()

	if kind == ResultError {
		c.logger.Info(context.Background(), "error toast shown", logging.String("message", message))
	}
	c.notify(view)
}

// Confirm 转发 Confirm 点击，返回是否触发了回调。每条提示的操作至多触发一次。
func (c *Center) Confirm(recordID string) bool {
	return c.act(recordID, func(a Actions) func() { return a.OnConfirm })
}

// Cancel 转发 Cancel 点击，返回是否触发了回调
func (c *Center) Cancel(recordID string) bool {
	return c.act(recordID, func(a Actions) func() { return a.OnCancel })
}

func (c *Center) act(recordID string, pick func(Actions) func()) bool {
	c.mu.Lock()
	st, ok := c.byRecord[recordID]
	if !ok || st.acted {
		c.mu.Unlock()
		return false
	}
	st.acted = true
	fn := pick(st.actions)
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Dismiss 手动关闭一条终态提示
func (c *Center) Dismiss(toastID string) {
	c.mu.Lock()
	st := c.removeLocked(toastID)
	view := c.snapshotLocked()
	c.mu.Unlock()

	if st == nil {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	c.notify(view)
}

// Toasts 返回当前可见提示（按出现顺序）
func (c *Center) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// PendingFor 返回 recordID 的待确认提示
func (c *Center) PendingFor(recordID string) (Toast, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.byRecord[recordID]
	if !ok {
		return Toast{}, false
	}
	return st.Toast, true
}

// Subscribe 注册提示变化监听器，返回取消函数
func (c *Center) Subscribe(fn func([]Toast)) (unsubscribe func()) {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners, id)
		c.listenerMu.Unlock()
	}
}

func (c *Center) removeLocked(toastID string) *toastState {
	for i, st := range c.toasts {
		if st.ID != toastID {
			continue
		}
		c.toasts = append(c.toasts[:i], c.toasts[i+1:]...)
		if st.RecordID != "" && c.byRecord[st.RecordID] == st {
			delete(c.byRecord, st.RecordID)
		}
		return st
	}
	return nil
}

func (c *Center) snapshotLocked() []Toast {
	out := make([]Toast, 0, len(c.toasts))
	for _, st := range c.toasts {
		out = append(out, st.Toast)
	}
	return out
}

func (c *Center) notify(view []Toast) {
	c.listenerMu.Lock()
	fns := make([]func([]Toast), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}
