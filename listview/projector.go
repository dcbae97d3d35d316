// Package listview 提供列表页面的有序内存视图模型，支持带位置记忆的乐观移除与原位回滚。
package listview

import (
	"context"
	"sync"

	"docflow/logging"
)

// Projector 某个资源集合的有序视图
//
// 视图的有序序列是唯一的共享可变状态；所有修改都经由 Projector 的方法完成。
type Projector[T any] struct {
	collection string
	idOf       func(T) string
	logger     logging.Logger

	mu      sync.Mutex
	items   []T
	removed map[string]struct{} // 已乐观移除、尚未提交或回滚的 ID

	listenerMu sync.Mutex
	listeners  map[int]func([]T)
	nextID     int
}

// New 创建视图，idOf 返回条目的资源 ID
func New[T any](collection string, idOf func(T) string, items ...T) *Projector[T] {
	p := &Projector[T]{
		collection: collection,
		idOf:       idOf,
		logger:     logging.ComponentLogger("listview").WithFields(logging.String("collection", collection)),
		removed:    make(map[string]struct{}),
		listeners:  make(map[int]func([]T)),
	}
	p.items = append(p.items, items...)
	return p
}

// Collection 集合名称，与 REST 集合路径一致
func (p *Projector[T]) Collection() string { return p.collection }

// Remove 从序列中移除 ids 对应的条目，返回记录原下标的快照。
//
// 下标基于移除前的序列计算；不存在的 ID 被忽略。
func (p *Projector[T]) Remove(ids []string) Snapshot {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	p.mu.Lock()
	snap := Snapshot{Collection: p.collection}
	kept := make([]T, 0, len(p.items))
	for i, item := range p.items {
		id := p.idOf(item)
		if _, ok := want[id]; ok {
			snap.Entries = append(snap.Entries, Entry{ID: id, Index: i, Item: item})
			p.removed[id] = struct{}{}
			continue
		}
		kept = append(kept, item)
	}
	p.items = kept
	view := p.copyLocked()
	p.mu.Unlock()

	if len(snap.Entries) != len(want) {
		p.logger.Debug(context.Background(), "remove skipped unknown ids",
			logging.Int("requested", len(want)),
			logging.Int("removed", len(snap.Entries)))
	}
	p.notify(view)
	return snap
}

// Restore 按快照把条目插回原位置。
//
// 若期间序列被其它操作改变，插入位置收敛为 min(原下标, 当前长度)；
// 已经重新出现在序列中的 ID 不会重复插入。
func (p *Projector[T]) Restore(snap Snapshot) {
	if snap.Len() == 0 {
		return
	}

	p.mu.Lock()
	present := make(map[string]struct{}, len(p.items))
	for _, item := range p.items {
		present[p.idOf(item)] = struct{}{}
	}
	for _, e := range snap.sorted() {
		delete(p.removed, e.ID)
		if _, dup := present[e.ID]; dup {
			continue
		}
		item, ok := e.Item.(T)
		if !ok {
			p.logger.Warn(context.Background(), "snapshot entry has foreign item type",
				logging.String("id", e.ID))
			continue
		}
		idx := e.Index
		if idx < 0 {
			idx = 0
		}
		if idx > len(p.items) {
			idx = len(p.items)
		}
		p.items = append(p.items, item)
		copy(p.items[idx+1:], p.items[idx:])
		p.items[idx] = item
		present[e.ID] = struct{}{}
	}
	view := p.copyLocked()
	p.mu.Unlock()

	p.notify(view)
}

// CommitRemoval 将移除标记为永久，序列本身不变
func (p *Projector[T]) CommitRemoval(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.removed, id)
	}
}

// Replace 用后台刷新的结果替换序列，仍处于乐观移除中的条目会被过滤
func (p *Projector[T]) Replace(items ...T) {
	p.mu.Lock()
	next := make([]T, 0, len(items))
	for _, item := range items {
		if _, hidden := p.removed[p.idOf(item)]; hidden {
			continue
		}
		next = append(next, item)
	}
	p.items = next
	view := p.copyLocked()
	p.mu.Unlock()

	p.notify(view)
}

// Items 返回当前序列的副本
func (p *Projector[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLocked()
}

// IDs 返回当前序列的 ID
func (p *Projector[T]) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.items))
	for _, item := range p.items {
		ids = append(ids, p.idOf(item))
	}
	return ids
}

// Len 当前序列长度
func (p *Projector[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Contains 判断 id 是否在当前序列中
func (p *Projector[T]) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.items {
		if p.idOf(item) == id {
			return true
		}
	}
	return false
}

// Pending 返回仍处于乐观移除中的 ID 数量
func (p *Projector[T]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.removed)
}

// Subscribe 注册序列变化监听器，返回取消函数。
// 监听器在不持有视图锁的情况下被调用，可以安全地回调视图。
func (p *Projector[T]) Subscribe(fn func([]T)) (unsubscribe func()) {
	p.listenerMu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.listenerMu.Unlock()

	return func() {
		p.listenerMu.Lock()
		delete(p.listeners, id)
		p.listenerMu.Unlock()
	}
}

func (p *Projector[T]) notify(view []T) {
	p.listenerMu.Lock()
	fns := make([]func([]T), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenerMu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

func (p *Projector[T]) copyLocked() []T {
	out := make([]T, len(p.items))
	copy(out, p.items)
	return out
}
