// Package mutation 实现延迟提交的删除管理：乐观移除、限时撤销、到期或确认后提交、失败回滚。
//
// 状态机：
//
//	        BeginDelete
//	(none) ────────────► pending
//	pending ── Confirm / 到期 ──► committing ── 成功 ──► committed
//	                                         └─ 失败 ──► failed
//	pending ── Cancel ──► cancelled
//
// 所有入口都先在锁内检查并迁移状态，因此同一记录的提交、回滚、终态通知各至多发生一次。
package mutation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docflow/cache"
	"docflow/clock"
	"docflow/commit"
	"docflow/logging"
	"docflow/notify"
	"docflow/scheduler"
)

// Config 注册表配置
type Config struct {
	// DefaultTTL BeginDelete 未指定时使用的撤销窗口
	DefaultTTL time.Duration

	// HistorySize 保留的最近终态记录数量
	HistorySize int

	// HistoryTTL 终态记录可被 Lookup 查询的时长
	HistoryTTL time.Duration

	Clock    clock.Clock
	Executor *commit.Executor
	Logger   logging.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultTTL:  DefaultTTL,
		HistorySize: 256,
		HistoryTTL:  30 * time.Second,
	}
}

// Registry 创建、跟踪并终结删除记录，是唯一可以迁移记录状态的组件
type Registry struct {
	cfg       Config
	clock     clock.Clock
	scheduler *scheduler.Scheduler
	executor  *commit.Executor
	notifier  notify.Channel
	logger    logging.Logger
	metrics   *Metrics
	history   *cache.Cache[string, Record]

	mu      sync.Mutex
	records map[string]*Record
	owners  map[string]string // collection/id → recordID
	closed  bool
	active  int // 正在提交的记录数
	idle    *sync.Cond

	observerMu sync.RWMutex
	observers  []Observer
}

// NewRegistry 创建注册表，notifier 为 nil 时丢弃通知
func NewRegistry(notifier notify.Channel, cfg Config) *Registry {
	if cfg.DefaultTTL < 0 {
		cfg.DefaultTTL = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Executor == nil {
		cfg.Executor = commit.NewExecutor()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("mutation.registry")
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}

	r := &Registry{
		cfg:       cfg,
		clock:     cfg.Clock,
		scheduler: scheduler.New(cfg.Clock),
		executor:  cfg.Executor,
		notifier:  notifier,
		logger:    cfg.Logger,
		metrics:   NewMetrics(),
		history: cache.New[string, Record](cache.Config{
			Name:    "mutation_history",
			MaxSize: cfg.HistorySize,
			TTL:     cfg.HistoryTTL,
			Now:     cfg.Clock.Now,
		}),
		records: make(map[string]*Record),
		owners:  make(map[string]string),
	}
	r.idle = sync.NewCond(&r.mu)
	r.observers = []Observer{r.metrics}
	return r
}

// DeleteOption BeginDelete 的可选参数
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	ttl     time.Duration
	message string
}

// WithTTL 覆盖本次删除的撤销窗口；<= 0 表示立即提交
func WithTTL(d time.Duration) DeleteOption {
	return func(o *deleteOptions) { o.ttl = d }
}

// WithMessage 设置待确认提示的文案
func WithMessage(msg string) DeleteOption {
	return func(o *deleteOptions) { o.message = msg }
}

// AddObserver 注册生命周期观察者
func (r *Registry) AddObserver(o Observer) {
	if o == nil {
		return
	}
	r.observerMu.Lock()
	r.observers = append(r.observers, o)
	r.observerMu.Unlock()
}

// Metrics 返回计数器快照
func (r *Registry) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// BeginDelete 乐观地从 view 中移除 ids 并开始撤销倒计时，返回记录 ID。
//
// 任一 ID 已属于进行中的记录时返回 ErrAlreadyPending，视图与注册表均不变。
// ttl <= 0 时同步提交，失败会同时返回记录 ID 与 *CommitError。
func (r *Registry) BeginDelete(ctx context.Context, view View, ids []string, fn commit.Func, opts ...DeleteOption) (string, error) {
	if view == nil || fn == nil {
		return "", ErrInvalidRequest
	}
	targets := dedupe(ids)
	if len(targets) == 0 {
		return "", ErrEmptyTargets
	}

	o := deleteOptions{ttl: r.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.message == "" {
		o.message = pendingMessage(view.Collection(), len(targets))
	}

	rec := &Record{
		ID:         uuid.NewString(),
		Collection: view.Collection(),
		TargetIDs:  targets,
		Kind:       kindOf(targets),
		Status:     StatusPending,
		TTL:        o.ttl,
		Message:    o.message,
		view:       view,
		commit:     fn,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	for _, id := range targets {
		if owner, busy := r.owners[ownerKey(rec.Collection, id)]; busy {
			r.mu.Unlock()
			r.logger.Debug(ctx, "delete rejected, target already pending",
				logging.String("collection", rec.Collection),
				logging.String("target_id", id),
				logging.String("owner_record_id", owner))
			r.emit(ctx, Event{
				Type:       EventRejected,
				RecordID:   owner,
				Collection: rec.Collection,
				TargetIDs:  cloneStrings(targets),
				Kind:       rec.Kind,
				At:         r.clock.Now(),
			})
			return "", fmt.Errorf("%w: %s/%s", ErrAlreadyPending, rec.Collection, id)
		}
	}
	// 先占有 ID，再在锁外修改视图；记录 ID 返回前外部无法引用该记录
	for _, id := range targets {
		r.owners[ownerKey(rec.Collection, id)] = rec.ID
	}
	rec.CreatedAt = r.clock.Now()
	r.mu.Unlock()

	snap := view.Remove(targets)

	r.mu.Lock()
	rec.Snapshot = snap
	r.records[rec.ID] = rec
	begun := eventFor(EventBegun, rec, rec.CreatedAt)
	r.mu.Unlock()

	r.logger.Info(ctx, "deletion pending",
		logging.String("record_id", rec.ID),
		logging.String("collection", rec.Collection),
		logging.Strings("target_ids", targets),
		logging.Duration("ttl", o.ttl))
	r.emit(ctx, begun)

	recordID := rec.ID
	if o.ttl <= 0 {
		if err := r.commitRecord(ctx, recordID, "immediate"); err != nil && !IsBenign(err) {
			return recordID, err
		}
		return recordID, nil
	}

	r.notifier.ShowPending(recordID, rec.Message, notify.Actions{
		OnConfirm: func() { _ = r.Confirm(context.Background(), recordID) },
		OnCancel:  func() { _ = r.Cancel(context.Background(), recordID) },
	})
	r.scheduler.Schedule(recordID, o.ttl, r.onTimerExpired)

	// 记录可能在提示和倒计时就绪前已被结束（Flush、观察者），此时撤下二者
	r.mu.Lock()
	live := rec.Status == StatusPending
	r.mu.Unlock()
	if !live {
		r.scheduler.Cancel(recordID)
		r.notifier.ResolvePending(recordID)
	}
	return recordID, nil
}

// Confirm 跳过剩余窗口立即提交。
//
// 仅对 pending 记录有效，否则返回 ErrStaleOperation。调用会阻塞到提交结束；
// 提交失败时返回 *CommitError（失败已通过通知展示给用户）。
// ctx 的取消不会中断已经开始的远程删除。
func (r *Registry) Confirm(ctx context.Context, recordID string) error {
	return r.commitRecord(ctx, recordID, "confirm")
}

// Cancel 撤销删除并把条目恢复到原位置，仅对 pending 记录有效
func (r *Registry) Cancel(ctx context.Context, recordID string) error {
	r.mu.Lock()
	rec, ok := r.records[recordID]
	if !ok || !rec.transition(StatusCancelled) {
		r.mu.Unlock()
		return r.stale(ctx, recordID, "cancel")
	}
	rec.FinishedAt = r.clock.Now()
	view, snap := rec.view, rec.Snapshot
	r.mu.Unlock()

	r.scheduler.Cancel(recordID)
	r.notifier.ResolvePending(recordID)
	view.Restore(snap)
	evt := r.finish(rec, EventCancelled)

	r.logger.Info(ctx, "deletion cancelled",
		logging.String("record_id", recordID),
		logging.String("collection", rec.Collection))
	r.emit(ctx, evt)
	return nil
}

// onTimerExpired 倒计时结束，等价于隐式 Confirm
func (r *Registry) onTimerExpired(recordID string) {
	_ = r.commitRecord(context.Background(), recordID, "timer")
}

func (r *Registry) commitRecord(ctx context.Context, recordID, trigger string) error {
	r.mu.Lock()
	rec, ok := r.records[recordID]
	if !ok || !rec.transition(StatusCommitting) {
		r.mu.Unlock()
		return r.stale(ctx, recordID, trigger)
	}
	r.active++
	ids := cloneStrings(rec.TargetIDs)
	fn := rec.commit
	committing := eventFor(EventCommitting, rec, r.clock.Now())
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		if r.active == 0 {
			r.idle.Broadcast()
		}
		r.mu.Unlock()
	}()

	r.scheduler.Cancel(recordID)
	r.notifier.ResolvePending(recordID)
	r.emit(ctx, committing)
	r.logger.Debug(ctx, "committing deletion",
		logging.String("record_id", recordID),
		logging.String("trigger", trigger),
		logging.Strings("target_ids", ids))

	out := r.executor.Execute(context.WithoutCancel(ctx), ids, fn)
	return r.resolve(ctx, rec, out)
}

func (r *Registry) resolve(ctx context.Context, rec *Record, out commit.Outcome) error {
	next := StatusCommitted
	if !out.AllSucceeded() {
		next = StatusFailed
	}

	r.mu.Lock()
	rec.transition(next)
	rec.Succeeded = cloneStrings(out.Succeeded)
	rec.Failed = cloneStrings(out.Failed)
	if next == StatusFailed {
		rec.Err = &CommitError{
			RecordID:   rec.ID,
			Collection: rec.Collection,
			Succeeded:  cloneStrings(out.Succeeded),
			Failed:     cloneStrings(out.Failed),
			Err:        out.Err,
		}
	}
	rec.FinishedAt = r.clock.Now()
	view, snap := rec.view, rec.Snapshot
	r.mu.Unlock()

	if len(out.Succeeded) > 0 {
		view.CommitRemoval(out.Succeeded)
	}
	switch {
	case out.AllFailed():
		view.Restore(snap)
	case out.Partial():
		view.Restore(snap.Subset(out.Failed))
	}

	if next == StatusCommitted {
		evt := r.finish(rec, EventCommitted)
		r.notifier.ShowResult(notify.ResultSuccess, successMessage(rec.Collection, len(out.Succeeded)))
		r.logger.Info(ctx, "deletion committed",
			logging.String("record_id", rec.ID),
			logging.String("collection", rec.Collection),
			logging.Int("deleted", len(out.Succeeded)),
			logging.Duration("duration", out.Duration))
		r.emit(ctx, evt)
		return nil
	}

	evt := r.finish(rec, EventFailed)
	r.notifier.ShowResult(notify.ResultError, failureMessage(rec.Collection, len(out.Failed), len(rec.TargetIDs)))
	r.logger.Warn(ctx, "deletion failed, rolled back",
		logging.String("record_id", rec.ID),
		logging.String("collection", rec.Collection),
		logging.Strings("succeeded", out.Succeeded),
		logging.Strings("failed", out.Failed),
		logging.Error(out.Err))
	r.emit(ctx, evt)
	return rec.Err
}

// finish 驱逐终态记录、释放 ID 占有并写入最近历史
func (r *Registry) finish(rec *Record, t EventType) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, rec.ID)
	for _, id := range rec.TargetIDs {
		key := ownerKey(rec.Collection, id)
		if r.owners[key] == rec.ID {
			delete(r.owners, key)
		}
	}
	r.history.Set(rec.ID, rec.clone())
	return eventFor(t, rec, rec.FinishedAt)
}

func (r *Registry) stale(ctx context.Context, recordID, trigger string) error {
	// 倒计时与 Confirm/Cancel 的竞争属于预期情况，不计入陈旧操作
	rec, known := r.Lookup(recordID)
	if trigger != "timer" {
		evt := Event{Type: EventStale, RecordID: recordID, At: r.clock.Now()}
		if known {
			evt.Collection = rec.Collection
			evt.Status = rec.Status
		}
		r.logger.Debug(ctx, "stale operation ignored",
			logging.String("record_id", recordID),
			logging.String("trigger", trigger))
		r.emit(ctx, evt)
	}
	if !known {
		return fmt.Errorf("%w: %w: %s", ErrStaleOperation, ErrRecordNotFound, recordID)
	}
	return fmt.Errorf("%w: %s", ErrStaleOperation, recordID)
}

func (r *Registry) emit(ctx context.Context, evt Event) {
	r.observerMu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.observerMu.RUnlock()

	for _, o := range observers {
		o.OnEvent(ctx, evt)
	}
}

// Lookup 返回记录副本；已结束的记录在 HistoryTTL 内仍可查询
func (r *Registry) Lookup(recordID string) (Record, bool) {
	r.mu.Lock()
	rec, ok := r.records[recordID]
	if ok {
		out := rec.clone()
		r.mu.Unlock()
		return out, true
	}
	r.mu.Unlock()
	return r.history.Get(recordID)
}

// Pending 返回所有 pending 记录（按创建时间升序）
func (r *Registry) Pending() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Status == StatusPending {
			out = append(out, rec.clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// IsPending 判断某个资源是否属于进行中的记录，界面可据此禁用删除按钮
func (r *Registry) IsPending(collection, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owners[ownerKey(collection, id)]
	return ok
}

// Flush 立即提交所有 pending 记录（页面卸载或关闭时调用），返回第一个提交失败
func (r *Registry) Flush(ctx context.Context) error {
	var g errgroup.Group
	for _, rec := range r.Pending() {
		recordID := rec.ID
		g.Go(func() error {
			err := r.Confirm(ctx, recordID)
			if IsBenign(err) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Close 停止接受新的删除，提交剩余的 pending 记录并等待进行中的提交结束
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	flushErr := r.Flush(ctx)

	done := make(chan struct{})
	go func() {
		r.mu.Lock()
		for r.active > 0 {
			r.idle.Wait()
		}
		r.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.scheduler.Stop()
	return flushErr
}

func ownerKey(collection, id string) string {
	return collection + "/" + id
}

func pendingMessage(collection string, n int) string {
	return fmt.Sprintf("Deleting %s from %s", items(n), collection)
}

func successMessage(collection string, n int) string {
	return fmt.Sprintf("Deleted %s from %s", items(n), collection)
}

func failureMessage(collection string, failed, total int) string {
	if failed == total {
		return fmt.Sprintf("Could not delete %s from %s; restored", items(failed), collection)
	}
	return fmt.Sprintf("%d of %d deletions failed in %s; failed items restored", failed, total, collection)
}

func items(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}
