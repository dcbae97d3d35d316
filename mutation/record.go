package mutation

import (
	"time"

	"docflow/commit"
	"docflow/listview"
)

// DefaultTTL 默认撤销窗口
const DefaultTTL = 5000 * time.Millisecond

// Kind 删除类型
type Kind string

const (
	KindSingle Kind = "single"
	KindBulk   Kind = "bulk"
)

// Status 记录状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitting Status = "committing"
	StatusCommitted  Status = "committed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusCommitting, StatusCancelled},
	StatusCommitting: {StatusCommitted, StatusFailed},
}

// CanTransitionTo 判断状态迁移是否合法；终态不允许任何迁移
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCommitted || s == StatusCancelled || s == StatusFailed
}

// View 注册表可修改的列表视图，listview.Projector 实现了该接口
type View interface {
	Collection() string
	Remove(ids []string) listview.Snapshot
	Restore(snap listview.Snapshot)
	CommitRemoval(ids []string)
}

// Record 一次待提交的删除
//
// 只有 Registry 可以修改记录；对外暴露的 Record 都是副本。
type Record struct {
	ID         string
	Collection string
	TargetIDs  []string
	Kind       Kind
	Status     Status
	Snapshot   listview.Snapshot
	TTL        time.Duration
	CreatedAt  time.Time
	Message    string

	// 终态信息
	Succeeded  []string
	Failed     []string
	Err        error
	FinishedAt time.Time

	view   View
	commit commit.Func
}

// Remaining 返回撤销窗口的剩余时间
func (r Record) Remaining(now time.Time) time.Duration {
	if r.Status != StatusPending {
		return 0
	}
	left := r.CreatedAt.Add(r.TTL).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Partial 是否为部分失败
func (r Record) Partial() bool {
	return r.Status == StatusFailed && len(r.Succeeded) > 0
}

func (r *Record) transition(next Status) bool {
	if !r.Status.CanTransitionTo(next) {
		return false
	}
	r.Status = next
	return true
}

// clone 返回不共享切片的副本，且不携带视图与提交函数
func (r *Record) clone() Record {
	out := *r
	out.TargetIDs = cloneStrings(r.TargetIDs)
	out.Succeeded = cloneStrings(r.Succeeded)
	out.Failed = cloneStrings(r.Failed)
	out.Snapshot.Entries = append([]listview.Entry(nil), r.Snapshot.Entries...)
	out.view = nil
	out.commit = nil
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func kindOf(ids []string) Kind {
	if len(ids) == 1 {
		return KindSingle
	}
	return KindBulk
}

// dedupe 去重并保留输入顺序，忽略空 ID
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
