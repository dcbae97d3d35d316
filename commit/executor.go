package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docflow/logging"
)

// Outcome 一次提交的规范化结果，Succeeded 与 Failed 互不相交且覆盖全部请求 ID
type Outcome struct {
	Succeeded []string
	Failed    []string
	Err       error
	Duration  time.Duration
}

// AllSucceeded 全部成功
func (o Outcome) AllSucceeded() bool { return len(o.Failed) == 0 }

// AllFailed 全部失败
func (o Outcome) AllFailed() bool { return len(o.Succeeded) == 0 && len(o.Failed) > 0 }

// Partial 部分成功部分失败
func (o Outcome) Partial() bool { return len(o.Succeeded) > 0 && len(o.Failed) > 0 }

// Executor 执行提交函数
//
// 每条记录的提交函数由注册表保证只调用一次；Executor 负责超时、
// panic 恢复以及结果规范化。
type Executor struct {
	timeout time.Duration
	logger  logging.Logger
}

// Option Executor 配置项
type Option func(*Executor)

// WithTimeout 设置单次提交的超时时间，0 表示不限制
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor 创建 Executor，默认超时 30s
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		timeout: 30 * time.Second,
		logger:  logging.ComponentLogger("commit.executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 对 ids 调用 fn 并返回规范化结果。
//
// 规则：
//   - fn 返回 error 或 panic：全部 ID 失败；
//   - 未被报告的 ID 视为失败；同时出现在成功与失败中的 ID 视为失败；
//   - 不在请求中的 ID 被忽略。
func (e *Executor) Execute(ctx context.Context, ids []string, fn Func) Outcome {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := safeCall(ctx, fn, ids)
	out := normalize(ids, res, err)
	out.Duration = time.Since(start)

	switch {
	case out.AllSucceeded():
		e.logger.Debug(ctx, "commit succeeded",
			logging.Int("ids", len(ids)),
			logging.Duration("duration", out.Duration))
	case out.Partial():
		e.logger.Warn(ctx, "commit partially failed",
			logging.Strings("succeeded", out.Succeeded),
			logging.Strings("failed", out.Failed),
			logging.Error(out.Err))
	default:
		e.logger.Warn(ctx, "commit failed",
			logging.Strings("failed", out.Failed),
			logging.Error(out.Err))
	}
	return out
}

func normalize(ids []string, res Result, err error) Outcome {
	if err != nil {
		failed := make([]string, len(ids))
		copy(failed, ids)
		return Outcome{Failed: failed, Err: err}
	}

	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}
	failed := make(map[string]struct{}, len(res.Failed))
	for _, id := range res.Failed {
		failed[id] = struct{}{}
	}
	succeeded := make(map[string]struct{}, len(res.Succeeded))
	for _, id := range res.Succeeded {
		if _, ok := requested[id]; !ok {
			continue
		}
		if _, bad := failed[id]; bad {
			continue
		}
		succeeded[id] = struct{}{}
	}

	var out Outcome
	var errs []error
	for _, id := range ids {
		if _, ok := succeeded[id]; ok {
			out.Succeeded = append(out.Succeeded, id)
			continue
		}
		out.Failed = append(out.Failed, id)
		switch {
		case res.Errors[id] != nil:
			errs = append(errs, fmt.Errorf("%s: %w", id, res.Errors[id]))
		case !contains(failed, id):
			errs = append(errs, fmt.Errorf("%s: %w", id, ErrNotReported))
		}
	}
	if len(out.Failed) > 0 {
		out.Err = errors.Join(errs...)
		if out.Err == nil {
			out.Err = fmt.Errorf("%d of %d deletions failed", len(out.Failed), len(ids))
		}
	}
	return out
}

func contains(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}
