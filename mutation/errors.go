package mutation

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyPending 目标 ID 已属于进行中的记录，请求被拒绝且不产生任何状态变化
	ErrAlreadyPending = errors.New("mutation: target already has a pending deletion")

	// ErrStaleOperation 对非 pending 记录的 Confirm/Cancel，静默忽略即可
	ErrStaleOperation = errors.New("mutation: record is no longer pending")

	// ErrRecordNotFound 记录不存在或已超出历史保留期，总是与 ErrStaleOperation 一起返回
	ErrRecordNotFound = errors.New("mutation: record not found")

	// ErrCommitFailure 远程删除失败（全部或部分）
	ErrCommitFailure = errors.New("mutation: remote commit failed")

	// ErrEmptyTargets 未指定目标 ID
	ErrEmptyTargets = errors.New("mutation: no target ids")

	// ErrInvalidRequest 缺少视图或提交函数
	ErrInvalidRequest = errors.New("mutation: invalid delete request")

	// ErrClosed 注册表已关闭
	ErrClosed = errors.New("mutation: registry closed")
)

// IsBenign 判断错误是否属于无需提示用户的界面竞态（重复删除、重复点击）
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyPending) || errors.Is(err, ErrStaleOperation)
}

// CommitError 一次提交失败的结果，errors.Is(err, ErrCommitFailure) 成立。
//
// 部分失败时 Succeeded 非空，这些条目已经从后台删除，不会回滚。
type CommitError struct {
	RecordID   string
	Collection string
	Succeeded  []string
	Failed     []string
	Err        error
}

func (e *CommitError) Error() string {
	total := len(e.Succeeded) + len(e.Failed)
	return fmt.Sprintf("%v: %s: %d of %d failed: %v", ErrCommitFailure, e.Collection, len(e.Failed), total, e.Err)
}

// Unwrap 同时暴露 ErrCommitFailure 与底层原因
func (e *CommitError) Unwrap() []error {
	return []error{ErrCommitFailure, e.Err}
}
