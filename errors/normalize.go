package errors

import (
	"context"
	stdErrors "errors"
	"net/http"

	"docflow/commit"
	"docflow/mutation"
	"docflow/remote"
)

// Normalize 将删除流程与远程客户端的错误规范化为 AppError。
//
// 注意：
//   - 如果传入的 err 已经是 AppError，则原样返回；
//   - 远程删除失败时优先按 HTTP 状态码归类，状态码不可用时归为 COMMIT_FAILURE；
//   - 未识别的错误保持原样，不强行包装，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	// 已经是 AppError，直接返回
	if _, ok := err.(*AppError); ok {
		return err
	}

	// 删除流程
	switch {
	case stdErrors.Is(err, mutation.ErrAlreadyPending):
		return wrap(err, ErrCodeAlreadyPending, "资源已有待提交的删除")
	case stdErrors.Is(err, mutation.ErrStaleOperation):
		return wrap(err, ErrCodeStaleOperation, "删除记录已不在待确认状态")
	case stdErrors.Is(err, mutation.ErrEmptyTargets), stdErrors.Is(err, mutation.ErrInvalidRequest):
		return wrap(err, ErrCodeInvalidInput, "无效的删除请求")
	case stdErrors.Is(err, mutation.ErrClosed):
		return wrap(err, ErrCodeServiceUnavailable, "删除管理器已关闭")
	}

	// 远程调用
	// errors.Join 合并的批量错误取第一个状态码
	if code := remote.StatusCode(err); code != 0 {
		return wrap(err, codeForStatus(code), "远程删除失败")
	}
	switch {
	case stdErrors.Is(err, remote.ErrToken):
		return wrap(err, ErrCodeUnauthorized, "访问令牌不可用")
	case stdErrors.Is(err, context.DeadlineExceeded):
		return wrap(err, ErrCodeTimeout, "操作超时")
	case stdErrors.Is(err, context.Canceled):
		return wrap(err, ErrCodeCanceled, "操作已取消")
	case remote.IsRetryable(err):
		return wrap(err, ErrCodeNetwork, "远程删除网络错误")
	case stdErrors.Is(err, mutation.ErrCommitFailure), stdErrors.Is(err, commit.ErrPanicked),
		stdErrors.Is(err, commit.ErrNotReported):
		return wrap(err, ErrCodeCommitFailure, "远程删除失败")
	}

	// 未识别的错误保持原样
	return err
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrCodeInvalidInput
	case http.StatusTooManyRequests:
		return ErrCodeTooManyRequests
	default:
		return ErrCodeNetwork
	}
}
