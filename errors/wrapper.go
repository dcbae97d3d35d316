package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"runtime"

	"docflow/logging"
	"docflow/mutation"
)

// WrapCommitError 把提交失败归类为 AppError 并记录警告日志。
//
// 错误代码按 Normalize 归类（例如 409 → CONFLICT，超时 → TIMEOUT）；
// err 链中有 *mutation.CommitError 时，记录 ID、集合以及成功/失败的 ID 作为详情附加。
func WrapCommitError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	code := GetErrorCode(Normalize(err))
	wrapped := wrap(err, code, "远程删除失败")

	// 获取调用位置
	_, file, line, _ := runtime.Caller(1)
	fields := []logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}

	var commitErr *mutation.CommitError
	if stdErrors.As(err, &commitErr) {
		wrapped = wrapped.WithDetails(map[string]any{
			DetailRecordID:   commitErr.RecordID,
			DetailCollection: commitErr.Collection,
			DetailSucceeded:  commitErr.Succeeded,
			DetailFailed:     commitErr.Failed,
		})
		fields = append(fields,
			logging.String("record_id", commitErr.RecordID),
			logging.String("collection", commitErr.Collection),
			logging.Strings("failed", commitErr.Failed))
	}

	logging.GetLogger().Warn(ctx, "commit failed", fields...)
	return wrapped
}
