// Package errors 定义控制台面向调用方的错误代码，并把删除流程、远程客户端的错误归类为 AppError。
package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeCanceled           ErrorCode = "CANCELED"
	ErrCodeNetwork            ErrorCode = "NETWORK_ERROR"

	// 删除流程
	ErrCodeAlreadyPending ErrorCode = "ALREADY_PENDING"
	ErrCodeStaleOperation ErrorCode = "STALE_OPERATION"
	ErrCodeCommitFailure  ErrorCode = "COMMIT_FAILURE"
)

// 提交失败详情的键
const (
	DetailRecordID   = "record_id"
	DetailCollection = "collection"
	DetailSucceeded  = "succeeded"
	DetailFailed     = "failed"
)

// AppError 带错误代码的错误，原始错误可通过 errors.Is/As 访问
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) *AppError {
	return &AppError{code: code, message: message}
}

// wrap 包装非 nil 错误
func wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{code: code, message: message, cause: err}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Code 错误代码
func (e *AppError) Code() ErrorCode { return e.code }

// Message 面向用户的消息
func (e *AppError) Message() string { return e.message }

// Details 错误详情，可能为 nil
func (e *AppError) Details() map[string]any { return e.details }

// Is 与另一个 AppError 比较错误代码
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	return ok && e.code == other.code
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error { return e.cause }

// WithDetails 返回附加了详情的副本
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.details)+len(details))
	for k, v := range e.details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}

	out := *e
	out.details = merged
	return &out
}

// IsValidation 是否为验证错误
func IsValidation(err error) bool {
	return IsErrorCode(err, ErrCodeValidation)
}

// IsErrorCode 检查错误链中的 AppError 是否为指定代码
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// GetErrorCode 获取错误代码，非 AppError 视为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}
