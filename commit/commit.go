// Package commit 封装由调用方提供的远程删除操作，并把结果规范化为按 ID 区分的成功/失败集合。
package commit

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPanicked 提交函数发生 panic，按全部失败处理
	ErrPanicked = errors.New("commit function panicked")

	// ErrNotReported 提交函数没有报告某个 ID 的结果
	ErrNotReported = errors.New("commit result missing id")
)

// Result 提交函数的返回值。
//
// 部分失败时函数不应返回 error，而应在 Failed 中列出失败的 ID；
// 返回 error 表示整体/传输失败，所有 ID 均视为失败。
type Result struct {
	Succeeded []string
	Failed    []string
	Errors    map[string]error // 可选，失败 ID 的具体原因
}

// Func 对一组资源执行远程删除
type Func func(ctx context.Context, ids []string) (Result, error)

// DeleteFunc 删除单个资源
type DeleteFunc func(ctx context.Context, id string) error

// PerID 把单资源删除函数组合为 Func。
//
// 单个 ID 直接调用一次；多个 ID 时每个 ID 并发调用一次（limit > 0 时限制并发数），
// 等待全部结束后汇总结果。全部失败时返回合并后的 error。
func PerID(del DeleteFunc, limit int) Func {
	return func(ctx context.Context, ids []string) (Result, error) {
		if len(ids) == 1 {
			if err := del(ctx, ids[0]); err != nil {
				return Result{Failed: ids, Errors: map[string]error{ids[0]: err}}, err
			}
			return Result{Succeeded: ids}, nil
		}

		errs := make([]error, len(ids))
		var g errgroup.Group
		if limit > 0 {
			g.SetLimit(limit)
		}
		for i, id := range ids {
			g.Go(func() error {
				errs[i] = del(ctx, id)
				// 不返回错误：单个失败不应影响其余请求
				return nil
			})
		}
		_ = g.Wait()

		res := Result{Errors: make(map[string]error)}
		for i, id := range ids {
			if errs[i] != nil {
				res.Failed = append(res.Failed, id)
				res.Errors[id] = errs[i]
				continue
			}
			res.Succeeded = append(res.Succeeded, id)
		}
		if len(res.Succeeded) == 0 {
			return res, errors.Join(errs...)
		}
		return res, nil
	}
}

// All 把批量删除函数（一次请求删除全部 ID）适配为 Func，成功即全部成功
func All(del func(ctx context.Context, ids []string) error) Func {
	return func(ctx context.Context, ids []string) (Result, error) {
		if err := del(ctx, ids); err != nil {
			return Result{Failed: ids}, err
		}
		return Result{Succeeded: ids}, nil
	}
}

// safeCall 调用 fn 并把 panic 转换为 error
func safeCall(ctx context.Context, fn Func, ids []string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return fn(ctx, ids)
}
