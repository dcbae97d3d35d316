// Package clock 抽象时间操作，生产代码注入 Real()，测试注入 Fake() 以获得确定性的定时行为。
package clock

import "time"

// Clock 时间源
type Clock interface {
	// Now 返回当前时间
	Now() time.Time

	// AfterFunc 在 d 之后调用 f，返回可取消的 Timer
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 可取消的一次性定时器
type Timer interface {
	// Stop 阻止定时器触发。若本次调用停止了定时器返回 true，
	// 已触发或已停止时返回 false。
	Stop() bool
}

// Real 返回基于 time 包的 Clock
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
