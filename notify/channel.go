// Package notify 定义删除撤销提示的通知契约，并提供默认的内存实现。
//
// 通知通道独立于注册表的内部状态：它只负责展示待确认提示和终态结果，
// 用户点击 Confirm/Cancel 时回调注册表。
package notify

// ResultKind 终态提示类型
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultError   ResultKind = "error"
)

// Actions 待确认提示上的操作
type Actions struct {
	OnConfirm func()
	OnCancel  func()
}

// Channel 通知通道契约
type Channel interface {
	// ShowPending 展示带 Confirm/Cancel 的待确认提示，直到 ResolvePending 被调用
	ShowPending(recordID, message string, actions Actions)

	// ResolvePending 记录离开 pending 时立即移除对应提示（隐藏 Cancel 控件）
	ResolvePending(recordID string)

	// ShowResult 展示终态提示，固定时长后自动消失
	ShowResult(kind ResultKind, message string)
}

// Discard 丢弃所有通知的 Channel
type Discard struct{}

func (Discard) ShowPending(string, string, Actions) {}
func (Discard) ResolvePending(string)               {}
func (Discard) ShowResult(ResultKind, string)       {}

var _ Channel = Discard{}
