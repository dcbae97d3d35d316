package mutation

import (
	"context"
	"time"
)

// EventType 记录生命周期事件类型
type EventType string

const (
	EventBegun      EventType = "mutation.begun"
	EventRejected   EventType = "mutation.rejected"
	EventCommitting EventType = "mutation.committing"
	EventCommitted  EventType = "mutation.committed"
	EventFailed     EventType = "mutation.failed"
	EventCancelled  EventType = "mutation.cancelled"
	EventStale      EventType = "mutation.stale"
)

// Event 生命周期事件
type Event struct {
	Type       EventType `json:"type"`
	RecordID   string    `json:"record_id,omitempty"`
	Collection string    `json:"collection,omitempty"`
	TargetIDs  []string  `json:"target_ids,omitempty"`
	Kind       Kind      `json:"kind,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Succeeded  []string  `json:"succeeded,omitempty"`
	Failed     []string  `json:"failed,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Observer 接收生命周期事件。OnEvent 在注册表锁外同步调用，实现应尽快返回。
type Observer interface {
	OnEvent(ctx context.Context, evt Event)
}

// ObserverFunc 函数形式的 Observer
type ObserverFunc func(ctx context.Context, evt Event)

func (f ObserverFunc) OnEvent(ctx context.Context, evt Event) { f(ctx, evt) }

func eventFor(t EventType, rec *Record, at time.Time) Event {
	evt := Event{
		Type:       t,
		RecordID:   rec.ID,
		Collection: rec.Collection,
		TargetIDs:  cloneStrings(rec.TargetIDs),
		Kind:       rec.Kind,
		Status:     rec.Status,
		Succeeded:  cloneStrings(rec.Succeeded),
		Failed:     cloneStrings(rec.Failed),
		At:         at,
	}
	if rec.Err != nil {
		evt.Error = rec.Err.Error()
	}
	return evt
}
