// Package redisrelay 把删除结果通过 redis pub/sub 广播给同一账号下的其他控制台会话。
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"docflow/logging"
	"docflow/notify"
)

// Client relay 使用的 redis 操作，*goredis.Client 满足该接口
type Client interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// Message 广播的结果消息
type Message struct {
	ID     string            `json:"id"`
	Kind   notify.ResultKind `json:"kind"`
	Text   string            `json:"text"`
	Origin string            `json:"origin"`
	At     time.Time         `json:"at"`
}

// Config relay 配置
type Config struct {
	Channel string
	// Origin 标识本会话，Forward 会跳过自己发出的消息；为空时随机生成
	Origin  string
	Timeout time.Duration
	Logger  logging.Logger
	Now     func() time.Time
}

// Relay 装饰 notify.Channel：本地照常展示，终态结果额外发布到 redis
type Relay struct {
	next   notify.Channel
	client Client
	cfg    Config
	logger logging.Logger
}

var (
	_ notify.Channel = (*Relay)(nil)
	_ Client         = (*goredis.Client)(nil)
)

// New 创建 relay，next 为 nil 时只广播不展示
func New(next notify.Channel, client Client, cfg Config) *Relay {
	if next == nil {
		next = notify.Discard{}
	}
	if cfg.Channel == "" {
		cfg.Channel = "docflow:results"
	}
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("notify.redisrelay")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Relay{next: next, client: client, cfg: cfg, logger: cfg.Logger}
}

// Dial 连接 redis 并确认可用
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Origin 返回本会话标识
func (r *Relay) Origin() string { return r.cfg.Origin }

// ShowPending 实现 notify.Channel，待确认提示只在本地展示
func (r *Relay) ShowPending(recordID, message string, actions notify.Actions) {
	r.next.ShowPending(recordID, message, actions)
}

// ResolvePending 实现 notify.Channel
func (r *Relay) ResolvePending(recordID string) {
	r.next.ResolvePending(recordID)
}

// ShowResult 实现 notify.Channel，发布失败只记录日志
func (r *Relay) ShowResult(kind notify.ResultKind, message string) {
	r.next.ShowResult(kind, message)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	if err := r.Publish(ctx, kind, message); err != nil {
		r.logger.Warn(ctx, "relay result failed",
			logging.String("channel", r.cfg.Channel),
			logging.Error(err))
	}
}

// Publish 广播一条结果消息
func (r *Relay) Publish(ctx context.Context, kind notify.ResultKind, text string) error {
	raw, err := json.Marshal(Message{
		ID:     uuid.NewString(),
		Kind:   kind,
		Text:   text,
		Origin: r.cfg.Origin,
		At:     r.cfg.Now(),
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.cfg.Channel, raw).Err()
}

// Forward 订阅频道并把其他会话的结果交给 onMsg，ctx 结束时退出
func (r *Relay) Forward(ctx context.Context, onMsg func(Message)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}

	sub := r.client.Subscribe(ctx, r.cfg.Channel)
	// 确认订阅已建立
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				r.handle(ctx, m.Payload, onMsg)
			}
		}
	}()
	return nil
}

// Mirror 把其他会话的结果展示在本地通道上（不会再次广播）
func (r *Relay) Mirror(ctx context.Context) error {
	return r.Forward(ctx, func(m Message) {
		r.next.ShowResult(m.Kind, m.Text)
	})
}

func (r *Relay) handle(ctx context.Context, payload string, onMsg func(Message)) bool {
	msg, err := decodeMessage(payload)
	if err != nil {
		r.logger.Warn(ctx, "bad relay payload", logging.Error(err))
		return false
	}
	if msg.Origin == r.cfg.Origin {
		return false
	}
	onMsg(msg)
	return true
}

func decodeMessage(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, err
	}
	switch msg.Kind {
	case notify.ResultSuccess, notify.ResultError:
	default:
		return Message{}, fmt.Errorf("unknown result kind %q", msg.Kind)
	}
	return msg, nil
}
