// Package natsobserver 把删除记录的生命周期事件发布到 NATS，供审计或其他控制台会话订阅。
package natsobserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"docflow/logging"
	"docflow/mutation"
)

// Publisher 发布原始消息，*nats.Conn 满足该接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config NATS 发布配置
type Config struct {
	URL           string
	Conn          *nats.Conn
	SubjectPrefix string
	Name          string // 连接名，便于在服务端识别
	Logger        logging.Logger
}

// Observer 实现 mutation.Observer。
//
// 主题格式为 {prefix}{event type}.{collection}，例如 docflow.mutation.failed.documents。
// 发布失败只记录日志，不影响删除流程。
type Observer struct {
	cfg      Config
	logger   logging.Logger
	pub      Publisher
	conn     *nats.Conn
	ownsConn bool

	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

var _ mutation.Observer = (*Observer)(nil)

// New 使用已有连接或按 URL 建立连接
func New(cfg Config) (*Observer, error) {
	cfg = withDefaults(cfg)
	if cfg.Conn != nil {
		o := newObserver(cfg, cfg.Conn)
		o.conn = cfg.Conn
		return o, nil
	}

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(cfg.URL, nats.Name(cfg.Name))
	if err != nil {
		return nil, err
	}
	o := newObserver(cfg, conn)
	o.conn = conn
	o.ownsConn = true
	return o, nil
}

// NewWithPublisher 使用任意 Publisher（测试或自定义传输）
func NewWithPublisher(pub Publisher, cfg Config) *Observer {
	return newObserver(withDefaults(cfg), pub)
}

func withDefaults(cfg Config) Config {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "docflow."
	}
	if cfg.Name == "" {
		cfg.Name = "docflow-console"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "observer.nats"))
	}
	return cfg
}

func newObserver(cfg Config, pub Publisher) *Observer {
	return &Observer{cfg: cfg, logger: cfg.Logger, pub: pub}
}

// OnEvent 实现 mutation.Observer
func (o *Observer) OnEvent(ctx context.Context, evt mutation.Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.dropped.Add(1)
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		o.dropped.Add(1)
		o.logger.Warn(ctx, "encode mutation event failed", logging.Error(err))
		return
	}
	subject := o.Subject(evt)
	if err := o.pub.Publish(subject, data); err != nil {
		o.dropped.Add(1)
		o.logger.Warn(ctx, "publish mutation event failed",
			logging.String("subject", subject),
			logging.Error(err))
		return
	}
	o.published.Add(1)
}

// Subject 返回事件对应的主题
func (o *Observer) Subject(evt mutation.Event) string {
	collection := evt.Collection
	if collection == "" {
		collection = "unknown"
	}
	return o.cfg.SubjectPrefix + string(evt.Type) + "." + token(collection)
}

// token 把集合名转换为单个主题段
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '_'
		}
		return r
	}, s)
}

// Stats 返回已发布与丢弃的事件数
func (o *Observer) Stats() (published, dropped int64) {
	return o.published.Load(), o.dropped.Load()
}

// Close 停止发布；自建的连接会被 Drain 后关闭
func (o *Observer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.ownsConn && o.conn != nil {
		if err := o.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			return err
		}
	}
	return nil
}
