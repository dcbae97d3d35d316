// Package console 组装控制台的删除管理：日志、通知中心、删除注册表、REST 客户端，
// 以及可选的 redis 结果广播和 NATS 事件发布。
package console

import (
	"context"
	stdErrors "errors"
	"net/http"
	"sync"

	"docflow/clock"
	"docflow/commit"
	"docflow/config"
	apperrors "docflow/errors"
	"docflow/logging"
	"docflow/mutation"
	"docflow/mutation/natsobserver"
	"docflow/notify"
	"docflow/notify/redisrelay"
	"docflow/patterns/retry"
	"docflow/remote"
	"docflow/validation"
)

// Hook 关闭时执行的清理函数，按注册的逆序调用
type Hook func(ctx context.Context) error

// Option 替换默认依赖，主要用于测试
type Option func(*options)

type options struct {
	clock      clock.Clock
	logger     logging.Logger
	httpClient *http.Client
	tokens     remote.TokenSource
	redis      redisrelay.Client
	publisher  natsobserver.Publisher
}

// WithClock 替换时钟
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger 使用给定 Logger，不再按配置构建
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient 替换后台请求使用的 http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenSource 替换配置中的静态令牌
func WithTokenSource(ts remote.TokenSource) Option {
	return func(o *options) { o.tokens = ts }
}

// WithRedisClient 使用已有 redis 客户端，relay.enabled 时生效
func WithRedisClient(c redisrelay.Client) Option {
	return func(o *options) { o.redis = c }
}

// WithEventPublisher 使用已有发布者，events.enabled 时生效
func WithEventPublisher(p natsobserver.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// Console 一个控制台会话的删除管理入口
type Console struct {
	cfg    *config.Config
	logger logging.Logger

	center   *notify.Center
	registry *mutation.Registry
	client   *remote.Client
	relay    *redisrelay.Relay
	events   *natsobserver.Observer

	mu     sync.Mutex
	hooks  []Hook
	closed bool
}

// New 按配置组装控制台，cfg 应已通过 Validate
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Console, error) {
	if cfg == nil {
		return nil, stdErrors.New("console: config required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Console{cfg: cfg}
	if err := c.initLogger(o); err != nil {
		return nil, err
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL:    cfg.API.BaseURL,
		Tokens:     c.tokenSource(o),
		HTTPClient: o.httpClient,
		Timeout:    cfg.API.Timeout,
		Retry: retry.Config{
			MaxAttempts:   cfg.API.Retry.MaxAttempts,
			InitialDelay:  cfg.API.Retry.InitialDelay,
			BackoffFactor: 2,
			MaxDelay:      cfg.API.Retry.MaxDelay,
		},
		Logger: c.logger.WithFields(logging.String("component", "remote.client")),
	})
	if err != nil {
		_ = c.shutdownHooks(ctx)
		return nil, err
	}
	c.client = client

	c.center = notify.NewCenter(o.clock, cfg.Undo.DisplayDuration)
	var channel notify.Channel = c.center
	if cfg.Relay.Enabled {
		if err := c.initRelay(ctx, o); err != nil {
			_ = c.shutdownHooks(ctx)
			return nil, err
		}
		channel = c.relay
	}

	executor := commit.NewExecutor(
		commit.WithTimeout(cfg.Undo.CommitTimeout),
		commit.WithLogger(c.logger.WithFields(logging.String("component", "commit.executor"))),
	)
	c.registry = mutation.NewRegistry(channel, mutation.Config{
		DefaultTTL:  cfg.Undo.TTL,
		HistorySize: cfg.Undo.HistorySize,
		HistoryTTL:  cfg.Undo.DisplayDuration,
		Clock:       o.clock,
		Executor:    executor,
		Logger:      c.logger.WithFields(logging.String("component", "mutation.registry")),
	})

	if cfg.Events.Enabled {
		if err := c.initEvents(o); err != nil {
			_ = c.shutdownHooks(ctx)
			return nil, err
		}
		c.registry.AddObserver(c.events)
	}

	c.logger.Info(ctx, "console ready",
		logging.String("api", cfg.API.BaseURL),
		logging.Duration("undo_ttl", cfg.Undo.TTL),
		logging.Bool("relay", cfg.Relay.Enabled),
		logging.Bool("events", cfg.Events.Enabled))
	return c, nil
}

func (c *Console) initLogger(o options) error {
	if o.logger != nil {
		c.logger = o.logger
		return nil
	}

	level := logging.ParseLevel(c.cfg.Log.Level)
	if c.cfg.Log.Mode == "" || c.cfg.Log.Mode == "std" {
		c.logger = logging.NewStdLogger("[docflow] ").WithLevel(level)
	} else {
		zl, err := logging.NewZapLogger(c.cfg.Log.Mode, level)
		if err != nil {
			return err
		}
		c.logger = zl
		c.onClose(func(context.Context) error {
			// stderr 不支持 fsync，忽略 Sync 的错误
			_ = zl.Sync()
			return nil
		})
	}
	logging.SetLogger(c.logger)
	return nil
}

func (c *Console) tokenSource(o options) remote.TokenSource {
	if o.tokens != nil {
		return o.tokens
	}
	return remote.StaticToken(c.cfg.API.Token)
}

func (c *Console) initRelay(ctx context.Context, o options) error {
	client := o.redis
	if client == nil {
		rdb, err := redisrelay.Dial(ctx, c.cfg.Relay.Addr, c.cfg.Relay.Password, c.cfg.Relay.DB)
		if err != nil {
			return err
		}
		c.onClose(func(context.Context) error { return rdb.Close() })
		client = rdb
	}
	c.relay = redisrelay.New(c.center, client, redisrelay.Config{
		Channel: c.cfg.Relay.Channel,
		Logger:  c.logger.WithFields(logging.String("component", "notify.redisrelay")),
	})
	return nil
}

func (c *Console) initEvents(o options) error {
	cfg := natsobserver.Config{
		URL:           c.cfg.Events.URL,
		SubjectPrefix: c.cfg.Events.SubjectPrefix,
		Logger:        c.logger.WithFields(logging.String("component", "observer.nats")),
	}
	if o.publisher != nil {
		c.events = natsobserver.NewWithPublisher(o.publisher, cfg)
	} else {
		obs, err := natsobserver.New(cfg)
		if err != nil {
			return err
		}
		c.events = obs
	}
	c.onClose(func(context.Context) error { return c.events.Close() })
	return nil
}

func (c *Console) onClose(h Hook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

// Start 开始接收其他会话广播的结果（relay 启用时），ctx 结束时停止
func (c *Console) Start(ctx context.Context) error {
	if c.relay == nil {
		return nil
	}
	return c.relay.Mirror(ctx)
}

// Notifications 返回通知中心，界面层据此渲染提示并转发按钮点击
func (c *Console) Notifications() *notify.Center { return c.center }

// Registry 返回删除注册表
func (c *Console) Registry() *mutation.Registry { return c.registry }

// Client 返回后台客户端
func (c *Console) Client() *remote.Client { return c.client }

// Delete 乐观删除 view 中的 ids，撤销窗口结束后通过 REST 客户端提交。
// 返回的错误已归类为 AppError；立即提交（WithTTL(0)）失败时仍返回记录 ID。
func (c *Console) Delete(ctx context.Context, view mutation.View, ids []string, opts ...mutation.DeleteOption) (string, error) {
	if view == nil {
		return "", apperrors.Normalize(mutation.ErrInvalidRequest)
	}
	collection := view.Collection()
	if err := validation.ValidateCollection(collection); err != nil {
		return "", err
	}
	recordID, err := c.registry.BeginDelete(ctx, view, ids,
		c.client.Commit(collection, c.cfg.API.BulkConcurrency), opts...)
	return recordID, c.classify(ctx, err)
}

// Confirm 立即提交，提交失败时错误详情包含成功与失败的 ID
func (c *Console) Confirm(ctx context.Context, recordID string) error {
	return c.classify(ctx, c.registry.Confirm(ctx, recordID))
}

// Cancel 撤销删除
func (c *Console) Cancel(ctx context.Context, recordID string) error {
	return c.classify(ctx, c.registry.Cancel(ctx, recordID))
}

func (c *Console) classify(ctx context.Context, err error) error {
	if stdErrors.Is(err, mutation.ErrCommitFailure) {
		return apperrors.WrapCommitError(ctx, err)
	}
	return apperrors.Normalize(err)
}

// Close 提交剩余的待确认删除，然后按逆序执行清理
func (c *Console) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if err := c.registry.Close(ctx); err != nil {
		errs = append(errs, c.classify(ctx, err))
	}
	if err := c.shutdownHooks(ctx); err != nil {
		errs = append(errs, err)
	}
	return stdErrors.Join(errs...)
}

func (c *Console) shutdownHooks(ctx context.Context) error {
	c.mu.Lock()
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stdErrors.Join(errs...)
}
