// Package remote 是后台 REST API 的删除客户端，为提交执行器提供 commit.Func。
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docflow/commit"
	"docflow/logging"
	"docflow/patterns/retry"
)

// 控制台管理的资源集合
const (
	CollectionDocuments      = "documents"
	CollectionDocumentTypes  = "document-types"
	CollectionUsers          = "users"
	CollectionApprovalGroups = "approval-groups"
	CollectionCircuits       = "circuits"
	CollectionCircuitSteps   = "circuit-steps"
	CollectionLines          = "lines"
	CollectionSublines       = "sublines"
)

// Collections 返回全部资源集合
func Collections() []string {
	return []string{
		CollectionDocuments,
		CollectionDocumentTypes,
		CollectionUsers,
		CollectionApprovalGroups,
		CollectionCircuits,
		CollectionCircuitSteps,
		CollectionLines,
		CollectionSublines,
	}
}

var (
	// ErrBaseURL 未配置或无法解析的 API 地址
	ErrBaseURL = errors.New("remote: invalid base url")

	// ErrToken 获取访问令牌失败，不会重试
	ErrToken = errors.New("remote: token unavailable")
)

// TokenSource 提供 Bearer 令牌，令牌的存储与刷新不在本包范围内
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken 固定令牌
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// StatusError 后台返回了非 2xx 状态
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Temporary 网关类错误可以重试
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Config 客户端配置
type Config struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration // 单次请求超时，HTTPClient 为 nil 时生效
	Retry      retry.Config
	Logger     logging.Logger
}

// Client 删除客户端
type Client struct {
	base   *url.URL
	tokens TokenSource
	http   *http.Client
	retry  retry.Config
	logger logging.Logger
}

// NewClient 创建客户端
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBaseURL, cfg.BaseURL)
	}
	if cfg.Tokens == nil {
		cfg.Tokens = StaticToken("")
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.Retry.Retryable = IsRetryable
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("remote.client")
	}
	return &Client{
		base:   base,
		tokens: cfg.Tokens,
		http:   cfg.HTTPClient,
		retry:  cfg.Retry,
		logger: cfg.Logger,
	}, nil
}

// Delete 发送 DELETE {base}/{collection}/{id}，临时故障按重试配置重试
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if collection == "" || id == "" {
		return fmt.Errorf("remote: collection and id required")
	}
	target := c.base.JoinPath(collection, id).String()

	return retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		err := c.deleteOnce(ctx, target)
		if err != nil && IsRetryable(err) && attempt < c.retry.MaxAttempts {
			c.logger.Warn(ctx, "delete failed, retrying",
				logging.String("url", target),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	}, c.retry)
}

func (c *Client) deleteOnce(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrToken, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{
		Method:     http.MethodDelete,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// Deleter 返回删除 collection 中单个资源的函数
func (c *Client) Deleter(collection string) commit.DeleteFunc {
	return func(ctx context.Context, id string) error {
		return c.Delete(ctx, collection, id)
	}
}

// Commit 返回 collection 的提交函数，批量时最多 limit 个请求并发（<= 0 不限制）
func (c *Client) Commit(collection string, limit int) commit.Func {
	return commit.PerID(c.Deleter(collection), limit)
}

// IsRetryable 网络错误与网关类状态可重试；取消、超时、令牌错误和其他状态不重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrToken) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// StatusCode 返回错误中的 HTTP 状态码，不是 StatusError 时返回 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
