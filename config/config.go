// Package config 加载控制台的删除管理配置。
//
// 加载顺序：Default() → YAML 文件（可选）→ DOCFLOW_* 环境变量 → Validate()。
// 文件中出现未知字段视为错误，避免拼写错误被静默忽略。
package config

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"docflow/validation"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "DOCFLOW_"

// Config 控制台配置
type Config struct {
	// API 后台 REST 接口
	API APIConfig `yaml:"api"`

	// Undo 撤销窗口与提示
	Undo UndoConfig `yaml:"undo"`

	// Log 日志输出
	Log LogConfig `yaml:"log"`

	// Relay 通过 redis 在会话之间同步删除结果，默认关闭
	Relay RelayConfig `yaml:"relay"`

	// Events 通过 NATS 发布生命周期事件，默认关闭
	Events EventsConfig `yaml:"events"`
}

// APIConfig 后台接口配置
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`

	// BulkConcurrency 批量删除时的最大并发请求数
	BulkConcurrency int `yaml:"bulk_concurrency"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig 网关类错误的重试
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// UndoConfig 撤销窗口配置
type UndoConfig struct {
	// TTL 默认撤销窗口，0 表示立即提交
	TTL time.Duration `yaml:"ttl"`

	// DisplayDuration 结果提示展示时长
	DisplayDuration time.Duration `yaml:"display_duration"`

	// CommitTimeout 一次提交（含批量）的总超时
	CommitTimeout time.Duration `yaml:"commit_timeout"`

	// HistorySize 可通过 Lookup 查询的最近终态记录数
	HistorySize int `yaml:"history_size"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Mode std | development | production，后两者使用 zap
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// RelayConfig redis 结果广播
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// EventsConfig NATS 事件发布
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		API: APIConfig{
			Timeout:         10 * time.Second,
			BulkConcurrency: 8,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
		},
		Undo: UndoConfig{
			TTL:             5000 * time.Millisecond,
			DisplayDuration: 3 * time.Second,
			CommitTimeout:   30 * time.Second,
			HistorySize:     256,
		},
		Log: LogConfig{
			Mode:  "std",
			Level: "info",
		},
		Relay: RelayConfig{
			Addr:    "127.0.0.1:6379",
			Channel: "docflow:results",
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "docflow.",
		},
	}
}

// Load 按默认值、文件、环境变量的顺序加载并校验配置，path 为空时跳过文件
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 从 YAML 内容构建配置（不读取环境变量）
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !stdErrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv 用环境变量覆盖配置，lookup 通常为 os.LookupEnv
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.str("API_BASE_URL", &c.API.BaseURL)
	env.str("API_TOKEN", &c.API.Token)
	env.duration("API_TIMEOUT", &c.API.Timeout)
	env.integer("API_BULK_CONCURRENCY", &c.API.BulkConcurrency)
	env.integer("API_RETRY_MAX_ATTEMPTS", &c.API.Retry.MaxAttempts)

	env.duration("UNDO_TTL", &c.Undo.TTL)
	env.duration("UNDO_DISPLAY_DURATION", &c.Undo.DisplayDuration)
	env.duration("UNDO_COMMIT_TIMEOUT", &c.Undo.CommitTimeout)

	env.str("LOG_MODE", &c.Log.Mode)
	env.str("LOG_LEVEL", &c.Log.Level)

	env.boolean("RELAY_ENABLED", &c.Relay.Enabled)
	env.str("REDIS_ADDR", &c.Relay.Addr)
	env.str("REDIS_PASSWORD", &c.Relay.Password)
	env.integer("REDIS_DB", &c.Relay.DB)
	env.str("REDIS_CHANNEL", &c.Relay.Channel)

	env.boolean("EVENTS_ENABLED", &c.Events.Enabled)
	env.str("NATS_URL", &c.Events.URL)
	env.str("NATS_SUBJECT_PREFIX", &c.Events.SubjectPrefix)

	return stdErrors.Join(env.errs...)
}

// Validate 校验配置，返回全部问题
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(validation.ValidateURL(c.API.BaseURL, "api.base_url", "http", "https"))
	add(validation.ValidateDurationRange(c.API.Timeout, "api.timeout", time.Millisecond, 5*time.Minute))
	add(validation.ValidateIntRange(c.API.BulkConcurrency, "api.bulk_concurrency", 1, 64))
	add(validation.ValidateIntRange(c.API.Retry.MaxAttempts, "api.retry.max_attempts", 1, 10))
	add(validation.ValidateDurationRange(c.API.Retry.InitialDelay, "api.retry.initial_delay", 0, time.Minute))
	add(validation.ValidateDurationRange(c.API.Retry.MaxDelay, "api.retry.max_delay", c.API.Retry.InitialDelay, time.Minute))

	add(validation.ValidateDurationRange(c.Undo.TTL, "undo.ttl", 0, 5*time.Minute))
	add(validation.ValidateDurationRange(c.Undo.DisplayDuration, "undo.display_duration", 100*time.Millisecond, time.Minute))
	add(validation.ValidateDurationRange(c.Undo.CommitTimeout, "undo.commit_timeout", time.Second, 10*time.Minute))
	add(validation.ValidatePositive(c.Undo.HistorySize, "undo.history_size"))

	add(validation.ValidateEnum(c.Log.Mode, "log.mode", []string{"std", "development", "production"}))
	add(validation.ValidateEnum(strings.ToLower(c.Log.Level), "log.level", []string{"debug", "info", "warn", "error"}))

	if c.Relay.Enabled {
		add(validation.ValidateRequired(c.Relay.Addr, "relay.addr"))
		add(validation.ValidateRequired(c.Relay.Channel, "relay.channel"))
		add(validation.ValidateIntRange(c.Relay.DB, "relay.db", 0, 15))
	}
	if c.Events.Enabled {
		add(validation.ValidateURL(c.Events.URL, "events.url", "nats", "tls"))
		add(validation.ValidateRequired(c.Events.SubjectPrefix, "events.subject_prefix"))
	}

	return stdErrors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}
