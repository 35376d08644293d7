package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"VizBridge/pkg/logger"
)

// Config 描述了桥接守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Host      HostConfig      `json:"host" yaml:"host"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Callback  CallbackConfig  `json:"callback" yaml:"callback"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Log       logger.Config   `json:"log" yaml:"log"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址与扩展页面地址。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	// APIToken 非空时，控制接口要求 Bearer 令牌。
	APIToken string `json:"api_token" yaml:"api_token"`
}

// HostConfig 描述宿主工作区与设置持久化方式。
type HostConfig struct {
	// Fixture 为空时使用内置示例工作区。
	Fixture          string                `json:"fixture" yaml:"fixture"`
	InitDelayMS      int                   `json:"init_delay_ms" yaml:"init_delay_ms"`
	MaxSettingsBytes int                   `json:"max_settings_bytes" yaml:"max_settings_bytes"`
	Settings         SettingsStorageConfig `json:"settings" yaml:"settings"`
	EventBuffer      int                   `json:"event_buffer" yaml:"event_buffer"`
}

// SettingsStorageConfig 选择设置持久化后端：memory、redis 或 mysql。
type SettingsStorageConfig struct {
	Driver    string `json:"driver" yaml:"driver"`
	DSN       string `json:"dsn" yaml:"dsn"`
	Namespace string `json:"namespace" yaml:"namespace"`
	RedisKey  string `json:"redis_key" yaml:"redis_key"`
}

// QueueConfig 选择入站 RPC 请求队列。
type QueueConfig struct {
	Driver          string `json:"driver" yaml:"driver"`
	Workers         int    `json:"workers" yaml:"workers"`
	Buffer          int    `json:"buffer" yaml:"buffer"`
	RedisQueue      string `json:"redis_queue" yaml:"redis_queue"`
	RabbitURL       string `json:"rabbitmq_url" yaml:"rabbitmq_url"`
	RabbitQueue     string `json:"rabbitmq_queue" yaml:"rabbitmq_queue"`
	RabbitPrefetch  int    `json:"rabbitmq_prefetch" yaml:"rabbitmq_prefetch"`
	RabbitDurable   bool   `json:"rabbitmq_durable" yaml:"rabbitmq_durable"`
	BlockWaitSecond int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// CallbackConfig 控制 RPC 回调请求。
type CallbackConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// TransportConfig 控制出站消息的推送通道，websocket 默认开启。
type TransportConfig struct {
	DisableWebSocket bool   `json:"disable_websocket" yaml:"disable_websocket"`
	RedisChannel     string `json:"redis_channel" yaml:"redis_channel"`
}

// RedisConfig 是队列、设置存储与消息推送共用的 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// MetricsConfig 控制 /metrics 是否暴露。
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// AlertingConfig 配置告警渠道，日志渠道始终启用。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// 支持的驱动名称。
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverMySQL    = "mysql"
	DriverRabbitMQ = "rabbitmq"
)

// Default 返回只包含默认值的配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Load 负责解析指定路径的配置文件，.yaml/.yml 按 YAML 解析，其余按 JSON 解析。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查驱动选择与其依赖的连接参数是否一致。
func (c *Config) Validate() error {
	var errs []error
	switch c.Host.Settings.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("host.settings.driver=redis 需要 redis.address"))
		}
	case DriverMySQL:
		if c.Host.Settings.DSN == "" {
			errs = append(errs, errors.New("host.settings.driver=mysql 需要 host.settings.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的设置存储驱动 %q", c.Host.Settings.Driver))
	}
	switch c.Queue.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("queue.driver=redis 需要 redis.address"))
		}
	case DriverRabbitMQ:
		if c.Queue.RabbitURL == "" {
			errs = append(errs, errors.New("queue.driver=rabbitmq 需要 queue.rabbitmq_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的队列驱动 %q", c.Queue.Driver))
	}
	if c.Transport.RedisChannel != "" && c.Redis.Address == "" {
		errs = append(errs, errors.New("transport.redis_channel 需要 redis.address"))
	}
	return errors.Join(errs...)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = baseURLFor(c.Server.Address)
	}

	if c.Host.Fixture != "" && !filepath.IsAbs(c.Host.Fixture) {
		c.Host.Fixture = filepath.Join(baseDir, c.Host.Fixture)
	}
	if c.Host.Settings.Driver == "" {
		c.Host.Settings.Driver = DriverMemory
	}
	if c.Host.EventBuffer <= 0 {
		c.Host.EventBuffer = 64
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = DriverMemory
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 128
	}

	if c.Callback.TimeoutSeconds <= 0 {
		c.Callback.TimeoutSeconds = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}
}

// baseURLFor 由监听地址推导本机可访问的扩展页面地址。
func baseURLFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080/"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

// CallbackTimeout 返回回调超时时间。
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.Callback.TimeoutSeconds) * time.Second
}

// InitDelay 返回模拟宿主的初始化延迟。
func (c *Config) InitDelay() time.Duration {
	return time.Duration(c.Host.InitDelayMS) * time.Millisecond
}

// BlockWait 返回 Redis 队列 BRPOP 的阻塞时长，未设置时为零。
func (c *Config) BlockWait() time.Duration {
	return time.Duration(c.Queue.BlockWaitSecond) * time.Second
}
