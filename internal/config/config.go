package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 WalletBridge 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Web3    Web3Config    `json:"web3"`
	Session SessionConfig `json:"session"`
	Events  EventsConfig  `json:"events"`
	History HistoryConfig `json:"history"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Alerts  AlertsConfig  `json:"alerts"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// Web3Config 包含访问钱包 provider 与合约所需的参数。
type Web3Config struct {
	RPCURL          string `json:"rpc_url"`
	ChainConfig     string `json:"chain_config"`
	DefaultChain    string `json:"default_chain"`
	ExpectedChainID string `json:"expected_chain_id"`
	ContractAddress string `json:"contract_address"`
	// PollIntervalMS 控制账户/链变更检测的轮询间隔。
	PollIntervalMS int `json:"poll_interval_ms"`
	// ConfirmPollIntervalMS 控制交易回执的轮询间隔。
	ConfirmPollIntervalMS int `json:"confirm_poll_interval_ms"`
	ConfirmTimeoutSeconds int `json:"confirm_timeout_seconds"`
}

// PollInterval 返回事件轮询间隔。
func (w Web3Config) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// ConfirmPollInterval 返回回执轮询间隔。
func (w Web3Config) ConfirmPollInterval() time.Duration {
	return time.Duration(w.ConfirmPollIntervalMS) * time.Millisecond
}

// ConfirmTimeout 返回等待上链确认的超时时间。
func (w Web3Config) ConfirmTimeout() time.Duration {
	return time.Duration(w.ConfirmTimeoutSeconds) * time.Second
}

// SessionConfig 描述会话持久化的后端。
type SessionConfig struct {
	Driver   string      `json:"driver"`
	FilePath string      `json:"file_path"`
	Redis    RedisConfig `json:"redis"`
	MySQL    MySQLConfig `json:"mysql"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// Prefix 用于隔离不同实例写入的键。
	Prefix  string `json:"prefix"`
	Channel string `json:"channel"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig 决定状态变更事件发往何处。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 交换机参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

// HistoryConfig 控制交易时间的本地化展示。
type HistoryConfig struct {
	Timezone string `json:"timezone"`
	Layout   string `json:"layout"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// AlertsConfig 控制提交失败告警的推送地址。
type AlertsConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 webhook 请求超时。
func (a AlertsConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Web3.ExpectedChainID == "" {
		// Sepolia
		c.Web3.ExpectedChainID = "0xaa36a7"
	}
	c.Web3.ExpectedChainID = strings.ToLower(c.Web3.ExpectedChainID)
	if c.Web3.PollIntervalMS <= 0 {
		c.Web3.PollIntervalMS = 1000
	}
	if c.Web3.ConfirmPollIntervalMS <= 0 {
		c.Web3.ConfirmPollIntervalMS = 2000
	}
	if c.Web3.ConfirmTimeoutSeconds <= 0 {
		c.Web3.ConfirmTimeoutSeconds = 300
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "file"
	}
	if c.Session.FilePath == "" {
		c.Session.FilePath = filepath.Join(baseDir, "data", "session.json")
	} else if !filepath.IsAbs(c.Session.FilePath) {
		c.Session.FilePath = filepath.Join(baseDir, c.Session.FilePath)
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "walletbridge:session:"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "walletbridge:state"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "walletbridge.state"
	}

	if c.History.Layout == "" {
		c.History.Layout = "1/2/2006, 3:04:05 PM"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.AuditPath != "" && !filepath.IsAbs(c.Logging.AuditPath) {
		c.Logging.AuditPath = filepath.Join(baseDir, c.Logging.AuditPath)
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Location 解析历史记录展示所用的时区，未配置时使用本地时区。
func (h HistoryConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(h.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区 %s 失败: %w", h.Timezone, err)
	}
	return loc, nil
}
