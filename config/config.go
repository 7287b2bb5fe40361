// Package config 服务进程配置：文件（YAML/TOML）< BOOKING_* 环境变量 < 命令行参数
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MathisDulieu/Booking-sub000/codec"
	"github.com/MathisDulieu/Booking-sub000/logging"
)

// 代理类型
const (
	BrokerMemory = "memory"
	BrokerAMQP   = "amqp"
	BrokerNATS   = "nats"
	BrokerRedis  = "redis"
)

// 存储驱动
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// 邮件发送方式
const (
	MailLog  = "log"
	MailSMTP = "smtp"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "BOOKING_"

type Config struct {
	// Service 进程角色：gateway 或领域名
	Service string       `yaml:"service" toml:"service"`
	Broker  BrokerConfig `yaml:"broker" toml:"broker"`
	RPC     RPCConfig    `yaml:"rpc" toml:"rpc"`
	Store   StoreConfig  `yaml:"store" toml:"store"`
	HTTP    HTTPConfig   `yaml:"http" toml:"http"`
	Log     LogConfig    `yaml:"log" toml:"log"`
	Mail    MailConfig   `yaml:"mail" toml:"mail"`
	IDs     IDConfig     `yaml:"ids" toml:"ids"`
}

type BrokerConfig struct {
	Kind string `yaml:"kind" toml:"kind"`

	// URL amqp:// 或 nats:// 地址
	URL string `yaml:"url" toml:"url"`

	// Prefetch AMQP 预取数量，0 时取 rpc.workers
	Prefetch int `yaml:"prefetch" toml:"prefetch"`

	// QueueSize 内存代理的队列容量
	QueueSize int         `yaml:"queue_size" toml:"queue_size"`
	Redis     RedisConfig `yaml:"redis" toml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

type RPCConfig struct {
	Timeout        time.Duration `yaml:"timeout" toml:"timeout"`
	ResolvedTTL    time.Duration `yaml:"resolved_ttl" toml:"resolved_ttl"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" toml:"handler_timeout"`
	Workers        int           `yaml:"workers" toml:"workers"`
	Codec          string        `yaml:"codec" toml:"codec"`

	// RateLimit 每秒请求数，0 不限流
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst"`
}

type StoreConfig struct {
	// Driver sqlite 或 memory
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" toml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	SessionCacheTTL time.Duration `yaml:"session_cache_ttl" toml:"session_cache_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type MailConfig struct {
	Kind     string `yaml:"kind" toml:"kind"`
	From     string `yaml:"from" toml:"from"`
	SMTPAddr string `yaml:"smtp_addr" toml:"smtp_addr"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

type IDConfig struct {
	Datacenter int64 `yaml:"datacenter" toml:"datacenter"`
	Worker     int64 `yaml:"worker" toml:"worker"`
}

// Default 默认配置：内存代理、内存 sqlite、JSON 日志
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Kind:      BrokerMemory,
			QueueSize: 1024,
			Redis:     RedisConfig{Addr: "localhost:6379"},
		},
		RPC: RPCConfig{
			Timeout:        15 * time.Second,
			HandlerTimeout: 30 * time.Second,
			Workers:        8,
			Codec:          "json",
		},
		Store: StoreConfig{Driver: StoreSQLite, DSN: ":memory:"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			SessionCacheTTL: 30 * time.Second,
		},
		Log:  LogConfig{Level: "info", Format: "json"},
		Mail: MailConfig{Kind: MailLog, From: "noreply@booking.local"},
	}
}

// LoadFile 按扩展名解析配置文件并覆盖到 cfg
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func int64v(dst func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"SERVICE", str(func(c *Config) *string { return &c.Service })},
	{"BROKER_KIND", str(func(c *Config) *string { return &c.Broker.Kind })},
	{"BROKER_URL", str(func(c *Config) *string { return &c.Broker.URL })},
	{"BROKER_PREFETCH", integer(func(c *Config) *int { return &c.Broker.Prefetch })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Broker.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Broker.Redis.Password })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.Broker.Redis.DB })},
	{"RPC_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.RPC.Timeout })},
	{"RPC_RESOLVED_TTL", duration(func(c *Config) *time.Duration { return &c.RPC.ResolvedTTL })},
	{"RPC_WORKERS", integer(func(c *Config) *int { return &c.RPC.Workers })},
	{"RPC_CODEC", str(func(c *Config) *string { return &c.RPC.Codec })},
	{"RPC_RATE_LIMIT", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RPC.RateLimit = f
		return nil
	}},
	{"RPC_RATE_BURST", integer(func(c *Config) *int { return &c.RPC.RateBurst })},
	{"STORE_DRIVER", str(func(c *Config) *string { return &c.Store.Driver })},
	{"STORE_DSN", str(func(c *Config) *string { return &c.Store.DSN })},
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.HTTP.Addr })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"MAIL_KIND", str(func(c *Config) *string { return &c.Mail.Kind })},
	{"MAIL_FROM", str(func(c *Config) *string { return &c.Mail.From })},
	{"MAIL_SMTP_ADDR", str(func(c *Config) *string { return &c.Mail.SMTPAddr })},
	{"MAIL_USERNAME", str(func(c *Config) *string { return &c.Mail.Username })},
	{"MAIL_PASSWORD", str(func(c *Config) *string { return &c.Mail.Password })},
	{"IDS_DATACENTER", int64v(func(c *Config) *int64 { return &c.IDs.Datacenter })},
	{"IDS_WORKER", int64v(func(c *Config) *int64 { return &c.IDs.Worker })},
}

// ApplyEnv 应用 BOOKING_* 环境变量，lookup 通常为 os.LookupEnv
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(c, v); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

// Validate 校验取值并补齐派生默认值
func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerMemory:
	case BrokerAMQP, BrokerNATS:
		if c.Broker.URL == "" {
			return fmt.Errorf("config: broker.url is required for %s", c.Broker.Kind)
		}
	case BrokerRedis:
		if c.Broker.Redis.Addr == "" {
			return fmt.Errorf("config: broker.redis.addr is required")
		}
	default:
		return fmt.Errorf("config: unknown broker kind %q", c.Broker.Kind)
	}
	if c.RPC.Workers <= 0 {
		return fmt.Errorf("config: rpc.workers must be positive")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("config: rpc.timeout must be positive")
	}
	if c.RPC.ResolvedTTL < 0 || c.RPC.RateLimit < 0 || c.RPC.RateBurst < 0 {
		return fmt.Errorf("config: rpc.resolved_ttl, rpc.rate_limit and rpc.rate_burst must not be negative")
	}
	if _, err := codec.ByName(c.RPC.Codec); err != nil {
		return fmt.Errorf("config: rpc.codec: %w", err)
	}
	switch c.Store.Driver {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("config: log.format must be json or console")
	}
	switch c.Mail.Kind {
	case MailLog:
	case MailSMTP:
		if c.Mail.SMTPAddr == "" || c.Mail.From == "" {
			return fmt.Errorf("config: mail.smtp_addr and mail.from are required for smtp")
		}
	default:
		return fmt.Errorf("config: unknown mail kind %q", c.Mail.Kind)
	}
	if c.IDs.Datacenter < 0 || c.IDs.Datacenter > 31 || c.IDs.Worker < 0 || c.IDs.Worker > 31 {
		return fmt.Errorf("config: ids.datacenter and ids.worker must be within 0..31")
	}
	if c.Broker.Prefetch == 0 {
		c.Broker.Prefetch = c.RPC.Workers
	}
	return nil
}
