// Package config 提供了请求调度服务的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖
// 敏感配置项（如数据库密码和签名密钥）。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/oriys/stratus/internal/storage"
	"gopkg.in/yaml.v3"
)

// Config 是应用程序的主配置结构体，包含所有子系统的配置。
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server"`
	// Auth 认证配置
	Auth AuthConfig `yaml:"auth"`
	// Storage 存储配置，包括 PostgreSQL 与可选的 Redis 溢出队列
	Storage StorageConfig `yaml:"storage"`
	// Executor 执行器配置，包括两个工作池的并发度与隔离模式
	Executor ExecutorConfig `yaml:"executor"`
	// Logs 请求日志目录配置
	Logs LogsConfig `yaml:"logs"`
	// Events 事件总线配置（NATS）
	Events EventsConfig `yaml:"events"`
	// Daemons 周期性系统请求配置
	Daemons DaemonsConfig `yaml:"daemons"`
	// Logging 服务日志配置
	Logging LoggingConfig `yaml:"logging"`
	// Telemetry 分布式追踪配置
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig HTTP 服务配置。
type ServerConfig struct {
	// Host 监听地址
	Host string `yaml:"host"`
	// Port 监听端口
	Port int `yaml:"port"`
	// ShutdownTimeout 优雅关闭等待时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig 认证配置。
type AuthConfig struct {
	// Enabled 为 false 时从请求头读取用户标识，不校验签名
	Enabled bool `yaml:"enabled"`
	// JWTSecret Bearer Token 的 HMAC 签名密钥
	JWTSecret string `yaml:"jwt_secret"`
}

// StorageConfig 存储配置。
type StorageConfig struct {
	// Driver 取值 "postgres" 或 "memory"；memory 仅用于本地单进程模式
	Driver   string                 `yaml:"driver"`
	Postgres storage.PostgresConfig `yaml:"postgres"`
	Redis    storage.RedisConfig    `yaml:"redis"`
}

// ExecutorConfig 执行器配置。
type ExecutorConfig struct {
	// BlockingWorkers blocking 池的工作单元数量，0 表示按 CPU 推导
	BlockingWorkers int `yaml:"blocking_workers"`
	// NonBlockingWorkers non_blocking 池的工作单元数量，0 表示按 CPU 推导
	NonBlockingWorkers int `yaml:"non_blocking_workers"`
	// SpillThreshold 内存队列溢出到 Redis 的阈值（配置了 Redis 时生效）
	SpillThreshold int `yaml:"spill_threshold"`
	// Isolation 取值 "process"（默认，独立工作进程）或 "goroutine"
	// （进程内执行，仅配合 memory 存储使用）
	Isolation string `yaml:"isolation"`
}

// LogsConfig 请求日志目录配置。
type LogsConfig struct {
	// Root 所有请求日志文件的根目录；流式读取只允许该目录内的路径
	Root string `yaml:"root"`
}

// EventsConfig 事件总线配置。
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
}

// DaemonsConfig 周期性系统请求配置。
type DaemonsConfig struct {
	// StatusRefreshCron 集群状态后台刷新的 cron 表达式，空串关闭
	StatusRefreshCron string `yaml:"status_refresh_cron"`
}

// LoggingConfig 服务日志配置。
type LoggingConfig struct {
	// Level 日志级别：debug/info/warn/error
	Level string `yaml:"level"`
	// Format 输出格式：json 或 text
	Format string `yaml:"format"`
}

// TelemetryConfig 分布式追踪配置。
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Load 从 YAML 文件加载配置并应用默认值与环境变量覆盖。
// 文件不存在时返回纯默认配置（memory 存储 + goroutine 隔离），
// 便于零配置本地运行。
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// 无配置文件时使用默认值
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDerivedDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults 返回内置默认配置。
func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            46580,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Postgres: storage.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "stratus",
				Database: "stratus",
				SSLMode:  "disable",
			},
		},
		Executor: ExecutorConfig{
			SpillThreshold: 1000,
			Isolation:      "goroutine",
		},
		Logs: LogsConfig{
			Root: filepath.Join(home, ".stratus", "logs"),
		},
		Daemons: DaemonsConfig{
			// 每分钟在后台刷新一次集群状态
			StatusRefreshCron: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stratus-server",
			SampleRate:  0.1,
			Environment: "dev",
		},
	}
}

// applyEnvOverrides 用环境变量覆盖敏感配置项。
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATUS_POSTGRES_PASSWORD"); v != "" {
		cfg.Storage.Postgres.Password = v
	}
	if v := os.Getenv("STRATUS_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("STRATUS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

// applyDerivedDefaults 填充依赖运行环境的默认值。
// 工作池规模的推导沿用生产观察值：blocking 池保留少量并发
// 应对重型操作，non_blocking 池放大并发降低元数据操作延迟。
func applyDerivedDefaults(cfg *Config) {
	cpus := runtime.NumCPU()
	if cfg.Executor.BlockingWorkers <= 0 {
		n := cpus * 2
		if n > 4 {
			n = 4
		}
		if n < 1 {
			n = 1
		}
		cfg.Executor.BlockingWorkers = n
	}
	if cfg.Executor.NonBlockingWorkers <= 0 {
		n := cpus * 8
		if n < 8 {
			n = 8
		}
		cfg.Executor.NonBlockingWorkers = n
	}
}

// validate 做启动前的基本一致性检查。
func (c *Config) validate() error {
	if c.Storage.Driver != "memory" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Executor.Isolation != "process" && c.Executor.Isolation != "goroutine" {
		return fmt.Errorf("unknown executor isolation %q", c.Executor.Isolation)
	}
	if c.Executor.Isolation == "process" && c.Storage.Driver == "memory" {
		return fmt.Errorf("process isolation requires a shared store (postgres)")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if c.Logs.Root == "" {
		return fmt.Errorf("logs.root must not be empty")
	}
	return nil
}
