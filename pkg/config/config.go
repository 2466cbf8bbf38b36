// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`

	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置（仅健康检查）
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogEnabled      bool          `mapstructure:"log_enabled"`
	// 慢查询阈值
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxPoolSize  int           `mapstructure:"max_pool_size"`
	ConnTimeout  time.Duration `mapstructure:"conn_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	// 订阅与发布的主题
	OrderLineSettledTopic string `mapstructure:"order_line_settled_topic"`
	OrderRefundedTopic    string `mapstructure:"order_refunded_topic"`
	PayoutEventsTopic     string `mapstructure:"payout_events_topic"`
	DeadLetterTopic       string `mapstructure:"dead_letter_topic"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 付款申请限流配置
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Rate    int           `mapstructure:"rate"`
	Period  time.Duration `mapstructure:"period"`
	Burst   int           `mapstructure:"burst"`
}

// ProcessorConfig 支付处理方（Connect 账户 + 转账 API）配置
type ProcessorConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	// 熔断：连续失败次数阈值与打开时长
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// LedgerConfig 佣金账本配置
type LedgerConfig struct {
	Currency            string        `mapstructure:"currency"`
	CurrencyScale       int32         `mapstructure:"currency_scale"`
	PlatformUserID      string        `mapstructure:"platform_user_id"`
	HoldWindow          time.Duration `mapstructure:"hold_window"`
	MinimumPayout       string        `mapstructure:"minimum_payout"`
	TaxReportThreshold  string        `mapstructure:"tax_report_threshold"`
	BatchWindow         time.Duration `mapstructure:"batch_window"`
	MaxTransferAttempts int           `mapstructure:"max_transfer_attempts"`
	ReleaseBatchSize    int           `mapstructure:"release_batch_size"`
	ReleaseInterval     time.Duration `mapstructure:"release_interval"`
	SettlementInterval  time.Duration `mapstructure:"settlement_interval"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	// 默认费率表，用于初始化 fee_schedules 的第 1 版
	PlatformFeePercent     string `mapstructure:"platform_fee_percent"`
	ReferralOfPlatformRate string `mapstructure:"referral_of_platform_rate"`
	ProcessorPercent       string `mapstructure:"processor_percent"`
	ProcessorFixed         string `mapstructure:"processor_fixed"`
}

// MinimumPayoutAmount 最低付款金额
func (c LedgerConfig) MinimumPayoutAmount() decimal.Decimal {
	return decimal.RequireFromString(c.MinimumPayout)
}

// TaxReportThresholdAmount 年度报税阈值
func (c LedgerConfig) TaxReportThresholdAmount() decimal.Decimal {
	return decimal.RequireFromString(c.TaxReportThreshold)
}

// Load 从 TOML 文件加载配置，文件缺失时使用默认值，支持 APP_ 前缀环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, statErr := os.Stat(configPath); statErr == nil {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	return c.Ledger.validate()
}

func (c LedgerConfig) validate() error {
	if c.PlatformUserID == "" {
		return fmt.Errorf("ledger.platform_user_id is required")
	}
	if c.HoldWindow < 0 {
		return fmt.Errorf("ledger.hold_window must not be negative")
	}
	if c.BatchWindow <= 0 {
		return fmt.Errorf("ledger.batch_window must be positive")
	}
	if c.MaxTransferAttempts <= 0 {
		return fmt.Errorf("ledger.max_transfer_attempts must be positive")
	}
	for name, raw := range map[string]string{
		"minimum_payout":            c.MinimumPayout,
		"tax_report_threshold":      c.TaxReportThreshold,
		"platform_fee_percent":      c.PlatformFeePercent,
		"referral_of_platform_rate": c.ReferralOfPlatformRate,
		"processor_percent":         c.ProcessorPercent,
		"processor_fixed":           c.ProcessorFixed,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("ledger.%s: %w", name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("ledger.%s must not be negative", name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "commission-ledger")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", "1s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_id", "commission-ledger")
	v.SetDefault("kafka.session_timeout", "10s")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", "100ms")
	v.SetDefault("kafka.order_line_settled_topic", "order.line.settled")
	v.SetDefault("kafka.order_refunded_topic", "order.refunded")
	v.SetDefault("kafka.payout_events_topic", "ledger.payout.events")
	v.SetDefault("kafka.dead_letter_topic", "ledger.dlq")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/ledger.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rate", 5)
	v.SetDefault("rate_limit.period", "1m")
	v.SetDefault("rate_limit.burst", 5)

	// 未设置默认值的键不会被环境变量覆盖
	v.SetDefault("processor.base_url", "")
	v.SetDefault("processor.api_key", "")
	v.SetDefault("processor.timeout", "10s")
	v.SetDefault("processor.max_retries", 2)
	v.SetDefault("processor.breaker_failures", 5)
	v.SetDefault("processor.breaker_timeout", "30s")

	v.SetDefault("ledger.currency", "USD")
	v.SetDefault("ledger.currency_scale", 2)
	v.SetDefault("ledger.platform_user_id", "platform")
	v.SetDefault("ledger.hold_window", "336h")
	v.SetDefault("ledger.minimum_payout", "25.00")
	v.SetDefault("ledger.tax_report_threshold", "600.00")
	v.SetDefault("ledger.batch_window", "24h")
	v.SetDefault("ledger.max_transfer_attempts", 3)
	v.SetDefault("ledger.release_batch_size", 500)
	v.SetDefault("ledger.release_interval", "10m")
	v.SetDefault("ledger.settlement_interval", "24h")
	v.SetDefault("ledger.reconcile_interval", "6h")
	v.SetDefault("ledger.platform_fee_percent", "0.15")
	v.SetDefault("ledger.referral_of_platform_rate", "0.20")
	v.SetDefault("ledger.processor_percent", "0.029")
	v.SetDefault("ledger.processor_fixed", "0.30")
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
