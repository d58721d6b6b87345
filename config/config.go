package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Bot      BotConfig      `mapstructure:"bot"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

type QueueConfig struct {
	CommandQueue string `mapstructure:"command_queue"`
	MaxWorkers   int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// BotConfig 机器人运行时参数
type BotConfig struct {
	StartAttempts     int           `mapstructure:"start_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	StartConcurrency  int           `mapstructure:"start_concurrency"`
	SendRetries       int           `mapstructure:"send_retries"`
	SendRetryDelay    time.Duration `mapstructure:"send_retry_delay"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	DefaultPlans      []PlanConfig  `mapstructure:"default_plans"`
}

type PlanConfig struct {
	Name         string          `mapstructure:"name"`
	Price        decimal.Decimal `mapstructure:"price"`
	DurationDays int             `mapstructure:"duration_days"`
}

// PaymentConfig 支付网关参数
type PaymentConfig struct {
	GatewayBaseURL string          `mapstructure:"gateway_base_url"`
	WebhookURL     string          `mapstructure:"webhook_url"`
	HTTPTimeout    time.Duration   `mapstructure:"http_timeout"`
	ChargeTTL      time.Duration   `mapstructure:"charge_ttl"`
	ChargeTimeout  time.Duration   `mapstructure:"charge_timeout"`
	PlatformFee    decimal.Decimal `mapstructure:"platform_fee"`
	SweepInterval  time.Duration   `mapstructure:"sweep_interval"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

func Load(configPath string) (*Config, error) {
	// .env 可选，只补充环境变量，不覆盖已存在的值
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook(),
	))); err != nil {
		return nil, err
	}
	cfg.applyFallbacks()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("queue.command_queue", "bot_commands")
	v.SetDefault("queue.max_workers", 1)
	v.SetDefault("payment.gateway_base_url", "https://api.pushinpay.com.br/api")
	v.SetDefault("payment.http_timeout", 30*time.Second)
	v.SetDefault("payment.charge_ttl", 24*time.Hour)
	v.SetDefault("payment.charge_timeout", 45*time.Second)
	v.SetDefault("payment.platform_fee", "0.70")
	v.SetDefault("payment.sweep_interval", 15*time.Minute)
}

// applyFallbacks 补齐 yaml 中缺失或非法的运行时参数
func (c *Config) applyFallbacks() {
	b := &c.Bot
	if b.StartAttempts <= 0 {
		b.StartAttempts = 5
	}
	if b.BackoffBase <= 0 {
		b.BackoffBase = 5 * time.Second
	}
	if b.BackoffMax <= 0 {
		b.BackoffMax = time.Minute
	}
	if b.HeartbeatInterval <= 0 {
		b.HeartbeatInterval = 30 * time.Second
	}
	if b.ReconcileInterval <= 0 {
		b.ReconcileInterval = time.Minute
	}
	if b.StopTimeout <= 0 {
		b.StopTimeout = 10 * time.Second
	}
	if b.StartConcurrency <= 0 {
		b.StartConcurrency = 4
	}
	if b.SendRetries <= 0 {
		b.SendRetries = 2
	}
	if b.SendRetryDelay <= 0 {
		b.SendRetryDelay = 500 * time.Millisecond
	}
	if b.SessionTTL <= 0 {
		b.SessionTTL = time.Hour
	}
	if len(b.DefaultPlans) == 0 {
		b.DefaultPlans = DefaultPlans()
	}
	if c.Payment.PlatformFee.IsNegative() {
		c.Payment.PlatformFee = decimal.Zero
	}
}

// DefaultPlans 机器人未配置套餐时使用的默认套餐
func DefaultPlans() []PlanConfig {
	return []PlanConfig{
		{Name: "🌟VIP SEMANAL🌟", Price: decimal.RequireFromString("19.90"), DurationDays: 7},
		{Name: "💎PREMIUM MENSAL💎", Price: decimal.RequireFromString("39.90"), DurationDays: 30},
		{Name: "👑ELITE ANUAL👑", Price: decimal.RequireFromString("99.90"), DurationDays: 365},
	}
}
