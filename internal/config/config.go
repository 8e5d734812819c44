package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	JWT         JWTConfig       `mapstructure:"jwt"`
	WebSocket   WebSocketConfig `mapstructure:"websocket"`
	Cache       CacheConfig     `mapstructure:"cache"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Mail        MailConfig      `mapstructure:"mail"`
	Upload      UploadConfig    `mapstructure:"upload"`
	Log         LogConfig       `mapstructure:"log"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	Sentry      SentryConfig    `mapstructure:"sentry"`
	FrontendURL string          `mapstructure:"frontend_url" validate:"required,url"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret        string        `mapstructure:"secret" validate:"required"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	GuestTTL      time.Duration `mapstructure:"guest_ttl"`
}

type WebSocketConfig struct {
	Path           string        `mapstructure:"path" validate:"required,startswith=/"`
	MaxConnections int           `mapstructure:"max_connections" validate:"min=1"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxPayload     int64         `mapstructure:"max_payload"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	FrameRate      float64       `mapstructure:"frame_rate"`
	FrameBurst     int           `mapstructure:"frame_burst"`
	BridgePatterns []string      `mapstructure:"bridge_patterns"`
}

type CacheConfig struct {
	MessageTTL      time.Duration `mapstructure:"message_ttl"`
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
	UnreadTTL       time.Duration `mapstructure:"unread_ttl"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
}

// Limit 固定窗口限流参数
type Limit struct {
	Limit  int           `mapstructure:"limit" validate:"min=1"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	AdminMessages    Limit `mapstructure:"admin_messages"`
	EmployerMessages Limit `mapstructure:"employer_messages"`
	PasswordResets   Limit `mapstructure:"password_resets"`
	GuestTokens      Limit `mapstructure:"guest_tokens"`
}

type MailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	From         string `mapstructure:"from"`
	AdminAddress string `mapstructure:"admin_address"`
	Workers      int    `mapstructure:"workers"`
	QueueSize    int    `mapstructure:"queue_size"`
}

type UploadConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Load 读取配置：默认值 < 配置文件 < 环境变量（APP_ 前缀）
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.JWT.RefreshSecret == "" {
		cfg.JWT.RefreshSecret = cfg.JWT.Secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验结构体 tag
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:jobportal.db?cache=shared")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.access_ttl", "1h")
	v.SetDefault("jwt.refresh_ttl", "168h")
	v.SetDefault("jwt.guest_ttl", "2h")

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.max_connections", 100)
	v.SetDefault("websocket.connect_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.max_payload", 1<<20)
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.frame_rate", 20)
	v.SetDefault("websocket.frame_burst", 40)
	v.SetDefault("websocket.bridge_patterns", []string{"admin_*", "employer_*", "dashboard"})

	v.SetDefault("cache.message_ttl", "1h")
	v.SetDefault("cache.conversation_ttl", "30m")
	v.SetDefault("cache.unread_ttl", "24h")
	v.SetDefault("cache.session_ttl", "1h")

	v.SetDefault("rate_limit.admin_messages.limit", 10)
	v.SetDefault("rate_limit.admin_messages.window", "60s")
	v.SetDefault("rate_limit.employer_messages.limit", 5)
	v.SetDefault("rate_limit.employer_messages.window", "60s")
	v.SetDefault("rate_limit.password_resets.limit", 3)
	v.SetDefault("rate_limit.password_resets.window", "1h")
	v.SetDefault("rate_limit.guest_tokens.limit", 10)
	v.SetDefault("rate_limit.guest_tokens.window", "60s")

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@jobportal.local")
	v.SetDefault("mail.admin_address", "admin@jobportal.local")
	v.SetDefault("mail.workers", 2)
	v.SetDefault("mail.queue_size", 256)

	v.SetDefault("upload.dir", "uploads/messages")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "job-portal")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("sentry.environment", "development")

	v.SetDefault("frontend_url", "http://localhost:3000")
}
