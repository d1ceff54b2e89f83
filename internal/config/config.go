// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

// ストアの実装種別
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// Auth
	JWTSecret        string        `env:"JWT_SECRET,required,notEmpty"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"10"`
	AllowAdminSignup bool          `env:"ALLOW_ADMIN_SIGNUP" envDefault:"false"`

	// Records
	DisplayTimezone string        `env:"DISPLAY_TIMEZONE" envDefault:"Europe/Berlin"`
	MaxOpenShift    time.Duration `env:"MAX_OPEN_SHIFT" envDefault:"16h"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitStamp   int `env:"RATE_LIMIT_STAMP" envDefault:"10"`

	// Anomaly scan
	AnomalyScanInterval time.Duration `env:"ANOMALY_SCAN_INTERVAL" envDefault:"15m"`
	AnomalyWebhookURL   string        `env:"ANOMALY_WEBHOOK_URL"`
	WebhookTimeout      time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`

	// Retention
	AuditRetentionDays int `env:"AUDIT_RETENTION_DAYS" envDefault:"365"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}

	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DISPLAY_TIMEZONE is invalid: %w", err))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitStamp <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_STAMP must be positive"))
	}
	if c.AnomalyScanInterval <= 0 {
		errs = append(errs, errors.New("ANOMALY_SCAN_INTERVAL must be positive"))
	}
	if c.AuditRetentionDays <= 0 {
		errs = append(errs, errors.New("AUDIT_RETENTION_DAYS must be positive"))
	}

	return errors.Join(errs...)
}

// DisplayLocation は月次集計に使う表示用タイムゾーンを返す。
// Loadで検証済みのため、ここでの失敗はUTCにフォールバックする。
func (c *Config) DisplayLocation() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UsesMemoryStore はインメモリストアで動作する設定かどうかを返す。
func (c *Config) UsesMemoryStore() bool {
	return c.StoreDriver == StoreDriverMemory
}
