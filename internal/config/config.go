package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（任意。未設定なら分単位の実行ロックは無効）
	RedisURL string

	// Auth
	TriggerSigningKey  string // ディスパッチトリガーの署名検証鍵（HS256）
	IdentitySigningKey string // ユーザーAPIのBearerトークン検証鍵（HS256）

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int

	// Freshness
	FreshnessTTL time.Duration

	// Digest
	DigestCapacity     int
	DigestPerFeedLimit int // 0より大きい場合はフィードごとの固定上限（旧方式）で配分する
	LookbackWindow     time.Duration

	// Dispatch
	DispatchTimeout       time.Duration
	DispatchMaxConcurrent int
	CanonicalTimezone     string

	// OpenAI
	OpenAIAPIKey string
	OpenAIModel  string

	// Mail
	MailAPIURL     string
	MailAPIKey     string
	MailFrom       string
	MailRatePerSec int

	// Plan
	PlanLimitsEnabled bool // trueの場合、プランごとのフィード数と1日の配信数の上限を適用する

	// Rate Limit
	RateLimitGeneral int
	RateLimitFeedReg int

	// Retention
	ItemRetentionDays int
	LogRetentionDays  int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	location *time.Location
}

// Load は環境変数からConfigを読み込む。
// 必須項目の欠落、解釈できない値、範囲外の値はまとめて1つのエラーとして返す。
func Load() (*Config, error) {
	e := &envReader{}
	cfg := &Config{
		DatabaseURL:       e.required("DATABASE_URL"),
		TriggerSigningKey: e.required("TRIGGER_SIGNING_KEY"),

		RedisURL:           e.str("REDIS_URL", ""),
		IdentitySigningKey: e.str("IDENTITY_SIGNING_KEY", ""),

		FetchTimeout:       envOr(e, "FETCH_TIMEOUT", 10*time.Second, time.ParseDuration),
		FetchMaxSize:       envOr(e, "FETCH_MAX_SIZE", int64(5242880), parseInt64),
		FetchMaxConcurrent: envOr(e, "FETCH_MAX_CONCURRENT", 10, strconv.Atoi),
		FreshnessTTL:       envOr(e, "FRESHNESS_TTL", 3*time.Hour, time.ParseDuration),

		DigestCapacity:     envOr(e, "DIGEST_CAPACITY", 100, strconv.Atoi),
		DigestPerFeedLimit: envOr(e, "DIGEST_PER_FEED_LIMIT", 0, strconv.Atoi),
		LookbackWindow:     envOr(e, "LOOKBACK_WINDOW", 24*time.Hour, time.ParseDuration),

		DispatchTimeout:       envOr(e, "DISPATCH_TIMEOUT", 4*time.Minute, time.ParseDuration),
		DispatchMaxConcurrent: envOr(e, "DISPATCH_MAX_CONCURRENT", 4, strconv.Atoi),
		CanonicalTimezone:     e.str("CANONICAL_TIMEZONE", "UTC"),

		OpenAIAPIKey: e.str("OPENAI_API_KEY", ""),
		OpenAIModel:  e.str("OPENAI_MODEL", "gpt-4o"),

		MailAPIURL:     e.str("MAIL_API_URL", "https://api.resend.com/emails"),
		MailAPIKey:     e.str("MAIL_API_KEY", ""),
		MailFrom:       e.str("MAIL_FROM", "digest@localhost"),
		MailRatePerSec: envOr(e, "MAIL_RATE_PER_SEC", 2, strconv.Atoi),

		PlanLimitsEnabled: envOr(e, "PLAN_LIMITS_ENABLED", false, strconv.ParseBool),
		RateLimitGeneral:  envOr(e, "RATE_LIMIT_GENERAL", 120, strconv.Atoi),
		RateLimitFeedReg:  envOr(e, "RATE_LIMIT_FEED_REG", 10, strconv.Atoi),

		ItemRetentionDays: envOr(e, "ITEM_RETENTION_DAYS", 30, strconv.Atoi),
		LogRetentionDays:  envOr(e, "LOG_RETENTION_DAYS", 14, strconv.Atoi),

		ServerPort:        e.str("SERVER_PORT", "8080"),
		CORSAllowedOrigin: e.str("CORS_ALLOWED_ORIGIN", ""),
	}

	e.positive("FETCH_MAX_SIZE", cfg.FetchMaxSize)
	e.positive("FETCH_MAX_CONCURRENT", int64(cfg.FetchMaxConcurrent))
	e.positive("DIGEST_CAPACITY", int64(cfg.DigestCapacity))
	e.positive("DISPATCH_MAX_CONCURRENT", int64(cfg.DispatchMaxConcurrent))
	e.positive("DISPATCH_TIMEOUT", int64(cfg.DispatchTimeout))

	loc, err := time.LoadLocation(cfg.CanonicalTimezone)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid CANONICAL_TIMEZONE %q: %w", cfg.CanonicalTimezone, err))
	}
	cfg.location = loc

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location は基準タイムゾーンを返す。Loadを経ていないConfigではUTC。
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// envReader は環境変数の読み取りエラーを蓄積する。
type envReader struct {
	missing []string
	errs    []error
}

func (e *envReader) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		e.missing = append(e.missing, key)
	}
	return v
}

func (e *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) positive(key string, v int64) {
	if v <= 0 {
		e.errs = append(e.errs, fmt.Errorf("%s must be positive: %d", key, v))
	}
}

func (e *envReader) err() error {
	var errs []error
	if len(e.missing) > 0 {
		errs = append(errs, fmt.Errorf("required environment variables are not set: %v", e.missing))
	}
	return errors.Join(append(errs, e.errs...)...)
}

// envOr はkeyが未設定ならdefを返し、設定されていればparseで解釈する。
// 解釈に失敗した値は黙って既定値にせず、エラーとして記録する。
func envOr[T any](e *envReader, key string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return parsed
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
