package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/digestman/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	FeedRegRate     rate.Limit    // フィード登録のレート（req/sec）
	FeedRegBurst    int           // フィード登録のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、フィード登録 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120, 10)
}

// RateLimiterConfigPerMinute は1分あたりのリクエスト数から設定を組み立てる。
// バーストは1分ぶんの件数とする。
func RateLimiterConfigPerMinute(general, feedReg int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		FeedRegRate:     rate.Limit(float64(feedReg) / 60.0),
		FeedRegBurst:    feedReg,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiter はキーごとのリミッターと最終アクセス時刻。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキー（ユーザーID）ごとのトークンバケットを保持する。
type limiterSet struct {
	kind    string
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	entries map[string]*keyedLimiter
}

func newLimiterSet(kind string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{kind: kind, limit: limit, burst: burst, entries: make(map[string]*keyedLimiter)}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &keyedLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastAccess = now
	s.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (s *limiterSet) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(s.entries, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般とフィード登録の2種類を独立に持つ。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	feedReg *limiterSet
	logger  *slog.Logger
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		feedReg: newLimiterSet("feed_registration", config.FeedRegRate, config.FeedRegBurst),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// FeedRegistrationMiddleware はフィード登録専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) FeedRegistrationMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.feedReg)
}

func (rl *RateLimiter) middleware(set *limiterSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !set.allow(userID, time.Now()) {
				writeRateLimitResponse(w, set.limit)
				rl.logger.Warn("レート制限を超過しました",
					slog.String("user_id", userID),
					slog.String("limit_type", set.kind),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// FeedRegLimiterCount は現在管理されているフィード登録リミッターのエントリ数を返す。
func (rl *RateLimiter) FeedRegLimiterCount() int {
	return rl.feedReg.len()
}

// cleanupLoop は最終アクセスからCleanupIntervalの2倍を超えたエントリを定期的に削除する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	ttl := rl.config.CleanupInterval * 2
	for {
		select {
		case now := <-ticker.C:
			rl.general.sweep(now, ttl)
			rl.feedReg.sweep(now, ttl)
		case <-rl.stopCh:
			return
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
