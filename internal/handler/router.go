package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/digestman/internal/metrics"
	"github.com/hitoshi/digestman/internal/middleware"
)

// HealthChecker はDBの疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin  string
	RateLimiter        *middleware.RateLimiter
	IdentitySigningKey []byte
	TriggerSigningKey  []byte

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// ディスパッチ
	Runner DispatchRunner
	Runs   RunLister

	// 利用者向けAPI
	FeedService     FeedServiceInterface
	ScheduleService ScheduleServiceInterface
	UserService     UserServiceInterface
	Timezone        string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → (TriggerSignature | BearerAuth → RateLimit)
//
// /health と /metrics は認証なしで公開する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	dispatchHandler := NewDispatchHandler(deps.Runner, deps.Runs, deps.Logger)
	feedHandler := NewFeedHandler(deps.FeedService, deps.Logger)
	scheduleHandler := NewScheduleHandler(deps.ScheduleService, deps.Timezone, deps.Logger)
	userHandler := NewUserHandler(deps.UserService, deps.Logger)

	// --- 外部スケジューラ・運用者向け（署名付きトリガー） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTriggerSignatureMiddleware(deps.TriggerSigningKey, deps.Logger))

		r.Post("/api/dispatch", dispatchHandler.Trigger)
		r.Get("/api/admin/runs", dispatchHandler.ListRuns)
	})

	// --- 利用者向け（Bearerトークン） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.IdentitySigningKey, deps.Logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/feeds", func(r chi.Router) {
			r.With(deps.RateLimiter.FeedRegistrationMiddleware()).Post("/", feedHandler.RegisterFeed)
			r.Get("/", feedHandler.ListFeeds)
			r.Delete("/{id}", feedHandler.DeleteFeed)
		})

		r.Route("/api/schedule", func(r chi.Router) {
			r.Get("/", scheduleHandler.GetSchedule)
			r.Put("/", scheduleHandler.PutSchedule)
			r.Delete("/", scheduleHandler.DeleteSchedule)
		})

		r.Route("/api/users/me", func(r chi.Router) {
			r.Delete("/", userHandler.Withdraw)
			r.Get("/preferences", userHandler.GetPreferences)
			r.Put("/preferences", userHandler.PutPreferences)
		})
	})

	return r
}

// healthHandler はDBに疎通できれば200、できなければ503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
