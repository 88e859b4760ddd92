package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/digestman/internal/config"
	"github.com/hitoshi/digestman/internal/database"
	"github.com/hitoshi/digestman/internal/digest"
	"github.com/hitoshi/digestman/internal/dispatch"
	"github.com/hitoshi/digestman/internal/entitlement"
	"github.com/hitoshi/digestman/internal/feed"
	"github.com/hitoshi/digestman/internal/freshness"
	"github.com/hitoshi/digestman/internal/handler"
	"github.com/hitoshi/digestman/internal/identity"
	"github.com/hitoshi/digestman/internal/item"
	"github.com/hitoshi/digestman/internal/logger"
	"github.com/hitoshi/digestman/internal/metrics"
	"github.com/hitoshi/digestman/internal/middleware"
	"github.com/hitoshi/digestman/internal/repository"
	"github.com/hitoshi/digestman/internal/schedule"
	"github.com/hitoshi/digestman/internal/security"
	"github.com/hitoshi/digestman/internal/user"
	"github.com/hitoshi/digestman/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/digestman/internal/worker/fetch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	var dispatchFlags DispatchFlags
	if cmd == CommandDispatch {
		f, err := ParseDispatchFlags(args[1:], os.Stderr)
		if err != nil {
			return fmt.Errorf("invalid dispatch flags: %w", err)
		}
		dispatchFlags = f
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("timezone", cfg.CanonicalTimezone),
	)

	switch cmd {
	case CommandDispatch:
		return runDispatch(w, cfg, dispatchFlags)
	case CommandCleanup:
		return runCleanup(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserveとdispatchで共有する依存関係一式。
type components struct {
	registry *prometheus.Registry
	runner   *dispatch.Runner
	runs     *repository.PostgresRunRepo

	feedService     *feed.Service
	scheduleService *schedule.Service
	userService     *user.Service

	closers []io.Closer
}

// Close は外部接続を閉じる。
func (c *components) Close() {
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newLocker はREDIS_URLが設定されていればRedisの分単位ロックを、なければロックなしを返す。
// Redisに疎通できなくても起動は続け、実行時のロック失敗は警告のみとする。
func newLocker(ctx context.Context, cfg *config.Config) (dispatch.Locker, io.Closer, error) {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL is not set; dispatch lock disabled")
		return dispatch.NopLocker{}, nil, nil
	}
	l, err := dispatch.NewRedisLockerWithURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := l.Ping(pingCtx); err != nil {
		slog.Warn("redis is not reachable; dispatch lock may fail", slog.String("error", err.Error()))
	}
	return l, l, nil
}

// buildComponents はリポジトリからディスパッチ実行までの依存関係を組み立てる。
func buildComponents(ctx context.Context, cfg *config.Config, db *sql.DB) (*components, error) {
	log := slog.Default()
	loc := cfg.Location()

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	feedRepo := repository.NewPostgresFeedRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	scheduleRepo := repository.NewPostgresScheduleRepo(db)
	runRepo := repository.NewPostgresRunRepo(db)
	digestLogRepo := repository.NewPostgresDigestLogRepo(db)

	users := identity.NewStoreProvider(userRepo)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. フィード更新
	fetcher := fetchpkg.NewFetcher(ssrfGuard, log, cfg.FetchTimeout, cfg.FetchMaxSize)
	merger := item.NewMerger(itemRepo, sanitizer, log)
	refresher := fetchpkg.NewRefresher(
		freshness.NewCache(feedRepo, cfg.FreshnessTTL),
		feedRepo, fetcher, merger, collector, log, cfg.FetchMaxConcurrent,
	).WithPollTimeout(2 * cfg.FetchTimeout)

	// 5. 配信パイプライン
	checker := entitlement.NewChecker(cfg.PlanLimitsEnabled, digestLogRepo, loc)
	renderer := digest.NewRenderer()
	generator := digest.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, renderer, log)
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; digest generation will fail")
	}
	deliverer := digest.NewDeliverer(
		&http.Client{Timeout: 15 * time.Second}, log,
		cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom, cfg.MailRatePerSec,
	)
	pipeline := dispatch.NewPipeline(
		users, checker, feedRepo, refresher,
		item.NewSelector(itemRepo, feedRepo),
		generator, deliverer, digestLogRepo,
		dispatch.PipelineConfig{
			Capacity:     cfg.DigestCapacity,
			PerFeedLimit: cfg.DigestPerFeedLimit,
			Lookback:     cfg.LookbackWindow,
		},
		log,
	)

	locker, closer, err := newLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	runner := dispatch.NewRunner(
		schedule.NewMatcher(scheduleRepo, loc),
		pipeline, runRepo, locker, collector, log,
		dispatch.RunnerConfig{
			Timeout:        cfg.DispatchTimeout,
			MaxConcurrency: cfg.DispatchMaxConcurrent,
		},
	)

	// 6. 利用者向けサービス
	detector := feed.NewDetector(ssrfGuard, cfg.FetchTimeout, cfg.FetchMaxSize)

	c := &components{
		registry:        registry,
		runner:          runner,
		runs:            runRepo,
		feedService:     feed.NewService(feedRepo, itemRepo, users, checker, detector, refresher, log),
		scheduleService: schedule.NewService(scheduleRepo, users, checker, loc, log),
		userService:     user.NewService(userRepo, feedRepo, itemRepo, log),
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	return c, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(context.Background(), cfg, db)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.IdentitySigningKey == "" {
		slog.Warn("IDENTITY_SIGNING_KEY is not set; user API will reject all requests")
	}

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitFeedReg),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		CORSAllowedOrigin:  cfg.CORSAllowedOrigin,
		RateLimiter:        rateLimiter,
		IdentitySigningKey: []byte(cfg.IdentitySigningKey),
		TriggerSigningKey:  []byte(cfg.TriggerSigningKey),
		HealthChecker:      db,
		Gatherer:           c.registry,
		Runner:             c.runner,
		Runs:               c.runs,
		FeedService:        c.feedService,
		ScheduleService:    c.scheduleService,
		UserService:        c.userService,
		Timezone:           cfg.CanonicalTimezone,
	})

	// ディスパッチは最大 DispatchTimeout かかるため、書き込みタイムアウトはそれより長くする
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.DispatchTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serveUntilDone(ctx, server, shutdownTimeout)
}

const shutdownTimeout = 30 * time.Second

// serveUntilDone はctxが終わるまでサーバーを動かし、その後グレースフルに停止する。
// Listenに失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server, grace time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTPサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("HTTPサーバーを停止します")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("HTTPサーバーを停止しました")
		return nil
	})

	return g.Wait()
}

// runDispatch は配信実行を1回行い、実行記録をJSONでwに出力する。
// スケジュールの取得に失敗した場合のみエラーを返す。
func runDispatch(w io.Writer, cfg *config.Config, flags DispatchFlags) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := buildComponents(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := c.runner.Run(ctx, dispatch.RunOptions{Manual: flags.Manual})
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("failed to write dispatch result: %w", err)
	}
	return nil
}

// runCleanup は保持期間を過ぎた記事と記録を削除する。
func runCleanup(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(db, slog.Default())
	job.ItemRetentionDays = cfg.ItemRetentionDays
	job.LogRetentionDays = cfg.LogRetentionDays

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runMigrate は未適用のマイグレーションをすべて適用し、適用後のバージョンを記録する。
func runMigrate(cfg *config.Config) error {
	slog.Info("マイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("マイグレーションが完了しました",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はローカルの /health を叩く。
// distrolessイメージにはcurlがないため、DockerのHEALTHCHECKはこのサブコマンドを使う。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はログ用にパスワードを伏せた接続URLを返す。
// URLとして解釈できない値は丸ごと伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
