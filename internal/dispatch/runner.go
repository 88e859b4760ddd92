// Package dispatch は外部トリガーから1分ごとに呼ばれる配信実行を提供する。
// 対象ユーザーごとの処理は互いに独立しており、1人の失敗が他のユーザーの処理を止めることはない。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/digestman/internal/logger"
	"github.com/hitoshi/digestman/internal/metrics"
	"github.com/hitoshi/digestman/internal/model"
)

// lockTTL は分単位の実行ロックの有効期間。同じ分の再トリガーを確実に弾けるよう1分より長くする。
const lockTTL = 2 * time.Minute

// DueFinder は現在時刻に配信対象となるスケジュールを返す。
type DueFinder interface {
	DueUsers(ctx context.Context, now time.Time) (model.Clock, []*model.UserSchedule, error)
	Location() *time.Location
}

// UserProcessor は1ユーザー分の配信処理を行う。
type UserProcessor interface {
	Process(ctx context.Context, userID string, now, slot time.Time) model.Outcome
}

// RunStore は実行記録を保存する。
type RunStore interface {
	Save(ctx context.Context, run *model.DispatchRun) error
}

// RunOptions は1回の実行の指定。
type RunOptions struct {
	Manual bool      // 手動実行。分単位の実行ロックを使わない
	Now    time.Time // ゼロ値なら現在時刻
}

// RunnerConfig はRunnerの設定。
type RunnerConfig struct {
	Timeout        time.Duration
	MaxConcurrency int
}

// Runner は配信実行全体を制御する。
type Runner struct {
	matcher        DueFinder
	processor      UserProcessor
	runs           RunStore
	locker         Locker
	metrics        metrics.DispatchMetrics
	logger         *slog.Logger
	timeout        time.Duration
	maxConcurrency int
	now            func() time.Time
}

// NewRunner はRunnerを生成する。
// lockerがnilの場合はロックなし、metricsがnilの場合は記録なしで動作する。
func NewRunner(
	matcher DueFinder,
	processor UserProcessor,
	runs RunStore,
	locker Locker,
	m metrics.DispatchMetrics,
	logger *slog.Logger,
	cfg RunnerConfig,
) *Runner {
	if locker == nil {
		locker = NopLocker{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Runner{
		matcher:        matcher,
		processor:      processor,
		runs:           runs,
		locker:         locker,
		metrics:        m,
		logger:         logger,
		timeout:        timeout,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Run は現在の分に配信対象となるユーザー全員の処理を行い、実行記録を返す。
// スケジュールの取得に失敗した場合のみエラーを返す。
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*model.DispatchRun, error) {
	now := opts.Now
	if now.IsZero() {
		now = r.now()
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	loc := r.matcher.Location()
	slot := now.In(loc).Truncate(time.Minute)

	run := &model.DispatchRun{
		ID:          uuid.New().String(),
		TriggeredAt: now,
		Manual:      opts.Manual,
	}
	log := logger.WithRun(r.logger, run.ID)

	if !opts.Manual {
		acquired, err := r.locker.TryLock(ctx, slot.Format("2006-01-02T15:04"), lockTTL)
		if err != nil {
			// ロック基盤の障害で配信を止めない。DigestLogで同じ分の再送は防がれる
			log.Warn("実行ロックを取得できないためロックなしで続行します",
				slog.String("error", err.Error()),
			)
		} else if !acquired {
			run.Duplicate = true
			run.CanonicalTime = slot.Format("15:04")
			run.CanonicalDay = model.WeekdayOf(slot.Weekday())
			run.FinishedAt = r.now()
			run.Outcomes = []model.Outcome{}
			r.metrics.RecordRun(true, time.Since(start))
			log.Info("同じ分の実行が既に行われているためスキップします",
				slog.String("slot", slot.Format(time.RFC3339)),
			)
			return run, nil
		}
	}

	clock, due, err := r.matcher.DueUsers(ctx, now)
	if err != nil {
		log.Error("配信対象の取得に失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("配信対象の取得に失敗しました: %w", err)
	}
	run.CanonicalTime = clock.Time
	run.CanonicalDay = clock.Day

	userIDs := make([]string, len(due))
	for i, s := range due {
		userIDs[i] = s.UserID
	}
	reporter := NewReporter(userIDs)

	log.Info("配信を開始します",
		slog.String("canonical_time", clock.Time),
		slog.String("canonical_day", string(clock.Day)),
		slog.Int("due_users", len(userIDs)),
		slog.Bool("manual", opts.Manual),
	)

	var g errgroup.Group
	g.SetLimit(r.maxConcurrency)
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			// 期限切れ・キャンセル後は新しいユーザーの処理を始めない
			reporter.Record(Failed(userID, interruptReason(ctx.Err()), ctx.Err()))
			continue
		}
		g.Go(func() error {
			reporter.Record(r.processUser(ctx, log, userID, now, slot))
			return nil
		})
	}
	_ = g.Wait()

	reporter.Finish(run)
	run.FinishedAt = r.now()

	for _, o := range run.Outcomes {
		r.metrics.RecordOutcome(string(o.Status), o.Reason)
	}
	r.metrics.RecordRun(false, time.Since(start))

	// 実行記録の保存は期限切れの影響を受けないよう独立したコンテキストで行う
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer saveCancel()
	if err := r.runs.Save(saveCtx, run); err != nil {
		log.Error("実行記録の保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	log.Info("配信が完了しました",
		slog.Int("total", run.Counts.Total),
		slog.Int("sent", run.Counts.Sent),
		slog.Int("skipped", run.Counts.Skipped),
		slog.Int("error", run.Counts.Error),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return run, nil
}

// processUser は1ユーザー分の処理を行い、panicを含むすべての失敗をOutcomeに変換する。
func (r *Runner) processUser(ctx context.Context, log *slog.Logger, userID string, now, slot time.Time) (out model.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("ユーザー処理でpanicが発生しました",
				slog.String("user_id", userID),
				slog.Any("panic", p),
			)
			out = Failed(userID, model.ReasonInternal, fmt.Errorf("panic: %v", p))
		}
	}()

	out = interruptedOutcome(ctx, r.processor.Process(ctx, userID, now, slot))
	if out.Status == model.OutcomeError {
		log.Warn("ユーザーの配信に失敗しました",
			slog.String("user_id", userID),
			slog.String("reason", out.Reason),
			slog.String("detail", out.Detail),
		)
	}
	return out
}
