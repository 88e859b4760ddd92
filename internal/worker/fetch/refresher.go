// Package fetch はフィードの取得と、ディスパッチ時のフィード更新処理を提供する。
// フェッチャー、更新処理の並列制御、HTTPステータスの分類を含む。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/digestman/internal/item"
	"github.com/hitoshi/digestman/internal/metrics"
	"github.com/hitoshi/digestman/internal/model"
)

// FeedFetcher はフィードURLを取得してパースするインターフェース。
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) (*model.ParsedFeed, error)
}

// Ingester は取得した記事を保存するインターフェース。
type Ingester interface {
	Ingest(ctx context.Context, feedID string, raws []model.RawItem) (item.IngestResult, error)
}

// StaleFinder は再取得が必要なフィードを判定するインターフェース。
type StaleFinder interface {
	StaleFeeds(ctx context.Context, feedIDs []string, now time.Time) ([]*model.Feed, error)
}

// RefreshMarker はポーリング成功時刻を記録するインターフェース。
type RefreshMarker interface {
	MarkRefreshed(ctx context.Context, feedID string, at time.Time) error
}

// RefreshSummary は1回の更新処理の集計。
type RefreshSummary struct {
	Requested int
	Stale     int
	Succeeded int
	Failed    int
}

// Refresher は鮮度切れのフィードを並列に再取得する。
// semaphoreパターンで最大並列数を制御し、同じURLへの同時取得は
// singleflightで1回にまとめる。個別の失敗は記録のみで呼び出し側には返さない。
type Refresher struct {
	stale          StaleFinder
	marker         RefreshMarker
	fetcher        FeedFetcher
	ingester       Ingester
	metrics        metrics.RefreshMetrics
	logger         *slog.Logger
	maxConcurrency int
	pollTimeout    time.Duration
	group          singleflight.Group
	now            func() time.Time
}

// defaultPollTimeout は共有ポーリング1回あたりの上限時間。
const defaultPollTimeout = time.Minute

// NewRefresher はRefresherの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewRefresher(
	stale StaleFinder,
	marker RefreshMarker,
	fetcher FeedFetcher,
	ingester Ingester,
	m metrics.RefreshMetrics,
	logger *slog.Logger,
	maxConcurrency int,
) *Refresher {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Refresher{
		stale:          stale,
		marker:         marker,
		fetcher:        fetcher,
		ingester:       ingester,
		metrics:        m,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		pollTimeout:    defaultPollTimeout,
		now:            time.Now,
	}
}

// WithPollTimeout は共有ポーリングの上限時間を設定する。0以下は無視する。
func (r *Refresher) WithPollTimeout(d time.Duration) *Refresher {
	if d > 0 {
		r.pollTimeout = d
	}
	return r
}

// Refresh は指定フィードのうち鮮度切れのものを再取得する。
// 鮮度判定に失敗した場合は全件を再取得せず、記録だけして戻る。
func (r *Refresher) Refresh(ctx context.Context, feedIDs []string) RefreshSummary {
	start := r.now()
	summary := RefreshSummary{Requested: len(feedIDs)}

	feeds, err := r.stale.StaleFeeds(ctx, feedIDs, start)
	if err != nil {
		r.logger.Error("鮮度判定に失敗しました",
			slog.Int("feed_count", len(feedIDs)),
			slog.String("error", err.Error()),
		)
		return summary
	}
	summary.Stale = len(feeds)
	if len(feeds) == 0 {
		return summary
	}

	var mu sync.Mutex
	sem := make(chan struct{}, r.maxConcurrency)
	var wg sync.WaitGroup

	for _, feed := range feeds {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(f *model.Feed) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			err := r.Poll(ctx, f)

			mu.Lock()
			if err != nil {
				summary.Failed++
			} else {
				summary.Succeeded++
			}
			mu.Unlock()
		}(feed)
	}

	wg.Wait()

	r.logger.Info("フィード更新が完了しました",
		slog.Int("requested", summary.Requested),
		slog.Int("stale", summary.Stale),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return summary
}

// Poll は1件のフィードを取得して記事を取り込み、成功時刻を記録する。
// 同じURLの取得が進行中であればその結果を共有する。
// 共有される処理は呼び出し元のキャンセルを引き継がず、pollTimeoutで打ち切る。
// 各呼び出し元は自分のctxが終了した時点で待つのをやめる。
// 失敗時はlast_refreshed_atを更新しない。
func (r *Refresher) Poll(ctx context.Context, feed *model.Feed) error {
	ch := r.group.DoChan(feed.URL, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pollTimeout)
		defer cancel()
		return nil, r.poll(pctx, feed)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("同一URLの取得結果を共有しました",
				slog.String("feed_id", feed.ID),
				slog.String("feed_url", feed.URL),
			)
		}
		return res.Err
	}
}

func (r *Refresher) poll(ctx context.Context, feed *model.Feed) error {
	start := time.Now()

	parsed, err := r.fetcher.Fetch(ctx, feed.URL)
	r.metrics.RecordFetchLatency(time.Since(start))
	if err != nil {
		reason := FailureReason(err)
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			r.metrics.RecordHTTPStatus(statusErr.StatusCode)
		}
		r.metrics.RecordFetchFailure(feed.ID, reason)
		r.logger.Warn("フィードの取得に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.URL),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return err
	}
	r.metrics.RecordHTTPStatus(200)

	result, err := r.ingester.Ingest(ctx, feed.ID, parsed.Items)
	if err != nil {
		r.metrics.RecordFetchFailure(feed.ID, "ingest")
		r.logger.Error("記事の取り込みに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("記事の取り込みに失敗: %w", err)
	}
	r.metrics.RecordItemsIngested(result.Created, result.Appended)

	if err := r.marker.MarkRefreshed(ctx, feed.ID, r.now()); err != nil {
		r.metrics.RecordFetchFailure(feed.ID, "mark")
		r.logger.Error("取得時刻の記録に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.metrics.RecordFetchSuccess(feed.ID)
	return nil
}
