// Package freshness はフィードURL単位の鮮度判定を提供する。
package freshness

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/digestman/internal/model"
)

// DefaultTTL は鮮度判定のデフォルト有効期間。
const DefaultTTL = 3 * time.Hour

// FeedStore は鮮度判定に必要なフィード参照のインターフェース。
type FeedStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]*model.Feed, error)
	LatestRefreshByURL(ctx context.Context, urls []string) (map[string]time.Time, error)
}

// Cache はフィードの鮮度を判定する。
// 鮮度は同じURLを持つ全フィードの最新取得時刻で判定するため、
// 他ユーザーが直前に取得したURLは再取得しない。
type Cache struct {
	store FeedStore
	ttl   time.Duration
}

// NewCache はCacheを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewCache(store FeedStore, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl}
}

// TTL は鮮度の有効期間を返す。
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// IsFresh は最終取得時刻がnowからTTL未満であればtrueを返す。
func IsFresh(lastRefreshed, now time.Time, ttl time.Duration) bool {
	return now.Sub(lastRefreshed) < ttl
}

// StaleFeeds は再取得が必要なフィードを入力順・重複なしで返す。
// 一度も取得されていないURLは常に要再取得とする。存在しないIDは無視する。
func (c *Cache) StaleFeeds(ctx context.Context, feedIDs []string, now time.Time) ([]*model.Feed, error) {
	ids := lo.Uniq(feedIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	feeds, err := c.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	byID := lo.KeyBy(feeds, func(f *model.Feed) string { return f.ID })

	urls := lo.Uniq(lo.Map(feeds, func(f *model.Feed, _ int) string { return f.URL }))
	latest, err := c.store.LatestRefreshByURL(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("URL別の取得時刻の集計に失敗: %w", err)
	}

	var stale []*model.Feed
	for _, id := range ids {
		feed, ok := byID[id]
		if !ok {
			continue
		}
		last, ok := latest[feed.URL]
		if ok && IsFresh(last, now, c.ttl) {
			continue
		}
		stale = append(stale, feed)
	}
	return stale, nil
}

// StaleFeedIDs は再取得が必要なフィードIDを入力順・重複なしで返す。
func (c *Cache) StaleFeedIDs(ctx context.Context, feedIDs []string, now time.Time) ([]string, error) {
	stale, err := c.StaleFeeds(ctx, feedIDs, now)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}
	return lo.Map(stale, func(f *model.Feed, _ int) string { return f.ID }), nil
}
