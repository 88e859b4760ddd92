package freshness

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/digestman/internal/model"
)

// mockFeedStore はFeedStoreのテスト用モック。
// latestはURLごとの最新取得時刻をフィード一覧から集計する。
type mockFeedStore struct {
	feeds     []*model.Feed
	findErr   error
	latestErr error
}

func (m *mockFeedStore) FindByIDs(_ context.Context, ids []string) ([]*model.Feed, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var result []*model.Feed
	for _, f := range m.feeds {
		for _, id := range ids {
			if f.ID == id {
				result = append(result, f)
			}
		}
	}
	return result, nil
}

func (m *mockFeedStore) LatestRefreshByURL(_ context.Context, urls []string) (map[string]time.Time, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	latest := map[string]time.Time{}
	for _, f := range m.feeds {
		if f.LastRefreshedAt == nil {
			continue
		}
		for _, u := range urls {
			if f.URL == u && f.LastRefreshedAt.After(latest[u]) {
				latest[u] = *f.LastRefreshedAt
			}
		}
	}
	return latest, nil
}

func feedAt(id, url string, refreshed *time.Time) *model.Feed {
	return &model.Feed{ID: id, URL: url, LastRefreshedAt: refreshed}
}

func ago(now time.Time, d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

// 1時間前に取得したフィードはTTL 3時間では新鮮と判定される
func TestStaleFeedIDs_RefreshedOneHourAgoIsFresh(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	store := &mockFeedStore{feeds: []*model.Feed{
		feedAt("f1", "https://a.example.com/feed", ago(now, time.Hour)),
	}}
	cache := NewCache(store, 3*time.Hour)

	stale, err := cache.StaleFeedIDs(context.Background(), []string{"f1"}, now)
	if err != nil {
		t.Fatalf("StaleFeedIDs() error = %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale = %v, want empty", stale)
	}
}

// TTL境界: T+(TTL-ε)では新鮮、T+TTL+εでは要再取得
func TestStaleFeedIDs_TTLBoundary(t *testing.T) {
	refreshed := time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC)
	store := &mockFeedStore{feeds: []*model.Feed{
		feedAt("f1", "https://a.example.com/feed", &refreshed),
	}}
	cache := NewCache(store, 3*time.Hour)
	ctx := context.Background()

	tests := []struct {
		name      string
		now       time.Time
		wantStale bool
	}{
		{"TTL直前", refreshed.Add(3*time.Hour - time.Second), false},
		{"TTL丁度", refreshed.Add(3 * time.Hour), true},
		{"TTL経過後", refreshed.Add(3*time.Hour + time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale, err := cache.StaleFeedIDs(ctx, []string{"f1"}, tt.now)
			if err != nil {
				t.Fatalf("StaleFeedIDs() error = %v", err)
			}
			if got := len(stale) == 1; got != tt.wantStale {
				t.Errorf("stale = %v, wantStale %v", stale, tt.wantStale)
			}
		})
	}
}

// 同じURLを他ユーザーのフィードが最近取得していれば新鮮とみなす
func TestStaleFeedIDs_SharedURLUsesLatestAcrossFeeds(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	store := &mockFeedStore{feeds: []*model.Feed{
		feedAt("mine", "https://shared.example.com/feed", ago(now, 10*time.Hour)),
		feedAt("theirs", "https://shared.example.com/feed", ago(now, 30*time.Minute)),
	}}
	cache := NewCache(store, 3*time.Hour)

	stale, err := cache.StaleFeedIDs(context.Background(), []string{"mine"}, now)
	if err != nil {
		t.Fatalf("StaleFeedIDs() error = %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale = %v, want empty", stale)
	}
}

// 未取得のフィードは要再取得、結果は入力順で重複しない
func TestStaleFeedIDs_NeverRefreshedAndOrder(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	store := &mockFeedStore{feeds: []*model.Feed{
		feedAt("a", "https://a.example.com/feed", nil),
		feedAt("b", "https://b.example.com/feed", ago(now, 5*time.Hour)),
		feedAt("c", "https://c.example.com/feed", ago(now, time.Minute)),
	}}
	cache := NewCache(store, 3*time.Hour)

	stale, err := cache.StaleFeedIDs(context.Background(), []string{"b", "c", "a", "b", "missing"}, now)
	if err != nil {
		t.Fatalf("StaleFeedIDs() error = %v", err)
	}
	if want := []string{"b", "a"}; !reflect.DeepEqual(stale, want) {
		t.Errorf("stale = %v, want %v", stale, want)
	}
}

func TestStaleFeedIDs_Empty(t *testing.T) {
	cache := NewCache(&mockFeedStore{}, 0)
	stale, err := cache.StaleFeedIDs(context.Background(), nil, time.Now())
	if err != nil || stale != nil {
		t.Errorf("StaleFeedIDs(nil) = %v, %v; want nil, nil", stale, err)
	}
	if cache.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", cache.TTL(), DefaultTTL)
	}
}

func TestStaleFeedIDs_AllFresh(t *testing.T) {
	now := time.Now()
	cache := NewCache(&mockFeedStore{
		feeds: []*model.Feed{feedAt("a", "https://a.example.com/feed", ago(now, time.Minute))},
	}, time.Hour)

	stale, err := cache.StaleFeedIDs(context.Background(), []string{"a"}, now)
	if err != nil || stale != nil {
		t.Errorf("StaleFeedIDs() = %v, %v; want nil, nil", stale, err)
	}
}

func TestStaleFeedIDs_StoreError(t *testing.T) {
	now := time.Now()
	storeErr := errors.New("connection refused")

	cache := NewCache(&mockFeedStore{findErr: storeErr}, time.Hour)
	if _, err := cache.StaleFeedIDs(context.Background(), []string{"a"}, now); !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped %v", err, storeErr)
	}

	cache = NewCache(&mockFeedStore{
		feeds:     []*model.Feed{feedAt("a", "https://a.example.com/feed", nil)},
		latestErr: storeErr,
	}, time.Hour)
	if _, err := cache.StaleFeedIDs(context.Background(), []string{"a"}, now); !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped %v", err, storeErr)
	}
}
