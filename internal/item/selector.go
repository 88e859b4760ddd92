package item

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/digestman/internal/model"
)

// Window は配信候補を選ぶ公開日時の範囲 [Start, End]。
type Window struct {
	Start time.Time
	End   time.Time
}

// LookbackWindow はnowを終端とする直近dの範囲を返す。
func LookbackWindow(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

// CandidateStore は配信候補の記事を検索するストアのインターフェース。
type CandidateStore interface {
	ListCandidates(ctx context.Context, feedIDs []string, since, until time.Time) ([]model.Item, error)
}

// SiblingStore は同じURLを持つフィードを解決するストアのインターフェース。
type SiblingStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]*model.Feed, error)
	ListByURLs(ctx context.Context, urls []string) ([]*model.Feed, error)
}

// Selector はユーザーのフィード群から配信候補の記事を選ぶ。
type Selector struct {
	items CandidateStore
	feeds SiblingStore
}

// NewSelector はSelectorの新しいインスタンスを生成する。
func NewSelector(items CandidateStore, feeds SiblingStore) *Selector {
	return &Selector{items: items, feeds: feeds}
}

// Select は期間内の配信候補をpublished_at降順で返す。
//
// 鮮度はURL単位で判定するため、同じURLを他ユーザーのフィードが取得した記事は
// そのフィードのIDで保存されている。そこで同じURLの兄弟フィードも検索対象に含め、
// 兄弟フィード由来の記事はユーザー自身のフィードに付け替える。
// 同じGUIDは一度だけ返す。候補がなければ空を返す。
func (s *Selector) Select(ctx context.Context, feedIDs []string, w Window) ([]model.Item, error) {
	feedIDs = lo.Uniq(feedIDs)
	if len(feedIDs) == 0 {
		return nil, nil
	}

	own, err := s.feeds.FindByIDs(ctx, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	siblings, err := s.feeds.ListByURLs(ctx, lo.Uniq(lo.Map(own, func(f *model.Feed, _ int) string { return f.URL })))
	if err != nil {
		return nil, fmt.Errorf("同一URLのフィードの取得に失敗: %w", err)
	}

	// URLごとのユーザー自身のフィード（入力順で最初のもの）
	ownByURL := make(map[string]string, len(own))
	ownByID := lo.KeyBy(own, func(f *model.Feed) string { return f.ID })
	for _, id := range feedIDs {
		if f, ok := ownByID[id]; ok {
			if _, exists := ownByURL[f.URL]; !exists {
				ownByURL[f.URL] = id
			}
		}
	}
	// 兄弟フィードID -> ユーザー自身のフィードID
	alias := make(map[string]string, len(siblings))
	for _, f := range siblings {
		if ownID, ok := ownByURL[f.URL]; ok && f.ID != ownID {
			alias[f.ID] = ownID
		}
	}

	queryIDs := lo.Uniq(append(append([]string{}, feedIDs...), lo.Keys(alias)...))
	candidates, err := s.items.ListCandidates(ctx, queryIDs, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("候補記事の取得に失敗: %w", err)
	}

	selected := lo.UniqBy(candidates, func(it model.Item) string { return it.GUID })
	for i := range selected {
		if ownID, ok := alias[selected[i].FeedID]; ok {
			selected[i].FeedID = ownID
		}
	}
	return selected, nil
}
