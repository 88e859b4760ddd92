package item

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/hitoshi/digestman/internal/model"
)

// mockCandidateStore はListCandidatesの呼び出しを記録して固定の結果を返す。
type mockCandidateStore struct {
	items     []model.Item
	err       error
	calledIDs []string
}

func (m *mockCandidateStore) ListCandidates(_ context.Context, feedIDs []string, _, _ time.Time) ([]model.Item, error) {
	m.calledIDs = feedIDs
	return m.items, m.err
}

// mockSiblingStore はフィード一覧からIDとURLで検索する。
type mockSiblingStore struct {
	feeds []*model.Feed
	err   error
}

func (m *mockSiblingStore) FindByIDs(_ context.Context, ids []string) ([]*model.Feed, error) {
	if m.err != nil {
		return nil, m.err
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

func (m *mockSiblingStore) ListByURLs(_ context.Context, urls []string) ([]*model.Feed, error) {
	var result []*model.Feed
	for _, f := range m.feeds {
		for _, u := range urls {
			if f.URL == u {
				result = append(result, f)
			}
		}
	}
	return result, nil
}

func TestLookbackWindow(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	w := LookbackWindow(now, 24*time.Hour)
	if !w.End.Equal(now) || !w.Start.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("window = %+v", w)
	}
}

// GUIDが重複する候補は最初の1件だけ残り、順序は保たれる
func TestSelect_DedupesByGUID(t *testing.T) {
	items := &mockCandidateStore{items: []model.Item{
		{ID: "1", GUID: "a", FeedID: "f1"},
		{ID: "2", GUID: "b", FeedID: "f2"},
		{ID: "3", GUID: "a", FeedID: "f2"},
	}}
	feeds := &mockSiblingStore{feeds: []*model.Feed{
		{ID: "f1", URL: "https://one.example.com/feed"},
		{ID: "f2", URL: "https://two.example.com/feed"},
	}}

	got, err := NewSelector(items, feeds).Select(context.Background(), []string{"f1", "f2"}, Window{})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	var ids []string
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	if want := []string{"1", "2"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

// 同じURLを持つ他ユーザーのフィードも検索し、自分のフィードに付け替える
func TestSelect_IncludesSiblingFeedsSharingURL(t *testing.T) {
	items := &mockCandidateStore{items: []model.Item{
		{ID: "1", GUID: "a", FeedID: "other-user-feed", SourceFeedIDs: []string{"other-user-feed"}},
	}}
	feeds := &mockSiblingStore{feeds: []*model.Feed{
		{ID: "mine", URL: "https://shared.example.com/feed"},
		{ID: "other-user-feed", URL: "https://shared.example.com/feed"},
		{ID: "unrelated", URL: "https://unrelated.example.com/feed"},
	}}

	got, err := NewSelector(items, feeds).Select(context.Background(), []string{"mine"}, Window{})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	queried := append([]string{}, items.calledIDs...)
	sort.Strings(queried)
	if want := []string{"mine", "other-user-feed"}; !reflect.DeepEqual(queried, want) {
		t.Errorf("queried ids = %v, want %v", queried, want)
	}
	if len(got) != 1 || got[0].FeedID != "mine" {
		t.Errorf("got = %+v, want one item attributed to 'mine'", got)
	}
	// 配信元数は付け替えの影響を受けない
	if got[0].SourceCount() != 1 {
		t.Errorf("SourceCount() = %d, want 1", got[0].SourceCount())
	}
}

func TestSelect_EmptyInputs(t *testing.T) {
	s := NewSelector(&mockCandidateStore{}, &mockSiblingStore{})

	got, err := s.Select(context.Background(), nil, Window{})
	if err != nil || got != nil {
		t.Errorf("Select(nil) = %v, %v; want nil, nil", got, err)
	}

	got, err = s.Select(context.Background(), []string{"f1"}, Window{})
	if err != nil || len(got) != 0 {
		t.Errorf("Select() with no candidates = %v, %v; want empty", got, err)
	}
}

func TestSelect_StoreErrors(t *testing.T) {
	storeErr := errors.New("db down")

	s := NewSelector(&mockCandidateStore{}, &mockSiblingStore{err: storeErr})
	if _, err := s.Select(context.Background(), []string{"f1"}, Window{}); !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped %v", err, storeErr)
	}

	s = NewSelector(&mockCandidateStore{err: storeErr}, &mockSiblingStore{})
	if _, err := s.Select(context.Background(), []string{"f1"}, Window{}); !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped %v", err, storeErr)
	}
}
