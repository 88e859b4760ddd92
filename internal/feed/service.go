// Package feed はフィードの登録・一覧・削除を提供する。
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/digestman/internal/identity"
	"github.com/hitoshi/digestman/internal/model"
)

const (
	minURLLength = 10
	maxURLLength = 300
)

// FeedStore はフィードの永続化インターフェース。
type FeedStore interface {
	FindByID(ctx context.Context, id string) (*model.Feed, error)
	FindByUserAndURL(ctx context.Context, userID, url string) (*model.Feed, error)
	ListByUserID(ctx context.Context, userID string) ([]*model.Feed, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, feed *model.Feed) error
	Delete(ctx context.Context, id string) error
}

// ItemRemover はフィード削除時に記事の参照を解除する。
type ItemRemover interface {
	RemoveFeed(ctx context.Context, feedID string) (int64, error)
}

// FeedDetector は入力URLから登録すべきフィードを見つける。
type FeedDetector interface {
	Detect(ctx context.Context, inputURL string) (*Detection, error)
}

// FeedPolicy はプランのフィード登録上限を判定する。
type FeedPolicy interface {
	CanAddFeed(user *model.User, current int) (bool, int)
}

// Poller は登録直後のフィードを1回取得する。
type Poller interface {
	Poll(ctx context.Context, feed *model.Feed) error
}

// RegisterResult はフィード登録の結果。
// 初回取得に失敗してもフィードは登録済みで、次回の配信時に再取得される。
type RegisterResult struct {
	Feed               *model.Feed
	InitialFetchFailed bool
}

// Service はフィード管理のサービス層。
type Service struct {
	feeds    FeedStore
	items    ItemRemover
	users    identity.Provider
	policy   FeedPolicy
	detector FeedDetector
	poller   Poller
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	feeds FeedStore,
	items ItemRemover,
	users identity.Provider,
	policy FeedPolicy,
	detector FeedDetector,
	poller Poller,
	logger *slog.Logger,
) *Service {
	return &Service{
		feeds:    feeds,
		items:    items,
		users:    users,
		policy:   policy,
		detector: detector,
		poller:   poller,
		logger:   logger,
	}
}

// ValidateFeedURL は登録URLの長さとスキームを検証する。
func ValidateFeedURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if n := len([]rune(raw)); n < minURLLength || n > maxURLLength {
		return "", model.NewInvalidURLError(fmt.Sprintf("URLは%d〜%d文字で入力してください", minURLLength, maxURLLength))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", model.NewInvalidURLError("URLの形式が正しくありません")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", model.NewInvalidURLError("http または https のURLを入力してください")
	}
	if u.Host == "" {
		return "", model.NewInvalidURLError("ホスト名がありません")
	}
	return raw, nil
}

// Register はURLからフィードを検出して登録し、初回取得を行う。
// フロー: URL検証 → プラン上限 → フィード検出 → 重複チェック → 保存 → 初回取得
func (s *Service) Register(ctx context.Context, userID, rawURL string) (*RegisterResult, error) {
	inputURL, err := ValidateFeedURL(rawURL)
	if err != nil {
		return nil, err
	}

	user, err := s.users.LookupUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	count, err := s.feeds.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フィード数の確認に失敗しました: %w", err)
	}
	if ok, limit := s.policy.CanAddFeed(user, count); !ok {
		return nil, model.NewFeedLimitError(user.Plan, limit)
	}

	detected, err := s.detector.Detect(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.feeds.FindByUserAndURL(ctx, userID, detected.URL)
	if err != nil {
		return nil, fmt.Errorf("フィードの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateFeedError()
	}

	now := time.Now()
	title := detected.Title
	if title == "" {
		title = detected.URL
	}
	feed := &model.Feed{
		ID:        uuid.New().String(),
		UserID:    userID,
		URL:       detected.URL,
		SiteURL:   siteURLOf(inputURL),
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.feeds.Create(ctx, feed); err != nil {
		// 同時登録で一意制約に負けた場合は重複エラーがそのまま返る
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}

	result := &RegisterResult{Feed: feed}
	if err := s.poller.Poll(ctx, feed); err != nil {
		s.logger.Warn("フィードは登録されましたが初回取得に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.URL),
			slog.String("error", err.Error()),
		)
		result.InitialFetchFailed = true
	}

	s.logger.Info("フィードを登録しました",
		slog.String("user_id", userID),
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feed.URL),
	)
	return result, nil
}

// List はユーザーのフィード一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Feed, error) {
	feeds, err := s.feeds.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	if feeds == nil {
		feeds = []*model.Feed{}
	}
	return feeds, nil
}

// Delete はフィードを削除する。全記事から参照を外し、参照元がなくなった記事も削除する。
// 他のユーザーのフィードは存在しないものとして扱う。
// フィードを先に消すことで、並行する取り込みが削除済みフィードの参照を戻せないようにする。
func (s *Service) Delete(ctx context.Context, userID, feedID string) error {
	feed, err := s.feeds.FindByID(ctx, feedID)
	if err != nil {
		return fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil || feed.UserID != userID {
		return model.NewFeedNotFoundError(feedID)
	}

	if err := s.feeds.Delete(ctx, feedID); err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}

	// フィードは削除済みのため失敗しても成功として返す。残った参照は保持期間の経過で記事ごと消える。
	removed, err := s.items.RemoveFeed(ctx, feedID)
	if err != nil {
		s.logger.Error("記事の参照解除に失敗しました",
			slog.String("user_id", userID),
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("フィードを削除しました",
		slog.String("user_id", userID),
		slog.String("feed_id", feedID),
		slog.Int64("orphan_items_deleted", removed),
	)
	return nil
}

// siteURLOf は入力URLからスキームとホストだけを残したサイトURLを返す。
func siteURLOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
