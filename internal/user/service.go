// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/digestman/internal/model"
	"github.com/hitoshi/digestman/internal/repository"
)

// FeedLister はユーザーのフィード一覧を取得するインターフェース。
type FeedLister interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.Feed, error)
}

// ItemRemover は記事からフィードの参照を外すインターフェース。
type ItemRemover interface {
	RemoveFeed(ctx context.Context, feedID string) (int64, error)
}

// Service はユーザー管理のサービス層。
// 退会処理とダイジェスト設定のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	feeds    FeedLister
	items    ItemRemover
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	feeds FeedLister,
	items ItemRemover,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo: userRepo,
		feeds:    feeds,
		items:    items,
		validate: newPreferencesValidator(),
		logger:   logger,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: user（+ CASCADE: feeds, user_schedules, digest_logs） → 各フィードの記事参照
// フィードが先に消えるため、並行する取り込みが参照を戻すことはない。
// 他のユーザーも参照している記事は残す。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	s.logger.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	feeds, err := s.feeds.ListByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	// ユーザーは削除済みのため、参照解除の失敗は記録して続ける。残った参照は保持期間の経過で消える
	var orphans int64
	for _, feed := range feeds {
		n, err := s.items.RemoveFeed(ctx, feed.ID)
		if err != nil {
			s.logger.Error("記事の参照解除に失敗しました",
				slog.String("user_id", userID),
				slog.String("feed_id", feed.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		orphans += n
	}

	s.logger.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("feeds_deleted", len(feeds)),
		slog.Int64("orphan_items_deleted", orphans),
	)

	return nil
}
