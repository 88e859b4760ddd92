// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/digestman/internal/model"
)

// UserRepository はユーザー射影の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Upsert は外部IdPから同期されたユーザーを作成または更新する。
	Upsert(ctx context.Context, user *model.User) error

	// UpdatePreferences はダイジェスト設定を更新する。
	UpdatePreferences(ctx context.Context, userID string, prefs model.DigestPreferences) error

	// DeleteByID は指定IDのユーザーを削除する。
	// feeds、user_schedules、digest_logsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// FindByUserAndURL はユーザーIDとURLでフィードを検索する。見つからない場合はnilを返す。
	FindByUserAndURL(ctx context.Context, userID, url string) (*model.Feed, error)

	// FindByIDs は指定IDのフィードをまとめて取得する。存在しないIDは無視する。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Feed, error)

	// ListByURLs は指定URLを持つ全ユーザーのフィードを返す。
	ListByURLs(ctx context.Context, urls []string) ([]*model.Feed, error)

	// ListByUserID はユーザーのフィード一覧を作成順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Feed, error)

	// ListActiveByUserID はユーザーの有効なフィード一覧を作成順で返す。
	ListActiveByUserID(ctx context.Context, userID string) ([]*model.Feed, error)

	// CountByUserID はユーザーのフィード数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.Feed) error

	// MarkRefreshed はポーリング成功時刻を記録する。
	MarkRefreshed(ctx context.Context, feedID string, at time.Time) error

	// LatestRefreshByURL はURLごとに、そのURLを持つ全フィードの最大last_refreshed_atを返す。
	// 一度も取得されていないURLは結果に含まれない。
	LatestRefreshByURL(ctx context.Context, urls []string) (map[string]time.Time, error)

	// Delete はフィードを削除する。記事の参照解除はItemRepository.RemoveFeedで行う。
	Delete(ctx context.Context, id string) error
}

// UpsertResult は記事の取り込み結果を表す。
type UpsertResult int

const (
	// UpsertCreated は新規記事として作成されたことを示す。
	UpsertCreated UpsertResult = iota
	// UpsertAppended は既存記事のsource_feed_idsにフィードが追加されたことを示す。
	UpsertAppended
	// UpsertUnchanged は同じフィードからの再取得で変更がなかったことを示す。
	UpsertUnchanged
)

// ItemRepository は記事データの永続化インターフェース。
type ItemRepository interface {
	// UpsertSighting はGUIDで記事を冪等に取り込む。
	// 未登録なら作成し、登録済みならsource_feed_idsへfeedIDを原子的に集合追加する。
	// 既存記事のメタデータは上書きしない。
	UpsertSighting(ctx context.Context, item *model.Item, feedID string) (UpsertResult, error)

	// ListCandidates はfeed_idがfeedIDsに含まれるか、source_feed_idsがfeedIDsと重なる記事を
	// [since, until] の範囲でpublished_at降順に返す。
	ListCandidates(ctx context.Context, feedIDs []string, since, until time.Time) ([]model.Item, error)

	// RemoveFeed は全記事のsource_feed_idsからfeedIDを取り除き、
	// 参照元がなくなった記事を削除する。削除した記事数を返す。
	RemoveFeed(ctx context.Context, feedID string) (int64, error)
}

// ScheduleRepository は配信スケジュールの永続化インターフェース。
type ScheduleRepository interface {
	// FindByUserID はユーザーのスケジュールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.UserSchedule, error)

	// ListBySendTime は配信時刻が一致するスケジュールをユーザーID順で返す。
	ListBySendTime(ctx context.Context, sendTime string) ([]*model.UserSchedule, error)

	// Upsert はスケジュールを作成または更新する。
	Upsert(ctx context.Context, schedule *model.UserSchedule) error

	// DeleteByUserID はユーザーのスケジュールを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// RunRepository はディスパッチ実行の監査記録の永続化インターフェース。
type RunRepository interface {
	// Save は実行記録を保存する。
	Save(ctx context.Context, run *model.DispatchRun) error

	// ListRecent は直近の実行記録を新しい順に返す。
	ListRecent(ctx context.Context, limit int) ([]*model.DispatchRun, error)
}

// DigestLogRepository はダイジェスト配信ログの永続化インターフェース。
type DigestLogRepository interface {
	// Exists は指定スロットへの配信記録があるかを返す。
	Exists(ctx context.Context, userID string, slot time.Time) (bool, error)

	// Create は配信記録を保存する。同一スロットが記録済みの場合はfalseを返す。
	Create(ctx context.Context, log *model.DigestLog) (bool, error)

	// CountSince は指定時刻以降の配信件数を返す。
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
