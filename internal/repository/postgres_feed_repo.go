package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/digestman/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, user_id, url, site_url, title, is_active, last_refreshed_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(s rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var siteURL sql.NullString
	var lastRefreshed sql.NullTime

	if err := s.Scan(
		&feed.ID, &feed.UserID, &feed.URL, &siteURL, &feed.Title,
		&feed.IsActive, &lastRefreshed, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	feed.SiteURL = nullStringValue(siteURL)
	if lastRefreshed.Valid {
		t := lastRefreshed.Time
		feed.LastRefreshedAt = &t
	}
	return feed, nil
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByUserAndURL はユーザーIDとURLでフィードを検索する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByUserAndURL(ctx context.Context, userID, url string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE user_id = $1 AND url = $2`, userID, url,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByIDs は指定IDのフィードをまとめて取得する。
func (r *PostgresFeedRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Feed, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryFeeds(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = ANY($1::uuid[]) ORDER BY created_at, id`,
		pq.Array(ids),
	)
}

// ListByURLs は指定URLを持つ全ユーザーのフィードを返す。
func (r *PostgresFeedRepo) ListByURLs(ctx context.Context, urls []string) ([]*model.Feed, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	return r.queryFeeds(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE url = ANY($1) ORDER BY created_at, id`,
		pq.Array(urls),
	)
}

// ListByUserID はユーザーのフィード一覧を作成順で返す。
func (r *PostgresFeedRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Feed, error) {
	return r.queryFeeds(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
}

// ListActiveByUserID はユーザーの有効なフィード一覧を作成順で返す。
func (r *PostgresFeedRepo) ListActiveByUserID(ctx context.Context, userID string) ([]*model.Feed, error) {
	return r.queryFeeds(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE user_id = $1 AND is_active ORDER BY created_at, id`,
		userID,
	)
}

func (r *PostgresFeedRepo) queryFeeds(ctx context.Context, query string, args ...any) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// CountByUserID はユーザーのフィード数を返す。
func (r *PostgresFeedRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM feeds WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("フィード数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, user_id, url, site_url, title, is_active, last_refreshed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		feed.ID, feed.UserID, feed.URL, nullString(feed.SiteURL), feed.Title,
		feed.IsActive, feed.LastRefreshedAt, feed.CreatedAt, feed.UpdatedAt,
	)
	if isUniqueViolation(err) {
		// 同じユーザーが同じURLを同時に登録した
		return model.NewDuplicateFeedError()
	}
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// MarkRefreshed はポーリング成功時刻を記録する。
// 並行実行で古い時刻が後から書き込まれても巻き戻らないようにGREATESTを取る。
func (r *PostgresFeedRepo) MarkRefreshed(ctx context.Context, feedID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds
		 SET last_refreshed_at = GREATEST(COALESCE(last_refreshed_at, $2), $2), updated_at = now()
		 WHERE id = $1`,
		feedID, at,
	)
	if err != nil {
		return fmt.Errorf("取得時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// LatestRefreshByURL はURLごとの最大last_refreshed_atを返す。
func (r *PostgresFeedRepo) LatestRefreshByURL(ctx context.Context, urls []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(urls))
	if len(urls) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT url, MAX(last_refreshed_at)
		 FROM feeds
		 WHERE url = ANY($1) AND last_refreshed_at IS NOT NULL
		 GROUP BY url`,
		pq.Array(urls),
	)
	if err != nil {
		return nil, fmt.Errorf("URL別の取得時刻の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		var latest time.Time
		if err := rows.Scan(&url, &latest); err != nil {
			return nil, fmt.Errorf("URL別の取得時刻の読み取りに失敗しました: %w", err)
		}
		result[url] = latest
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("URL別の取得時刻の走査に失敗しました: %w", err)
	}
	return result, nil
}

// Delete はフィードを削除する。
func (r *PostgresFeedRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
