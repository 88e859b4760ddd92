package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/digestman/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// UpsertSighting はGUIDで記事を冪等に取り込む。
//
// ON CONFLICT ... DO UPDATE は競合行をロックしてからWHERE句を評価するため、
// 異なるフィードからの同時追加でも更新は失われない。
// 同じフィードの再取得ではWHERE句が偽となり行が返らない。
// 削除済みのフィードからは取り込まない（FROM feeds の行がなければ何もしない）。
// xmax = 0 は今回のINSERTで作られた行であることを示す。
func (r *PostgresItemRepo) UpsertSighting(ctx context.Context, item *model.Item, feedID string) (UpsertResult, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO items (id, guid, feed_id, source_feed_ids, title, link, content, summary,
		                    author, categories, published_at, created_at)
		 SELECT $1::uuid, $2::text, f.id, ARRAY[$4::text], $5::text, $6::text, $7::text, $8::text,
		        $9::text, $10::text[], $11::timestamptz, $12::timestamptz
		 FROM feeds f
		 WHERE f.id = $3::uuid
		 ON CONFLICT (guid) DO UPDATE
		    SET source_feed_ids = array_append(items.source_feed_ids, $4::text)
		    WHERE NOT ($4::text = ANY(items.source_feed_ids))
		 RETURNING (xmax = 0)`,
		item.ID, item.GUID, feedID, feedID,
		item.Title, item.Link, nullString(item.Content), nullString(item.Summary),
		nullString(item.Author), pq.Array(nonNilStrings(item.Categories)),
		item.PublishedAt, item.CreatedAt,
	).Scan(&inserted)

	if err == sql.ErrNoRows {
		return UpsertUnchanged, nil
	}
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("記事の取り込みに失敗しました: %w", err)
	}
	if inserted {
		return UpsertCreated, nil
	}
	return UpsertAppended, nil
}

// ListCandidates は指定フィード群に属する記事を期間で絞り込んで返す。
func (r *PostgresItemRepo) ListCandidates(ctx context.Context, feedIDs []string, since, until time.Time) ([]model.Item, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guid, feed_id, source_feed_ids, title, link, content, summary,
		        author, categories, published_at, created_at
		 FROM items
		 WHERE (feed_id::text = ANY($1::text[]) OR source_feed_ids && $1::text[])
		   AND published_at >= $2 AND published_at <= $3
		 ORDER BY published_at DESC, id`,
		pq.Array(feedIDs), since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("候補記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var item model.Item
		var content, summary, author sql.NullString
		var sources, categories pq.StringArray

		if err := rows.Scan(
			&item.ID, &item.GUID, &item.FeedID, &sources, &item.Title, &item.Link,
			&content, &summary, &author, &categories, &item.PublishedAt, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("候補記事の読み取りに失敗しました: %w", err)
		}

		item.SourceFeedIDs = []string(sources)
		item.Categories = []string(categories)
		item.Content = nullStringValue(content)
		item.Summary = nullStringValue(summary)
		item.Author = nullStringValue(author)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("候補記事の走査に失敗しました: %w", err)
	}

	return items, nil
}

// RemoveFeed は全記事のsource_feed_idsからfeedIDを取り除き、孤立した記事を削除する。
func (r *PostgresItemRepo) RemoveFeed(ctx context.Context, feedID string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET source_feed_ids = array_remove(source_feed_ids, $1::text)
		 WHERE $1::text = ANY(source_feed_ids)`,
		feedID,
	)
	if err != nil {
		return 0, fmt.Errorf("記事の参照解除に失敗しました: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM items WHERE cardinality(source_feed_ids) = 0`,
	)
	if err != nil {
		return 0, fmt.Errorf("孤立した記事の削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, nil
}

// nonNilStrings はpq.Arrayに渡すためにnilスライスを空スライスに変換する。
// nilのままだとNULLとして書き込まれNOT NULL制約に違反する。
func nonNilStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
