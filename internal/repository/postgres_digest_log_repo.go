package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/digestman/internal/model"
)

// PostgresDigestLogRepo はPostgreSQLを使用した配信ログリポジトリ。
type PostgresDigestLogRepo struct {
	db *sql.DB
}

// NewPostgresDigestLogRepo はPostgresDigestLogRepoを生成する。
func NewPostgresDigestLogRepo(db *sql.DB) *PostgresDigestLogRepo {
	return &PostgresDigestLogRepo{db: db}
}

// Exists は指定スロットへの配信記録があるかを返す。
func (r *PostgresDigestLogRepo) Exists(ctx context.Context, userID string, slot time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM digest_logs WHERE user_id = $1 AND slot = $2)`,
		userID, slot,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("配信ログの確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create は配信記録を保存する。同一スロットが記録済みの場合はfalseを返す。
func (r *PostgresDigestLogRepo) Create(ctx context.Context, log *model.DigestLog) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO digest_logs (id, user_id, slot, recipient_email, subject, item_count, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, slot) DO NOTHING`,
		log.ID, log.UserID, log.Slot, log.RecipientEmail, log.Subject, log.ItemCount, log.SentAt,
	)
	if err != nil {
		return false, fmt.Errorf("配信ログの保存に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CountSince は指定時刻以降の配信件数を返す。
func (r *PostgresDigestLogRepo) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM digest_logs WHERE user_id = $1 AND sent_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("配信件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ DigestLogRepository = (*PostgresDigestLogRepo)(nil)
