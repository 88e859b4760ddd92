package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/digestman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var senderEmail sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, plan, digest_name, description, tone, language, footer,
		        sender_email, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(
		&user.ID, &user.Email, &user.Name, &user.Plan,
		&user.Preferences.DigestName, &user.Preferences.Description,
		&user.Preferences.Tone, &user.Preferences.Language, &user.Preferences.Footer,
		&senderEmail, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.Preferences.SenderEmail = nullStringValue(senderEmail)
	return user, nil
}

// Upsert は外部IdPから同期されたユーザーを作成または更新する。
// 配信設定は UpdatePreferences でのみ変更するため、ここでは作成時のみ書き込む。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) error {
	plan := user.Plan
	if plan == "" {
		plan = model.PlanFree
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, plan, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		    SET email = EXCLUDED.email, name = EXCLUDED.name, plan = EXCLUDED.plan, updated_at = EXCLUDED.updated_at`,
		user.ID, user.Email, user.Name, plan, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpdatePreferences はダイジェスト設定を更新する。
func (r *PostgresUserRepo) UpdatePreferences(ctx context.Context, userID string, prefs model.DigestPreferences) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET digest_name = $2, description = $3, tone = $4, language = $5,
		                  footer = $6, sender_email = $7, updated_at = now()
		 WHERE id = $1`,
		userID, prefs.DigestName, prefs.Description, prefs.Tone, prefs.Language,
		prefs.Footer, nullString(prefs.SenderEmail),
	)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// feeds、user_schedules、digest_logsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
