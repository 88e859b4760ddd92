package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/digestman/internal/model"
)

// PostgresScheduleRepo はPostgreSQLを使用した配信スケジュールリポジトリ。
type PostgresScheduleRepo struct {
	db *sql.DB
}

// NewPostgresScheduleRepo はPostgresScheduleRepoを生成する。
func NewPostgresScheduleRepo(db *sql.DB) *PostgresScheduleRepo {
	return &PostgresScheduleRepo{db: db}
}

func scanSchedule(s rowScanner) (*model.UserSchedule, error) {
	schedule := &model.UserSchedule{}
	var days pq.StringArray
	if err := s.Scan(&schedule.UserID, &schedule.SendTime, &days, &schedule.UpdatedAt); err != nil {
		return nil, err
	}
	schedule.Days = make([]model.Weekday, 0, len(days))
	for _, d := range days {
		schedule.Days = append(schedule.Days, model.Weekday(d))
	}
	return schedule, nil
}

// FindByUserID はユーザーのスケジュールを取得する。見つからない場合はnilを返す。
func (r *PostgresScheduleRepo) FindByUserID(ctx context.Context, userID string) (*model.UserSchedule, error) {
	schedule, err := scanSchedule(r.db.QueryRowContext(ctx,
		`SELECT user_id, send_time, days, updated_at FROM user_schedules WHERE user_id = $1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("配信スケジュールの取得に失敗しました: %w", err)
	}
	return schedule, nil
}

// ListBySendTime は配信時刻が一致するスケジュールをユーザーID順で返す。
func (r *PostgresScheduleRepo) ListBySendTime(ctx context.Context, sendTime string) ([]*model.UserSchedule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, send_time, days, updated_at
		 FROM user_schedules WHERE send_time = $1 ORDER BY user_id`,
		sendTime,
	)
	if err != nil {
		return nil, fmt.Errorf("配信対象スケジュールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var schedules []*model.UserSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("配信スケジュールの読み取りに失敗しました: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配信スケジュールの走査に失敗しました: %w", err)
	}
	return schedules, nil
}

// Upsert はスケジュールを作成または更新する。
func (r *PostgresScheduleRepo) Upsert(ctx context.Context, schedule *model.UserSchedule) error {
	days := make([]string, 0, len(schedule.Days))
	for _, d := range schedule.Days {
		days = append(days, string(d))
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_schedules (user_id, send_time, days, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		    SET send_time = EXCLUDED.send_time, days = EXCLUDED.days, updated_at = EXCLUDED.updated_at`,
		schedule.UserID, schedule.SendTime, pq.Array(days), schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("配信スケジュールの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーのスケジュールを削除する。
func (r *PostgresScheduleRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_schedules WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("配信スケジュールの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ScheduleRepository = (*PostgresScheduleRepo)(nil)
