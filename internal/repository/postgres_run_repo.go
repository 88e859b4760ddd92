package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/digestman/internal/model"
)

// PostgresRunRepo はPostgreSQLを使用したディスパッチ実行記録リポジトリ。
type PostgresRunRepo struct {
	db *sql.DB
}

// NewPostgresRunRepo はPostgresRunRepoを生成する。
func NewPostgresRunRepo(db *sql.DB) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

// Save は実行記録を保存する。結果一覧はJSONBとして1行にまとめて保存する。
func (r *PostgresRunRepo) Save(ctx context.Context, run *model.DispatchRun) error {
	outcomes := run.Outcomes
	if outcomes == nil {
		outcomes = []model.Outcome{}
	}
	payload, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("実行結果のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO dispatch_runs (id, triggered_at, finished_at, canonical_time, canonical_day,
		                            manual, duplicate, total_count, sent_count, skipped_count,
		                            error_count, outcomes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.TriggeredAt, run.FinishedAt, run.CanonicalTime, string(run.CanonicalDay),
		run.Manual, run.Duplicate, run.Counts.Total, run.Counts.Sent, run.Counts.Skipped,
		run.Counts.Error, payload,
	)
	if err != nil {
		return fmt.Errorf("実行記録の保存に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は直近の実行記録を新しい順に返す。
func (r *PostgresRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.DispatchRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, triggered_at, finished_at, canonical_time, canonical_day, manual, duplicate,
		        total_count, sent_count, skipped_count, error_count, outcomes
		 FROM dispatch_runs
		 ORDER BY triggered_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行記録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var runs []*model.DispatchRun
	for rows.Next() {
		run := &model.DispatchRun{}
		var day string
		var payload []byte
		if err := rows.Scan(
			&run.ID, &run.TriggeredAt, &run.FinishedAt, &run.CanonicalTime, &day,
			&run.Manual, &run.Duplicate,
			&run.Counts.Total, &run.Counts.Sent, &run.Counts.Skipped, &run.Counts.Error,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("実行記録の読み取りに失敗しました: %w", err)
		}
		run.CanonicalDay = model.Weekday(day)
		if err := json.Unmarshal(payload, &run.Outcomes); err != nil {
			return nil, fmt.Errorf("実行結果のデコードに失敗しました: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行記録の走査に失敗しました: %w", err)
	}
	return runs, nil
}

// compile-time interface check
var _ RunRepository = (*PostgresRunRepo)(nil)
