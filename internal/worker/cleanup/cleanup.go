// Package cleanup は保持期間を超過したデータの自動削除ジョブを提供する。
// 記事はITEM_RETENTION_DAYS、配信ログと実行記録はLOG_RETENTION_DAYSで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// target は削除対象のテーブルと基準カラム。
type target struct {
	name         string
	query        string
	logRetention bool // trueなら配信ログ系の保持日数を使う
}

var targets = []target{
	{name: "items", query: `DELETE FROM items WHERE published_at < now() - $1::interval`, logRetention: false},
	{name: "digest_logs", query: `DELETE FROM digest_logs WHERE sent_at < now() - $1::interval`, logRetention: true},
	{name: "dispatch_runs", query: `DELETE FROM dispatch_runs WHERE triggered_at < now() - $1::interval`, logRetention: true},
}

// CleanupJob は保持期間を超過したデータの自動削除ジョブ。
// 冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db                Executor
	logger            *slog.Logger
	ItemRetentionDays int // 記事の保持日数（デフォルト: 30）
	LogRetentionDays  int // 配信ログ・実行記録の保持日数（デフォルト: 14）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                db,
		logger:            logger,
		ItemRetentionDays: 30,
		LogRetentionDays:  14,
	}
}

// Run は各テーブルから保持期間を超過した行を削除し、テーブルごとの削除件数を返す。
// 途中で失敗した場合はそれまでの件数とエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	deleted := make(map[string]int64, len(targets))

	for _, t := range targets {
		days := j.ItemRetentionDays
		if t.logRetention {
			days = j.LogRetentionDays
		}
		if days <= 0 {
			continue
		}

		result, err := j.db.ExecContext(ctx, t.query, fmt.Sprintf("%d days", days))
		if err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
				slog.Int("retention_days", days),
			)
			return deleted, fmt.Errorf("%sのクリーンアップに失敗: %w", t.name, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		deleted[t.name] = n
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("items_deleted", deleted["items"]),
		slog.Int64("digest_logs_deleted", deleted["digest_logs"]),
		slog.Int64("dispatch_runs_deleted", deleted["dispatch_runs"]),
		slog.Int("item_retention_days", j.ItemRetentionDays),
		slog.Int("log_retention_days", j.LogRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}
