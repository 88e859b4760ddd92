package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []interface{}
}

// mockExecutor はクエリごとに削除件数を返すExecutorモック。
type mockExecutor struct {
	calls    []execCall
	affected map[string]int64 // テーブル名 → 削除件数
	failOn   string
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.calls = append(m.calls, execCall{query: query, args: args})
	for table, n := range m.affected {
		if strings.Contains(query, "FROM "+table+" ") {
			if table == m.failOn {
				return nil, sql.ErrConnDone
			}
			return &fakeResult{rowsAffected: n}, nil
		}
	}
	if m.failOn != "" && strings.Contains(query, "FROM "+m.failOn+" ") {
		return nil, sql.ErrConnDone
	}
	return &fakeResult{}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf))

	if job.ItemRetentionDays != 30 {
		t.Errorf("ItemRetentionDays = %d, want 30", job.ItemRetentionDays)
	}
	if job.LogRetentionDays != 14 {
		t.Errorf("LogRetentionDays = %d, want 14", job.LogRetentionDays)
	}
}

func TestCleanupJob_Run_DeletesEachTable(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{affected: map[string]int64{"items": 5, "digest_logs": 3, "dispatch_runs": 2}}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.ItemRetentionDays = 45
	job.LogRetentionDays = 7

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.calls) != 3 {
		t.Fatalf("ExecContext 呼び出し回数 = %d, want 3", len(mock.calls))
	}

	wantArgs := map[string]string{"items": "45 days", "digest_logs": "7 days", "dispatch_runs": "7 days"}
	for _, c := range mock.calls {
		if !strings.HasPrefix(c.query, "DELETE FROM ") {
			t.Errorf("DELETE 以外のクエリ: %s", c.query)
		}
		for table, want := range wantArgs {
			if strings.Contains(c.query, "FROM "+table+" ") && c.args[0] != want {
				t.Errorf("%s の interval = %v, want %s", table, c.args[0], want)
			}
		}
	}

	if deleted["items"] != 5 || deleted["digest_logs"] != 3 || deleted["dispatch_runs"] != 2 {
		t.Errorf("削除件数 = %v", deleted)
	}
}

func TestCleanupJob_Run_LogsDeletedCounts(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{affected: map[string]int64{"items": 42}}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("ログがJSONではない: %v", err)
	}
	if entry["items_deleted"] != float64(42) {
		t.Errorf("items_deleted = %v, want 42", entry["items_deleted"])
	}
	if entry["item_retention_days"] != float64(30) {
		t.Errorf("item_retention_days = %v, want 30", entry["item_retention_days"])
	}
}

func TestCleanupJob_Run_SkipsDisabledRetention(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&buf))
	job.LogRetentionDays = 0

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if len(mock.calls) != 1 || !strings.Contains(mock.calls[0].query, "FROM items ") {
		t.Errorf("記事の削除だけが実行されるべき: %+v", mock.calls)
	}
}

func TestCleanupJob_Run_ReturnsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{affected: map[string]int64{"items": 1}, failOn: "digest_logs"}
	job := NewCleanupJob(mock, newTestLogger(&buf))

	deleted, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DB障害時はエラーを返すべき")
	}
	if deleted["items"] != 1 {
		t.Errorf("失敗前の削除件数は返すべき: %v", deleted)
	}
	if len(mock.calls) != 2 {
		t.Errorf("失敗後は後続のテーブルを処理しないべき: %d calls", len(mock.calls))
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}
