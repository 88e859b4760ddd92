package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/digestman/internal/dispatch"
	"github.com/hitoshi/digestman/internal/middleware"
	"github.com/hitoshi/digestman/internal/model"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// DispatchRunner はディスパッチを1回実行する。
type DispatchRunner interface {
	Run(ctx context.Context, opts dispatch.RunOptions) (*model.DispatchRun, error)
}

// RunLister は直近の実行記録を返す。
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]*model.DispatchRun, error)
}

// DispatchHandler はディスパッチのトリガーと実行履歴のHTTPハンドラー。
type DispatchHandler struct {
	runner DispatchRunner
	runs   RunLister
	logger *slog.Logger
}

// NewDispatchHandler はDispatchHandlerを生成する。
func NewDispatchHandler(runner DispatchRunner, runs RunLister, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{runner: runner, runs: runs, logger: logger}
}

// Trigger は外部スケジューラからの呼び出しでディスパッチを実行し、実行記録を返す。
// POST /api/dispatch[?manual=true]
func (h *DispatchHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	manual, _ := strconv.ParseBool(r.URL.Query().Get("manual"))

	// 呼び出し元の切断で配信を途中で止めない。全体の期限はRunner側で設定される
	run, err := h.runner.Run(context.WithoutCancel(r.Context()), dispatch.RunOptions{Manual: manual})
	if err != nil {
		h.logger.Error("ディスパッチの実行に失敗しました",
			slog.Bool("manual", manual),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns は直近の実行記録を新しい順に返す。
// GET /api/admin/runs?limit=
func (h *DispatchHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limit は1以上の整数で指定してください。",
				Category: "validation",
				Action:   "limit パラメータを確認してください。",
			})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if runs == nil {
		runs = []*model.DispatchRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
