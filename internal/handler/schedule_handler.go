package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/digestman/internal/model"
	"github.com/hitoshi/digestman/internal/schedule"
)

// ScheduleServiceInterface はスケジュールハンドラーが必要とするサービスインターフェース。
type ScheduleServiceInterface interface {
	SaveSchedule(ctx context.Context, userID string, in schedule.Input) (*model.UserSchedule, error)
	GetSchedule(ctx context.Context, userID string) (*model.UserSchedule, error)
	DeleteSchedule(ctx context.Context, userID string) error
}

// ScheduleHandler は配信スケジュールのHTTPハンドラー。
type ScheduleHandler struct {
	service  ScheduleServiceInterface
	timezone string
	logger   *slog.Logger
}

// NewScheduleHandler はScheduleHandlerを生成する。
// timezone はレスポンスに含める基準タイムゾーン名。
func NewScheduleHandler(service ScheduleServiceInterface, timezone string, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{service: service, timezone: timezone, logger: logger}
}

// scheduleResponse はスケジュールのAPIレスポンス。
// SendTimeとDaysは常に基準タイムゾーンで返す。
type scheduleResponse struct {
	SendTime  string          `json:"send_time"`
	Days      []model.Weekday `json:"days"`
	Timezone  string          `json:"timezone"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GetSchedule は自分の配信スケジュールを返す。
// GET /api/schedule
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	s, err := h.service.GetSchedule(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if s == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(s))
}

// PutSchedule は配信スケジュールを作成または更新する。
// PUT /api/schedule
func (h *ScheduleHandler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var in schedule.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeInvalidRequest(w)
		return
	}

	s, err := h.service.SaveSchedule(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(s))
}

// DeleteSchedule は配信スケジュールを削除する。
// DELETE /api/schedule
func (h *ScheduleHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteSchedule(r.Context(), userID); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScheduleHandler) toResponse(s *model.UserSchedule) scheduleResponse {
	days := s.Days
	if days == nil {
		days = []model.Weekday{}
	}
	return scheduleResponse{
		SendTime:  s.SendTime,
		Days:      days,
		Timezone:  h.timezone,
		UpdatedAt: s.UpdatedAt,
	}
}
