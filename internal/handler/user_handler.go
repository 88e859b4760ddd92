package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/digestman/internal/model"
	"github.com/hitoshi/digestman/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// フィード、スケジュール、配信ログを削除し、参照元がなくなった記事も削除する。
	Withdraw(ctx context.Context, userID string) error
	GetPreferences(ctx context.Context, userID string) (*model.DigestPreferences, error)
	UpdatePreferences(ctx context.Context, userID string, in user.PreferencesInput) (*model.DigestPreferences, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	logger  *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: service, logger: logger}
}

type preferencesResponse struct {
	DigestName  string `json:"digest_name"`
	Description string `json:"description"`
	Tone        string `json:"tone"`
	Language    string `json:"language"`
	Footer      string `json:"footer"`
	SenderEmail string `json:"sender_email"`
}

func toPreferencesResponse(p *model.DigestPreferences) preferencesResponse {
	return preferencesResponse{
		DigestName:  p.DigestName,
		Description: p.Description,
		Tone:        p.Tone,
		Language:    p.Language,
		Footer:      p.Footer,
		SenderEmail: p.SenderEmail,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences はダイジェスト設定を返す。
// GET /api/users/me/preferences
func (h *UserHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	prefs, err := h.service.GetPreferences(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreferencesResponse(prefs))
}

// PutPreferences はダイジェスト設定を上書きする。
// PUT /api/users/me/preferences
func (h *UserHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var in user.PreferencesInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeInvalidRequest(w)
		return
	}

	prefs, err := h.service.UpdatePreferences(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreferencesResponse(prefs))
}
