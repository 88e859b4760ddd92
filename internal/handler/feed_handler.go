package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/digestman/internal/feed"
	"github.com/hitoshi/digestman/internal/model"
)

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
type FeedServiceInterface interface {
	Register(ctx context.Context, userID, rawURL string) (*feed.RegisterResult, error)
	List(ctx context.Context, userID string) ([]*model.Feed, error)
	Delete(ctx context.Context, userID, feedID string) error
}

// FeedHandler はフィード管理のHTTPハンドラー。
type FeedHandler struct {
	service FeedServiceInterface
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServiceInterface, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{service: service, logger: logger}
}

// registerFeedRequest はフィード登録リクエストのボディ。
type registerFeedRequest struct {
	URL string `json:"url"`
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	SiteURL         string     `json:"site_url,omitempty"`
	Title           string     `json:"title"`
	IsActive        bool       `json:"is_active"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// registerFeedResponse はフィード登録のAPIレスポンス。
type registerFeedResponse struct {
	Feed    feedResponse `json:"feed"`
	Warning string       `json:"warning,omitempty"`
}

// RegisterFeed はフィード登録を処理する。
// POST /api/feeds
func (h *FeedHandler) RegisterFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req registerFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	result, err := h.service.Register(r.Context(), userID, req.URL)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := registerFeedResponse{Feed: toFeedResponse(result.Feed)}
	if result.InitialFetchFailed {
		resp.Warning = "フィードは登録されましたが、初回の記事取得に失敗しました。次回の配信時に再取得します。"
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListFeeds は自分のフィード一覧を返す。
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	feeds, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		resp = append(resp, toFeedResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteFeed はフィードを削除する。
// DELETE /api/feeds/{id}
func (h *FeedHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toFeedResponse はmodel.FeedからAPIレスポンスに変換する。
func toFeedResponse(f *model.Feed) feedResponse {
	return feedResponse{
		ID:              f.ID,
		URL:             f.URL,
		SiteURL:         f.SiteURL,
		Title:           f.Title,
		IsActive:        f.IsActive,
		LastRefreshedAt: f.LastRefreshedAt,
		CreatedAt:       f.CreatedAt,
	}
}
