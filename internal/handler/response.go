// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/digestman/internal/middleware"
	"github.com/hitoshi/digestman/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeInvalidRequest はリクエストボディの解析エラーを返す。
func writeInvalidRequest(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
}

// requireUserID は認証済みユーザーIDを取り出す。取得できなければ401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeFeedNotDetected, model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidSchedule, model.ErrCodeInvalidPrefs, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeFeedLimit, model.ErrCodeDuplicateFeed:
		return http.StatusConflict
	case model.ErrCodeScheduleLimit:
		return http.StatusForbidden
	case model.ErrCodeFeedNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
