package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/digestman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスのJSON本文。
// retryable はクライアントが同じリクエストを再送してよいかを示す。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	Retryable bool   `json:"retryable"`
}

// NewErrorResponseBody はAPIErrorとステータスコードからレスポンス本文を組み立てる。
func NewErrorResponseBody(statusCode int, apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		Retryable: retryableStatus(statusCode),
	}
}

// retryableStatus は時間をおけば成功しうるステータスかどうか。
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// WriteErrorResponse はAPIErrorをJSONで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = model.NewInternalError()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(NewErrorResponseBody(statusCode, apiErr))
}

// WriteInternalServerError は500を書き込む。原因はメッセージに含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
