package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRecoveryMiddleware はハンドラーのpanicを500に変換する。
// http.ErrAbortHandler はnet/httpの中断シグナルなので再送出する。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				attrs := []any{
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if reqID := chimw.GetReqID(r.Context()); reqID != "" {
					attrs = append(attrs, slog.String("request_id", reqID))
				}
				logger.ErrorContext(r.Context(), "ハンドラーでpanicが発生しました", attrs...)

				// ヘッダー送信済みの場合でも書き込みを試みる。失敗はnet/httpが記録する。
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
