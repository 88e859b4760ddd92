package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// accessLogKey はアクセスログ用の可変レコードを格納するキー。
var accessLogKey = contextKey("access_log")

// accessRecord は下流のミドルウェアが判明した情報を書き戻すための入れ物。
// 認証はロギングより内側で行われるため、コンテキストの値だけではuser_idを参照できない。
type accessRecord struct {
	userID string
}

// noteUserID はアクセスログにユーザーIDを記録する。ロギング外のコンテキストでは何もしない。
func noteUserID(ctx context.Context, userID string) {
	if rec, ok := ctx.Value(accessLogKey).(*accessRecord); ok {
		rec.userID = userID
	}
}

// responseRecorder は最初に書き込まれたステータスと送信バイト数を記録する。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// NewLoggingMiddleware は1リクエストにつき1行のアクセスログを出力するミドルウェアを返す。
// 5xxはError、4xxはWarn、それ以外はInfoで記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			record := &accessRecord{}
			rw := &responseRecorder{ResponseWriter: w}

			r = r.WithContext(context.WithValue(r.Context(), accessLogKey, record))
			next.ServeHTTP(rw, r)

			status := rw.statusCode()
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rw.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, slog.String("route", pattern))
				}
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if record.userID != "" {
				attrs = append(attrs, slog.String("user_id", record.userID))
			}

			logger.Log(r.Context(), level, "http_request", attrs...)
		})
	}
}
