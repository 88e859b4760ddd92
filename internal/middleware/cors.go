package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// NewCORSMiddleware は管理画面など1つのオリジンからのブラウザアクセスを許可する。
// allowedOriginが空ならCORSヘッダーを一切付けない。"*" は任意のオリジンを許可する。
// 認証はBearerトークンのため、Cookieの送信は許可しない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowedOrigin == "" || origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if allowedOrigin != "*" && origin != allowedOrigin {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", allowedOrigin)

			// プリフライト
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
