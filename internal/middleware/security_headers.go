package middleware

import "net/http"

// apiSecurityHeaders はJSON APIの応答に常に付与するヘッダー。
// HTMLを返さないため、CSPは全リソースを拒否する。
var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
}

// NewSecurityHeadersMiddleware はAPI向けのセキュリティヘッダーを付与するミドルウェアを返す。
// /metrics のようにハンドラーが自分でCache-Controlを設定する場合はそちらが優先される。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range apiSecurityHeaders {
				h.Set(k, v)
			}
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
