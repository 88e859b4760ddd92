package middleware

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/digestman/internal/model"
)

// TriggerSignatureHeader はディスパッチトリガーの署名を運ぶヘッダー。
const TriggerSignatureHeader = "X-Trigger-Signature"

const maxTriggerBody = 64 << 10

// TriggerClaims はトリガー署名のクレーム。
// Body はリクエストボディのSHA-256（base64url、パディングなし）。空なら本文を検証しない。
type TriggerClaims struct {
	Body string `json:"body,omitempty"`
	jwt.RegisteredClaims
}

// NewTriggerSignatureMiddleware は外部スケジューラからの呼び出しを
// HS256署名付きトークンで検証するミドルウェアを返す。
func NewTriggerSignatureMiddleware(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims TriggerClaims
			if err := verifyHS256(r.Header.Get(TriggerSignatureHeader), secret, &claims); err != nil {
				logger.Warn("トリガー署名の検証に失敗しました",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if claims.Body != "" {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBody))
				if err != nil {
					WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
						Code:     "INVALID_REQUEST",
						Message:  "リクエストボディを読み取れません。",
						Category: "validation",
						Action:   "リクエストを確認してください。",
					})
					return
				}
				sum := sha256.Sum256(body)
				got := base64.RawURLEncoding.EncodeToString(sum[:])
				if subtle.ConstantTimeCompare([]byte(got), []byte(claims.Body)) != 1 {
					logger.Warn("トリガー署名のボディハッシュが一致しません",
						slog.String("remote_addr", r.RemoteAddr),
					)
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SignTrigger はトリガー署名を生成する。CLIやテストから呼び出しを組み立てる際に使う。
func SignTrigger(secret []byte, body []byte, claims jwt.RegisteredClaims) (string, error) {
	tc := TriggerClaims{RegisteredClaims: claims}
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		tc.Body = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(secret)
}
