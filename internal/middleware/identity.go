// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/digestman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

var (
	errMissingToken = errors.New("トークンがありません")
	errInvalidToken = errors.New("トークンが無効です")
)

// verifyHS256 はHS256で署名されたトークンを検証し、クレームを埋めて返す。
// 有効期限(exp)は必須。
func verifyHS256(tokenStr string, secret []byte, claims jwt.Claims) error {
	if tokenStr == "" {
		return errMissingToken
	}
	if len(secret) == 0 {
		return fmt.Errorf("署名鍵が設定されていません")
	}

	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	return nil
}

// NewBearerAuthMiddleware は Authorization: Bearer のJWTを検証し、
// subクレームのユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// トークンは外部IdPがIDENTITY_SIGNING_KEYで署名する。
func NewBearerAuthMiddleware(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

			var claims jwt.RegisteredClaims
			if err := verifyHS256(strings.TrimSpace(tokenStr), secret, &claims); err != nil {
				if !errors.Is(err, errMissingToken) {
					logger.Warn("ユーザートークンの検証に失敗しました",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if claims.Subject == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			noteUserID(r.Context(), claims.Subject)
			ctx := ContextWithUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
