package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-signing-key")

func signUserToken(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return token
}

func TestBearerAuthMiddleware(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	noExp := jwt.RegisteredClaims{Subject: "user-1"}
	noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "有効なトークン", header: "Bearer " + signUserToken(t, testSecret, jwt.SigningMethodHS256, valid), wantStatus: http.StatusOK, wantUser: "user-1"},
		{name: "ヘッダーなし", header: "", wantStatus: http.StatusUnauthorized},
		{name: "Bearer以外", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "期限切れ", header: "Bearer " + signUserToken(t, testSecret, jwt.SigningMethodHS256, expired), wantStatus: http.StatusUnauthorized},
		{name: "expなし", header: "Bearer " + signUserToken(t, testSecret, jwt.SigningMethodHS256, noExp), wantStatus: http.StatusUnauthorized},
		{name: "subなし", header: "Bearer " + signUserToken(t, testSecret, jwt.SigningMethodHS256, noSubject), wantStatus: http.StatusUnauthorized},
		{name: "別の鍵で署名", header: "Bearer " + signUserToken(t, []byte("other"), jwt.SigningMethodHS256, valid), wantStatus: http.StatusUnauthorized},
		{name: "HS512は拒否", header: "Bearer " + signUserToken(t, testSecret, jwt.SigningMethodHS512, valid), wantStatus: http.StatusUnauthorized},
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := NewBearerAuthMiddleware(testSecret, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/feeds", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotUser != tt.wantUser {
				t.Errorf("user = %q, want %q", gotUser, tt.wantUser)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("Content-Type") != "application/json" {
				t.Error("401は統一エラーフォーマットで返すべき")
			}
		})
	}
}

func TestBearerAuthMiddleware_NoSecretDeniesAll(t *testing.T) {
	token := signUserToken(t, testSecret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	var buf bytes.Buffer
	handler := NewBearerAuthMiddleware(nil, slog.New(slog.NewJSONHandler(&buf, nil)))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/feeds", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if !bytes.Contains(buf.Bytes(), []byte("ユーザートークンの検証に失敗しました")) {
		t.Errorf("検証失敗がログに残っていない: %s", buf.String())
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("ユーザーIDがなければエラーを返すべき")
	}
}
