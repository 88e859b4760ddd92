package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hitoshi/digestman/internal/model"
)

// maxErrorBody はエラー応答から読み取る最大バイト数。
const maxErrorBody = 1024

// sendRequest はメール送信APIのリクエストボディ。
type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

// Deliverer はHTTPのメール送信APIでダイジェストを配信する。
// 送信APIのレート制限を超えないよう、送信間隔をrate.Limiterで調整する。
type Deliverer struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	apiKey     string
	from       string
	limiter    *rate.Limiter
}

// NewDeliverer はDelivererを生成する。ratePerSecが0以下の場合は送信間隔を制限しない。
func NewDeliverer(httpClient *http.Client, logger *slog.Logger, endpoint, apiKey, from string, ratePerSec int) *Deliverer {
	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = ratePerSec
	}
	return &Deliverer{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
		from:       from,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Deliver はダイジェストを宛先に送信する。2xx以外の応答はエラーとして返す。
func (d *Deliverer) Deliver(ctx context.Context, recipient string, digest *model.Digest) error {
	if d.endpoint == "" {
		return errors.New("メール送信APIのURLが設定されていません")
	}
	if strings.TrimSpace(recipient) == "" {
		return errors.New("配信先が指定されていません")
	}
	if digest == nil {
		return errors.New("配信するダイジェストがありません")
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("送信待機中に中断されました: %w", err)
	}

	payload, err := json.Marshal(sendRequest{
		From:    d.from,
		To:      []string{recipient},
		Subject: digest.Subject,
		HTML:    digest.HTML,
		Text:    digest.Text,
	})
	if err != nil {
		return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Digestman/1.0 Mailer")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("メール送信APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("メール送信APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		d.logger.Error("メール送信APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("response", string(body)),
		)
		return fmt.Errorf("メール送信APIがステータス %d を返しました", resp.StatusCode)
	}

	return nil
}
