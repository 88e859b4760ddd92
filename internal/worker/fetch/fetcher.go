package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/digestman/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Fetcher は個別フィードのHTTP取得とパースを行う。
// SSRF検証、サイズ制限付きの読み込み、gofeedによるパースを実行する。
// 取得結果の保存は呼び出し側が行う。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(ssrfGuard SSRFValidator, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *Fetcher {
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はフィードURLを取得してパースする。
// 200以外のレスポンスは*StatusErrorとして返す。
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*model.ParsedFeed, error) {
	start := time.Now()

	if err := f.ssrfGuard.ValidateURL(feedURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Digestman/1.0 Feed Fetcher")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if ClassifyHTTPStatus(resp.StatusCode) != FetchResultOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	// 上限を1バイト超えて読み、超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, fmt.Errorf("レスポンスサイズが上限(%dバイト)を超えています", f.maxBodySize)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	result := &model.ParsedFeed{
		Title:   parsed.Title,
		SiteURL: parsed.Link,
		Items:   convertGofeedItems(parsed.Items),
	}

	f.logger.Info("フィードを取得しました",
		slog.String("feed_url", feedURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("items_total", len(result.Items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}

// convertGofeedItems はgofeedの記事をmodel.RawItemに変換する。
func convertGofeedItems(items []*gofeed.Item) []model.RawItem {
	rawItems := make([]model.RawItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		raw := model.RawItem{
			GUID:       strings.TrimSpace(item.GUID),
			Title:      item.Title,
			Link:       item.Link,
			Content:    item.Content,
			Summary:    item.Description,
			Categories: item.Categories,
		}

		if item.Author != nil {
			raw.Author = item.Author.Name
		}
		if raw.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			raw.Author = item.Authors[0].Name
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			raw.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			raw.PublishedAt = &t
		}

		// Contentが空の場合はDescriptionを使用
		if raw.Content == "" && item.Description != "" {
			raw.Content = item.Description
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if raw.Link == "" && (strings.HasPrefix(raw.GUID, "http://") || strings.HasPrefix(raw.GUID, "https://")) {
			raw.Link = raw.GUID
		}

		rawItems = append(rawItems, raw)
	}

	return rawItems
}
