package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mockSSRFGuard はSSRFValidatorのテスト用モック。
// httptestサーバーはループバックで動くため、検証をバイパスする。
type mockSSRFGuard struct {
	validateErr error
}

func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockSSRFGuard) ValidateURL(_ string) error {
	return m.validateErr
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestFetcher(buf *bytes.Buffer, guard SSRFValidator, maxBody int64) *Fetcher {
	return NewFetcher(guard, newTestLogger(buf), 5*time.Second, maxBody)
}

const testRSS = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <item>
      <title>Article 1</title>
      <link>https://example.com/article1</link>
      <guid>guid-1</guid>
      <description>Summary 1</description>
      <category>go</category>
      <category>rss</category>
      <author>alice@example.com (Alice)</author>
      <pubDate>Mon, 03 Mar 2025 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Article 2</title>
      <guid>https://example.com/article2</guid>
      <description>Summary 2</description>
    </item>
  </channel>
</rss>`

func TestFetcher_Fetch_ParsesRSS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "Digestman/") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testRSS)
	}))
	defer server.Close()

	var buf bytes.Buffer
	f := newTestFetcher(&buf, &mockSSRFGuard{}, 5*1024*1024)

	parsed, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() がエラーを返した: %v", err)
	}
	if parsed.Title != "Test Feed" || parsed.SiteURL != "https://example.com" {
		t.Errorf("feed = %q / %q", parsed.Title, parsed.SiteURL)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("記事数 = %d, want 2", len(parsed.Items))
	}

	first := parsed.Items[0]
	if first.GUID != "guid-1" || first.Link != "https://example.com/article1" {
		t.Errorf("first = %+v", first)
	}
	if len(first.Categories) != 2 || first.Categories[0] != "go" {
		t.Errorf("Categories = %v, want [go rss]", first.Categories)
	}
	if first.PublishedAt == nil || !first.PublishedAt.Equal(time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("PublishedAt = %v", first.PublishedAt)
	}
	// Contentが空ならDescriptionで補う
	if first.Content != "Summary 1" {
		t.Errorf("Content = %q, want description fallback", first.Content)
	}

	// LinkがなくGUIDがURLならLinkとして使う
	second := parsed.Items[1]
	if second.Link != "https://example.com/article2" {
		t.Errorf("second.Link = %q", second.Link)
	}
	if second.PublishedAt != nil {
		t.Errorf("second.PublishedAt = %v, want nil", second.PublishedAt)
	}

	if !strings.Contains(buf.String(), `"items_total":2`) {
		t.Errorf("ログに記事数が含まれていない: %s", buf.String())
	}
}

func TestFetcher_Fetch_SSRFBlocked(t *testing.T) {
	var buf bytes.Buffer
	blocked := errors.New("プライベートIPアドレスへのアクセスは禁止されています")
	f := newTestFetcher(&buf, &mockSSRFGuard{validateErr: blocked}, 1024)

	_, err := f.Fetch(context.Background(), "http://10.0.0.1/feed")
	if !errors.Is(err, blocked) {
		t.Errorf("error = %v, want wrapped SSRF error", err)
	}
}

func TestFetcher_Fetch_StatusErrors(t *testing.T) {
	for _, status := range []int{404, 410, 403, 429, 500, 503} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			var buf bytes.Buffer
			_, err := newTestFetcher(&buf, &mockSSRFGuard{}, 1024).Fetch(context.Background(), server.URL)

			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != status {
				t.Errorf("error = %v, want StatusError(%d)", err, status)
			}
		})
	}
}

func TestFetcher_Fetch_ParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	}))
	defer server.Close()

	var buf bytes.Buffer
	_, err := newTestFetcher(&buf, &mockSSRFGuard{}, 1024).Fetch(context.Background(), server.URL)

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("error = %v, want ParseError", err)
	}
}

func TestFetcher_Fetch_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, testRSS)
	}))
	defer server.Close()

	var buf bytes.Buffer
	_, err := newTestFetcher(&buf, &mockSSRFGuard{}, 64).Fetch(context.Background(), server.URL)
	if err == nil || !strings.Contains(err.Error(), "上限") {
		t.Errorf("error = %v, want size limit error", err)
	}
}
