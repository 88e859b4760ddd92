package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/hitoshi/digestman/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Candidate はHTMLのlink要素から見つかったフィード候補。
type Candidate struct {
	URL   string
	Type  gofeed.FeedType
	Title string
}

// Detection はフィード検出の結果。
type Detection struct {
	URL   string
	Title string
}

// linkTypes はlink要素のtype属性とフィード種別の対応。
var linkTypes = map[string]gofeed.FeedType{
	"application/rss+xml":   gofeed.FeedTypeRSS,
	"application/atom+xml":  gofeed.FeedTypeAtom,
	"application/feed+json": gofeed.FeedTypeJSON,
}

// Detector は入力URLがフィードそのものか、フィードを案内するHTMLページかを判定する。
type Detector struct {
	ssrfGuard   SSRFValidator
	timeout     time.Duration
	maxBodySize int64
}

// NewDetector はDetectorを生成する。
func NewDetector(ssrfGuard SSRFValidator, timeout time.Duration, maxBodySize int64) *Detector {
	return &Detector{ssrfGuard: ssrfGuard, timeout: timeout, maxBodySize: maxBodySize}
}

// Detect はURLを取得し、登録すべきフィードURLを返す。
// HTMLの場合はhead内の rel="alternate" から同一ホスト、Atom、先頭の順で選ぶ。
func (d *Detector) Detect(ctx context.Context, inputURL string) (*Detection, error) {
	if err := d.ssrfGuard.ValidateURL(inputURL); err != nil {
		return nil, model.NewSSRFBlockedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "Digestman/1.0 Feed Detector")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, text/html, */*")

	resp, err := d.ssrfGuard.NewSafeClient(d.timeout, d.maxBodySize).Do(req)
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodySize))
	if err != nil {
		return nil, model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	if gofeed.DetectFeedType(bytes.NewReader(body)) != gofeed.FeedTypeUnknown {
		return &Detection{URL: inputURL}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return nil, model.NewFeedNotDetectedError(inputURL)
	}

	best := SelectBest(ParseFeedLinks(body, inputURL), inputURL)
	if best == nil {
		return nil, model.NewFeedNotDetectedError(inputURL)
	}
	return &Detection{URL: best.URL, Title: best.Title}, nil
}

// ParseFeedLinks はHTMLのhead内にあるフィードへのlink要素を列挙する。
// 相対URLはbaseURLを基準に解決する。
func ParseFeedLinks(body []byte, baseURL string) []Candidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var candidates []Candidate
	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return candidates
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return candidates
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
			case "body":
				return candidates
			case "link":
				if !inHead || !hasAttr {
					continue
				}
				attrs := readAttrs(z)
				feedType, ok := linkTypes[strings.ToLower(attrs["type"])]
				if !ok || !hasRel(attrs["rel"], "alternate") || attrs["href"] == "" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attrs["href"]))
				if err != nil {
					continue
				}
				candidates = append(candidates, Candidate{
					URL:   base.ResolveReference(ref).String(),
					Type:  feedType,
					Title: attrs["title"],
				})
			}
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := map[string]string{}
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

func hasRel(rel, want string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == want {
			return true
		}
	}
	return false
}

// SelectBest は候補から1件を選ぶ。同一ホストを最優先し、次にAtom、同点なら先頭。
func SelectBest(candidates []Candidate, inputURL string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	host := hostOf(inputURL)
	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == host {
			score += 100
		}
		if c.Type == gofeed.FeedTypeAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &candidates[best]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
