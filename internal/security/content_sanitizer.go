package security

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は記事HTMLのサニタイズ機能のインターフェースを定義する。
// 記事の保存前と、ダイジェスト生成用のテキスト抽出時に使用される。
type ContentSanitizerService interface {
	// Sanitize は許可リストに含まれるタグのみを残した安全なHTMLを返す。
	Sanitize(rawHTML string) string

	// PlainText は全タグを除去し、エンティティを戻したプレーンテキストを返す。
	// 連続する空白は1つにまとめる。
	PlainText(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有する。
type contentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img, h2-h4
//   - URLはhttpsスキームのみ許可
//   - aタグ: target="_blank" と rel="noopener noreferrer" を自動付与
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style と on* 属性は許可リストにないため除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h2", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &contentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// PlainText はHTMLからタグを除去したテキストを返す。
func (s *contentSanitizer) PlainText(rawHTML string) string {
	text := html.UnescapeString(s.strict.Sanitize(rawHTML))
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}
