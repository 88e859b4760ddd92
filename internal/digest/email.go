package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/hitoshi/digestman/internal/model"
)

const (
	defaultDigestName  = "Daily Digest"
	defaultDescription = "Your AI-curated news digest"
)

// markdown は生のHTMLを出力しない既定設定のまま使う。
var markdown = goldmark.New(
	goldmark.WithRendererOptions(
		gmhtml.WithHardWraps(),
		gmhtml.WithXHTML(),
	),
)

// メールクライアントは<style>を無視するため、要素ごとにインラインで指定する。
const (
	linkStyle = "color:#2563eb;text-decoration:underline;"
	h1Style   = "color:#e11d48;font-size:28px;font-weight:700;margin:24px 0 16px;"
	h2Style   = "color:#e11d48;font-size:24px;font-weight:700;margin:32px 0 16px;"
	h3Style   = "color:#1c1917;font-size:18px;font-weight:600;margin:24px 0 8px;"
)

var nodeStyles = map[ast.NodeKind]string{
	ast.KindParagraph:     "color:#44403c;font-size:16px;line-height:1.7;margin:16px 0;",
	ast.KindList:          "color:#44403c;margin:16px 0;padding-left:24px;",
	ast.KindListItem:      "font-size:16px;line-height:1.7;margin:8px 0;",
	ast.KindBlockquote:    "border-left:3px solid #e7e5e4;color:#78716c;margin:16px 0;padding:0 16px;",
	ast.KindThematicBreak: "border:none;border-top:1px solid #e7e5e4;margin:32px 0;",
	ast.KindCodeSpan:      "background:#f5f5f4;border-radius:4px;font-size:14px;padding:2px 4px;",
}

const emailTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Subject}}</title>
</head>
<body style="margin:0;padding:0;background-color:#fafaf9;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;">
<div style="max-width:680px;margin:0 auto;padding:40px 20px;">
  <div style="text-align:center;margin-bottom:40px;padding-bottom:30px;border-bottom:1px solid #e7e5e4;">
    <h1 style="margin:0 0 8px;font-size:32px;font-weight:700;color:#1c1917;">{{.Name}}</h1>
    <p style="margin:0;color:#78716c;font-size:14px;">{{.Description}}</p>
    <p style="margin:16px 0 0;color:#78716c;font-size:13px;font-weight:600;">{{.Date}}</p>
  </div>
  <div style="background:#ffffff;border-radius:12px;padding:32px;border:1px solid #e7e5e4;">
{{.Body}}
  </div>
  <div style="text-align:center;margin-top:40px;padding-top:30px;border-top:1px solid #e7e5e4;color:#a8a29e;font-size:12px;">
    {{- if .Footer}}
    <p style="margin:0 0 12px;">{{.Footer}}</p>
    {{- end}}
    <p style="margin:16px 0 0;color:#d6d3d1;">{{.ItemCount}} articles</p>
  </div>
</div>
</body>
</html>
`

// emailData はメールテンプレートに渡す値。
type emailData struct {
	Subject     string
	Name        string
	Description string
	Date        string
	Body        template.HTML
	Footer      string
	ItemCount   int
}

// Renderer はMarkdown本文をHTMLメールに組み立てる。
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer はRendererを生成する。
func NewRenderer() *Renderer {
	return &Renderer{
		tmpl: template.Must(template.New("digest").Parse(emailTemplate)),
	}
}

// Render は件名とMarkdown本文からHTMLメールとプレーンテキストを生成する。
func (r *Renderer) Render(subject, body string, prefs model.DigestPreferences, itemCount int, now time.Time) (*model.Digest, error) {
	name := strings.TrimSpace(prefs.DigestName)
	if name == "" {
		name = defaultDigestName
	}
	description := strings.TrimSpace(prefs.Description)
	if description == "" {
		description = defaultDescription
	}

	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, emailData{
		Subject:     subject,
		Name:        name,
		Description: description,
		Date:        now.Format("Monday, January 2, 2006"),
		Body:        MarkdownToHTML(body),
		Footer:      strings.TrimSpace(prefs.Footer),
		ItemCount:   itemCount,
	})
	if err != nil {
		return nil, fmt.Errorf("メールテンプレートの描画に失敗しました: %w", err)
	}

	plain := strings.TrimSpace(body)
	if footer := strings.TrimSpace(prefs.Footer); footer != "" {
		plain += "\n\n---\n" + footer
	}

	return &model.Digest{
		Subject: subject,
		HTML:    buf.String(),
		Text:    plain,
	}, nil
}

// MarkdownToHTML は生成されたMarkdownをインラインスタイル付きのHTMLに変換する。
// 本文中の生のHTMLは出力せず、http(s)以外のリンクはテキストに戻す。
func MarkdownToHTML(body string) template.HTML {
	src := []byte(strings.ReplaceAll(strings.TrimSpace(body), "\r\n", "\n"))
	doc := markdown.Parser().Parse(text.NewReader(src))
	styleForEmail(doc, src)

	var buf bytes.Buffer
	if err := markdown.Renderer().Render(&buf, src, doc); err != nil {
		return template.HTML(template.HTMLEscapeString(string(src)))
	}
	return template.HTML(strings.TrimSpace(buf.String()))
}

// styleForEmail はノードにstyle属性を付け、安全でないリンクを外す。
func styleForEmail(doc ast.Node, src []byte) {
	var unsafeLinks []ast.Node
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			node.SetAttributeString("style", []byte(headingStyle(node.Level)))
		case *ast.Link:
			if !isWebURL(node.Destination) {
				unsafeLinks = append(unsafeLinks, node)
				return ast.WalkContinue, nil
			}
			node.SetAttributeString("style", []byte(linkStyle))
		case *ast.AutoLink:
			if !isWebURL(node.URL(src)) {
				unsafeLinks = append(unsafeLinks, node)
				return ast.WalkContinue, nil
			}
			node.SetAttributeString("style", []byte(linkStyle))
		default:
			if style, ok := nodeStyles[n.Kind()]; ok {
				n.SetAttributeString("style", []byte(style))
			}
		}
		return ast.WalkContinue, nil
	})

	for _, n := range unsafeLinks {
		unwrapLink(n, src)
	}
}

func headingStyle(level int) string {
	switch level {
	case 1:
		return h1Style
	case 2:
		return h2Style
	default:
		return h3Style
	}
}

// unwrapLink はリンクを取り除き、表示テキストだけを親に残す。
func unwrapLink(n ast.Node, src []byte) {
	parent := n.Parent()
	if parent == nil {
		return
	}
	if auto, ok := n.(*ast.AutoLink); ok {
		parent.ReplaceChild(parent, n, ast.NewString(auto.Label(src)))
		return
	}
	for c := n.FirstChild(); c != nil; c = n.FirstChild() {
		n.RemoveChild(n, c)
		parent.InsertBefore(parent, n, c)
	}
	parent.RemoveChild(parent, n)
}

func isWebURL(dest []byte) bool {
	u, err := url.Parse(string(dest))
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
