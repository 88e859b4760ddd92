package security

import (
	"strings"
	"testing"
)

func TestSanitize_AllowedAndForbidden(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
		wantAbsent   []string
	}{
		{
			name:         "段落と強調が残る",
			input:        "<p>これは<strong>重要な</strong>記事です。</p>",
			wantContains: []string{"<p>", "<strong>重要な</strong>"},
		},
		{
			name:         "見出しh2は残りh1は除去される",
			input:        "<h1>大見出し</h1><h2>小見出し</h2>",
			wantContains: []string{"<h2>小見出し</h2>", "大見出し"},
			wantAbsent:   []string{"<h1"},
		},
		{
			name:       "scriptが除去される",
			input:      `<p>本文</p><script>document.cookie</script>`,
			wantAbsent: []string{"<script", "document.cookie"},
		},
		{
			name:       "iframeとstyleが除去される",
			input:      `<iframe src="https://evil.com"></iframe><style>.x{}</style>`,
			wantAbsent: []string{"<iframe", "evil.com", "<style"},
		},
		{
			name:       "on*属性が除去される",
			input:      `<p OnClick="alert('xss')">テスト</p>`,
			wantAbsent: []string{"onclick", "alert"},
		},
		{
			name:         "https imgは許可される",
			input:        `<img src="https://example.com/a.png" alt="画像">`,
			wantContains: []string{"https://example.com/a.png", `alt="画像"`},
		},
		{
			name:       "javascript URIが除去される",
			input:      `<a href="javascript:alert('xss')">クリック</a>`,
			wantAbsent: []string{"javascript:"},
		},
		{
			name:       "data URI imgが除去される",
			input:      `<img src="data:image/png;base64,abc">`,
			wantAbsent: []string{"data:image"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(strings.ToLower(got), strings.ToLower(absent)) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

func TestSanitize_AnchorGetsTargetBlank(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize(`<a href="https://example.com" target="_self" rel="nofollow">元記事</a>`)

	for _, want := range []string{`target="_blank"`, "noopener", "noreferrer", "元記事"} {
		if !strings.Contains(got, want) {
			t.Errorf("結果に %q が含まれていない: %q", want, got)
		}
	}
	if strings.Contains(got, `target="_self"`) {
		t.Errorf("target=\"_self\"が残っている: %q", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>テスト<strong>太字</strong></p><a href="https://example.com">リンク</a>`
	first := sanitizer.Sanitize(input)
	if again := sanitizer.Sanitize(first); again != first {
		t.Errorf("二重サニタイズで結果が変わった: 1回目=%q, 二重=%q", first, again)
	}
	if sanitizer.Sanitize("") != "" {
		t.Error("空文字列の入力は空文字列を返すべき")
	}
}

func TestPlainText(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"タグ除去", "<p>Hello <b>world</b></p>", "Hello world"},
		{"エンティティを戻す", "<p>Tom &amp; Jerry &lt;3</p>", "Tom & Jerry <3"},
		{"空白をまとめる", "<p>a</p>\n\n\n<p>b\t c</p>", "a b c"},
		{"scriptの中身も除去", "前<script>alert(1)</script>後", "前後"},
		{"空文字列", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
