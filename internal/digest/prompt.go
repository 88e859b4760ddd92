// Package digest はダイジェストの生成、メール本文の組み立て、配信を提供する。
package digest

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/digestman/internal/model"
)

// maxSummaryRunes は1記事あたりプロンプトに含める要約の最大文字数。
const maxSummaryRunes = 3000

var (
	htmlTagPattern    = regexp.MustCompile(`<[a-zA-Z/][^>]*>`)
	redundantNewLines = regexp.MustCompile(`\n{3,}`)
	stripPolicy       = bluemonday.StrictPolicy()
)

// PromptInput はプロンプト生成に必要な情報。
type PromptInput struct {
	Items       []model.Item
	FeedTitles  map[string]string // フィードID → タイトル
	Preferences model.DigestPreferences
	Start       time.Time
	End         time.Time
}

// BuildPrompt はダイジェスト生成用のプロンプトを組み立てる。
func BuildPrompt(in PromptInput) string {
	lines := []string{
		"You are a premium newsletter journalist. Write a deeply analytical, highly structured newsletter.",
		fmt.Sprintf("DATE RANGE: %s -> %s", in.Start.Format("2006-01-02 15:04"), in.End.Format("2006-01-02 15:04")),
		"",
	}

	if settings := buildSettingsContext(in.Preferences); settings != "" {
		lines = append(lines, settings, "")
	}

	lines = append(lines,
		fmt.Sprintf("ARTICLES (%d total):", len(in.Items)),
		BuildArticleSummaries(in.Items, in.FeedTitles),
		"",
		"The newsletter MUST include:",
		"1. 5 newsletter titles.",
		"2. 5 subject lines.",
		"3. A body in Markdown following ALL rules:",
	)
	for _, r := range bodyRequirements(in.Preferences) {
		lines = append(lines, "   - "+r)
	}
	lines = append(lines,
		"4. 5 top announcements.",
		"5. Additional insights.",
		"",
		"OUTPUT FORMAT (MANDATORY): Return ONLY this JSON:",
		`{"suggestedTitles": [...], "suggestedSubjectLines": [...], "body": "...", "topAnnouncements": [...], "additionalInfo": "..."}`,
	)

	return strings.Join(lines, "\n")
}

// BuildArticleSummaries は記事一覧をプロンプト用のテキストに変換する。
func BuildArticleSummaries(items []model.Item, feedTitles map[string]string) string {
	var b strings.Builder
	for i, it := range items {
		source := feedTitles[it.FeedID]
		if source == "" {
			source = "Unknown source"
		}

		summary := it.Summary
		if strings.TrimSpace(summary) == "" {
			summary = it.Content
		}
		summary = truncateRunes(extractText(summary), maxSummaryRunes)
		if summary == "" {
			summary = "No summary available"
		}

		fmt.Fprintf(&b, "%d. %q\n", i+1, it.Title)
		fmt.Fprintf(&b, "   Source: %s\n", source)
		if len(it.Categories) > 0 {
			fmt.Fprintf(&b, "   Category: %s\n", strings.Join(it.Categories, ", "))
		}
		if n := it.SourceCount(); n > 1 {
			fmt.Fprintf(&b, "   Seen across %d sources\n", n)
		}
		fmt.Fprintf(&b, "   Published: %s\n", it.PublishedAt.Format("2006-01-02"))
		fmt.Fprintf(&b, "   Link: %s\n", it.Link)
		fmt.Fprintf(&b, "   Summary: %s\n\n", summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildSettingsContext(p model.DigestPreferences) string {
	var lines []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Newsletter Name", p.DigestName)
	add("Newsletter Description", p.Description)
	add("Tone", p.Tone)
	add("Language", p.Language)
	if p.Footer != "" {
		lines = append(lines, fmt.Sprintf("Footer: %q", p.Footer))
	}
	if len(lines) == 0 {
		return ""
	}
	return "NEWSLETTER SETTINGS:\n" + strings.Join(lines, "\n")
}

func bodyRequirements(p model.DigestPreferences) []string {
	req := []string{
		"Main section headers MUST NOT be numbered.",
		"Subheadings (each article item) MUST be numbered (1, 2, 3...) and include the article title.",
		"After EACH article paragraph, append a link on its own line: [Read more →](URL).",
		"Each source MUST appear as its own section. Ensure balance across sources.",
		"Use Markdown (#, ##, ###), bullet points and emphasis.",
	}
	if p.Language != "" {
		req = append(req, "Write the whole newsletter in "+p.Language+".")
	}
	if p.Footer != "" {
		req = append(req, "The footer must appear at the end following a --- separator.")
	}
	return req
}

// extractText はHTMLを含む本文から読みやすいテキストを取り出す。
// readabilityで抽出できない断片はタグを除去するだけにする。
func extractText(content string) string {
	content = strings.TrimSpace(content)
	if content == "" || !htmlTagPattern.MatchString(content) {
		return content
	}

	article, err := readability.FromReader(strings.NewReader(content), nil)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return cleanText(article.TextContent)
	}
	return cleanText(html.UnescapeString(stripPolicy.Sanitize(content)))
}

// cleanText は3行以上続く空行を1つにまとめる。
func cleanText(text string) string {
	return strings.TrimSpace(redundantNewLines.ReplaceAllString(text, "\n"))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
