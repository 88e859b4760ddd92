package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hitoshi/digestman/internal/model"
)

// defaultSubject は生成結果にも設定にも件名の候補がない場合の件名。
const defaultSubject = "Your Daily Digest"

// ErrGeneratorDisabled はAPIキー未設定で生成できないことを示す。
var ErrGeneratorDisabled = errors.New("OpenAIのAPIキーが設定されていません")

// ChatClient はチャット補完APIのインターフェース。*openai.Client が満たす。
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GenerateRequest は1ユーザー分のダイジェスト生成の入力。
type GenerateRequest struct {
	User       *model.User
	Items      []model.Item
	FeedTitles map[string]string
	Start      time.Time
	End        time.Time
}

// generatedDigest はモデルに返させるJSONの形。
type generatedDigest struct {
	SuggestedTitles       []string `json:"suggestedTitles"`
	SuggestedSubjectLines []string `json:"suggestedSubjectLines"`
	Body                  string   `json:"body"`
	TopAnnouncements      []string `json:"topAnnouncements"`
	AdditionalInfo        string   `json:"additionalInfo"`
}

// Generator は言語モデルでダイジェスト本文を生成し、HTMLメールに組み立てる。
type Generator struct {
	client   ChatClient
	model    string
	renderer *Renderer
	logger   *slog.Logger
	enabled  bool
}

// NewOpenAIGenerator はOpenAI APIを使うGeneratorを生成する。
// apiKeyが空の場合、Generateは常にErrGeneratorDisabledを返す。
func NewOpenAIGenerator(apiKey, modelName string, renderer *Renderer, logger *slog.Logger) *Generator {
	g := NewGenerator(openai.NewClient(apiKey), modelName, renderer, logger)
	g.enabled = apiKey != ""
	logger.Info("ダイジェスト生成の設定", slog.Bool("enabled", g.enabled), slog.String("model", modelName))
	return g
}

// NewGenerator は任意のChatClientを使うGeneratorを生成する。
func NewGenerator(client ChatClient, modelName string, renderer *Renderer, logger *slog.Logger) *Generator {
	return &Generator{
		client:   client,
		model:    modelName,
		renderer: renderer,
		logger:   logger,
		enabled:  true,
	}
}

// Generate はダイジェストを生成する。
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*model.Digest, error) {
	if !g.enabled {
		return nil, ErrGeneratorDisabled
	}
	if req.User == nil {
		return nil, errors.New("ユーザーが指定されていません")
	}
	if len(req.Items) == 0 {
		return nil, errors.New("生成対象の記事がありません")
	}

	prompt := BuildPrompt(PromptInput{
		Items:       req.Items,
		FeedTitles:  req.FeedTitles,
		Preferences: req.User.Preferences,
		Start:       req.Start,
		End:         req.End,
	})

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You write email newsletters and always answer with a single JSON object.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("チャット補完の呼び出しに失敗しました: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("チャット補完の応答が空です")
	}

	out, err := parseGenerated(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	subject := pickSubject(out, req.User.Preferences)

	g.logger.Info("ダイジェストを生成しました",
		slog.String("user_id", req.User.ID),
		slog.Int("item_count", len(req.Items)),
		slog.Int("prompt_length", len(prompt)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return g.renderer.Render(subject, out.Body, req.User.Preferences, len(req.Items), req.End)
}

// parseGenerated はモデルの応答からJSONを取り出してデコードする。
// コードフェンスで囲まれた応答も受け付ける。
func parseGenerated(content string) (*generatedDigest, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "{"); i > 0 {
		content = content[i:]
	}
	if i := strings.LastIndex(content, "}"); i >= 0 && i < len(content)-1 {
		content = content[:i+1]
	}

	var out generatedDigest
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("生成結果のJSONパースに失敗しました: %w", err)
	}
	if strings.TrimSpace(out.Body) == "" {
		return nil, errors.New("生成結果の本文が空です")
	}
	return &out, nil
}

// pickSubject は件名候補、タイトル候補、ダイジェスト名、既定値の順に件名を選ぶ。
func pickSubject(out *generatedDigest, prefs model.DigestPreferences) string {
	for _, candidates := range [][]string{out.SuggestedSubjectLines, out.SuggestedTitles} {
		for _, s := range candidates {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	if name := strings.TrimSpace(prefs.DigestName); name != "" {
		return name
	}
	return defaultSubject
}
