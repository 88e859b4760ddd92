// Package item は記事の取り込みと配信候補の選定を提供する。
package item

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/digestman/internal/model"
	"github.com/hitoshi/digestman/internal/repository"
	"github.com/hitoshi/digestman/internal/security"
)

// SightingStore は記事の原子的な取り込みを行うストアのインターフェース。
type SightingStore interface {
	UpsertSighting(ctx context.Context, item *model.Item, feedID string) (repository.UpsertResult, error)
}

// IngestResult は1回の取り込みの集計。
type IngestResult struct {
	Created   int // 新規作成
	Appended  int // 既存記事の配信元にフィードを追加
	Unchanged int // 同じフィードからの再取得
	Skipped   int // 同一性キーがない、または保存に失敗
}

// Merger はフィードから取得した記事をGUID単位で集約して保存する。
// 同じGUIDを複数フィードが配信している場合は1件の記事にまとめ、
// 配信元フィードの集合だけを増やす。既存記事のメタデータは上書きしない。
type Merger struct {
	store     SightingStore
	sanitizer security.ContentSanitizerService
	logger    *slog.Logger
	now       func() time.Time
}

// NewMerger はMergerの新しいインスタンスを生成する。
func NewMerger(store SightingStore, sanitizer security.ContentSanitizerService, logger *slog.Logger) *Merger {
	return &Merger{
		store:     store,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest はフィードの記事を取り込む。
// 個別記事の保存失敗はSkippedとして数えて残りを続行する。
// コンテキストがキャンセルされた場合は中断してエラーを返す。
func (m *Merger) Ingest(ctx context.Context, feedID string, raws []model.RawItem) (IngestResult, error) {
	var result IngestResult
	if len(raws) == 0 {
		return result, nil
	}

	fetchedAt := m.now()

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("記事の取り込みを中断しました: %w", err)
		}

		item := m.buildItem(raw, feedID, fetchedAt)
		if item.GUID == "" {
			result.Skipped++
			continue
		}

		upserted, err := m.store.UpsertSighting(ctx, item, feedID)
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("記事の取り込みを中断しました: %w", ctx.Err())
			}
			m.logger.Error("記事の保存に失敗しました",
				slog.String("feed_id", feedID),
				slog.String("guid", item.GUID),
				slog.String("error", err.Error()),
			)
			result.Skipped++
			continue
		}

		switch upserted {
		case repository.UpsertCreated:
			result.Created++
		case repository.UpsertAppended:
			result.Appended++
		default:
			result.Unchanged++
		}
	}

	m.logger.Info("記事の取り込みが完了しました",
		slog.String("feed_id", feedID),
		slog.Int("created", result.Created),
		slog.Int("appended", result.Appended),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}

// buildItem は未保存の記事データから保存用の記事を組み立てる。
// published_at未設定の場合は取得時刻で代用する。
func (m *Merger) buildItem(raw model.RawItem, feedID string, fetchedAt time.Time) *model.Item {
	summary := m.sanitizer.Sanitize(raw.Summary)
	item := &model.Item{
		ID:            uuid.New().String(),
		GUID:          identityKey(raw, summary),
		FeedID:        feedID,
		SourceFeedIDs: []string{feedID},
		Title:         strings.TrimSpace(raw.Title),
		Link:          strings.TrimSpace(raw.Link),
		Content:       m.sanitizer.Sanitize(raw.Content),
		Summary:       summary,
		Author:        strings.TrimSpace(raw.Author),
		Categories:    normalizeCategories(raw.Categories),
		PublishedAt:   fetchedAt,
		CreatedAt:     fetchedAt,
	}
	if raw.PublishedAt != nil {
		item.PublishedAt = *raw.PublishedAt
	}
	return item
}

// identityKey は記事の同一性キーを決める。
// 優先順位: GUID > link > hash(title + published + summary)
func identityKey(raw model.RawItem, sanitizedSummary string) string {
	if guid := strings.TrimSpace(raw.GUID); guid != "" {
		return guid
	}
	if link := strings.TrimSpace(raw.Link); link != "" {
		return link
	}
	if strings.TrimSpace(raw.Title) == "" && sanitizedSummary == "" {
		return ""
	}
	return "sha256:" + computeContentHash(raw.Title, raw.PublishedAt, sanitizedSummary)
}

// computeContentHash はtitle + published + summaryのSHA-256ハッシュを計算する。
func computeContentHash(title string, publishedAt *time.Time, summary string) string {
	pubStr := ""
	if publishedAt != nil {
		pubStr = publishedAt.UTC().Format(time.RFC3339)
	}
	data := fmt.Sprintf("%s|%s|%s", title, pubStr, summary)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// normalizeCategories は空白を除去し、空要素と重複を取り除く。
func normalizeCategories(categories []string) []string {
	trimmed := lo.Map(categories, func(c string, _ int) string { return strings.TrimSpace(c) })
	return lo.Uniq(lo.Filter(trimmed, func(c string, _ int) bool { return c != "" }))
}
