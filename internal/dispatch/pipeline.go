package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/digestman/internal/balance"
	"github.com/hitoshi/digestman/internal/digest"
	"github.com/hitoshi/digestman/internal/identity"
	"github.com/hitoshi/digestman/internal/item"
	"github.com/hitoshi/digestman/internal/model"
	"github.com/hitoshi/digestman/internal/worker/fetch"
)

// FeedLister はユーザーの有効なフィードを返す。
type FeedLister interface {
	ListActiveByUserID(ctx context.Context, userID string) ([]*model.Feed, error)
}

// FeedRefresher は鮮度切れのフィードを再取得する。
type FeedRefresher interface {
	Refresh(ctx context.Context, feedIDs []string) fetch.RefreshSummary
}

// CandidateSelector は配信候補の記事を選定する。
type CandidateSelector interface {
	Select(ctx context.Context, feedIDs []string, w item.Window) ([]model.Item, error)
}

// Generator はダイジェストを生成する。
type Generator interface {
	Generate(ctx context.Context, req digest.GenerateRequest) (*model.Digest, error)
}

// Deliverer はダイジェストを配信する。
type Deliverer interface {
	Deliver(ctx context.Context, recipient string, d *model.Digest) error
}

// DigestLogStore は配信記録の確認と保存を行う。
type DigestLogStore interface {
	Exists(ctx context.Context, userID string, slot time.Time) (bool, error)
	Create(ctx context.Context, log *model.DigestLog) (bool, error)
}

// DigestQuota はプランの1日あたり配信数を判定する。
type DigestQuota interface {
	AllowDigest(ctx context.Context, user *model.User, now time.Time) (bool, error)
}

// PipelineConfig はユーザー単位処理の設定。
type PipelineConfig struct {
	Capacity     int           // 1通あたりの最大記事数
	PerFeedLimit int           // 0より大きい場合はフィードごとの固定上限で配分する
	Lookback     time.Duration // 候補記事を探す期間
}

// Pipeline は1ユーザー分の配信処理（更新→選定→配分→生成→配信→記録）を行う。
// 想定内の失敗はすべてOutcomeに変換し、呼び出し側にエラーを返さない。
type Pipeline struct {
	users     identity.Provider
	quota     DigestQuota
	feeds     FeedLister
	refresher FeedRefresher
	selector  CandidateSelector
	generator Generator
	deliverer Deliverer
	logs      DigestLogStore
	alloc     balance.Allocation
	lookback  time.Duration
	logger    *slog.Logger
}

// NewPipeline はPipelineを生成する。配分方式はここで1度だけ決定する。
func NewPipeline(
	users identity.Provider,
	quota DigestQuota,
	feeds FeedLister,
	refresher FeedRefresher,
	selector CandidateSelector,
	generator Generator,
	deliverer Deliverer,
	logs DigestLogStore,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Pipeline{
		users:     users,
		quota:     quota,
		feeds:     feeds,
		refresher: refresher,
		selector:  selector,
		generator: generator,
		deliverer: deliverer,
		logs:      logs,
		alloc:     balance.Resolve(cfg.Capacity, cfg.PerFeedLimit),
		lookback:  lookback,
		logger:    logger,
	}
}

// Sent は配信成功の結果を生成する。
func Sent(userID string, itemCount int) model.Outcome {
	return model.Outcome{UserID: userID, Status: model.OutcomeSent, ItemCount: itemCount}
}

// Skipped は想定内の理由で配信しなかった結果を生成する。
func Skipped(userID, reason string) model.Outcome {
	return model.Outcome{UserID: userID, Status: model.OutcomeSkipped, Reason: reason}
}

// Failed は失敗の結果を生成する。
func Failed(userID, reason string, err error) model.Outcome {
	o := model.Outcome{UserID: userID, Status: model.OutcomeError, Reason: reason}
	if err != nil {
		o.Detail = err.Error()
	}
	return o
}

// Process は1ユーザー分の配信処理を行う。slotは配信対象の分で、同じslotへの再送を防ぐ。
func (p *Pipeline) Process(ctx context.Context, userID string, now, slot time.Time) model.Outcome {
	sent, err := p.logs.Exists(ctx, userID, slot)
	if err != nil {
		return Failed(userID, model.ReasonLookupFailed, err)
	}
	if sent {
		return Skipped(userID, model.ReasonAlreadySent)
	}

	user, err := p.users.LookupUser(ctx, userID)
	if err != nil {
		return Failed(userID, model.ReasonLookupFailed, err)
	}
	if user == nil {
		return Skipped(userID, model.ReasonUserNotFound)
	}

	allowed, err := p.quota.AllowDigest(ctx, user, now)
	if err != nil {
		return Failed(userID, model.ReasonLookupFailed, err)
	}
	if !allowed {
		return Skipped(userID, model.ReasonPlanLimit)
	}

	recipient := user.Recipient()
	if recipient == "" {
		return Skipped(userID, model.ReasonNoAddress)
	}

	feeds, err := p.feeds.ListActiveByUserID(ctx, userID)
	if err != nil {
		return Failed(userID, model.ReasonLookupFailed, err)
	}
	if len(feeds) == 0 {
		return Skipped(userID, model.ReasonNoFeeds)
	}
	feedIDs := lo.Map(feeds, func(f *model.Feed, _ int) string { return f.ID })

	// 取得失敗はRefresher内で記録済み。古い記事のまま続行する
	summary := p.refresher.Refresh(ctx, feedIDs)
	p.logger.Debug("フィードを更新しました",
		slog.String("user_id", userID),
		slog.Int("stale", summary.Stale),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)

	window := item.LookbackWindow(now, p.lookback)
	candidates, err := p.selector.Select(ctx, feedIDs, window)
	if err != nil {
		return Failed(userID, model.ReasonSelectFailed, err)
	}

	selected := balance.Balance(candidates, feedIDs, p.alloc)
	if len(selected) == 0 {
		return Skipped(userID, model.ReasonNoContent)
	}

	d, err := p.generator.Generate(ctx, digest.GenerateRequest{
		User:       user,
		Items:      selected,
		FeedTitles: feedTitles(feeds),
		Start:      window.Start,
		End:        window.End,
	})
	if err != nil {
		return Failed(userID, model.ReasonGenerationFailed, err)
	}

	if err := p.deliverer.Deliver(ctx, recipient, d); err != nil {
		return Failed(userID, model.ReasonDeliveryFailed, err)
	}

	// 送信済みのため、記録に失敗しても結果はsentとする
	_, err = p.logs.Create(ctx, &model.DigestLog{
		ID:             uuid.New().String(),
		UserID:         userID,
		Slot:           slot,
		RecipientEmail: recipient,
		Subject:        d.Subject,
		ItemCount:      len(selected),
		SentAt:         time.Now(),
	})
	if err != nil {
		p.logger.Error("配信記録の保存に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("ダイジェストを配信しました",
		slog.String("user_id", userID),
		slog.Int("candidates", len(candidates)),
		slog.Int("selected", len(selected)),
		slog.Any("distribution", balance.Distribution(selected)),
	)

	return Sent(userID, len(selected))
}

// interruptedOutcome は実行期限切れや呼び出し元のキャンセルで中断された処理の結果を、
// 中断理由の結果に置き換える。
func interruptedOutcome(ctx context.Context, o model.Outcome) model.Outcome {
	if o.Status != model.OutcomeError || ctx.Err() == nil {
		return o
	}
	return Failed(o.UserID, interruptReason(ctx.Err()), fmt.Errorf("%s: %w", o.Reason, ctx.Err()))
}

// interruptReason はコンテキスト終了の原因を理由コードに変換する。
func interruptReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ReasonDeadlineExceeded
	}
	return model.ReasonCanceled
}

func feedTitles(feeds []*model.Feed) map[string]string {
	titles := make(map[string]string, len(feeds))
	for _, f := range feeds {
		titles[f.ID] = f.Title
	}
	return titles
}
