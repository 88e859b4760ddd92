// Package entitlement はプランごとの利用上限を判定する。
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/digestman/internal/model"
)

// Limits はプランごとの利用上限。
type Limits struct {
	MaxFeeds         int
	MaxDigestsPerDay int
}

var planLimits = map[model.Plan]Limits{
	model.PlanFree:    {MaxFeeds: 0, MaxDigestsPerDay: 0},
	model.PlanStarter: {MaxFeeds: 1, MaxDigestsPerDay: 1},
	model.PlanPro:     {MaxFeeds: 3, MaxDigestsPerDay: 3},
}

// LimitsFor はプランの上限を返す。未知のプランはfreeとして扱う。
func LimitsFor(plan model.Plan) Limits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits[model.PlanFree]
}

// DeliveryCounter は配信件数を数えるストアのインターフェース。
type DeliveryCounter interface {
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Checker はプランの上限を適用する。enabledがfalseの場合は常に許可する。
type Checker struct {
	enabled bool
	counter DeliveryCounter
	loc     *time.Location
}

// NewChecker はCheckerを生成する。locは1日の境界を決める基準タイムゾーン。
func NewChecker(enabled bool, counter DeliveryCounter, loc *time.Location) *Checker {
	if loc == nil {
		loc = time.UTC
	}
	return &Checker{enabled: enabled, counter: counter, loc: loc}
}

// Enabled は上限が適用されるかを返す。
func (c *Checker) Enabled() bool {
	return c != nil && c.enabled
}

// CanAddFeed は現在のフィード数からさらに1件登録できるかを返す。
// 拒否する場合は上限値も返す。
func (c *Checker) CanAddFeed(user *model.User, current int) (bool, int) {
	if !c.Enabled() {
		return true, 0
	}
	limit := LimitsFor(user.Plan).MaxFeeds
	return current < limit, limit
}

// CanSchedule はプランで定期配信を設定できるかを返す。
func (c *Checker) CanSchedule(user *model.User) bool {
	if !c.Enabled() {
		return true
	}
	return LimitsFor(user.Plan).MaxDigestsPerDay > 0
}

// AllowDigest は基準タイムゾーンでの当日の配信数が上限未満かを返す。
func (c *Checker) AllowDigest(ctx context.Context, user *model.User, now time.Time) (bool, error) {
	if !c.Enabled() {
		return true, nil
	}
	limit := LimitsFor(user.Plan).MaxDigestsPerDay
	if limit <= 0 {
		return false, nil
	}

	local := now.In(c.loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	count, err := c.counter.CountSince(ctx, user.ID, startOfDay)
	if err != nil {
		return false, fmt.Errorf("当日の配信数の取得に失敗: %w", err)
	}
	return count < limit, nil
}
