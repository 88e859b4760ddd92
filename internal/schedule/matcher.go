// Package schedule は配信スケジュールの照合と設定を提供する。
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/tomakado/containers/set"

	"github.com/hitoshi/digestman/internal/model"
)

// CanonicalClock は時刻を基準タイムゾーンに変換し、分単位の時刻と曜日を返す。
func CanonicalClock(now time.Time, loc *time.Location) model.Clock {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return model.Clock{
		Time: FormatSendTime(local.Hour(), local.Minute()),
		Day:  model.WeekdayOf(local.Weekday()),
	}
}

// Matches はスケジュールが指定の時刻に配信対象かを判定する。
// 時刻は分単位で完全一致し、曜日が空なら毎日、それ以外は曜日を含むときに一致する。
func Matches(clock model.Clock, s model.UserSchedule) bool {
	if s.SendTime != clock.Time {
		return false
	}
	if len(s.Days) == 0 {
		return true
	}
	return set.New(s.Days...).Contains(clock.Day)
}

// ScheduleLister は配信時刻でスケジュールを検索するストアのインターフェース。
type ScheduleLister interface {
	ListBySendTime(ctx context.Context, sendTime string) ([]*model.UserSchedule, error)
}

// Matcher は現在時刻に配信対象となるユーザーを求める。
type Matcher struct {
	schedules ScheduleLister
	loc       *time.Location
}

// NewMatcher はMatcherを生成する。locは基準タイムゾーン。
func NewMatcher(schedules ScheduleLister, loc *time.Location) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{schedules: schedules, loc: loc}
}

// Location は基準タイムゾーンを返す。
func (m *Matcher) Location() *time.Location {
	return m.loc
}

// DueUsers はnowに配信対象となるスケジュールをストアの順で返す。
// ストアのエラーはそのまま返し、呼び出し側は実行全体を中断する。
func (m *Matcher) DueUsers(ctx context.Context, now time.Time) (model.Clock, []*model.UserSchedule, error) {
	clock := CanonicalClock(now, m.loc)

	candidates, err := m.schedules.ListBySendTime(ctx, clock.Time)
	if err != nil {
		return clock, nil, fmt.Errorf("配信スケジュールの取得に失敗: %w", err)
	}

	due := make([]*model.UserSchedule, 0, len(candidates))
	for _, s := range candidates {
		if Matches(clock, *s) {
			due = append(due, s)
		}
	}
	return clock, due, nil
}
