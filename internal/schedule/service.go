package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/digestman/internal/identity"
	"github.com/hitoshi/digestman/internal/model"
)

// ScheduleStore はスケジュールの永続化インターフェース。
type ScheduleStore interface {
	FindByUserID(ctx context.Context, userID string) (*model.UserSchedule, error)
	Upsert(ctx context.Context, schedule *model.UserSchedule) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// PlanPolicy はプランで定期配信を設定できるかを判定するインターフェース。
type PlanPolicy interface {
	CanSchedule(user *model.User) bool
}

// Service は配信スケジュールの設定を管理する。
type Service struct {
	store     ScheduleStore
	users     identity.Provider
	policy    PlanPolicy
	validator *Validator
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。locは基準タイムゾーン。
func NewService(store ScheduleStore, users identity.Provider, policy PlanPolicy, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:     store,
		users:     users,
		policy:    policy,
		validator: NewValidator(),
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// SaveSchedule は入力を検証し、基準タイムゾーンに正規化して保存する。
// 検証エラーは*model.APIErrorとして返す。
func (s *Service) SaveSchedule(ctx context.Context, userID string, in Input) (*model.UserSchedule, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	user, err := s.users.LookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if s.policy != nil && !s.policy.CanSchedule(user) {
		return nil, model.NewScheduleLimitError(user.Plan)
	}

	hour, minute, err := ParseSendTime(in.SendTime)
	if err != nil {
		return nil, err
	}
	days := NormalizeDays(in.Days)

	if in.Timezone != "" {
		src, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, model.NewInvalidScheduleError(fmt.Sprintf("無効なタイムゾーンです: %s", in.Timezone))
		}
		hour, minute, days = ToCanonical(hour, minute, days, src, s.loc, s.now())
	}

	schedule := &model.UserSchedule{
		UserID:    userID,
		SendTime:  FormatSendTime(hour, minute),
		Days:      days,
		UpdatedAt: s.now(),
	}
	if err := s.store.Upsert(ctx, schedule); err != nil {
		return nil, fmt.Errorf("スケジュールの保存に失敗: %w", err)
	}

	s.logger.Info("配信スケジュールを保存しました",
		slog.String("user_id", userID),
		slog.String("send_time", schedule.SendTime),
		slog.Int("days", len(schedule.Days)),
	)
	return schedule, nil
}

// GetSchedule はユーザーのスケジュールを返す。未設定ならnilを返す。
func (s *Service) GetSchedule(ctx context.Context, userID string) (*model.UserSchedule, error) {
	schedule, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("スケジュールの取得に失敗: %w", err)
	}
	return schedule, nil
}

// DeleteSchedule はユーザーのスケジュールを削除する。
func (s *Service) DeleteSchedule(ctx context.Context, userID string) error {
	if err := s.store.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("スケジュールの削除に失敗: %w", err)
	}
	return nil
}

// ToCanonical はsrcでの時刻と曜日を基準タイムゾーンdstに変換する。
// 夏時間の扱いのためrefの日付を基準に換算する。日付が前後にずれた場合は曜日もずらす。
func ToCanonical(hour, minute int, days []model.Weekday, src, dst *time.Location, ref time.Time) (int, int, []model.Weekday) {
	r := ref.In(src)
	local := time.Date(r.Year(), r.Month(), r.Day(), hour, minute, 0, 0, src)
	converted := local.In(dst)

	localDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	convertedDate := time.Date(converted.Year(), converted.Month(), converted.Day(), 0, 0, 0, 0, time.UTC)
	shift := int(convertedDate.Sub(localDate).Hours() / 24)

	shifted := make([]model.Weekday, 0, len(days))
	for _, d := range days {
		shifted = append(shifted, weekOrder[(dayIndex(d)+shift+7)%7])
	}
	strs := make([]string, len(shifted))
	for i, d := range shifted {
		strs[i] = string(d)
	}
	return converted.Hour(), converted.Minute(), NormalizeDays(strs)
}
