package schedule

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	_ "time/tzdata" // 利用者が指定するタイムゾーンをOSのtzdataに依存せず解決する

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/digestman/internal/model"
)

// sendTimePattern は24時間表記の時刻。時の先頭0は省略できる（9:05 → 09:05）。
var sendTimePattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// Input はスケジュール設定の入力。
type Input struct {
	SendTime string   `json:"send_time" validate:"required,sendtime"`
	Days     []string `json:"days" validate:"max=7,unique,dive,weekday"`
	// Timezone はSendTimeを解釈するIANAタイムゾーン。空なら基準タイムゾーン。
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// Validator はスケジュール入力の検証を行う。
type Validator struct {
	validate *validator.Validate
}

// NewValidator はカスタムルールを登録したValidatorを生成する。
func NewValidator() *Validator {
	validate := validator.New()

	validate.RegisterValidation("sendtime", func(fl validator.FieldLevel) bool {
		return sendTimePattern.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		return model.Weekday(fl.Field().String()).Valid()
	})

	// エラーメッセージにはJSONのフィールド名を使う
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: validate}
}

// Validate は入力を検証し、違反があれば*model.APIErrorを返す。
func (v *Validator) Validate(in Input) error {
	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return model.NewInvalidScheduleError(err.Error())
	}

	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		messages = append(messages, describe(fe))
	}
	return model.NewInvalidScheduleError(strings.Join(messages, ", "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s は必須です", field)
	case "sendtime":
		return fmt.Sprintf("%s は HH:MM 形式で指定してください: %v", field, fe.Value())
	case "weekday":
		return fmt.Sprintf("無効な曜日です: %v", fe.Value())
	case "unique":
		return fmt.Sprintf("%s に重複があります", field)
	case "max":
		return fmt.Sprintf("%s は%s件以内で指定してください", field, fe.Param())
	case "timezone":
		return fmt.Sprintf("無効なタイムゾーンです: %v", fe.Value())
	default:
		return fmt.Sprintf("%s が不正です", field)
	}
}

// ParseSendTime は "H:MM" または "HH:MM" を時と分に分解する。
func ParseSendTime(s string) (hour, minute int, err error) {
	m := sendTimePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, model.NewInvalidScheduleError(fmt.Sprintf("時刻は HH:MM 形式で指定してください: %q", s))
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// FormatSendTime は時と分を "HH:MM" に整形する。
func FormatSendTime(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// NormalizeDays は曜日を月曜始まりの順に並べる。
func NormalizeDays(days []string) []model.Weekday {
	result := make([]model.Weekday, 0, len(days))
	for _, d := range days {
		result = append(result, model.Weekday(d))
	}
	sort.Slice(result, func(i, j int) bool {
		return dayIndex(result[i]) < dayIndex(result[j])
	})
	return result
}

// dayIndex は月曜を0とする曜日の番号を返す。
func dayIndex(d model.Weekday) int {
	for i, w := range weekOrder {
		if w == d {
			return i
		}
	}
	return len(weekOrder)
}

var weekOrder = []model.Weekday{
	model.Monday, model.Tuesday, model.Wednesday, model.Thursday,
	model.Friday, model.Saturday, model.Sunday,
}
