package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/digestman/internal/model"
)

// PreferencesInput はダイジェスト設定の入力。空文字の項目は既定値として扱われる。
type PreferencesInput struct {
	DigestName  string `json:"digest_name" validate:"max=100"`
	Description string `json:"description" validate:"max=500"`
	Tone        string `json:"tone" validate:"max=100"`
	Language    string `json:"language" validate:"omitempty,bcp47_language_tag"`
	Footer      string `json:"footer" validate:"max=1000"`
	SenderEmail string `json:"sender_email" validate:"omitempty,email,max=254"`
}

func newPreferencesValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePreferences は入力を検証し、違反があれば*model.APIErrorを返す。
func (s *Service) ValidatePreferences(in PreferencesInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return model.NewInvalidPreferencesError(err.Error())
	}
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "max":
			messages = append(messages, fmt.Sprintf("%s は%s文字以内で指定してください", fe.Field(), fe.Param()))
		case "email":
			messages = append(messages, fmt.Sprintf("%s はメールアドレスの形式で指定してください", fe.Field()))
		case "bcp47_language_tag":
			messages = append(messages, fmt.Sprintf("%s は言語タグ（例: ja, en-US）で指定してください", fe.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s が不正です", fe.Field()))
		}
	}
	return model.NewInvalidPreferencesError(strings.Join(messages, ", "))
}

// GetPreferences はユーザーのダイジェスト設定を返す。
func (s *Service) GetPreferences(ctx context.Context, userID string) (*model.DigestPreferences, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	prefs := user.Preferences
	return &prefs, nil
}

// UpdatePreferences はダイジェスト設定を検証して上書き保存する。
func (s *Service) UpdatePreferences(ctx context.Context, userID string, in PreferencesInput) (*model.DigestPreferences, error) {
	in = trimPreferences(in)
	if err := s.ValidatePreferences(in); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	prefs := model.DigestPreferences{
		DigestName:  in.DigestName,
		Description: in.Description,
		Tone:        in.Tone,
		Language:    in.Language,
		Footer:      in.Footer,
		SenderEmail: in.SenderEmail,
	}
	if err := s.userRepo.UpdatePreferences(ctx, userID, prefs); err != nil {
		return nil, fmt.Errorf("ダイジェスト設定の保存に失敗しました: %w", err)
	}

	s.logger.Info("ダイジェスト設定を更新しました",
		slog.String("user_id", userID),
	)
	return &prefs, nil
}

func trimPreferences(in PreferencesInput) PreferencesInput {
	in.DigestName = strings.TrimSpace(in.DigestName)
	in.Description = strings.TrimSpace(in.Description)
	in.Tone = strings.TrimSpace(in.Tone)
	in.Language = strings.TrimSpace(in.Language)
	in.Footer = strings.TrimSpace(in.Footer)
	in.SenderEmail = strings.TrimSpace(in.SenderEmail)
	return in
}
