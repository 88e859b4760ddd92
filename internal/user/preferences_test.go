package user

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/digestman/internal/model"
)

func TestUpdatePreferences_Saves(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: existingUser}
	svc := NewService(repo, &mockFeedLister{}, &mockItemRemover{}, newTestLogger())

	got, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesInput{
		DigestName:  "  Morning Brief ",
		Tone:        "casual",
		Language:    "ja",
		Footer:      "配信停止はこちら",
		SenderEmail: "me@example.com",
	})
	if err != nil {
		t.Fatalf("UpdatePreferences がエラーを返した: %v", err)
	}
	if got.DigestName != "Morning Brief" {
		t.Errorf("DigestName = %q, want 前後の空白を除去した値", got.DigestName)
	}
	if repo.savedPrefs == nil || repo.savedPrefs.SenderEmail != "me@example.com" {
		t.Errorf("保存された設定 = %+v", repo.savedPrefs)
	}
}

func TestUpdatePreferences_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   PreferencesInput
	}{
		{"不正なメールアドレス", PreferencesInput{SenderEmail: "not-an-email"}},
		{"不正な言語タグ", PreferencesInput{Language: "日本語"}},
		{"名前が長すぎる", PreferencesInput{DigestName: strings.Repeat("a", 101)}},
		{"フッターが長すぎる", PreferencesInput{Footer: strings.Repeat("a", 1001)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{findByIDFn: existingUser}
			svc := NewService(repo, &mockFeedLister{}, &mockItemRemover{}, newTestLogger())

			_, err := svc.UpdatePreferences(context.Background(), "u1", tt.in)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidPrefs {
				t.Errorf("err = %v, want INVALID_PREFERENCES", err)
			}
			if repo.savedPrefs != nil {
				t.Error("検証エラー時は保存しないべき")
			}
		})
	}
}

func TestUpdatePreferences_EmptyIsAllowed(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: existingUser}
	svc := NewService(repo, &mockFeedLister{}, &mockItemRemover{}, newTestLogger())

	if _, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesInput{}); err != nil {
		t.Errorf("空の設定は既定値として受け付けるべき: %v", err)
	}
}

func TestUpdatePreferences_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockFeedLister{}, &mockItemRemover{}, newTestLogger())

	_, err := svc.UpdatePreferences(context.Background(), "ghost", PreferencesInput{})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestUpdatePreferences_SaveFailure(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: existingUser, updateErr: errors.New("db error")}
	svc := NewService(repo, &mockFeedLister{}, &mockItemRemover{}, newTestLogger())

	if _, err := svc.UpdatePreferences(context.Background(), "u1", PreferencesInput{}); err == nil {
		t.Error("保存失敗はエラーを返すべき")
	}
}

func TestGetPreferences(t *testing.T) {
	repo := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
		return &model.User{ID: id, Preferences: model.DigestPreferences{DigestName: "Weekly"}}, nil
	}}
	svc := NewService(repo, &mockFeedLister{}, &mockItemRemover{}, newTestLogger())

	got, err := svc.GetPreferences(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPreferences がエラーを返した: %v", err)
	}
	if got.DigestName != "Weekly" {
		t.Errorf("DigestName = %q, want Weekly", got.DigestName)
	}

	svc = NewService(&mockUserRepo{}, &mockFeedLister{}, &mockItemRemover{}, newTestLogger())
	if _, err := svc.GetPreferences(context.Background(), "ghost"); err == nil {
		t.Error("存在しないユーザーはエラーを返すべき")
	}
}
