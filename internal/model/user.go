// Package model はドメインモデルを定義する。
package model

import "time"

// Plan はユーザーの契約プランを表す。
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// User は外部IdPが管理するユーザーの読み取り専用射影を表す。
type User struct {
	ID          string
	Email       string
	Name        string
	Plan        Plan
	Preferences DigestPreferences
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DigestPreferences はダイジェストの生成と配信に関するユーザー設定。
type DigestPreferences struct {
	DigestName  string
	Description string
	Tone        string
	Language    string
	Footer      string
	SenderEmail string // 空でなければ配信先として優先される
}

// Recipient は配信先メールアドレスを解決する。
// 設定の配信先が優先され、なければアカウントのメールアドレスを使う。
func (u *User) Recipient() string {
	if u == nil {
		return ""
	}
	if u.Preferences.SenderEmail != "" {
		return u.Preferences.SenderEmail
	}
	return u.Email
}
