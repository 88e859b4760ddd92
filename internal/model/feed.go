// Package model はドメインモデルを定義する。
package model

import "time"

// Feed はユーザーが登録したRSS/Atomフィードを表す。
// 同一URLのFeedは複数ユーザー分存在し得る。鮮度はURL単位で判定する。
type Feed struct {
	ID              string
	UserID          string
	URL             string
	SiteURL         string
	Title           string
	IsActive        bool
	LastRefreshedAt *time.Time // 最後にポーリングが成功した時刻。未取得ならnil
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ParsedFeed はフェッチしてパースしたフィード本体を表す。
type ParsedFeed struct {
	Title   string
	SiteURL string
	Items   []RawItem
}
