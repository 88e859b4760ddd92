package model

import "time"

// Digest は生成済みのダイジェストメールを表す。
type Digest struct {
	Subject string
	HTML    string
	Text    string
}

// DigestLog はユーザーごとの配信記録を表す。
// Slot は配信対象の分（基準タイムゾーン）で、同一スロットへの再送を防ぐ。
type DigestLog struct {
	ID             string
	UserID         string
	Slot           time.Time
	RecipientEmail string
	Subject        string
	ItemCount      int
	SentAt         time.Time
}
