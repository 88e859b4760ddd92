// Package model はドメインモデルを定義する。
package model

import "time"

// Item は取り込み済みの記事を表す。
// GUIDは全フィードを通じて一意であり、同じ記事を配信しているフィードは
// SourceFeedIDs に集約される。
type Item struct {
	ID            string
	GUID          string
	FeedID        string   // 最初にこの記事を取り込んだフィード
	SourceFeedIDs []string // この記事を配信していることが確認されたフィード
	Title         string
	Link          string
	Content       string // サニタイズ済みHTML
	Summary       string // サニタイズ済み
	Author        string
	Categories    []string
	PublishedAt   time.Time
	CreatedAt     time.Time
}

// SourceCount は記事を配信しているフィード数を返す。
func (i Item) SourceCount() int {
	return len(i.SourceFeedIDs)
}

// RawItem はフェッチャーが返す未保存の記事データを表す。
type RawItem struct {
	GUID        string
	Title       string
	Link        string
	Content     string // 未サニタイズのHTML
	Summary     string // 未サニタイズ
	Author      string
	Categories  []string
	PublishedAt *time.Time
}
