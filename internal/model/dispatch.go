package model

import "time"

// OutcomeStatus はユーザー単位の処理結果の終端状態を表す。
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeError   OutcomeStatus = "error"
)

// スキップ・エラーの理由コード
const (
	ReasonNoAddress        = "no-address"
	ReasonNoFeeds          = "no-feeds"
	ReasonNoContent        = "no-content"
	ReasonAlreadySent      = "already-sent"
	ReasonPlanLimit        = "plan-limit"
	ReasonUserNotFound     = "user-not-found"
	ReasonLookupFailed     = "lookup-failed"
	ReasonSelectFailed     = "select-failed"
	ReasonGenerationFailed = "generation-failed"
	ReasonDeliveryFailed   = "delivery-failed"
	ReasonDeadlineExceeded = "deadline-exceeded"
	ReasonCanceled         = "canceled"
	ReasonInternal         = "internal-error"
)

// Outcome はディスパッチ実行中の1ユーザー分の結果。
type Outcome struct {
	UserID    string        `json:"user_id"`
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	ItemCount int           `json:"item_count,omitempty"`
}

// Counts はステータスごとの件数。
type Counts struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Error   int `json:"error"`
}

// DispatchRun は1回のディスパッチ実行の監査記録。
type DispatchRun struct {
	ID            string    `json:"id"`
	TriggeredAt   time.Time `json:"triggered_at"`
	FinishedAt    time.Time `json:"finished_at"`
	CanonicalTime string    `json:"canonical_time"`
	CanonicalDay  Weekday   `json:"canonical_day"`
	Manual        bool      `json:"manual"`
	Duplicate     bool      `json:"duplicate,omitempty"` // 同じ分を他のプロセスが処理中だった
	Counts        Counts    `json:"counts"`
	Outcomes      []Outcome `json:"outcomes"`
}
