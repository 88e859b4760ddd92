// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feed, schedule, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeFeedNotDetected = "FEED_NOT_DETECTED"
	ErrCodeInvalidURL      = "INVALID_URL"
	ErrCodeSSRFBlocked     = "SSRF_BLOCKED"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeParseFailed     = "PARSE_FAILED"
	ErrCodeFeedLimit       = "FEED_LIMIT"
	ErrCodeDuplicateFeed   = "DUPLICATE_FEED"
	ErrCodeFeedNotFound    = "FEED_NOT_FOUND"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeInvalidSchedule = "INVALID_SCHEDULE"
	ErrCodeScheduleLimit   = "SCHEDULE_LIMIT"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidPrefs    = "INVALID_PREFERENCES"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "feed",
		Action:   "RSS/AtomフィードのURLを直接入力するか、フィードが公開されているページのURLを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "10〜300文字の http:// または https:// で始まるURLを入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "フィードの解析に失敗しました。",
		Category: "feed",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}

// NewFeedLimitError はプランのフィード登録上限エラーを生成する。
func NewFeedLimitError(plan Plan, limit int) *APIError {
	return &APIError{
		Code:     ErrCodeFeedLimit,
		Message:  fmt.Sprintf("%sプランのフィード登録数が上限（%d件）に達しています。", plan, limit),
		Category: "feed",
		Action:   "不要なフィードを削除するか、プランをアップグレードしてください。",
	}
}

// NewDuplicateFeedError は登録済みのフィードを再度登録しようとした場合のエラーを生成する。
func NewDuplicateFeedError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateFeed,
		Message:  "このフィードは既に登録されています。",
		Category: "feed",
		Action:   "フィード一覧から該当フィードを確認してください。",
	}
}

// NewFeedNotFoundError はフィードが見つからない場合のエラーを生成する。
func NewFeedNotFoundError(feedID string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  fmt.Sprintf("指定されたフィードが見つかりません: %s", feedID),
		Category: "feed",
		Action:   "フィードIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidScheduleError は配信スケジュールの形式エラーを生成する。
func NewInvalidScheduleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchedule,
		Message:  fmt.Sprintf("無効な配信スケジュールです: %s", reason),
		Category: "schedule",
		Action:   "配信時刻は24時間表記の HH:MM、曜日は mon, tue, wed, thu, fri, sat, sun から指定してください。",
	}
}

// NewScheduleLimitError はプランで許可されていないスケジュールのエラーを生成する。
func NewScheduleLimitError(plan Plan) *APIError {
	return &APIError{
		Code:     ErrCodeScheduleLimit,
		Message:  fmt.Sprintf("%sプランではダイジェスト配信を利用できません。", plan),
		Category: "schedule",
		Action:   "プランをアップグレードしてください。",
	}
}

// NewUnauthorizedError は認証失敗エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "有効なトークンを指定してください。",
	}
}

// NewInvalidPreferencesError はダイジェスト設定の形式エラーを生成する。
func NewInvalidPreferencesError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPrefs,
		Message:  fmt.Sprintf("無効なダイジェスト設定です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディが解析できないエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After の秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
