package fetch

import (
	"context"
	"errors"
	"fmt"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop は再試行しても回復しないステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff は時間を置けば回復し得るステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

// String はメトリクスのラベルとして使う分類名を返す。
func (r FetchResult) String() string {
	switch r {
	case FetchResultOK:
		return "ok"
	case FetchResultNotModified:
		return "not_modified"
	case FetchResultStop:
		return "stop"
	case FetchResultBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// StatusError は200以外のHTTPレスポンスを表す。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPステータス %d (%s)", e.StatusCode, ClassifyHTTPStatus(e.StatusCode))
}

// ParseError はフィード本文のパース失敗を表す。
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("フィードのパースに失敗: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// FailureReason はフェッチエラーをメトリクス用の理由に分類する。
func FailureReason(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "http_" + ClassifyHTTPStatus(statusErr.StatusCode).String()
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	return "request"
}
