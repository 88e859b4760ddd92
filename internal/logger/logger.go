package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup はINFOレベルのJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel は指定レベル以上を出力するJSON構造化ロガーを生成する。
func SetupWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。LOG_LEVEL でレベルを変更できる。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := SetupWithLevel(w, ParseLevel(os.Getenv("LOG_LEVEL")))
	slog.SetDefault(logger)
}

// ParseLevel はログレベル名をslog.Levelに変換する。不明な値はINFOとする。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun はディスパッチ実行IDを付与した子ロガーを返す。
func WithRun(l *slog.Logger, runID string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("run_id", runID))
}
