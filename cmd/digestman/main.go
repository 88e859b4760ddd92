// Command digestman はフィードの要約ダイジェストを配信するサービスを起動する。
//
// サブコマンド:
//
//	serve        APIサーバーを起動する（デフォルト）
//	dispatch     配信実行を1回行う（--manual で分単位ロックを使わない）
//	cleanup      保持期間を過ぎた記事と記録を削除する
//	migrate      データベースマイグレーションを適用する
//	healthcheck  /health を確認する
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/digestman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
