package app

import (
	"flag"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandDispatch は配信実行を1回だけ行うことを示す。
	// cronなど外部スケジューラから1分ごとに起動する用途を想定している。
	CommandDispatch Command = "dispatch"
	// CommandCleanup は保持期間を過ぎた記事と記録を削除することを示す。
	CommandCleanup Command = "cleanup"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "dispatch":
		return CommandDispatch
	case "cleanup":
		return CommandCleanup
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// DispatchFlags はdispatchサブコマンドのオプション。
type DispatchFlags struct {
	Manual bool
}

// ParseDispatchFlags はdispatchサブコマンド以降の引数を解析する。
// argsにはサブコマンド名を除いた引数を渡す。
func ParseDispatchFlags(args []string, errOut io.Writer) (DispatchFlags, error) {
	var f DispatchFlags
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.BoolVar(&f.Manual, "manual", false, "分単位の実行ロックを使わずに実行する")
	if err := fs.Parse(args); err != nil {
		return DispatchFlags{}, err
	}
	return f, nil
}
