package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は配信APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandSweep はライセンス巡回を1回だけ実行することを示す。
	// スケジューラを経由しない手動実行・cron実行用。
	CommandSweep Command = "sweep"
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
	case "sweep":
		return CommandSweep
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
