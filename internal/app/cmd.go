package app

// Command は timeclock バイナリのサブコマンド。
type Command string

const (
	// CommandServe は打刻APIを公開する。インメモリストアでは不整合スキャンも同じプロセスで動かす。
	CommandServe Command = "serve"
	// CommandWorker は不整合スキャンと監査ログの保持期間管理を実行する。Postgresストア専用。
	CommandWorker Command = "worker"
	// CommandMigrate は打刻・監査・失効トークンのスキーマを最新にする。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIの /health を確認する。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// LookupCommand はサブコマンド名に対応するCommandを返す。未知の名前ではfalseを返す。
func LookupCommand(name string) (Command, bool) {
	cmd, ok := commands[name]
	return cmd, ok
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを決める。
// 引数が無い場合や未知の名前はserveとして扱う。2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := LookupCommand(args[0]); ok {
		return cmd
	}
	return CommandServe
}
