package app

import (
	"fmt"
	"strconv"

	"github.com/jessevdk/go-flags"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker は定期スキャン・スコア再計算・管理APIを起動することを示す。
	CommandWorker Command = "worker"
	// CommandServe は管理APIのみを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandUpload は指定したギャラリーをアップロードすることを示す。
	CommandUpload Command = "upload"
	// CommandUpdate は指定したギャラリーを再チェックすることを示す。
	CommandUpdate Command = "update"
	// CommandReupload は高評価ギャラリーの再アップロードバッチを実行することを示す。
	CommandReupload Command = "reupload"
	// CommandRecheck は記事の再確認バッチを実行することを示す。
	CommandRecheck Command = "recheck"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command
	// Force はupload/updateで判定ゲートを無効にする。
	Force bool
	// URLs はupload/updateの対象ギャラリーURL。
	URLs []string
	// IDs はreupload/recheckの対象ギャラリーID。空の場合は全件。
	IDs []int64
}

type forceOptions struct {
	Force bool `short:"f" long:"force" description:"保存済み・再チェック間隔内でも処理する"`
}

type noOptions struct{}

// ParseCommand はコマンドライン引数からサブコマンドとオプションを解析する。
// 引数が空の場合はCommandWorkerを返す。
func ParseCommand(args []string) (*Invocation, error) {
	if len(args) == 0 {
		return &Invocation{Command: CommandWorker}, nil
	}

	var upload, update forceOptions
	parser := flags.NewNamedParser("exloli", flags.HelpFlag|flags.PassDoubleDash)

	commands := []struct {
		cmd   Command
		short string
		data  any
	}{
		{CommandWorker, "定期スキャン・スコア再計算・管理APIを起動する", &noOptions{}},
		{CommandServe, "管理APIのみを起動する", &noOptions{}},
		{CommandMigrate, "データベースマイグレーションを実行する", &noOptions{}},
		{CommandUpload, "指定したギャラリーをアップロードする: upload [--force] <url>...", &upload},
		{CommandUpdate, "指定したギャラリーを再チェックする: update [--force] <url>...", &update},
		{CommandReupload, "高評価ギャラリーを再アップロードする: reupload [id...]", &noOptions{}},
		{CommandRecheck, "記事を再確認し、消えていれば再公開する: recheck [id...]", &noOptions{}},
		{CommandHealthcheck, "管理APIの/healthを確認する", &noOptions{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(string(c.cmd), c.short, c.short, c.data); err != nil {
			return nil, fmt.Errorf("failed to register command %s: %w", c.cmd, err)
		}
	}

	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{Command: Command(parser.Active.Name)}
	switch inv.Command {
	case CommandUpload, CommandUpdate:
		if len(rest) == 0 {
			return nil, fmt.Errorf("%s requires at least one gallery URL", inv.Command)
		}
		inv.URLs = rest
		inv.Force = upload.Force || update.Force
	case CommandReupload, CommandRecheck:
		ids, err := parseIDs(rest)
		if err != nil {
			return nil, err
		}
		inv.IDs = ids
	default:
		if len(rest) > 0 {
			return nil, fmt.Errorf("%s takes no arguments: %v", inv.Command, rest)
		}
	}
	return inv, nil
}

// parseIDs はギャラリーIDの並びを解析する。
func parseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid gallery id: %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
