// Package cmd 实现 walletctl 命令行工具，通过 REST API 操作 walletbridged。
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"WalletBridge/sdk/go/walletbridge"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

type options struct {
	server  string
	timeout time.Duration
}

// NewRootCmd 构造 walletctl 根命令及全部子命令。
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "walletctl",
		Short:         "WalletBridge 命令行工具",
		Long:          `连接钱包、编辑交易草稿、提交交易并查看链上账本。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("WALLETBRIDGE_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "walletbridged 的 API 地址")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", walletbridge.DefaultHTTPTimeout, "单次请求超时")

	root.AddCommand(
		newStateCmd(opts),
		newConnectCmd(opts),
		newDisconnectCmd(opts),
		newDraftCmd(opts),
		newSendCmd(opts),
		newTransactionsCmd(opts),
		newEventsCmd(opts),
	)
	return root
}

// Execute 运行根命令，失败时以非零状态退出。
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) client() (*walletbridge.Client, error) {
	return walletbridge.NewClient(o.server, nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
