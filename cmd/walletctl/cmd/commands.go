package cmd

import (
	"context"
	"errors"
	"fmt"

	"WalletBridge/sdk/go/walletbridge"

	"github.com/spf13/cobra"
)

// withClient 为每个子命令建立带超时的上下文与客户端。
func withClient(opts *options, fn func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := opts.client()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}
		return fn(ctx, cmd, client, args)
	}
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "查看当前会话状态",
		Args:  cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, _ []string) error {
			st, err := c.State(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		}),
	}
}

func newConnectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "请求钱包授权账户",
		Args:  cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, _ []string) error {
			st, err := c.Connect(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已连接 %s (chain %s)\n", st.Session.Account, st.Session.ChainID)
			return nil
		}),
	}
}

func newDisconnectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "断开当前账户",
		Args:  cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, _ []string) error {
			if _, err := c.Disconnect(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "已断开")
			return nil
		}),
	}
}

func newDraftCmd(opts *options) *cobra.Command {
	draft := &cobra.Command{
		Use:   "draft",
		Short: "查看或编辑交易草稿",
		Args:  cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, _ []string) error {
			d, err := c.Draft(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		}),
	}
	draft.AddCommand(
		&cobra.Command{
			Use:   "set <field> <value>",
			Short: "设置草稿字段 (addressTo, amount, keyword, message)",
			Args:  cobra.ExactArgs(2),
			RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, args []string) error {
				d, err := c.SetDraftField(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "清空草稿",
			Args:  cobra.NoArgs,
			RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, _ []string) error {
				_, err := c.ResetDraft(ctx)
				return err
			}),
		},
	)
	return draft
}

func newSendCmd(opts *options) *cobra.Command {
	var d walletbridge.Draft
	send := &cobra.Command{
		Use:   "send",
		Short: "提交交易并等待账本确认",
		Long:  `未指定任何字段时提交服务端保存的草稿。`,
		Args:  cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, _ []string) error {
			var (
				result walletbridge.SubmissionResult
				err    error
			)
			if d == (walletbridge.Draft{}) {
				result, err = c.SendDraft(ctx)
			} else {
				result, err = c.Send(ctx, d)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}
	send.Flags().StringVar(&d.AddressTo, "to", "", "收款地址")
	send.Flags().StringVar(&d.Amount, "amount", "", "金额 (ETH)")
	send.Flags().StringVar(&d.Keyword, "keyword", "", "关键字")
	send.Flags().StringVar(&d.Message, "message", "", "附言")
	return send
}

func newTransactionsCmd(opts *options) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"txs"},
		Short:   "列出链上账本记录",
		Args:    cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *walletbridge.Client, _ []string) error {
			out, err := c.Transactions(ctx, refresh)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, tx := range out.Transactions {
				fmt.Fprintf(w, "%s  %s -> %s  %s ETH  [%s] %s\n",
					tx.Timestamp, tx.AddressFrom, tx.AddressTo, tx.Amount, tx.Keyword, tx.Message)
			}
			if out.TransactionCount != nil {
				fmt.Fprintf(w, "共 %d 条\n", *out.TransactionCount)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "先从合约重新加载")
	return cmd
}

func newEventsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "持续输出状态变化事件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			err = client.Events(ctx, func(evt walletbridge.Event) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", evt.OccurredAt.Format("15:04:05"), evt.Type, evt.Reason)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
