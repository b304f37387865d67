// Package cmd 提供 stratus 命令行工具的所有子命令实现。
// 本文件实现 logs 命令，用于读取请求的日志流。
//
// 默认通过分块 HTTP 跟随日志直到请求终止；--ws 切换到
// WebSocket 传输，语义相同。Ctrl-C 只断开本地连接，
// 不影响服务端的请求执行。
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// logsCmd 是 logs 命令的 cobra.Command 实例。
// 不带参数时跟随最近创建的请求。
var logsCmd = &cobra.Command{
	Use:   "logs [request-id]",
	Short: "Stream request logs",
	Long: `Stream the log output of a request.

Examples:
  # Follow the most recent request
  stratus logs

  # Follow a specific request
  stratus logs 4f2c1a...

  # Last 100 lines without following
  stratus logs 4f2c1a... --tail 100 --no-follow

  # Stream over WebSocket
  stratus logs 4f2c1a... --ws`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

var (
	logsTail     int  // 只输出最后 N 行
	logsNoFollow bool // 读完现有内容后立即返回
	logsPlain    bool // 纯文本模式：去控制行、去 ANSI
	logsWS       bool // 使用 WebSocket 传输
)

// init 注册 logs 命令并设置命令行标志。
func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 0, "Only output the last N lines")
	logsCmd.Flags().BoolVar(&logsNoFollow, "no-follow", false, "Exit after printing existing content")
	logsCmd.Flags().BoolVar(&logsPlain, "plain", false, "Plain text mode (strip control lines and ANSI codes)")
	logsCmd.Flags().BoolVar(&logsWS, "ws", false, "Stream over WebSocket")
}

// runLogs 是 logs 命令的执行函数。
func runLogs(cmd *cobra.Command, args []string) error {
	client := NewClient()

	id := ""
	if len(args) == 1 {
		id = args[0]
	} else {
		rec, err := client.LatestRequest()
		if err != nil {
			return err
		}
		id = rec.ID
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	var err error
	if logsWS {
		err = client.StreamLogsWS(ctx, id, logsTail, logsPlain)
	} else {
		err = client.StreamLogs(ctx, id, logsTail, !logsNoFollow, logsPlain, os.Stdout)
	}
	// Ctrl-C 断开是正常退出
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}
