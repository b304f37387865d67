// Package cmd 提供 stratus 命令行工具的所有子命令实现。
// 本文件实现 submit 命令，用于向服务端提交一个异步请求。
//
// 提交立即返回 pending 状态的记录快照；加 --wait 时轮询到
// 终止状态并打印结果，加 --logs 时同时跟随日志流。
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// submitCmd 是 submit 命令的 cobra.Command 实例。
var submitCmd = &cobra.Command{
	Use:   "submit <operation>",
	Short: "Submit an async request",
	Long: `Submit an asynchronous request to the scheduling service.

Examples:
  # Launch a cluster and wait for completion
  stratus submit cluster.launch --payload '{"cluster_name": "dev", "provider": "aws"}' --wait

  # Query cluster status in the background
  stratus submit cluster.status

  # Submit a job and follow its logs
  stratus submit job.submit --payload '{"cluster_name": "dev", "command": "python train.py"}' --logs`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var (
	submitPayload      string // 操作载荷（JSON）
	submitScheduleType string // 调度类别覆盖
	submitWait         bool   // 轮询到终止状态
	submitLogs         bool   // 跟随日志流
)

// init 注册 submit 命令并设置命令行标志。
func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&submitPayload, "payload", "p", "", "Operation payload as JSON")
	submitCmd.Flags().StringVar(&submitScheduleType, "schedule-type", "", "Override schedule type (blocking/non_blocking)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Wait for the request to finish")
	submitCmd.Flags().BoolVarP(&submitLogs, "logs", "l", false, "Follow the request log stream")
}

// runSubmit 是 submit 命令的执行函数。
func runSubmit(cmd *cobra.Command, args []string) error {
	var payload json.RawMessage
	if submitPayload != "" {
		if !json.Valid([]byte(submitPayload)) {
			return fmt.Errorf("--payload is not valid JSON")
		}
		payload = json.RawMessage(submitPayload)
	}

	client := NewClient()
	rec, err := client.SubmitRequest(args[0], payload, submitScheduleType)
	if err != nil {
		return err
	}
	fmt.Printf("Request %s submitted (%s)\n", rec.ID, rec.ScheduleType)

	if submitLogs {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
		defer stop()
		return client.StreamLogs(ctx, rec.ID, 0, true, false, os.Stdout)
	}
	if submitWait {
		final, err := waitForRequest(client, rec.ID)
		if err != nil {
			return err
		}
		return printRecord(final)
	}
	return nil
}

// waitForRequest 轮询请求直到终止状态。
func waitForRequest(client *Client, id string) (*RequestRecord, error) {
	for {
		rec, err := client.GetRequest(id)
		if err != nil {
			return nil, err
		}
		switch rec.Status {
		case "succeeded", "failed", "cancelled":
			return rec, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}
