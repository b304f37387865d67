// Package cmd 提供 stratus 命令行工具的所有子命令实现。
// 本文件实现 cancel 命令，用于取消一个或多个请求。
//
// 已终止或不存在的目标是静默空操作；命令输出实际取消的 id。
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cancelCmd 是 cancel 命令的 cobra.Command 实例。
var cancelCmd = &cobra.Command{
	Use:   "cancel [request-id...]",
	Short: "Cancel requests",
	Long: `Cancel one or more requests.

Examples:
  # Cancel specific requests
  stratus cancel 4f2c1a... 8e91b0...

  # Cancel all of your active requests
  stratus cancel --all`,
	RunE: runCancel,
}

// cancelAll 取消当前用户的全部活动请求。
var cancelAll bool

// init 注册 cancel 命令并设置命令行标志。
func init() {
	rootCmd.AddCommand(cancelCmd)
	cancelCmd.Flags().BoolVarP(&cancelAll, "all", "a", false, "Cancel all active requests")
}

// runCancel 是 cancel 命令的执行函数。
func runCancel(cmd *cobra.Command, args []string) error {
	if !cancelAll && len(args) == 0 {
		return fmt.Errorf("specify request ids or --all")
	}

	client := NewClient()
	cancelled, err := client.CancelRequests(args, cancelAll)
	if err != nil {
		return err
	}
	if len(cancelled) == 0 {
		fmt.Println("No requests cancelled")
		return nil
	}
	for _, id := range cancelled {
		fmt.Printf("Cancelled %s\n", id)
	}
	return nil
}
