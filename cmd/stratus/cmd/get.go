// Package cmd 提供 stratus 命令行工具的所有子命令实现。
// 本文件实现 get 命令，用于查看单个请求的详细信息。
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// getCmd 是 get 命令的 cobra.Command 实例。
// 不带参数时显示最近创建的请求。
var getCmd = &cobra.Command{
	Use:   "get [request-id]",
	Short: "Show request details",
	Long: `Show the current snapshot of a request.

Examples:
  # Show a specific request
  stratus get 4f2c1a...

  # Show the most recently submitted request
  stratus get`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGet,
}

// init 注册 get 命令到根命令。
func init() {
	rootCmd.AddCommand(getCmd)
}

// runGet 是 get 命令的执行函数。
func runGet(cmd *cobra.Command, args []string) error {
	client := NewClient()

	var rec *RequestRecord
	var err error
	if len(args) == 1 {
		rec, err = client.GetRequest(args[0])
	} else {
		rec, err = client.LatestRequest()
	}
	if err != nil {
		return err
	}
	return printRecord(rec)
}

// printRecord 输出一条请求记录。
// JSON 模式输出完整记录，表格模式输出人类可读的摘要。
func printRecord(rec *RequestRecord) error {
	if viper.GetString("output") == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("ID:            %s\n", rec.ID)
	fmt.Printf("Name:          %s\n", rec.Name)
	fmt.Printf("Status:        %s\n", strings.ToUpper(rec.Status))
	fmt.Printf("Schedule type: %s\n", rec.ScheduleType)
	fmt.Printf("User:          %s\n", rec.UserID)
	fmt.Printf("Created:       %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if rec.StartedAt != nil {
		fmt.Printf("Started:       %s\n", rec.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if rec.FinishedAt != nil {
		fmt.Printf("Finished:      %s\n", rec.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if rec.Error != nil {
		fmt.Printf("Error:         [%s] %s\n", rec.Error.Kind, rec.Error.Message)
	}
	if len(rec.Result) > 0 {
		var pretty map[string]any
		if json.Unmarshal(rec.Result, &pretty) == nil {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("Result:\n%s\n", data)
		} else {
			fmt.Printf("Result: %s\n", rec.Result)
		}
	}
	return nil
}
