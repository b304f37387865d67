// Package cmd 提供 stratus 命令行工具的所有子命令实现。
// 本文件实现 list 命令，用于列出请求记录。
//
// 默认以表格形式显示当前用户的请求，支持按状态过滤与 JSON 输出。
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// listCmd 是 list 命令的 cobra.Command 实例。
var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List requests",
	Long: `List requests known to the scheduling service.

Examples:
  # List your requests
  stratus list

  # Only active requests
  stratus list --status pending,running

  # All users, JSON output
  stratus list --all-users -o json`,
	RunE: runList,
}

var (
	listStatus   string // 按状态过滤（逗号分隔）
	listAllUsers bool   // 列出所有用户的请求
)

// init 注册 list 命令到根命令。
func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "Filter by status (comma separated)")
	listCmd.Flags().BoolVarP(&listAllUsers, "all-users", "a", false, "List requests from all users")
}

// runList 是 list 命令的执行函数。
func runList(cmd *cobra.Command, args []string) error {
	var statuses []string
	if listStatus != "" {
		statuses = strings.Split(listStatus, ",")
	}

	client := NewClient()
	recs, err := client.ListRequests(statuses, listAllUsers)
	if err != nil {
		return err
	}

	if viper.GetString("output") == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tUSER\tCREATED\tDURATION")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Name, strings.ToUpper(rec.Status), rec.UserID,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(rec))
	}
	return w.Flush()
}

// formatDuration 计算一次请求的执行耗时。
func formatDuration(rec RequestRecord) string {
	if rec.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if rec.FinishedAt != nil {
		end = *rec.FinishedAt
	}
	return end.Sub(*rec.StartedAt).Round(time.Millisecond).String()
}
