// Package main 是 stratus 命令行工具的入口点
// stratus 是用于管理请求调度服务的 CLI 工具
// 它提供提交、列出、取消请求与跟随日志流等操作
package main

import (
	"os"

	"github.com/oriys/stratus/cmd/stratus/cmd"
)

// main 是 CLI 工具的主函数
// 它调用 cmd 包的 Execute 函数来解析和执行用户命令
func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
