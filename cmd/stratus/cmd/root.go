// Package cmd 包含 stratus CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile   string // 配置文件路径
	apiURL    string // API 服务器地址
	userID    string // 自报用户标识
	outputFmt string // 输出格式（table/json）
)

// rootCmd 是 CLI 的根命令
// 所有子命令都挂载在这个根命令下
var rootCmd = &cobra.Command{
	Use:   "stratus",
	Short: "Stratus - async request scheduling CLI",
	Long: `stratus 是用于管理请求调度服务的命令行工具。

使用示例:
  # 提交一个集群创建请求
  stratus submit cluster.launch --payload '{"cluster_name": "dev", "provider": "aws"}'

  # 列出正在执行的请求
  stratus list --status pending,running

  # 跟随一个请求的日志流
  stratus logs <request-id> --follow

  # 取消请求
  stratus cancel <request-id>`,
}

// Execute 执行根命令
// 这是 CLI 的入口函数，由 main 包调用
func Execute() error {
	return rootCmd.Execute()
}

// init 初始化命令行工具
// 注册全局标志和配置初始化函数
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认为 $HOME/.stratus.yaml）")
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "u", "http://localhost:46580", "API 服务器地址")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "用户标识（默认为 anonymous）")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "输出格式（table、json）")

	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

// initConfig 初始化配置
// 按优先级加载配置：命令行标志 > 环境变量 > 配置文件
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".stratus")
	}

	// 环境变量格式：STRATUS_<KEY>，如 STRATUS_API_URL
	viper.SetEnvPrefix("STRATUS")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}
