package executor

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/stratus/internal/config"
	"github.com/oriys/stratus/internal/domain"
	"github.com/oriys/stratus/internal/storage"
	"github.com/sirupsen/logrus"
)

// WorkerMain 是工作进程模式的入口。
// 服务进程以 `<binary> __worker --config ... --request-id ...`
// 的形式重新启动自身，子进程在这里连接共享存储、解析记录并
// 执行对应的处理函数。返回值作为进程退出码。
func WorkerMain(registry *Registry, args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	requestID := fs.String("request-id", "", "Request id to execute")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *requestID == "" {
		fmt.Fprintln(os.Stderr, "worker: --request-id is required")
		return 2
	}

	// 工作进程自身的日志走 stderr，请求输出走记录的日志文件
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Error("Worker failed to load config")
		return 1
	}
	if cfg.Storage.Driver != "postgres" {
		logger.Error("Worker mode requires the postgres store")
		return 1
	}

	store, err := storage.NewPostgresStore(cfg.Storage.Postgres)
	if err != nil {
		logger.WithError(err).Error("Worker failed to connect to store")
		return 1
	}
	defer store.Close()

	rec, err := store.Get(context.Background(), *requestID)
	if err != nil {
		logger.WithError(err).WithField("request_id", *requestID).
			Error("Worker failed to load request")
		return 1
	}
	if rec.Status != domain.RequestStatusPending {
		// 出队与启动之间被取消（或重复派发），安静退出
		logger.WithFields(logrus.Fields{
			"request_id": rec.ID,
			"status":     rec.Status,
		}).Info("Request no longer pending, nothing to do")
		return 0
	}

	// SIGTERM 是取消路径的协作信号：上下文结束后处理函数在
	// 检查点退出，cancelled 转换由服务进程的取消路径负责
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	execute(ctx, store, registry, rec, os.Getpid(), logger)
	return 0
}
