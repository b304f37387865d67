// stratus-server 是请求调度服务的主进程。
// 同一个二进制有两种运行形态：默认作为 HTTP 服务进程；以
// `__worker` 为第一个参数启动时进入工作进程模式，执行单个
// 请求后退出（见 executor.WorkerMain）。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/stratus/internal/api"
	"github.com/oriys/stratus/internal/auth"
	"github.com/oriys/stratus/internal/config"
	"github.com/oriys/stratus/internal/domain"
	"github.com/oriys/stratus/internal/events"
	"github.com/oriys/stratus/internal/executor"
	"github.com/oriys/stratus/internal/logstream"
	"github.com/oriys/stratus/internal/metrics"
	"github.com/oriys/stratus/internal/ops"
	"github.com/oriys/stratus/internal/storage"
	"github.com/oriys/stratus/internal/telemetry"
	"github.com/sirupsen/logrus"
)

func main() {
	// 工作进程模式：不加载 HTTP 栈，直接执行指定请求
	if len(os.Args) > 1 && os.Args[1] == executor.WorkerModeArg {
		registry := executor.NewRegistry()
		ops.RegisterAll(registry)
		os.Exit(executor.WorkerMain(registry, os.Args[2:]))
	}

	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	applyLogging(logger, cfg.Logging)

	if err := run(cfg, *configPath, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}

// applyLogging 根据配置调整日志级别与格式。
func applyLogging(logger *logrus.Logger, cfg config.LoggingConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func run(cfg *config.Config, configPath string, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(shutdownCtx)
	}()
	logger.AddHook(telemetry.NewLogrusHook())

	// 存储
	var store domain.RequestStore
	switch cfg.Storage.Driver {
	case "postgres":
		store, err = storage.NewPostgresStore(cfg.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %w", err)
		}
	default:
		store = storage.NewMemoryStore()
	}
	defer store.Close()

	// 接管流量之前先清理上次进程终止遗留的 running 记录
	interrupted, err := store.ReconcileInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile interrupted requests: %w", err)
	}
	if interrupted > 0 {
		logger.WithField("count", interrupted).
			Warn("Marked interrupted requests as failed after restart")
	}

	// 可选的 Redis 溢出缓冲
	var spill *storage.RedisSpill
	if cfg.Storage.Redis.Enabled {
		spill, err = storage.NewRedisSpill(cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect redis spill: %w", err)
		}
		defer spill.Close()
		logger.Info("Redis spill queue enabled")
	}

	// 可选的 NATS 事件总线
	var bus *events.Bus
	if cfg.Events.Enabled {
		bus, err = events.NewBus(cfg.Events.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect event bus: %w", err)
		}
		defer bus.Close()
	}

	m := metrics.New()
	registry := executor.NewRegistry()
	ops.RegisterAll(registry)

	var runner executor.Runner
	if cfg.Executor.Isolation == "process" {
		runner = executor.NewProcessRunner(store, configPath, logger)
	} else {
		runner = executor.NewLocalRunner(store, registry, logger)
	}

	exec := executor.New(executor.Options{
		Config:   cfg.Executor,
		Store:    store,
		Registry: registry,
		Runner:   runner,
		Metrics:  m,
		Bus:      bus,
		Logger:   logger,
		LogRoot:  cfg.Logs.Root,
		Spill:    spill,
	})
	if err := exec.Start(); err != nil {
		return err
	}
	defer exec.Stop()

	// 启动钩子：调度一次全量状态刷新，追平停机期间的外部变化
	if _, err := exec.Schedule(ctx, executor.ScheduleParams{
		Kind:     domain.OpClusterStatus,
		Payload:  mustMarshal(&domain.ClusterStatusPayload{Refresh: true}),
		IsSystem: true,
	}); err != nil {
		logger.WithError(err).Warn("Failed to schedule startup status refresh")
	}

	daemons, err := executor.StartDaemons(cfg.Daemons, exec, logger)
	if err != nil {
		return fmt.Errorf("failed to start daemons: %w", err)
	}
	defer daemons.Stop()

	// HTTP
	jwtMgr := auth.NewJWTManager(cfg.Auth.JWTSecret, 24*time.Hour)
	authMW := auth.NewMiddleware(jwtMgr, cfg.Auth.Enabled)
	streamer := logstream.New(store, cfg.Logs.Root, logger)
	handler := api.NewHandler(store, exec, streamer, logger)
	wsHandler := api.NewWSHandler(store, streamer, logger)
	router := api.NewRouter(handler, wsHandler, authMW)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// mustMarshal 序列化内部构造的载荷；这些载荷不可能失败。
func mustMarshal(p domain.Payload) json.RawMessage {
	raw, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return raw
}
