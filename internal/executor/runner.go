package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/oriys/stratus/internal/domain"
	"github.com/sirupsen/logrus"
)

// Runner 抽象一次请求的隔离执行。
// Run 阻塞到请求进入终止状态；Kill 尽力终止正在执行的请求，
// 终止后记录由取消路径转换为 cancelled。
type Runner interface {
	Run(rec *domain.RequestRecord)
	Kill(ctx context.Context, rec *domain.RequestRecord) error
}

// localRunner 在当前进程内执行请求函数。
// 没有进程级崩溃隔离，取消依赖处理函数观察 Invocation.Context
// 的协作检查点，因此仅用于 memory 存储的本地模式和测试。
type localRunner struct {
	store    domain.RequestStore
	registry *Registry
	logger   *logrus.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewLocalRunner 创建进程内运行器。
func NewLocalRunner(store domain.RequestStore, registry *Registry, logger *logrus.Logger) Runner {
	return &localRunner{
		store:    store,
		registry: registry,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run 在当前 goroutine 中执行请求并写入终态。
func (r *localRunner) Run(rec *domain.RequestRecord) {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[rec.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, rec.ID)
		r.mu.Unlock()
		cancel()
	}()

	execute(ctx, r.store, r.registry, rec, os.Getpid(), r.logger)
}

// Kill 通过取消上下文向处理函数传递终止信号。
func (r *localRunner) Kill(ctx context.Context, rec *domain.RequestRecord) error {
	r.mu.Lock()
	cancel, ok := r.cancels[rec.ID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// execute 是服务进程（goroutine 隔离）与工作进程（process 隔离）
// 共用的执行路径：转换到 running、把输出接到请求日志文件、调用
// 处理函数、把返回值或捕获的错误写入终态。处理函数抛出的任何
// 错误（包括 panic）都停留在记录里，不向外传播。
func execute(ctx context.Context, store domain.RequestStore, registry *Registry, rec *domain.RequestRecord, pid int, logger *logrus.Logger) {
	// 转换失败意味着请求在出队与执行之间被取消，直接放弃
	err := store.Transition(context.Background(), rec.ID, domain.RequestStatusRunning,
		&domain.TransitionUpdate{WorkerPID: pid})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.WithField("request_id", rec.ID).Debug("Request cancelled before start")
		} else {
			logger.WithError(err).WithField("request_id", rec.ID).
				Error("Failed to mark request running")
		}
		return
	}

	logFile, err := os.OpenFile(rec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		finish(store, rec, nil, &domain.RequestError{
			Kind:    "execution",
			Message: fmt.Sprintf("failed to open request log: %v", err),
		}, logger)
		return
	}
	defer logFile.Close()

	fn, ok := registry.Resolve(KindFromRequestName(rec.Name))
	if !ok {
		finish(store, rec, nil, &domain.RequestError{
			Kind:    "execution",
			Message: fmt.Sprintf("%v: %s", domain.ErrUnknownOperation, rec.Name),
		}, logger)
		return
	}

	// 请求级日志写入私有日志文件，文本格式便于直接流式查看
	reqLogger := logrus.New()
	reqLogger.SetOutput(logFile)
	reqLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	inv := &Invocation{
		Context:   ctx,
		RequestID: rec.ID,
		UserID:    rec.UserID,
		Payload:   rec.Payload,
		Out:       logFile,
		Logger:    reqLogger.WithField("request_id", rec.ID),
	}

	value, runErr := invoke(fn, inv)

	// 取消路径拥有 cancelled 转换；这里直接退出即可
	if ctx.Err() != nil {
		logger.WithField("request_id", rec.ID).Info("Request cancelled")
		return
	}
	if runErr != nil {
		fmt.Fprintf(logFile, "request failed: %v\n", runErr)
		finish(store, rec, nil, toRequestError(runErr), logger)
		return
	}

	result, err := json.Marshal(value)
	if err != nil {
		finish(store, rec, nil, &domain.RequestError{
			Kind:    "execution",
			Message: fmt.Sprintf("failed to serialize result: %v", err),
		}, logger)
		return
	}
	finish(store, rec, result, nil, logger)
}

// invoke 调用处理函数并把 panic 转换为普通错误。
func invoke(fn HandlerFunc, inv *Invocation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.RequestError{
				Kind:       "panic",
				Message:    fmt.Sprintf("%v", r),
				Stacktrace: string(debug.Stack()),
			}
		}
	}()
	return fn(inv)
}

// toRequestError 把处理函数返回的错误规整为结构化错误。
func toRequestError(err error) *domain.RequestError {
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return &domain.RequestError{Kind: "execution", Message: err.Error()}
}

// finish 写入终态。与取消的竞争在存储层裁决：转换被拒且记录
// 已是 cancelled 属于预期竞争，其余拒绝按内部缺陷记录。
func finish(store domain.RequestStore, rec *domain.RequestRecord, result json.RawMessage, reqErr *domain.RequestError, logger *logrus.Logger) {
	status := domain.RequestStatusSucceeded
	if reqErr != nil {
		status = domain.RequestStatusFailed
	}
	err := store.Transition(context.Background(), rec.ID, status,
		&domain.TransitionUpdate{Result: result, Error: reqErr})
	if err == nil {
		logger.WithFields(logrus.Fields{
			"request_id": rec.ID,
			"status":     status,
		}).Info("Request finished")
		return
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		if cur, gerr := store.Get(context.Background(), rec.ID); gerr == nil &&
			cur.Status == domain.RequestStatusCancelled {
			logger.WithField("request_id", rec.ID).
				Debug("Request finished after cancellation, keeping cancelled status")
			return
		}
		logger.WithField("request_id", rec.ID).
			Error("BUG: terminal transition rejected for a non-cancelled request")
		return
	}
	logger.WithError(err).WithField("request_id", rec.ID).
		Error("Failed to record request terminal status")
}
