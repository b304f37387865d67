package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/stratus/internal/config"
	"github.com/oriys/stratus/internal/domain"
	"github.com/oriys/stratus/internal/events"
	"github.com/oriys/stratus/internal/metrics"
	"github.com/oriys/stratus/internal/storage"
	"github.com/sirupsen/logrus"
)

// Executor 是请求的调度器与工作池。
// 提交路径只做三件事：持久化 pending 记录、分配日志路径、按
// 调度类别入队——因此永远不会阻塞 HTTP 处理上下文。实际执行
// 由两个容量不同的工作池完成：blocking 池保留少量并发给重型
// 操作，non_blocking 池以更高并发服务元数据操作。
type Executor struct {
	cfg      config.ExecutorConfig
	store    domain.RequestStore
	registry *Registry
	runner   Runner
	metrics  *metrics.Metrics
	bus      *events.Bus
	logger   *logrus.Logger
	logRoot  string

	queues map[domain.ScheduleType]*requestQueue

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// Options 聚合 Executor 的依赖。
type Options struct {
	Config   config.ExecutorConfig
	Store    domain.RequestStore
	Registry *Registry
	Runner   Runner
	Metrics  *metrics.Metrics
	// Bus 可以为 nil，表示不发布生命周期事件
	Bus    *events.Bus
	Logger *logrus.Logger
	// LogRoot 是请求日志文件的根目录
	LogRoot string
	// Spill 可以为 nil，表示队列只使用内存
	Spill *storage.RedisSpill
}

// New 创建执行器实例，调用 Start 后开始消费队列。
func New(opts Options) *Executor {
	e := &Executor{
		cfg:      opts.Config,
		store:    opts.Store,
		registry: opts.Registry,
		runner:   opts.Runner,
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		logger:   opts.Logger,
		logRoot:  opts.LogRoot,
		queues:   make(map[domain.ScheduleType]*requestQueue),
	}
	for _, st := range []domain.ScheduleType{domain.ScheduleTypeBlocking, domain.ScheduleTypeNonBlocking} {
		e.queues[st] = newRequestQueue(string(st), opts.Spill, opts.Config.SpillThreshold, opts.Logger)
	}
	return e
}

// Start 启动两个工作池。
func (e *Executor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := os.MkdirAll(e.logRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create logs root: %w", err)
	}
	e.started = true

	pools := []struct {
		scheduleType domain.ScheduleType
		workers      int
	}{
		{domain.ScheduleTypeBlocking, e.cfg.BlockingWorkers},
		{domain.ScheduleTypeNonBlocking, e.cfg.NonBlockingWorkers},
	}
	for _, pool := range pools {
		for i := 0; i < pool.workers; i++ {
			e.wg.Add(1)
			go e.workerLoop(pool.scheduleType, i)
		}
	}
	e.logger.WithFields(logrus.Fields{
		"blocking_workers":     e.cfg.BlockingWorkers,
		"non_blocking_workers": e.cfg.NonBlockingWorkers,
	}).Info("Executor started")
	return nil
}

// Stop 关闭队列并等待工作单元退出。
// 正在执行的请求运行到自然结束，不会被中断。
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	for _, q := range e.queues {
		q.Close()
	}
	e.wg.Wait()
	e.logger.Info("Executor stopped")
}

// ScheduleParams 描述一次请求提交。
type ScheduleParams struct {
	// ID 为空时自动生成
	ID string
	// Kind 是已注册的操作种类
	Kind domain.OperationKind
	// Payload 是准入时校验过的载荷
	Payload json.RawMessage
	// ScheduleType 为空时按操作种类取默认值
	ScheduleType domain.ScheduleType
	// UserID 是请求所有者；系统请求忽略此字段
	UserID string
	// IsSystem 标记内部启动钩子请求
	IsSystem bool
}

// Schedule 持久化 pending 记录并按调度类别入队。
// 同一 id 重复提交返回 ErrDuplicateRequest。
func (e *Executor) Schedule(ctx context.Context, p ScheduleParams) (*domain.RequestRecord, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, domain.ErrExecutorStopped
	}
	e.mu.Unlock()

	if _, ok := e.registry.Resolve(p.Kind); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownOperation, p.Kind)
	}
	scheduleType := p.ScheduleType
	if scheduleType == "" {
		scheduleType = domain.DefaultScheduleType(p.Kind)
	}
	if !scheduleType.Valid() {
		return nil, domain.ErrInvalidScheduleType
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	userID := p.UserID
	if p.IsSystem {
		userID = SystemUserID
	}

	rec := domain.NewRequest(id, RequestNamePrefix+string(p.Kind), p.Payload, scheduleType, userID, p.IsSystem)
	// 日志路径在记录进入 running 之前分配且不再变化
	rec.LogPath = filepath.Join(e.logRoot, id+".log")

	if err := e.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	// 预创建日志文件，使流式读取可以在执行开始前打开
	if f, err := os.OpenFile(rec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		f.Close()
	} else {
		e.logger.WithError(err).WithField("request_id", id).Warn("Failed to touch request log")
	}

	spilled := e.queues[scheduleType].Put(id)
	if e.metrics != nil {
		e.metrics.RequestsScheduled.WithLabelValues(rec.Name, string(scheduleType)).Inc()
		e.metrics.QueueDepth.WithLabelValues(string(scheduleType)).
			Set(float64(e.queues[scheduleType].Len()))
		if spilled {
			e.metrics.QueueSpilled.WithLabelValues(string(scheduleType)).Inc()
		}
	}
	e.bus.PublishRequest(ctx, rec)
	e.logger.WithFields(logrus.Fields{
		"request_id":    id,
		"name":          rec.Name,
		"schedule_type": scheduleType,
	}).Info("Request scheduled")
	return rec, nil
}

// workerLoop 是单个工作单元的主循环：出队、跳过已取消的记录、
// 交给运行器执行到终态。每个工作单元同一时刻只执行一个请求，
// 池的规模即是该调度类别的最大并发。
func (e *Executor) workerLoop(scheduleType domain.ScheduleType, workerID int) {
	defer e.wg.Done()
	q := e.queues[scheduleType]
	workerLogger := e.logger.WithFields(logrus.Fields{
		"worker":        workerID,
		"schedule_type": scheduleType,
	})
	for {
		id, ok := q.Get()
		if !ok {
			return
		}
		if e.metrics != nil {
			e.metrics.QueueDepth.WithLabelValues(string(scheduleType)).Set(float64(q.Len()))
		}
		rec, err := e.store.Get(context.Background(), id)
		if err != nil {
			workerLogger.WithError(err).WithField("request_id", id).
				Error("Failed to load queued request")
			continue
		}
		// 出队时已被取消的请求不进入执行（pending 直达 cancelled）
		if rec.Status != domain.RequestStatusPending {
			continue
		}

		workerLogger.WithField("request_id", id).Debug("Executing request")
		if e.metrics != nil {
			e.metrics.WorkersBusy.WithLabelValues(string(scheduleType)).Inc()
		}
		started := time.Now()
		e.runner.Run(rec)
		if e.metrics != nil {
			e.metrics.WorkersBusy.WithLabelValues(string(scheduleType)).Dec()
		}
		e.observeFinished(rec, scheduleType, time.Since(started))
	}
}

// observeFinished 上报终态指标并发布事件。
func (e *Executor) observeFinished(rec *domain.RequestRecord, scheduleType domain.ScheduleType, elapsed time.Duration) {
	cur, err := e.store.Get(context.Background(), rec.ID)
	if err != nil {
		return
	}
	if e.metrics != nil && cur.Status.IsTerminal() {
		e.metrics.RequestsFinished.
			WithLabelValues(cur.Name, string(scheduleType), string(cur.Status)).Inc()
		e.metrics.RequestDuration.
			WithLabelValues(cur.Name, string(scheduleType)).Observe(elapsed.Seconds())
	}
	e.bus.PublishRequest(context.Background(), cur)
}

// Cancel 取消一组请求。
// ids 与 all 二选一；userID 非空时只取消该用户的请求。处于
// 终止状态或不存在的目标是静默空操作。返回实际取消的 id 列表。
func (e *Executor) Cancel(ctx context.Context, ids []string, all bool, userID string) ([]string, error) {
	var targets []*domain.RequestRecord
	if all {
		recs, err := e.store.List(ctx, domain.ListFilter{
			Statuses: []domain.RequestStatus{domain.RequestStatusPending, domain.RequestStatusRunning},
			UserID:   userID,
		})
		if err != nil {
			return nil, err
		}
		targets = recs
	} else {
		for _, id := range ids {
			rec, err := e.store.Get(ctx, id)
			if errors.Is(err, domain.ErrRequestNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if userID != "" && rec.UserID != userID {
				continue
			}
			if rec.Status.IsTerminal() {
				continue
			}
			targets = append(targets, rec)
		}
	}

	var cancelled []string
	for _, rec := range targets {
		if rec.Status == domain.RequestStatusRunning {
			if err := e.runner.Kill(ctx, rec); err != nil {
				e.logger.WithError(err).WithField("request_id", rec.ID).
					Warn("Failed to signal worker, cancelling record anyway")
			}
		}
		err := e.store.Transition(ctx, rec.ID, domain.RequestStatusCancelled, nil)
		if errors.Is(err, domain.ErrInvalidTransition) {
			// 自然完成抢先落地，取消成为空操作
			continue
		}
		if err != nil {
			return cancelled, err
		}
		cancelled = append(cancelled, rec.ID)
		if e.metrics != nil {
			e.metrics.RequestsCancelled.WithLabelValues(string(rec.Status)).Inc()
		}
		if cur, gerr := e.store.Get(ctx, rec.ID); gerr == nil {
			e.bus.PublishRequest(ctx, cur)
		}
		e.logger.WithField("request_id", rec.ID).Info("Request cancelled")
	}
	return cancelled, nil
}
