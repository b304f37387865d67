//go:build linux
// +build linux

package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/oriys/stratus/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// WorkerModeArg 是服务二进制进入工作进程模式的第一个参数。
const WorkerModeArg = "__worker"

// killGracePeriod 是 SIGTERM 之后升级为 SIGKILL 的等待时间。
const killGracePeriod = 5 * time.Second

// processRunner 以独立的操作系统进程执行每个请求：服务进程
// 重新启动自身二进制的工作模式，子进程通过共享存储解析记录并
// 执行。进程隔离保证处理函数崩溃不影响服务进程，也使取消可以
// 安全地强制终止执行。
type processRunner struct {
	store      domain.RequestStore
	configPath string
	logger     *logrus.Logger
}

// NewProcessRunner 创建进程隔离运行器。
// configPath 会原样传递给工作进程，使其连接同一个存储。
func NewProcessRunner(store domain.RequestStore, configPath string, logger *logrus.Logger) Runner {
	return &processRunner{store: store, configPath: configPath, logger: logger}
}

// Run 启动工作进程并等待其退出。
// 记录的 running/终态转换由工作进程自己完成；这里只兜底处理
// 进程异常消失（启动失败、被 SIGKILL 等）留下的未完成记录。
func (r *processRunner) Run(rec *domain.RequestRecord) {
	exe, err := os.Executable()
	if err != nil {
		r.failOrphan(rec, fmt.Sprintf("failed to locate server binary: %v", err))
		return
	}
	cmd := exec.Command(exe, WorkerModeArg,
		"--config", r.configPath,
		"--request-id", rec.ID)
	// 独立进程组，便于连同处理函数启动的子进程一起终止
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		r.failOrphan(rec, fmt.Sprintf("failed to start worker process: %v", err))
		return
	}

	waitErr := cmd.Wait()
	// 正常路径下工作进程已写入终态；仍是 pending/running 说明
	// 进程在转换落盘之前消失了
	cur, err := r.store.Get(context.Background(), rec.ID)
	if err != nil {
		r.logger.WithError(err).WithField("request_id", rec.ID).
			Error("Failed to check request after worker exit")
		return
	}
	if !cur.Status.IsTerminal() {
		msg := "worker process exited unexpectedly"
		if waitErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, waitErr)
		}
		r.failOrphan(rec, msg)
	}
}

// failOrphan 把没有终态的记录标记为 failed。
func (r *processRunner) failOrphan(rec *domain.RequestRecord, msg string) {
	err := r.store.Transition(context.Background(), rec.ID, domain.RequestStatusFailed,
		&domain.TransitionUpdate{Error: &domain.RequestError{Kind: "execution", Message: msg}})
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		r.logger.WithError(err).WithField("request_id", rec.ID).
			Error("Failed to fail orphaned request")
	}
}

// Kill 向工作进程组发送 SIGTERM，宽限期后升级为 SIGKILL。
// 存储中的 cancelled 转换是事实来源，进程实际退出可以滞后。
func (r *processRunner) Kill(ctx context.Context, rec *domain.RequestRecord) error {
	pid := rec.WorkerPID
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to signal worker %d: %w", pid, err)
	}
	time.AfterFunc(killGracePeriod, func() {
		// 进程组已不存在时 ESRCH，忽略即可
		unix.Kill(-pid, unix.SIGKILL)
	})
	return nil
}
