//go:build !linux
// +build !linux

package executor

import (
	"github.com/oriys/stratus/internal/domain"
	"github.com/sirupsen/logrus"
)

// WorkerModeArg 是服务二进制进入工作进程模式的第一个参数。
const WorkerModeArg = "__worker"

// NewProcessRunner 在非 Linux 平台不可用，启动时应改用
// goroutine 隔离配置。
func NewProcessRunner(store domain.RequestStore, configPath string, logger *logrus.Logger) Runner {
	panic("process isolation is only supported on linux")
}
