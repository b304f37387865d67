// Package executor 实现请求的调度与执行：接收提交、持久化初始
// 记录、按调度类别路由到工作池，并以崩溃隔离的方式运行请求函数。
package executor

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/oriys/stratus/internal/domain"
	"github.com/sirupsen/logrus"
)

// RequestNamePrefix 是写入请求记录的名称前缀。
const RequestNamePrefix = "stratus."

// SystemUserID 是内部系统请求使用的保留用户标识。
const SystemUserID = "stratus-system"

// Invocation 是传入处理函数的请求级上下文。
// 每次提交都构造全新实例，取代进程级的可变环境状态，
// 避免并发请求之间的相互干扰。
type Invocation struct {
	// Context 在请求被取消时结束；长耗时处理函数应在
	// 合适的检查点观察它
	Context context.Context
	// RequestID 是当前请求的 id
	RequestID string
	// UserID 是请求所有者
	UserID string
	// Payload 是准入时校验过的原始载荷
	Payload json.RawMessage
	// Out 是请求的私有日志文件，处理函数的文本输出写到这里
	Out io.Writer
	// Logger 是绑定到 Out 的结构化日志入口
	Logger *logrus.Entry
}

// HandlerFunc 是一个可调度的操作实现。
// 返回值会被序列化写入记录的 result；返回错误则被捕获为
// 结构化错误，永远不会向调度器或调用方传播。
type HandlerFunc func(inv *Invocation) (any, error)

// Registry 维护操作种类到处理函数的映射。
// 工作进程通过记录中的名称重新解析处理函数，因此注册必须在
// 服务进程与工作进程两侧一致地完成。
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.OperationKind]HandlerFunc
}

// NewRegistry 创建空的处理函数注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.OperationKind]HandlerFunc)}
}

// Register 注册一个操作处理函数，重复注册时后者覆盖前者。
func (r *Registry) Register(kind domain.OperationKind, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Resolve 按操作种类查找处理函数。
func (r *Registry) Resolve(kind domain.OperationKind) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[kind]
	return fn, ok
}

// KindFromRequestName 从记录名称还原操作种类（去掉名称前缀）。
func KindFromRequestName(name string) domain.OperationKind {
	return domain.OperationKind(strings.TrimPrefix(name, RequestNamePrefix))
}
