// Package domain 定义了请求调度与执行子系统的核心领域模型。
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RequestStatus 表示请求记录的状态类型。
// 请求在其生命周期中按固定顺序经历状态转换：
// pending -> running -> {succeeded, failed, cancelled}。
// 三个终止状态互斥，每条记录至多进入其中一个，且只设置一次。
type RequestStatus string

// 请求状态常量定义
const (
	// RequestStatusPending 表示请求已入队，正在等待工作进程执行
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusRunning 表示请求正在工作进程中执行
	RequestStatusRunning RequestStatus = "running"
	// RequestStatusSucceeded 表示请求执行成功
	RequestStatusSucceeded RequestStatus = "succeeded"
	// RequestStatusFailed 表示请求执行失败
	RequestStatusFailed RequestStatus = "failed"
	// RequestStatusCancelled 表示请求被用户或系统取消
	RequestStatusCancelled RequestStatus = "cancelled"
)

// statusRank 定义状态的单调全序。
// 终止状态之间互不可比，但对 "是否完成" 的判断都大于 running。
var statusRank = map[RequestStatus]int{
	RequestStatusPending:   0,
	RequestStatusRunning:   1,
	RequestStatusSucceeded: 2,
	RequestStatusFailed:    2,
	RequestStatusCancelled: 2,
}

// IsTerminal 返回该状态是否为终止状态。
func (s RequestStatus) IsTerminal() bool {
	return statusRank[s] >= 2
}

// Valid 返回该状态是否为已知状态值。
func (s RequestStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo 判断从当前状态转换到 next 是否满足单调序。
// 终止状态不允许任何后续转换；cancelled 允许从 pending 直接进入
// （请求在开始执行前被取消时不经过 running）。
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return nxt > cur
}

// ScheduleType 表示请求的调度类别，决定由哪个工作池执行。
// 调度类别在创建时固定，只影响队列与并发配额，不影响结果语义。
type ScheduleType string

// 调度类别常量定义
const (
	// ScheduleTypeBlocking 用于重型/长耗时操作（集群创建、作业提交等），
	// 由数量较小的保留工作池执行
	ScheduleTypeBlocking ScheduleType = "blocking"
	// ScheduleTypeNonBlocking 用于轻量/快速的元数据操作（状态查询、列表等），
	// 由并发度更高的工作池执行
	ScheduleTypeNonBlocking ScheduleType = "non_blocking"
)

// Valid 返回该调度类别是否为已知值。
func (t ScheduleType) Valid() bool {
	return t == ScheduleTypeBlocking || t == ScheduleTypeNonBlocking
}

// RequestError 表示执行期间捕获的结构化错误。
// 被调用函数抛出的错误永远不会逃逸到调度器或调用方，
// 而是序列化后写入请求记录的 result 字段。
type RequestError struct {
	// Kind 是错误类别（如 "execution"、"panic"、"interrupted"）
	Kind string `json:"kind"`
	// Message 是人类可读的错误信息
	Message string `json:"message"`
	// Stacktrace 是错误发生时的调用栈（如果可用）
	Stacktrace string `json:"stacktrace,omitempty"`
}

// Error 实现 error 接口。
func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	return e.Kind + ": " + e.Message
}

// RequestRecord 表示一次已调度操作的持久化记录。
// 记录是执行状态唯一的可见载体：所有组件都通过 RequestStore
// 读写记录，任何组件都不持有可能与存储视图发散的私有缓存。
type RequestRecord struct {
	// ID 是请求的全局唯一标识符，创建后不可变
	ID string `json:"id"`
	// Name 是操作种类标签（带 "stratus." 前缀），核心不解释其含义
	Name string `json:"name"`
	// Status 是请求的当前状态
	Status RequestStatus `json:"status"`
	// ScheduleType 是调度类别，创建时固定
	ScheduleType ScheduleType `json:"schedule_type"`
	// UserID 是请求所有者，用于列表过滤和取消范围限定
	UserID string `json:"user_id"`
	// IsSystem 标记内部启动钩子产生的请求，默认列表中排除
	IsSystem bool `json:"is_system"`
	// Payload 是操作的输入参数，以 JSON 形式原样保存
	Payload json.RawMessage `json:"payload,omitempty"`
	// Result 是执行成功后的返回值，仅在终止状态出现
	Result json.RawMessage `json:"result,omitempty"`
	// Error 是执行失败时捕获的结构化错误，仅在终止状态出现
	Error *RequestError `json:"error,omitempty"`
	// LogPath 是该请求私有的追加日志文件路径，创建时分配且不再变化
	LogPath string `json:"log_path"`
	// WorkerPID 是执行该请求的工作进程号，仅在 running 期间有意义
	WorkerPID int `json:"worker_pid,omitempty"`
	// CreatedAt 是记录创建时间
	CreatedAt time.Time `json:"created_at"`
	// StartedAt 是请求开始执行的时间
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt 是请求进入终止状态的时间
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finished 返回记录是否已进入终止状态。
func (r *RequestRecord) Finished() bool {
	return r.Status.IsTerminal()
}

// NewRequest 创建一条新的请求记录，初始状态为 pending。
func NewRequest(id, name string, payload json.RawMessage, scheduleType ScheduleType, userID string, isSystem bool) *RequestRecord {
	return &RequestRecord{
		ID:           id,
		Name:         name,
		Status:       RequestStatusPending,
		ScheduleType: scheduleType,
		UserID:       userID,
		IsSystem:     isSystem,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
}

// TransitionUpdate 携带状态转换时一并写入的字段。
// 时间戳由存储层在转换落盘时填充，保证每个字段只设置一次。
type TransitionUpdate struct {
	// Result 是成功时的序列化返回值
	Result json.RawMessage
	// Error 是失败时捕获的结构化错误
	Error *RequestError
	// WorkerPID 是进入 running 时记录的工作进程号
	WorkerPID int
}

// ListFilter 描述 List 操作的过滤条件。
type ListFilter struct {
	// Statuses 为空表示不按状态过滤
	Statuses []RequestStatus
	// UserID 为空表示不按所有者过滤
	UserID string
	// IncludeSystem 为 true 时包含系统内部请求
	IncludeSystem bool
}

// RequestStore 定义了请求记录存储的接口。
// 存储是多组件间唯一共享的可变状态，Transition 内部强制
// 单调转换规则，使得并发的自然完成与取消竞争由先落地者获胜。
type RequestStore interface {
	// Create 创建一条新记录；id 已存在时返回 ErrDuplicateRequest
	Create(ctx context.Context, rec *RequestRecord) error
	// Get 按 id 获取记录；不存在时返回 ErrRequestNotFound
	Get(ctx context.Context, id string) (*RequestRecord, error)
	// List 返回按创建时间排序的记录序列
	List(ctx context.Context, filter ListFilter) ([]*RequestRecord, error)
	// Transition 将记录转换到 next 状态并应用 update。
	// 当前状态已终止或不满足单调序时返回 ErrInvalidTransition。
	Transition(ctx context.Context, id string, next RequestStatus, update *TransitionUpdate) error
	// LatestID 返回最近创建的记录 id；没有记录时返回 ErrRequestNotFound
	LatestID(ctx context.Context) (string, error)
	// ReconcileInterrupted 将所有 running 状态的孤儿记录标记为 failed，
	// 返回受影响的记录数。在服务启动、接受新请求之前调用一次。
	ReconcileInterrupted(ctx context.Context) (int, error)
	// Close 释放底层资源
	Close() error
}
