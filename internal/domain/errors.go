// Package domain 定义了请求调度与执行子系统的核心领域模型。
package domain

import "errors"

// 领域错误定义
// 这些错误用于在存储、执行器与 HTTP 层之间传递业务语义。

var (
	// ========== 请求记录相关错误 ==========

	// ErrDuplicateRequest 表示使用已存在的 id 创建请求
	ErrDuplicateRequest = errors.New("request id already exists")
	// ErrRequestNotFound 表示请求记录不存在
	ErrRequestNotFound = errors.New("request not found")
	// ErrInvalidTransition 表示违反单调序的状态转换。
	// 这是内部不变量被破坏的信号，正常的客户端行为不会触发，
	// 发生时按程序缺陷记录错误日志，不向调用方恢复。
	ErrInvalidTransition = errors.New("invalid request status transition")

	// ========== 调度相关错误 ==========

	// ErrUnknownOperation 表示请求名称没有对应的已注册处理函数
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidScheduleType 表示调度类别不是已知值
	ErrInvalidScheduleType = errors.New("invalid schedule type")
	// ErrExecutorStopped 表示执行器已停止，不再接受新请求
	ErrExecutorStopped = errors.New("executor stopped")

	// ========== 日志流相关错误 ==========

	// ErrPathOutsideLogRoot 表示解析后的日志路径逃逸出允许的根目录，
	// 在任何文件访问发生之前拒绝
	ErrPathOutsideLogRoot = errors.New("log path resolves outside the logs root")

	// ========== 载荷相关错误 ==========

	// ErrUnknownPayloadKind 表示载荷的操作种类未注册
	ErrUnknownPayloadKind = errors.New("unknown payload kind")
	// ErrInvalidPayload 表示载荷未通过准入校验
	ErrInvalidPayload = errors.New("invalid payload")
)
