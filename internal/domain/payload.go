// Package domain 定义了请求调度与执行子系统的核心领域模型。
package domain

import (
	"encoding/json"
	"fmt"
)

// OperationKind 表示一次请求对应的操作种类。
// 每个种类映射到一个强类型的载荷结构，在准入时完整校验，
// 校验通过后记录才会被持久化。
type OperationKind string

// 操作种类常量定义
const (
	// OpClusterStatus 查询集群状态
	OpClusterStatus OperationKind = "cluster.status"
	// OpClusterLaunch 创建或启动集群
	OpClusterLaunch OperationKind = "cluster.launch"
	// OpClusterStop 停止集群
	OpClusterStop OperationKind = "cluster.stop"
	// OpClusterDown 销毁集群
	OpClusterDown OperationKind = "cluster.down"
	// OpJobSubmit 向集群提交作业
	OpJobSubmit OperationKind = "job.submit"
	// OpJobQueue 查询作业队列
	OpJobQueue OperationKind = "job.queue"
)

// Payload 是所有操作载荷的公共接口。
type Payload interface {
	// Kind 返回载荷对应的操作种类
	Kind() OperationKind
	// Validate 在准入时完整校验载荷字段
	Validate() error
}

// DefaultScheduleType 返回操作种类的默认调度类别。
// 重型操作（创建、提交）走 blocking 池，元数据操作走 non_blocking 池。
func DefaultScheduleType(kind OperationKind) ScheduleType {
	switch kind {
	case OpClusterLaunch, OpClusterStop, OpClusterDown, OpJobSubmit:
		return ScheduleTypeBlocking
	default:
		return ScheduleTypeNonBlocking
	}
}

// ClusterStatusPayload 是 cluster.status 操作的输入。
type ClusterStatusPayload struct {
	// ClusterNames 为空表示查询全部集群
	ClusterNames []string `json:"cluster_names,omitempty"`
	// Refresh 为 true 时强制向提供方刷新状态
	Refresh bool `json:"refresh,omitempty"`
}

// Kind 返回操作种类。
func (p *ClusterStatusPayload) Kind() OperationKind { return OpClusterStatus }

// Validate 校验载荷字段。
func (p *ClusterStatusPayload) Validate() error {
	for _, name := range p.ClusterNames {
		if name == "" {
			return fmt.Errorf("%w: empty cluster name", ErrInvalidPayload)
		}
	}
	return nil
}

// ClusterLaunchPayload 是 cluster.launch 操作的输入。
type ClusterLaunchPayload struct {
	// ClusterName 是要创建的集群名称
	ClusterName string `json:"cluster_name"`
	// Provider 是目标云提供方标识
	Provider string `json:"provider"`
	// NumNodes 是节点数量，默认 1
	NumNodes int `json:"num_nodes,omitempty"`
	// IdleMinutesToAutostop 空闲自动停止时间（分钟），0 表示不自动停止
	IdleMinutesToAutostop int `json:"idle_minutes_to_autostop,omitempty"`
}

// Kind 返回操作种类。
func (p *ClusterLaunchPayload) Kind() OperationKind { return OpClusterLaunch }

// Validate 校验载荷字段。
func (p *ClusterLaunchPayload) Validate() error {
	if p.ClusterName == "" {
		return fmt.Errorf("%w: cluster_name is required", ErrInvalidPayload)
	}
	if p.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidPayload)
	}
	if p.NumNodes < 0 {
		return fmt.Errorf("%w: num_nodes must be non-negative", ErrInvalidPayload)
	}
	if p.IdleMinutesToAutostop < 0 {
		return fmt.Errorf("%w: idle_minutes_to_autostop must be non-negative", ErrInvalidPayload)
	}
	return nil
}

// ClusterStopPayload 是 cluster.stop 操作的输入。
type ClusterStopPayload struct {
	// ClusterName 是要停止的集群名称
	ClusterName string `json:"cluster_name"`
}

// Kind 返回操作种类。
func (p *ClusterStopPayload) Kind() OperationKind { return OpClusterStop }

// Validate 校验载荷字段。
func (p *ClusterStopPayload) Validate() error {
	if p.ClusterName == "" {
		return fmt.Errorf("%w: cluster_name is required", ErrInvalidPayload)
	}
	return nil
}

// ClusterDownPayload 是 cluster.down 操作的输入。
type ClusterDownPayload struct {
	// ClusterName 是要销毁的集群名称
	ClusterName string `json:"cluster_name"`
	// Purge 为 true 时即使提供方删除失败也清理本地记录
	Purge bool `json:"purge,omitempty"`
}

// Kind 返回操作种类。
func (p *ClusterDownPayload) Kind() OperationKind { return OpClusterDown }

// Validate 校验载荷字段。
func (p *ClusterDownPayload) Validate() error {
	if p.ClusterName == "" {
		return fmt.Errorf("%w: cluster_name is required", ErrInvalidPayload)
	}
	return nil
}

// JobSubmitPayload 是 job.submit 操作的输入。
type JobSubmitPayload struct {
	// ClusterName 是目标集群名称
	ClusterName string `json:"cluster_name"`
	// Command 是要执行的命令
	Command string `json:"command"`
	// NumNodes 是作业需要的节点数，默认 1
	NumNodes int `json:"num_nodes,omitempty"`
}

// Kind 返回操作种类。
func (p *JobSubmitPayload) Kind() OperationKind { return OpJobSubmit }

// Validate 校验载荷字段。
func (p *JobSubmitPayload) Validate() error {
	if p.ClusterName == "" {
		return fmt.Errorf("%w: cluster_name is required", ErrInvalidPayload)
	}
	if p.Command == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidPayload)
	}
	if p.NumNodes < 0 {
		return fmt.Errorf("%w: num_nodes must be non-negative", ErrInvalidPayload)
	}
	return nil
}

// JobQueuePayload 是 job.queue 操作的输入。
type JobQueuePayload struct {
	// ClusterName 是目标集群名称
	ClusterName string `json:"cluster_name"`
	// AllUsers 为 true 时返回所有用户的作业
	AllUsers bool `json:"all_users,omitempty"`
}

// Kind 返回操作种类。
func (p *JobQueuePayload) Kind() OperationKind { return OpJobQueue }

// Validate 校验载荷字段。
func (p *JobQueuePayload) Validate() error {
	if p.ClusterName == "" {
		return fmt.Errorf("%w: cluster_name is required", ErrInvalidPayload)
	}
	return nil
}

// ParsePayload 将原始 JSON 解码为 kind 对应的强类型载荷并完成校验。
// 这是准入路径上唯一的载荷入口：未知种类与校验失败都在
// 记录持久化之前被拒绝。
func ParsePayload(kind OperationKind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case OpClusterStatus:
		p = &ClusterStatusPayload{}
	case OpClusterLaunch:
		p = &ClusterLaunchPayload{}
	case OpClusterStop:
		p = &ClusterStopPayload{}
	case OpClusterDown:
		p = &ClusterDownPayload{}
	case OpJobSubmit:
		p = &JobSubmitPayload{}
	case OpJobQueue:
		p = &JobQueuePayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadKind, kind)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
