// Package ops 注册内置的集群与作业操作处理函数。
// 当前实现是面向单机部署的模拟执行：处理函数展示完整的
// 生命周期行为（进度输出、控制行、取消检查点、结构化结果），
// 真实的云提供方对接在各函数体内替换即可。
package ops

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/stratus/internal/domain"
	"github.com/oriys/stratus/internal/executor"
	"github.com/oriys/stratus/internal/logstream"
)

// RegisterAll 把全部内置操作注册到注册表。
// 服务进程与工作进程必须调用同一个 RegisterAll，保证按名称
// 解析处理函数时两侧视图一致。
func RegisterAll(r *executor.Registry) {
	r.Register(domain.OpClusterStatus, ClusterStatus)
	r.Register(domain.OpClusterLaunch, ClusterLaunch)
	r.Register(domain.OpClusterStop, ClusterStop)
	r.Register(domain.OpClusterDown, ClusterDown)
	r.Register(domain.OpJobSubmit, JobSubmit)
	r.Register(domain.OpJobQueue, JobQueue)
}

// checkpoint 在取消检查点观察请求上下文。
// 处理函数在每个阶段之间调用它，使取消能及时生效。
func checkpoint(inv *executor.Invocation) error {
	select {
	case <-inv.Context.Done():
		return inv.Context.Err()
	default:
		return nil
	}
}

// ClusterStatusResult 是 cluster.status 的结果。
type ClusterStatusResult struct {
	Clusters []ClusterInfo `json:"clusters"`
}

// ClusterInfo 描述一个集群的状态快照。
type ClusterInfo struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider"`
	NumNodes  int       `json:"num_nodes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClusterStatus 查询集群状态。
func ClusterStatus(inv *executor.Invocation) (any, error) {
	var p domain.ClusterStatusPayload
	if err := json.Unmarshal(inv.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Refresh {
		fmt.Fprintln(inv.Out, "Refreshing cluster status from providers...")
	}
	if err := checkpoint(inv); err != nil {
		return nil, err
	}

	result := ClusterStatusResult{Clusters: []ClusterInfo{}}
	for _, name := range p.ClusterNames {
		result.Clusters = append(result.Clusters, ClusterInfo{
			Name:      name,
			Status:    "UP",
			Provider:  "local",
			NumNodes:  1,
			UpdatedAt: time.Now().UTC(),
		})
	}
	fmt.Fprintf(inv.Out, "Collected status for %d cluster(s)\n", len(result.Clusters))
	return result, nil
}

// ClusterLaunchResult 是 cluster.launch 的结果。
type ClusterLaunchResult struct {
	ClusterName string `json:"cluster_name"`
	Provider    string `json:"provider"`
	NumNodes    int    `json:"num_nodes"`
	Status      string `json:"status"`
}

// ClusterLaunch 创建或启动集群。
// 输出中包含一条机器可读的控制行，携带集群句柄，
// 供上层客户端在纯文本模式之外消费。
func ClusterLaunch(inv *executor.Invocation) (any, error) {
	var p domain.ClusterLaunchPayload
	if err := json.Unmarshal(inv.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.NumNodes == 0 {
		p.NumNodes = 1
	}

	fmt.Fprintf(inv.Out, "Launching cluster %q on %s (%d node(s))...\n",
		p.ClusterName, p.Provider, p.NumNodes)
	inv.Logger.WithField("cluster", p.ClusterName).Info("Provisioning started")

	// 逐节点推进，每个阶段之间是取消检查点
	for i := 1; i <= p.NumNodes; i++ {
		if err := checkpoint(inv); err != nil {
			return nil, err
		}
		fmt.Fprintf(inv.Out, "Node %d/%d provisioned\n", i, p.NumNodes)
	}

	handle := map[string]any{
		"event":        "cluster_handle",
		"cluster_name": p.ClusterName,
		"provider":     p.Provider,
	}
	line, err := logstream.EncodePayload(handle)
	if err == nil {
		fmt.Fprintln(inv.Out, line)
	}

	fmt.Fprintf(inv.Out, "Cluster %q is UP\n", p.ClusterName)
	return ClusterLaunchResult{
		ClusterName: p.ClusterName,
		Provider:    p.Provider,
		NumNodes:    p.NumNodes,
		Status:      "UP",
	}, nil
}

// ClusterStop 停止集群。
func ClusterStop(inv *executor.Invocation) (any, error) {
	var p domain.ClusterStopPayload
	if err := json.Unmarshal(inv.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	fmt.Fprintf(inv.Out, "Stopping cluster %q...\n", p.ClusterName)
	if err := checkpoint(inv); err != nil {
		return nil, err
	}
	fmt.Fprintf(inv.Out, "Cluster %q stopped\n", p.ClusterName)
	return map[string]string{"cluster_name": p.ClusterName, "status": "STOPPED"}, nil
}

// ClusterDown 销毁集群。
func ClusterDown(inv *executor.Invocation) (any, error) {
	var p domain.ClusterDownPayload
	if err := json.Unmarshal(inv.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	fmt.Fprintf(inv.Out, "Tearing down cluster %q...\n", p.ClusterName)
	if err := checkpoint(inv); err != nil {
		return nil, err
	}
	if p.Purge {
		fmt.Fprintln(inv.Out, "Purging local records")
	}
	fmt.Fprintf(inv.Out, "Cluster %q terminated\n", p.ClusterName)
	return map[string]string{"cluster_name": p.ClusterName, "status": "TERMINATED"}, nil
}

// JobSubmitResult 是 job.submit 的结果。
type JobSubmitResult struct {
	ClusterName string `json:"cluster_name"`
	JobID       int    `json:"job_id"`
	Status      string `json:"status"`
}

// JobSubmit 向集群提交作业。
func JobSubmit(inv *executor.Invocation) (any, error) {
	var p domain.JobSubmitPayload
	if err := json.Unmarshal(inv.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	fmt.Fprintf(inv.Out, "Submitting job to cluster %q: %s\n", p.ClusterName, p.Command)
	if err := checkpoint(inv); err != nil {
		return nil, err
	}
	// 作业 id 由目标集群分配；模拟实现用时间戳保证单调
	jobID := int(time.Now().Unix() % 100000)
	fmt.Fprintf(inv.Out, "Job %d submitted\n", jobID)
	return JobSubmitResult{ClusterName: p.ClusterName, JobID: jobID, Status: "PENDING"}, nil
}

// JobQueueResult 是 job.queue 的结果。
type JobQueueResult struct {
	ClusterName string    `json:"cluster_name"`
	Jobs        []JobInfo `json:"jobs"`
}

// JobInfo 描述队列中的一个作业。
type JobInfo struct {
	JobID   int    `json:"job_id"`
	UserID  string `json:"user_id"`
	Command string `json:"command"`
	Status  string `json:"status"`
}

// JobQueue 查询集群的作业队列。
func JobQueue(inv *executor.Invocation) (any, error) {
	var p domain.JobQueuePayload
	if err := json.Unmarshal(inv.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := checkpoint(inv); err != nil {
		return nil, err
	}
	fmt.Fprintf(inv.Out, "Fetched job queue for cluster %q\n", p.ClusterName)
	return JobQueueResult{ClusterName: p.ClusterName, Jobs: []JobInfo{}}, nil
}
