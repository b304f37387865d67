// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义请求子系统的关键指标（调度、队列、工作池），
// 便于在各模块复用并保持标签一致。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 封装请求子系统的运行时指标集合。
//
// 指标分类:
//   - 请求指标: 跟踪请求的数量、终态分布与执行耗时
//   - 队列指标: 监控每个调度类别的排队深度与溢出情况
//   - 工作池指标: 监控各池的并发占用
type Metrics struct {
	// RequestsScheduled 已调度请求总数计数器
	// 标签: name, schedule_type
	RequestsScheduled *prometheus.CounterVec

	// RequestsFinished 已完成请求计数器，按终态分类
	// 标签: name, schedule_type, status
	RequestsFinished *prometheus.CounterVec

	// RequestDuration 请求执行耗时直方图（单位：秒）
	// 标签: name, schedule_type
	RequestDuration *prometheus.HistogramVec

	// QueueDepth 内存工作队列当前深度
	// 标签: schedule_type
	QueueDepth *prometheus.GaugeVec

	// QueueSpilled 溢出到 Redis 的请求计数器
	// 标签: schedule_type
	QueueSpilled *prometheus.CounterVec

	// WorkersBusy 正在执行请求的工作单元数量
	// 标签: schedule_type
	WorkersBusy *prometheus.GaugeVec

	// RequestsCancelled 被取消的请求计数器
	// 标签: from_status (pending/running)
	RequestsCancelled *prometheus.CounterVec
}

// New 创建并注册所有指标。
func New() *Metrics {
	return &Metrics{
		RequestsScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stratus_requests_scheduled_total",
			Help: "Total number of requests accepted by the dispatcher",
		}, []string{"name", "schedule_type"}),

		RequestsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stratus_requests_finished_total",
			Help: "Total number of requests that reached a terminal status",
		}, []string{"name", "schedule_type", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stratus_request_duration_seconds",
			Help:    "Wall-clock execution time of requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"name", "schedule_type"}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratus_queue_depth",
			Help: "Number of request ids waiting in the in-memory work queue",
		}, []string{"schedule_type"}),

		QueueSpilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stratus_queue_spilled_total",
			Help: "Number of request ids parked in the Redis spill list",
		}, []string{"schedule_type"}),

		WorkersBusy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratus_workers_busy",
			Help: "Number of workers currently executing a request",
		}, []string{"schedule_type"}),

		RequestsCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stratus_requests_cancelled_total",
			Help: "Total number of abort operations that landed",
		}, []string{"from_status"}),
	}
}
