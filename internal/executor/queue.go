package executor

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/stratus/internal/storage"
	"github.com/sirupsen/logrus"
)

// requestQueue 是按调度类别划分的待执行请求队列。
// 内存部分无界，提交永远不会阻塞调用方；配置了 Redis 时，
// 超过阈值的 id 溢出到 Redis 列表，由空闲的工作单元取回，
// FIFO 顺序保持不变。
type requestQueue struct {
	name string
	mu   sync.Mutex
	cond *sync.Cond
	// items 是内存中的待执行 id，头部出队
	items  []string
	closed bool

	spill          *storage.RedisSpill
	spillThreshold int

	logger *logrus.Logger
}

func newRequestQueue(name string, spill *storage.RedisSpill, spillThreshold int, logger *logrus.Logger) *requestQueue {
	q := &requestQueue{
		name:           name,
		spill:          spill,
		spillThreshold: spillThreshold,
		logger:         logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put 入队一个请求 id。
// 返回该 id 是否被溢出到 Redis（仅用于指标上报）。
func (q *requestQueue) Put(id string) (spilled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.spill != nil && len(q.items) >= q.spillThreshold {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := q.spill.Push(ctx, q.name, id)
		cancel()
		if err == nil {
			q.cond.Signal()
			return true
		}
		// Redis 不可用时退回内存队列，保持无界不阻塞
		q.logger.WithError(err).WithField("queue", q.name).
			Warn("Failed to spill to redis, keeping request in memory")
	}
	q.items = append(q.items, id)
	q.cond.Signal()
	return false
}

// Get 取出下一个待执行的请求 id，队列为空时等待。
// 队列关闭且无剩余元素时返回 ok=false。
func (q *requestQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			return id, true
		}
		if q.closed {
			return "", false
		}
		if q.spill != nil {
			// 内存队列空时从溢出列表取回
			q.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			id, err := q.spill.Pop(ctx, q.name)
			cancel()
			q.mu.Lock()
			if err != nil {
				q.logger.WithError(err).WithField("queue", q.name).
					Warn("Failed to pop from redis spill queue")
			}
			if id != "" {
				return id, true
			}
		}
		q.wait()
	}
}

// wait 在持有锁的情况下等待新元素。
// 配置了溢出队列时使用限时等待，以便周期性地检查 Redis。
func (q *requestQueue) wait() {
	if q.spill == nil {
		q.cond.Wait()
		return
	}
	timer := time.AfterFunc(100*time.Millisecond, q.cond.Broadcast)
	q.cond.Wait()
	timer.Stop()
}

// Len 返回内存队列当前深度。
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭队列并唤醒所有等待的工作单元。
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
