// Package storage 提供请求记录的持久化实现。
// 本文件实现基于 Redis 的队列溢出缓冲：当执行器的内存工作队列
// 超过阈值时，多出的请求 id 暂存到 Redis 列表，由执行器在队列
// 腾出空间后取回。提交路径因此永远不会阻塞 HTTP 处理上下文。
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 是 Redis 连接配置。
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisSpill 封装一个按调度类别划分的溢出列表。
type RedisSpill struct {
	client *redis.Client
}

// NewRedisSpill 建立 Redis 连接。
func NewRedisSpill(cfg RedisConfig) (*RedisSpill, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisSpill{client: client}, nil
}

// spillKey 返回调度类别对应的列表键。
func spillKey(queue string) string {
	return "stratus:queue:spill:" + queue
}

// Push 将请求 id 追加到溢出列表尾部。
func (r *RedisSpill) Push(ctx context.Context, queue, requestID string) error {
	return r.client.RPush(ctx, spillKey(queue), requestID).Err()
}

// Pop 从溢出列表头部取出一个请求 id。
// 列表为空时返回 ("", nil)，保持 FIFO 顺序。
func (r *RedisSpill) Pop(ctx context.Context, queue string) (string, error) {
	id, err := r.client.LPop(ctx, spillKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to pop from spill queue: %w", err)
	}
	return id, nil
}

// Len 返回溢出列表当前长度，用于指标上报。
func (r *RedisSpill) Len(ctx context.Context, queue string) (int64, error) {
	return r.client.LLen(ctx, spillKey(queue)).Result()
}

// Close 关闭底层连接。
func (r *RedisSpill) Close() error {
	return r.client.Close()
}
