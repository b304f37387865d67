// Package events 提供请求生命周期事件的发布。
// 当前实现基于 NATS JetStream：请求在被调度、开始执行和进入
// 终止状态时各发布一条事件，供外部系统（审计、通知）订阅。
// 事件总线是可选依赖，发布失败只记录日志，不影响请求执行。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oriys/stratus/internal/domain"
	"github.com/sirupsen/logrus"
)

// Bus 封装 NATS/JetStream 连接与请求事件发布。
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Logger
}

// RequestEvent 表示一条请求生命周期事件（JSON 格式）。
type RequestEvent struct {
	RequestID    string               `json:"request_id"`
	Name         string               `json:"name"`
	Status       domain.RequestStatus `json:"status"`
	ScheduleType domain.ScheduleType  `json:"schedule_type"`
	UserID       string               `json:"user_id,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// NewBus 创建事件总线并初始化所需的 JetStream Stream。
func NewBus(natsURL string, logger *logrus.Logger) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// 请求事件 Stream（不存在则创建，存在则尝试更新配置）
	cfg := nats.StreamConfig{
		Name:     "REQUEST_EVENTS",
		Subjects: []string{"request.>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	}
	if _, err := js.AddStream(&cfg); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		js.UpdateStream(&cfg)
	}

	return &Bus{conn: nc, js: js, logger: logger}, nil
}

// PublishRequest 发布一条请求生命周期事件。
// 主题形如 request.<status>，事件体为记录的快照。
func (b *Bus) PublishRequest(ctx context.Context, rec *domain.RequestRecord) {
	if b == nil {
		return
	}
	event := RequestEvent{
		RequestID:    rec.ID,
		Name:         rec.Name,
		Status:       rec.Status,
		ScheduleType: rec.ScheduleType,
		UserID:       rec.UserID,
		Timestamp:    time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.WithError(err).Warn("Failed to marshal request event")
		return
	}
	subject := "request." + string(rec.Status)
	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		b.logger.WithError(err).WithField("subject", subject).
			Warn("Failed to publish request event")
	}
}

// Close 关闭底层 NATS 连接。
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.conn.Close()
	return nil
}
