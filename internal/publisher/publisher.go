package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventAlarmOpened = "alarm.opened"
	EventAlarmClosed = "alarm.closed"
)

// AlarmEvent 报警生命周期事件（发布到 Redis Streams 供下游消费）
type AlarmEvent struct {
	Type        string `json:"type"`
	AlarmID     string `json:"alarm_id"`
	Name        string `json:"name"`
	Birth       string `json:"birth"`
	Time        string `json:"time"`
	Message     string `json:"message"`
	DurationSec *int64 `json:"duration_sec,omitempty"`
}

// AlarmPublisher 报警事件发布接口
// 发布失败只记录日志，不影响报警操作本身
type AlarmPublisher interface {
	Publish(ctx context.Context, event AlarmEvent) error
}

// RedisPublisher 基于 Redis Streams 的发布实现
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisPublisher 创建 Redis Streams 发布器
func NewRedisPublisher(client *redis.Client, stream string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Publish 将事件序列化为 JSON 后 XADD 到流
func (p *RedisPublisher) Publish(ctx context.Context, event AlarmEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm event: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(payload),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish alarm event: %w", err)
	}

	p.logger.Debug("Alarm event published",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("type", event.Type),
	)
	return nil
}

// NoopPublisher 未配置 Redis 时的空实现
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, AlarmEvent) error {
	return nil
}
