package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"ToolPilot/internal/config"
	apperrors "ToolPilot/internal/errors"
	"ToolPilot/pkg/logger"
)

// TurnEvent 是一次回合完成后对外发布的事件。
type TurnEvent struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Sequence  int       `json:"sequence"`
	Tool      string    `json:"tool"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink 抽象事件外发通道。发布失败不应阻断会话主流程，
// 调用方记录日志后继续。
type Sink interface {
	Publish(ctx context.Context, event TurnEvent) error
	Close() error
}

// FromConfig 按配置选择事件通道实现。
func FromConfig(cfg config.EventsConfig) (Sink, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogSink(), nil
	case "redis":
		return NewRedisSink(cfg.Redis)
	case "rabbitmq":
		return NewRabbitSink(cfg.RabbitMQ)
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("未知的事件通道驱动: %s", cfg.Driver))
	}
}

// LogSink 把事件写入结构化日志，是默认实现。
type LogSink struct{}

// NewLogSink 创建日志事件通道。
func NewLogSink() *LogSink { return &LogSink{} }

// Publish 实现 Sink。
func (s *LogSink) Publish(_ context.Context, event TurnEvent) error {
	logger.Audit().Info("turn completed",
		slog.String("session_id", event.SessionID),
		slog.String("turn_id", event.TurnID),
		slog.Int("sequence", event.Sequence),
		slog.String("tool", event.Tool),
		slog.String("status", event.Status),
		slog.Int64("latency_ms", event.LatencyMS))
	return nil
}

// Close 实现 Sink。
func (s *LogSink) Close() error { return nil }

// RedisSink 把事件 RPUSH 到 Redis 列表，供外部消费者拉取。
type RedisSink struct {
	client *redis.Client
	list   string
}

// NewRedisSink 建立 Redis 连接并验证连通性。
func NewRedisSink(cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "redis 连通性检查失败")
	}

	list := cfg.List
	if list == "" {
		list = "toolpilot:turn_events"
	}
	return &RedisSink{client: client, list: list}, nil
}

// Publish 实现 Sink。
func (s *RedisSink) Publish(ctx context.Context, event TurnEvent) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeEventPublish, err, "序列化回合事件失败")
	}
	if err := s.client.RPush(ctx, s.list, encoded).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeEventPublish, err, "写入 redis 事件列表失败")
	}
	return nil
}

// Close 实现 Sink。
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// RabbitSink 把事件发布到 RabbitMQ 队列。
type RabbitSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewRabbitSink 建立连接并声明队列。
func NewRabbitSink(cfg config.RabbitMQConfig) (*RabbitSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "连接 rabbitmq 失败")
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "打开 rabbitmq channel 失败")
	}

	queue := cfg.Queue
	if queue == "" {
		queue = "toolpilot.turn_events"
	}
	if _, err := channel.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "声明 rabbitmq 队列失败")
	}

	return &RabbitSink{conn: conn, channel: channel, queue: queue}, nil
}

// Publish 实现 Sink。
func (s *RabbitSink) Publish(ctx context.Context, event TurnEvent) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeEventPublish, err, "序列化回合事件失败")
	}
	err = s.channel.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   event.Timestamp,
		Body:        encoded,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeEventPublish, err, "发布 rabbitmq 事件失败")
	}
	return nil
}

// Close 实现 Sink。
func (s *RabbitSink) Close() error {
	if err := s.channel.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
