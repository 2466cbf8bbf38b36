// Package mq 提供 Kafka producer/consumer，消费端处理成功后才提交位点，失败消息转入死信队列
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/commissionledger/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	SessionTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// Publisher 消息发布接口
type Publisher interface {
	SendMessage(ctx context.Context, topic string, key string, value any) error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        cfg.RetryBackoff,
		WriteBackoffMax:        cfg.RetryBackoff * 10,
	}

	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer}
}

// SendMessage 发送单条 JSON 消息，同一 key 落在同一分区
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic string, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = kp.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		logger.Error(ctx, "Failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}

	logger.Debug(ctx, "Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}

// Message Kafka 消息结构
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Time      time.Time
}

// UnmarshalPayload 将消息值解析为 JSON
func (m *Message) UnmarshalPayload(dest any) error {
	return json.Unmarshal(m.Value, dest)
}

// Handler 消息处理函数
type Handler func(ctx context.Context, msg *Message) error

// KafkaConsumer Kafka 消费者
type KafkaConsumer struct {
	reader     *kafka.Reader
	dlq        *DeadLetterQueue
	maxRetries int
	backoff    time.Duration
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg KafkaConfig, topic string, dlq *DeadLetterQueue) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: cfg.SessionTimeout,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})

	logger.Info(context.Background(), "Kafka consumer created successfully",
		"brokers", cfg.Brokers,
		"topic", topic,
		"group_id", cfg.GroupID,
	)
	return &KafkaConsumer{
		reader:     reader,
		dlq:        dlq,
		maxRetries: max(cfg.MaxRetries, 1),
		backoff:    cfg.RetryBackoff,
	}
}

// Run 循环拉取消息并调用 handler，直到 ctx 取消
func (kc *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	for {
		km, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			logger.Error(ctx, "Failed to read Kafka message", "error", err)
			return err
		}

		msg := &Message{
			Topic:     km.Topic,
			Partition: km.Partition,
			Offset:    km.Offset,
			Key:       string(km.Key),
			Value:     km.Value,
			Time:      km.Time,
		}
		if err := kc.process(ctx, msg, handle); err != nil {
			// ctx 取消时不提交，重启后重新投递
			return nil
		}
		if err := kc.reader.CommitMessages(ctx, km); err != nil {
			logger.Error(ctx, "Failed to commit Kafka offset", "topic", km.Topic, "offset", km.Offset, "error", err)
		}
	}
}

func (kc *KafkaConsumer) process(ctx context.Context, msg *Message, handle Handler) error {
	var lastErr error
	for attempt := 1; attempt <= kc.maxRetries; attempt++ {
		if lastErr = handle(ctx, msg); lastErr == nil {
			return nil
		}
		logger.Warn(ctx, "Kafka message handling failed",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(kc.backoff * time.Duration(attempt)):
		}
	}
	if kc.dlq != nil {
		if err := kc.dlq.Send(ctx, msg, "handler retries exhausted", lastErr); err != nil {
			logger.Error(ctx, "Failed to send message to DLQ", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
	return nil
}

// Close 关闭消费者
func (kc *KafkaConsumer) Close() error {
	return kc.reader.Close()
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer Publisher
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer Publisher, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{producer: producer, topic: topic}
}

// Send 发送消息到死信队列
func (dlq *DeadLetterQueue) Send(ctx context.Context, original *Message, reason string, err error) error {
	msg := map[string]any{
		"original_topic":    original.Topic,
		"original_key":      original.Key,
		"original_value":    string(original.Value),
		"original_offset":   original.Offset,
		"original_time":     original.Time,
		"failure_reason":    reason,
		"failure_error":     err.Error(),
		"failure_timestamp": time.Now().UTC(),
	}
	return dlq.producer.SendMessage(ctx, dlq.topic, original.Key, msg)
}
