// Package events 付款结果事件的发布
package events

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/mq"
)

// 事件类型
const (
	PayoutCompletedEvent = "ledger.payout.completed"
	PayoutFailedEvent    = "ledger.payout.failed"
)

// PayoutEvent 付款结果事件体
type PayoutEvent struct {
	Type           string          `json:"type"`
	PayoutID       int64           `json:"payout_id"`
	BatchNumber    string          `json:"batch_number"`
	UserID         string          `json:"user_id"`
	Role           string          `json:"role"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	TransferID     string          `json:"transfer_id,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	PayoutsBlocked bool            `json:"payouts_blocked,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// KafkaPublisher 通过 Kafka 发布事件，以用户为消息键保证同一用户的事件有序
type KafkaPublisher struct {
	producer mq.Publisher
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher 创建 Kafka 事件发布者
func NewKafkaPublisher(producer mq.Publisher, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "payout_publisher"),
	}
}

func (p *KafkaPublisher) PublishPayoutCompleted(ctx context.Context, po *domain.Payout) error {
	return p.publish(ctx, newEvent(PayoutCompletedEvent, po, false))
}

func (p *KafkaPublisher) PublishPayoutFailed(ctx context.Context, po *domain.Payout, blocked bool) error {
	return p.publish(ctx, newEvent(PayoutFailedEvent, po, blocked))
}

func (p *KafkaPublisher) publish(ctx context.Context, ev *PayoutEvent) error {
	if err := p.producer.SendMessage(ctx, p.topic, ev.UserID, ev); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish payout event", "type", ev.Type, "payout_id", strconv.FormatInt(ev.PayoutID, 10), "error", err)
		return err
	}
	return nil
}

func newEvent(typ string, po *domain.Payout, blocked bool) *PayoutEvent {
	return &PayoutEvent{
		Type:           typ,
		PayoutID:       po.ID,
		BatchNumber:    po.BatchNumber,
		UserID:         po.UserID,
		Role:           string(po.Role),
		Amount:         po.Amount,
		Currency:       po.Currency,
		TransferID:     po.TransferID,
		FailureReason:  po.FailureReason,
		PayoutsBlocked: blocked,
		OccurredAt:     po.UpdatedAt,
	}
}

// NoopPublisher Kafka 未启用时使用
type NoopPublisher struct{}

func (NoopPublisher) PublishPayoutCompleted(context.Context, *domain.Payout) error { return nil }

func (NoopPublisher) PublishPayoutFailed(context.Context, *domain.Payout, bool) error { return nil }
