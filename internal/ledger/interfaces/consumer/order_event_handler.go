package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wyfcoding/commissionledger/internal/ledger/application"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	pricing "github.com/wyfcoding/commissionledger/internal/pricing/domain"
	"github.com/wyfcoding/commissionledger/pkg/mq"
)

// OrderEventHandler 消费订单服务的结算与退款事件
type OrderEventHandler struct {
	ledger        *application.LedgerService
	settledTopic  string
	refundedTopic string
	logger        *slog.Logger
}

// NewOrderEventHandler 创建处理器
func NewOrderEventHandler(ledger *application.LedgerService, settledTopic, refundedTopic string, logger *slog.Logger) *OrderEventHandler {
	return &OrderEventHandler{
		ledger:        ledger,
		settledTopic:  settledTopic,
		refundedTopic: refundedTopic,
		logger:        logger,
	}
}

// Handle 按 topic 分发。返回错误的消息会被重试，重试耗尽后进入死信队列。
func (h *OrderEventHandler) Handle(ctx context.Context, msg *mq.Message) error {
	switch msg.Topic {
	case h.settledTopic:
		return h.handleSettled(ctx, msg)
	case h.refundedTopic:
		return h.handleRefunded(ctx, msg)
	default:
		return nil
	}
}

func (h *OrderEventHandler) handleSettled(ctx context.Context, msg *mq.Message) error {
	var cmd application.RecordSaleCommand
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal order line settled event", "offset", msg.Offset, "error", err)
		return err
	}
	if cmd.OrderLineID == "" {
		return nil
	}

	_, err := h.ledger.RecordSale(ctx, cmd)
	if err != nil {
		if isInvalidSale(err) {
			// 重试不会成功，交给死信队列由人工处理
			h.logger.ErrorContext(ctx, "rejected order line settled event", "order_line_id", cmd.OrderLineID, "error", err)
		}
		return err
	}
	return nil
}

type refundEvent struct {
	OrderID     string `json:"order_id"`
	OrderLineID string `json:"order_line_id,omitempty"`
}

func (h *OrderEventHandler) handleRefunded(ctx context.Context, msg *mq.Message) error {
	var ev refundEvent
	if err := msg.UnmarshalPayload(&ev); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal order refunded event", "offset", msg.Offset, "error", err)
		return err
	}

	var (
		res *application.ReversalResult
		err error
	)
	switch {
	case ev.OrderLineID != "":
		res, err = h.ledger.ReverseOrderLine(ctx, ev.OrderLineID)
	case ev.OrderID != "":
		res, err = h.ledger.ReverseOrder(ctx, ev.OrderID)
	default:
		return nil
	}
	if errors.Is(err, domain.ErrDistributionNotFound) {
		h.logger.WarnContext(ctx, "refund for unknown order, nothing to reverse", "order_id", ev.OrderID, "order_line_id", ev.OrderLineID)
		return nil
	}
	if err != nil {
		return err
	}
	if len(res.ClawbackRequired) > 0 {
		h.logger.WarnContext(ctx, "refund touches paid distributions, clawback required",
			"order_id", ev.OrderID, "distribution_ids", res.ClawbackRequired)
	}
	return nil
}

func isInvalidSale(err error) bool {
	return errors.Is(err, domain.ErrInvalidOrderLine) ||
		errors.Is(err, pricing.ErrInvalidAsk) ||
		errors.Is(err, pricing.ErrInvalidRate) ||
		errors.Is(err, pricing.ErrInvalidSalePrice) ||
		errors.Is(err, pricing.ErrSplitMismatch)
}
