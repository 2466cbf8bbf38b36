package consumer_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	feeapp "github.com/wyfcoding/commissionledger/internal/feemanagement/application"
	feemysql "github.com/wyfcoding/commissionledger/internal/feemanagement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/internal/ledger/application"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/ledger/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/internal/ledger/interfaces/consumer"
	"github.com/wyfcoding/commissionledger/pkg/db/dbtest"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
	"github.com/wyfcoding/commissionledger/pkg/mq"
)

const (
	settledTopic  = "order.line.settled"
	refundedTopic = "order.refunded"
)

type seqIDs struct{ n int64 }

func (s *seqIDs) Next() int64 {
	s.n++
	return s.n
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newHandler(t *testing.T) (*consumer.OrderEventHandler, *application.LedgerService) {
	t.Helper()
	ctx := context.Background()
	database := dbtest.New(t, append(mysql.Models(), &feemysql.FeeScheduleModel{})...)

	fees := feeapp.NewFeeService(feemysql.NewFeeScheduleRepository(database), nil, slog.Default())
	_, err := fees.EnsureDefault(ctx, feeapp.PublishScheduleCommand{
		PlatformFeePercent:     money("0.15"),
		ReferralOfPlatformRate: money("0.20"),
		ProcessorPercent:       money("0.029"),
		ProcessorFixed:         money("0.30"),
		Currency:               "USD",
		Scale:                  2,
	})
	require.NoError(t, err)

	ledger := application.NewLedgerService(
		database,
		mysql.NewOrderLineRepository(database),
		mysql.NewDistributionRepository(database),
		mysql.NewBalanceRepository(database),
		fees,
		&seqIDs{},
		metrics.New("test"),
		application.Options{PlatformUserID: "platform", HoldWindow: 14 * 24 * time.Hour, MaxTransferAttempts: 3},
		slog.Default(),
	)
	return consumer.NewOrderEventHandler(ledger, settledTopic, refundedTopic, slog.Default()), ledger
}

func message(t *testing.T, topic string, payload any) *mq.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &mq.Message{Topic: topic, Value: raw}
}

func settled(salePrice string) application.RecordSaleCommand {
	return application.RecordSaleCommand{
		OrderLineID:   "line-1",
		OrderID:       "order-1",
		ProductID:     "p-1",
		SellerID:      "seller-1",
		AffiliateID:   "aff-1",
		Quantity:      1,
		Ask:           money("100"),
		AffiliateRate: money("0.20"),
		SalePrice:     money(salePrice),
		SettledAt:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSettledEventRecordsOnce(t *testing.T) {
	ctx := context.Background()
	h, ledger := newHandler(t)

	msg := message(t, settledTopic, settled("139.35"))
	require.NoError(t, h.Handle(ctx, msg))
	require.NoError(t, h.Handle(ctx, msg))

	seller, err := ledger.GetBalance(ctx, "seller-1", domain.RoleSeller)
	require.NoError(t, err)
	assert.True(t, money("100").Equal(seller.Held), seller.Held.String())

	aff, err := ledger.GetBalance(ctx, "aff-1", domain.RoleAffiliate)
	require.NoError(t, err)
	assert.True(t, money("20").Equal(aff.Held), aff.Held.String())
}

func TestSettledEventRejectsSalePriceBelowComponents(t *testing.T) {
	h, _ := newHandler(t)
	err := h.Handle(context.Background(), message(t, settledTopic, settled("120.00")))
	assert.Error(t, err)
}

func TestRefundEventReversesHeldDistributions(t *testing.T) {
	ctx := context.Background()
	h, ledger := newHandler(t)
	require.NoError(t, h.Handle(ctx, message(t, settledTopic, settled("139.35"))))

	require.NoError(t, h.Handle(ctx, message(t, refundedTopic, map[string]string{"order_id": "order-1"})))

	seller, err := ledger.GetBalance(ctx, "seller-1", domain.RoleSeller)
	require.NoError(t, err)
	assert.True(t, seller.Held.IsZero(), seller.Held.String())

	// 未知订单的退款直接确认
	assert.NoError(t, h.Handle(ctx, message(t, refundedTopic, map[string]string{"order_id": "order-x"})))
}

func TestIgnoredAndMalformedMessages(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	assert.NoError(t, h.Handle(ctx, &mq.Message{Topic: "other.topic", Value: []byte("{")}))
	assert.NoError(t, h.Handle(ctx, message(t, settledTopic, map[string]string{"order_id": "o"})))
	assert.NoError(t, h.Handle(ctx, message(t, refundedTopic, map[string]string{})))
	assert.Error(t, h.Handle(ctx, &mq.Message{Topic: settledTopic, Value: []byte("{")}))
	assert.Error(t, h.Handle(ctx, &mq.Message{Topic: refundedTopic, Value: []byte("not json")}))
}
