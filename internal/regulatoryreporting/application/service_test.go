package application_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ledgermysql "github.com/wyfcoding/commissionledger/internal/ledger/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/internal/regulatoryreporting/application"
	"github.com/wyfcoding/commissionledger/internal/regulatoryreporting/domain"
	"github.com/wyfcoding/commissionledger/internal/regulatoryreporting/infrastructure/persistence/mysql"
	settlement "github.com/wyfcoding/commissionledger/internal/settlement/domain"
	settlementmysql "github.com/wyfcoding/commissionledger/internal/settlement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/pkg/db"
	"github.com/wyfcoding/commissionledger/pkg/db/dbtest"
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubPayouts struct{ calls int }

func (s *stubPayouts) ListProcessorPayouts(_ context.Context, userID string, limit int) ([]settlement.ProcessorPayout, error) {
	s.calls++
	return []settlement.ProcessorPayout{{ID: "po_" + userID, Currency: "USD"}}, nil
}

func newService(t *testing.T) (*application.ReportingService, *db.DB) {
	t.Helper()
	models := append(ledgermysql.Models(), settlementmysql.Models()...)
	database := dbtest.New(t, models...)
	svc := application.NewReportingService(mysql.NewReportRepository(database), &stubPayouts{}, money("600"), slog.Default())
	return svc, database
}

func TestSalesLedgerGroupsByOrder(t *testing.T) {
	svc, database := newService(t)
	conn := database.Conn(context.Background())
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	dists := []ledgermysql.DistributionModel{
		{ID: 1, OrderID: "o-1", OrderLineID: "l-1", RecipientID: "seller-1", Role: "seller", Amount: money("100"), Status: "paid", AvailableAt: base, CreatedAt: base},
		{ID: 2, OrderID: "o-1", OrderLineID: "l-2", RecipientID: "seller-1", Role: "seller", Amount: money("50.50"), Status: "pending", AvailableAt: base, CreatedAt: base},
		{ID: 3, OrderID: "o-2", OrderLineID: "l-3", RecipientID: "seller-1", Role: "seller", Amount: money("40"), Status: "reversed", AvailableAt: base, CreatedAt: base.Add(time.Hour)},
		{ID: 4, OrderID: "o-2", OrderLineID: "l-4", RecipientID: "seller-1", Role: "seller", Amount: money("10"), Status: "held", AvailableAt: base, CreatedAt: base.Add(time.Hour)},
		{ID: 5, OrderID: "o-1", OrderLineID: "l-1", RecipientID: "aff-1", Role: "affiliate", Amount: money("20"), Status: "paid", AvailableAt: base, CreatedAt: base},
		{ID: 6, OrderID: "o-3", OrderLineID: "l-5", RecipientID: "seller-2", Role: "seller", Amount: money("70"), Status: "held", AvailableAt: base, CreatedAt: base},
	}
	require.NoError(t, conn.Create(&dists).Error)

	ledger, err := svc.SalesLedger(context.Background(), "seller-1")
	require.NoError(t, err)
	require.Len(t, ledger.Orders, 2)
	assert.True(t, money("160.50").Equal(ledger.TotalAmount), ledger.TotalAmount.String())

	// 最近的订单在前
	o2, o1 := ledger.Orders[0], ledger.Orders[1]
	assert.Equal(t, "o-2", o2.OrderID)
	assert.True(t, money("10").Equal(o2.SellerAmount))
	assert.Equal(t, map[string]int{"reversed": 1, "held": 1}, o2.StatusCounts)
	assert.Equal(t, "o-1", o1.OrderID)
	assert.True(t, money("150.50").Equal(o1.SellerAmount))
	assert.Equal(t, map[string]int{"paid": 1, "pending": 1}, o1.StatusCounts)

	empty, err := svc.SalesLedger(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.Orders)
	assert.True(t, empty.TotalAmount.IsZero())
}

func TestTaxReportFiltersByYearThresholdAndAgreement(t *testing.T) {
	svc, database := newService(t)
	conn := database.Conn(context.Background())
	at := func(y int, m time.Month) *time.Time {
		ts := time.Date(y, m, 10, 12, 0, 0, 0, time.UTC)
		return &ts
	}

	accounts := []settlementmysql.ConnectedAccountModel{
		{UserID: "u-signed", ProcessorAccountID: "acct_1", IdentityStatus: "verified", SellerStatus: "verified", TaxAgreementOnFile: true},
		{UserID: "u-unsigned", ProcessorAccountID: "acct_2", IdentityStatus: "verified", SellerStatus: "verified"},
		{UserID: "u-small", ProcessorAccountID: "acct_3", IdentityStatus: "verified", SellerStatus: "verified", TaxAgreementOnFile: true},
	}
	require.NoError(t, conn.Create(&accounts).Error)

	var id int64
	payout := func(user, amount, status string, completedAt *time.Time) settlementmysql.PayoutModel {
		id++
		return settlementmysql.PayoutModel{
			ID: id, BatchID: id, BatchNumber: "B1", UserID: user, Role: "seller", Amount: money(amount),
			Currency: "USD", Destination: "acct", Status: status, IdempotencyKey: fmt.Sprintf("key-%d", id),
			CompletedAt: completedAt,
		}
	}
	payouts := []settlementmysql.PayoutModel{
		payout("u-signed", "400", "completed", at(2026, 2)),
		payout("u-signed", "250", "completed", at(2026, 11)),
		payout("u-signed", "900", "completed", at(2025, 12)),
		payout("u-signed", "900", "failed", nil),
		payout("u-unsigned", "5000", "completed", at(2026, 5)),
		payout("u-small", "599.99", "completed", at(2026, 5)),
	}
	require.NoError(t, conn.Create(&payouts).Error)

	report, err := svc.TaxReport(context.Background(), 2026)
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "u-signed", report.Rows[0].UserID)
	assert.True(t, money("650").Equal(report.Rows[0].TotalPaid), report.Rows[0].TotalPaid.String())
	assert.Equal(t, 2, report.Rows[0].PayoutCount)

	_, err = svc.TaxReport(context.Background(), 12)
	assert.ErrorIs(t, err, domain.ErrInvalidYear)
}

func TestProcessorPayoutsPassThrough(t *testing.T) {
	stub := &stubPayouts{}
	svc := application.NewReportingService(nil, stub, money("600"), slog.Default())
	got, err := svc.ProcessorPayouts(context.Background(), "u-1", 10)
	require.NoError(t, err)
	assert.Equal(t, "po_u-1", got[0].ID)
	assert.Equal(t, 1, stub.calls)
}
