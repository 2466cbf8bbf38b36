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
	feeapp "github.com/wyfcoding/commissionledger/internal/feemanagement/application"
	feemysql "github.com/wyfcoding/commissionledger/internal/feemanagement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/internal/ledger/application"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/ledger/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/pkg/db"
	"github.com/wyfcoding/commissionledger/pkg/db/dbtest"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
)

const platformUser = "platform"

var settledAt = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

type seqIDs struct{ n int64 }

func (s *seqIDs) Next() int64 {
	s.n++
	return s.n
}

type fixture struct {
	db         *db.DB
	ledger     *application.LedgerService
	release    *application.ReleaseScheduler
	reconciler *application.Reconciler
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	models := append(mysql.Models(), &mysql.OrderModel{}, &feemysql.FeeScheduleModel{})
	database := dbtest.New(t, models...)

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

	m := metrics.New("test")
	dists := mysql.NewDistributionRepository(database)
	balances := mysql.NewBalanceRepository(database)
	ledger := application.NewLedgerService(
		database,
		mysql.NewOrderLineRepository(database),
		dists,
		balances,
		fees,
		&seqIDs{},
		m,
		application.Options{
			PlatformUserID:      platformUser,
			HoldWindow:          14 * 24 * time.Hour,
			MaxTransferAttempts: 2,
			ReleaseBatchSize:    2,
		},
		slog.Default(),
	)

	f := &fixture{db: database, ledger: ledger, now: settledAt}
	ledger.SetClock(func() time.Time { return f.now })
	f.release = application.NewReleaseScheduler(ledger, mysql.NewOrderReader(database), slog.Default())
	f.reconciler = application.NewReconciler(dists, balances, m, slog.Default())
	return f
}

func (f *fixture) order(t *testing.T, id, status string, fulfillment *string) {
	t.Helper()
	require.NoError(t, f.db.Conn(context.Background()).Create(&mysql.OrderModel{
		ID: id, Status: status, FulfillmentStatus: fulfillment,
	}).Error)
}

func sale(lineID, orderID string) application.RecordSaleCommand {
	return application.RecordSaleCommand{
		OrderLineID:   lineID,
		OrderID:       orderID,
		ProductID:     "p-1",
		SellerID:      "seller-1",
		AffiliateID:   "aff-1",
		ReferrerID:    "ref-1",
		Quantity:      1,
		Ask:           money("100"),
		AffiliateRate: money("0.20"),
		SalePrice:     money("139.35"),
		SettledAt:     settledAt,
	}
}

func (f *fixture) balance(t *testing.T, user string, role domain.Role) *domain.UserBalance {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), user, role)
	require.NoError(t, err)
	require.NoError(t, b.Check())
	return b
}

func (f *fixture) releaseAll(t *testing.T) int {
	t.Helper()
	f.now = settledAt.Add(15 * 24 * time.Hour)
	n, err := f.release.ReleaseEligible(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) claim(t *testing.T, user string, role domain.Role, payoutID int64) (decimal.Decimal, error) {
	t.Helper()
	var amount decimal.Decimal
	err := f.db.Transaction(context.Background(), func(ctx context.Context) error {
		var err error
		amount, err = f.ledger.ClaimForPayout(ctx, domain.BalanceKey{UserID: user, Role: role}, payoutID, money("25"))
		return err
	})
	return amount, err
}

func TestRecordSaleCreatesHeldDistributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.Len(t, res.Distributions, 4)

	want := map[domain.Role]string{
		domain.RoleSeller:    "100.00",
		domain.RoleAffiliate: "20.00",
		domain.RoleReferrer:  "3.00",
		domain.RolePlatform:  "12.01",
	}
	total := decimal.Zero
	for _, d := range res.Distributions {
		assert.Equal(t, domain.StatusHeld, d.Status)
		assert.Equal(t, settledAt.Add(14*24*time.Hour), d.AvailableAt)
		assertMoney(t, want[d.Role], d.Amount, "role %s", d.Role)
		total = total.Add(d.Amount)
	}
	assertMoney(t, "139.35", total.Add(res.OrderLine.ProcessorFee))
	assertMoney(t, "4.34", res.OrderLine.ProcessorFee)
	assert.Equal(t, 1, res.OrderLine.FeeScheduleVersion)

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "100", seller.Held)
	assertMoney(t, "0", seller.Current)
	assertMoney(t, "100", seller.TotalEarned)

	platform := f.balance(t, platformUser, domain.RolePlatform)
	assertMoney(t, "12.01", platform.Held)
}

func TestRecordSaleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)

	again, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Len(t, again.Distributions, len(first.Distributions))

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "100", seller.Held)
	assertMoney(t, "100", seller.TotalEarned)
}

func TestRecordSaleMultipliesUnitSplitByQuantity(t *testing.T) {
	f := newFixture(t)
	cmd := sale("line-q", "order-q")
	cmd.Quantity = 3

	res, err := f.ledger.RecordSale(context.Background(), cmd)
	require.NoError(t, err)
	assertMoney(t, "418.05", res.OrderLine.SalePrice)
	assertMoney(t, "13.02", res.OrderLine.ProcessorFee)

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "300", seller.Held)
	platform := f.balance(t, platformUser, domain.RolePlatform)
	assertMoney(t, "36.03", platform.Held)
}

func TestRecordSaleRejectsInvalidLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := sale("line-x", "order-x")
	cmd.AffiliateID = ""
	_, err := f.ledger.RecordSale(ctx, cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderLine)

	cmd = sale("", "order-x")
	_, err = f.ledger.RecordSale(ctx, cmd)
	assert.ErrorIs(t, err, domain.ErrInvalidOrderLine)
}

func TestReleaseRespectsHoldWindowAndFulfillment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unfulfilled := "unfulfilled"
	shipped := "shipped"
	f.order(t, "order-digital", "completed", nil)
	f.order(t, "order-waiting", "completed", &unfulfilled)
	f.order(t, "order-shipped", "completed", &shipped)
	f.order(t, "order-refunded", "refunded", nil)
	for _, id := range []string{"order-digital", "order-waiting", "order-shipped", "order-refunded", "order-missing"} {
		_, err := f.ledger.RecordSale(ctx, sale("line-"+id, id))
		require.NoError(t, err)
	}

	f.now = settledAt.Add(13 * 24 * time.Hour)
	n, err := f.release.ReleaseEligible(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due before the hold window elapses")

	assert.Equal(t, 8, f.releaseAll(t), "digital and shipped orders release all four rows")

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "200", seller.Current)
	assertMoney(t, "300", seller.Held)

	again, err := f.release.ReleaseEligible(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestReverseOrderHandlesEveryStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)
	f.releaseAll(t)

	amount, err := f.claim(t, "seller-1", domain.RoleSeller, 9001)
	require.NoError(t, err)
	assertMoney(t, "100", amount)
	_, err = f.ledger.SettlePayout(ctx, domain.BalanceKey{UserID: "seller-1", Role: domain.RoleSeller}, 9001)
	require.NoError(t, err)

	res, err := f.ledger.ReverseOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Reversed)
	assertMoney(t, "35.01", res.Amount)
	assert.Len(t, res.ClawbackRequired, 1, "the paid seller row needs a clawback")

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "100", seller.PaidOut)
	assertMoney(t, "100", seller.TotalEarned)

	aff := f.balance(t, "aff-1", domain.RoleAffiliate)
	assertMoney(t, "0", aff.Current)
	assertMoney(t, "0", aff.TotalEarned)

	res, err = f.ledger.ReverseOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Zero(t, res.Reversed)

	_, err = f.ledger.ReverseOrder(ctx, "order-unknown")
	assert.ErrorIs(t, err, domain.ErrDistributionNotFound)
}

func TestReverseHeldLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)

	res, err := f.ledger.ReverseOrderLine(ctx, "line-1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Reversed)
	assertMoney(t, "135.01", res.Amount)

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "0", seller.Held)
	assertMoney(t, "0", seller.TotalEarned)
}

func TestReverseRefusesClaimedDistributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)
	f.releaseAll(t)

	_, err = f.claim(t, "seller-1", domain.RoleSeller, 42)
	require.NoError(t, err)

	_, err = f.ledger.ReverseOrder(ctx, "order-1")
	assert.ErrorIs(t, err, domain.ErrDistributionInSettlement)

	aff := f.balance(t, "aff-1", domain.RoleAffiliate)
	assertMoney(t, "20", aff.Current, "failed reversal leaves every balance untouched")
}

func TestClaimGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)

	_, err = f.claim(t, "seller-1", domain.RoleSeller, 1)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum, "held funds are not payable")

	f.releaseAll(t)

	_, err = f.claim(t, "ref-1", domain.RoleReferrer, 2)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = f.claim(t, platformUser, domain.RolePlatform, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	_, err = f.claim(t, "seller-1", domain.RoleSeller, 4)
	require.NoError(t, err)
	_, err = f.claim(t, "seller-1", domain.RoleSeller, 5)
	assert.ErrorIs(t, err, domain.ErrPayoutInFlight)
}

func TestClaimRefusesDriftedBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)
	f.releaseAll(t)

	require.NoError(t, f.db.Conn(ctx).Model(&mysql.UserBalanceModel{}).
		Where("user_id = ? AND role = ?", "seller-1", "seller").
		Updates(map[string]any{"current_balance": money("150"), "total_earned": money("150")}).Error)

	_, err = f.claim(t, "seller-1", domain.RoleSeller, 7)
	assert.ErrorIs(t, err, domain.ErrBalanceDrift)
}

func TestSettlePayoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)
	f.order(t, "order-2", "completed", nil)
	key := domain.BalanceKey{UserID: "seller-1", Role: domain.RoleSeller}

	for _, id := range []string{"order-1", "order-2"} {
		_, err := f.ledger.RecordSale(ctx, sale("line-"+id, id))
		require.NoError(t, err)
	}
	f.releaseAll(t)

	amount, err := f.claim(t, "seller-1", domain.RoleSeller, 100)
	require.NoError(t, err)
	assertMoney(t, "200", amount)

	settled, err := f.ledger.SettlePayout(ctx, key, 100)
	require.NoError(t, err)
	assertMoney(t, "200", settled)

	again, err := f.ledger.SettlePayout(ctx, key, 100)
	require.NoError(t, err)
	assert.True(t, again.IsZero())

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "0", seller.Current)
	assertMoney(t, "200", seller.PaidOut)
	require.NotNil(t, seller.LastPayoutAt)
}

func TestFailPayoutRetriesThenBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)
	key := domain.BalanceKey{UserID: "seller-1", Role: domain.RoleSeller}

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)
	f.releaseAll(t)

	_, err = f.claim(t, "seller-1", domain.RoleSeller, 1)
	require.NoError(t, err)
	blocked, err := f.ledger.FailPayout(ctx, key, 1, false)
	require.NoError(t, err)
	assert.False(t, blocked)

	seller := f.balance(t, "seller-1", domain.RoleSeller)
	assertMoney(t, "100", seller.Current, "a rejected transfer leaves funds available")

	// failed 记录仍可付款，下一轮重新认领
	_, err = f.claim(t, "seller-1", domain.RoleSeller, 2)
	require.NoError(t, err)
	blocked, err = f.ledger.FailPayout(ctx, key, 2, false)
	require.NoError(t, err)
	assert.True(t, blocked, "second failure exhausts the retry budget")

	_, err = f.claim(t, "seller-1", domain.RoleSeller, 3)
	assert.ErrorIs(t, err, domain.ErrPayoutsBlocked)

	n, err := f.ledger.RemediatePayouts(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seller = f.balance(t, "seller-1", domain.RoleSeller)
	assert.False(t, seller.PayoutsBlocked)
	assertMoney(t, "100", seller.Current)

	amount, err := f.claim(t, "seller-1", domain.RoleSeller, 4)
	require.NoError(t, err)
	assertMoney(t, "100", amount)
}

func TestTerminalFailureBlocksImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)
	key := domain.BalanceKey{UserID: "aff-1", Role: domain.RoleAffiliate}

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)
	f.releaseAll(t)

	err = f.db.Transaction(ctx, func(ctx context.Context) error {
		_, err := f.ledger.ClaimForPayout(ctx, key, 11, money("10"))
		return err
	})
	require.NoError(t, err)

	blocked, err := f.ledger.FailPayout(ctx, key, 11, true)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.order(t, "order-1", "completed", nil)

	for i := 0; i < 3; i++ {
		_, err := f.ledger.RecordSale(ctx, sale(fmt.Sprintf("line-%d", i), "order-1"))
		require.NoError(t, err)
	}
	f.releaseAll(t)

	report, err := f.reconciler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Empty(t, report.Drifts)

	require.NoError(t, f.db.Conn(ctx).Model(&mysql.UserBalanceModel{}).
		Where("user_id = ? AND role = ?", "aff-1", "affiliate").
		Update("current_balance", money("59.99")).Error)

	report, err = f.reconciler.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	drift := report.Drifts[0]
	assert.Equal(t, "aff-1", drift.UserID)
	assertMoney(t, "59.99", drift.StoredCurrent)
	assertMoney(t, "60", drift.ComputedCurrent)

	aff, err := f.ledger.GetBalance(ctx, "aff-1", domain.RoleAffiliate)
	require.NoError(t, err)
	assertMoney(t, "59.99", aff.Current, "reconciliation never corrects")
}

func TestRecomputeSplitMatchesRecordedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.RecordSale(ctx, sale("line-1", "order-1"))
	require.NoError(t, err)

	audit, err := f.ledger.RecomputeSplit(ctx, "line-1")
	require.NoError(t, err)
	assert.True(t, audit.Matches, audit.Mismatches)
	assert.Equal(t, 1, audit.FeeScheduleVersion)
}
