package domain_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBalanceFollowsDistributionLifecycle(t *testing.T) {
	b := domain.NewUserBalance(domain.BalanceKey{UserID: "u1", Role: domain.RoleSeller})
	amt := decimal.RequireFromString("42.50")

	require.NoError(t, b.Apply("", domain.StatusHeld, amt, now))
	assert.True(t, b.Held.Equal(amt))
	assert.True(t, b.TotalEarned.Equal(amt))

	require.NoError(t, b.Apply(domain.StatusHeld, domain.StatusPending, amt, now))
	assert.True(t, b.Held.IsZero())
	assert.True(t, b.Current.Equal(amt))

	require.NoError(t, b.Apply(domain.StatusPending, domain.StatusFailed, amt, now))
	assert.True(t, b.Current.Equal(amt), "failed transfer keeps funds available")

	require.NoError(t, b.Apply(domain.StatusFailed, domain.StatusPaid, amt, now))
	assert.True(t, b.Current.IsZero())
	assert.True(t, b.PaidOut.Equal(amt))
	require.NotNil(t, b.LastPayoutAt)
	assert.Equal(t, now, *b.LastPayoutAt)
}

func TestBalanceRejectsOverdraw(t *testing.T) {
	b := domain.NewUserBalance(domain.BalanceKey{UserID: "u1", Role: domain.RoleSeller})
	require.NoError(t, b.Apply("", domain.StatusHeld, decimal.NewFromInt(10), now))

	err := b.Apply(domain.StatusHeld, domain.StatusPending, decimal.NewFromInt(11), now)
	assert.ErrorIs(t, err, domain.ErrBalanceInvariant)
	assert.True(t, b.Held.Equal(decimal.NewFromInt(10)), "rejected transition leaves balance untouched")
	assert.True(t, b.Current.IsZero())
}

func TestBalanceRejectsUnknownTransition(t *testing.T) {
	b := domain.NewUserBalance(domain.BalanceKey{UserID: "u1", Role: domain.RoleSeller})
	err := b.Apply(domain.StatusPaid, domain.StatusHeld, decimal.NewFromInt(1), now)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// 随机的合法迁移序列之后恒等式始终成立
func TestBalanceConservationUnderRandomTransitions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := domain.NewUserBalance(domain.BalanceKey{UserID: "u1", Role: domain.RoleAffiliate})

	var dists []*domain.Distribution
	for step := 0; step < 5000; step++ {
		if len(dists) == 0 || rng.Intn(4) == 0 {
			d := &domain.Distribution{
				ID:     int64(step),
				Amount: decimal.New(rng.Int63n(100000)+1, -2),
				Status: domain.StatusHeld,
			}
			require.NoError(t, b.Apply("", domain.StatusHeld, d.Amount, now))
			dists = append(dists, d)
			continue
		}

		d := dists[rng.Intn(len(dists))]
		from := d.Status
		var err error
		switch rng.Intn(5) {
		case 0:
			err = d.Release(now)
		case 1:
			err = d.Reverse(now)
		case 2:
			if err = d.Claim(d.ID); err == nil {
				err = d.MarkPaid(d.ID, now)
			}
		case 3:
			if err = d.Claim(d.ID); err == nil {
				err = d.MarkFailed(d.ID, now)
			}
		case 4:
			err = d.Remediate(now)
		}
		if err != nil {
			d.Status = from
			d.PayoutID = nil
			continue
		}
		require.NoError(t, b.Apply(from, d.Status, d.Amount, now))
		require.NoError(t, b.Check())
	}

	held, current, paid := decimal.Zero, decimal.Zero, decimal.Zero
	for _, d := range dists {
		switch d.Status {
		case domain.StatusHeld:
			held = held.Add(d.Amount)
		case domain.StatusPending, domain.StatusFailed:
			current = current.Add(d.Amount)
		case domain.StatusPaid:
			paid = paid.Add(d.Amount)
		}
	}
	assert.True(t, held.Equal(b.Held))
	assert.True(t, current.Equal(b.Current))
	assert.True(t, paid.Equal(b.PaidOut))
}

func TestDistributionGuards(t *testing.T) {
	paid := &domain.Distribution{ID: 1, Status: domain.StatusPaid}
	assert.ErrorIs(t, paid.Reverse(now), domain.ErrClawbackUnsupported)

	pid := int64(9)
	claimed := &domain.Distribution{ID: 2, Status: domain.StatusPending, PayoutID: &pid}
	assert.ErrorIs(t, claimed.Reverse(now), domain.ErrDistributionInSettlement)
	assert.ErrorIs(t, claimed.Claim(10), domain.ErrDistributionInSettlement)
	assert.ErrorIs(t, claimed.MarkPaid(10, now), domain.ErrInvalidTransition)

	held := &domain.Distribution{ID: 3, Status: domain.StatusHeld}
	assert.ErrorIs(t, held.Claim(10), domain.ErrInvalidTransition)
	require.NoError(t, held.Release(now))
	assert.ErrorIs(t, held.Release(now), domain.ErrInvalidTransition)

	failed := &domain.Distribution{ID: 4, Status: domain.StatusPending}
	require.NoError(t, failed.Claim(11))
	require.NoError(t, failed.MarkFailed(11, now))
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.FailureCount)
	assert.Nil(t, failed.PayoutID)
	require.NoError(t, failed.Claim(12))
	require.NoError(t, failed.MarkFailed(12, now))
	assert.Equal(t, 2, failed.FailureCount)
	require.NoError(t, failed.Remediate(now))
	assert.Equal(t, domain.StatusPending, failed.Status)
	assert.Zero(t, failed.FailureCount)
}

func TestOrderAllowsRelease(t *testing.T) {
	cases := []struct {
		order domain.Order
		want  bool
	}{
		{domain.Order{Status: domain.OrderCompleted, FulfillmentStatus: domain.FulfillmentNone}, true},
		{domain.Order{Status: domain.OrderCompleted, FulfillmentStatus: domain.FulfillmentShipped}, true},
		{domain.Order{Status: domain.OrderCompleted, FulfillmentStatus: domain.FulfillmentDelivered}, true},
		{domain.Order{Status: domain.OrderCompleted, FulfillmentStatus: domain.FulfillmentUnfulfilled}, false},
		{domain.Order{Status: domain.OrderRefunded, FulfillmentStatus: domain.FulfillmentDelivered}, false},
		{domain.Order{Status: domain.OrderCanceled}, false},
		{domain.Order{Status: domain.OrderPending}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.order.AllowsRelease(), "%+v", tc.order)
	}
}
