package domain_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	feedomain "github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
	"github.com/wyfcoding/commissionledger/internal/pricing/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func schedule() *feedomain.FeeSchedule {
	return &feedomain.FeeSchedule{
		Version:                1,
		PlatformFeePercent:     d("0.15"),
		ReferralOfPlatformRate: d("0.20"),
		ProcessorPercent:       d("0.029"),
		ProcessorFixed:         d("0.30"),
		Currency:               "USD",
		Scale:                  2,
	}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func TestHundredDollarAskWithAffiliate(t *testing.T) {
	fs := schedule()

	price, err := domain.ComputeSalePrice(fs, d("100"), d("0.20"), false)
	require.NoError(t, err)
	assertMoney(t, "139.35", price)

	split, err := domain.ComputeSplit(fs, price, d("100"), d("0.20"), true, false)
	require.NoError(t, err)
	assertMoney(t, "100.00", split.SellerPayout)
	assertMoney(t, "20.00", split.AffiliateCommission)
	assertMoney(t, "15.00", split.PlatformGross)
	assertMoney(t, "0", split.ReferralBonus)
	assertMoney(t, "15.00", split.PlatformNet)
	assertMoney(t, "4.34", split.ProcessorFee)
	assertMoney(t, "0.01", split.Residual)
	assertMoney(t, "139.35", split.Total())
}

func TestFiftyDollarAskWithoutAffiliate(t *testing.T) {
	fs := schedule()

	price, err := domain.ComputeSalePrice(fs, d("50"), decimal.Zero, false)
	require.NoError(t, err)

	split, err := domain.ComputeSplit(fs, price, d("50"), decimal.Zero, false, false)
	require.NoError(t, err)
	assertMoney(t, "50.00", split.SellerPayout)
	assertMoney(t, "0", split.AffiliateCommission)
	assertMoney(t, "0", split.ReferralBonus)
	assertMoney(t, "7.50", split.PlatformGross)
	assert.True(t, split.Total().Equal(price))
}

func TestReferralComesOutOfPlatformGross(t *testing.T) {
	fs := schedule()
	price, err := domain.ComputeSalePrice(fs, d("80"), d("0.10"), true)
	require.NoError(t, err)

	split, err := domain.ComputeSplit(fs, price, d("80"), d("0.10"), true, true)
	require.NoError(t, err)
	assertMoney(t, "12.00", split.PlatformGross)
	assertMoney(t, "2.40", split.ReferralBonus)
	assertMoney(t, "9.60", split.PlatformNet)
}

func TestSplitPropertiesHoldAcrossInputs(t *testing.T) {
	fs := schedule()
	unit := fs.Unit()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		ask := decimal.New(rng.Int63n(500000)+1, -2)
		rate := decimal.New(rng.Int63n(100), -2)
		hasAffiliate := rng.Intn(2) == 0
		hasReferrer := rng.Intn(2) == 0

		price, err := domain.ComputeSalePrice(fs, ask, rate, hasReferrer)
		require.NoError(t, err)
		split, err := domain.ComputeSplit(fs, price, ask, rate, hasAffiliate, hasReferrer)
		require.NoError(t, err, "ask=%s rate=%s", ask, rate)

		assert.True(t, split.SellerPayout.Equal(ask.Round(2)), "seller invariance ask=%s", ask)

		components := split.SellerPayout.Add(split.AffiliateCommission).Add(split.PlatformGross).Add(split.ProcessorFee)
		assert.True(t, components.LessThanOrEqual(price), "fee-balance bound ask=%s rate=%s", ask, rate)
		if hasAffiliate {
			assert.True(t, split.Residual.LessThanOrEqual(unit), "residual ask=%s rate=%s residual=%s", ask, rate, split.Residual)
		}

		if hasReferrer {
			assert.True(t, split.ReferralBonus.Equal(split.PlatformGross.Mul(fs.ReferralOfPlatformRate).Round(2)))
		} else {
			assert.True(t, split.ReferralBonus.IsZero())
		}
		assert.True(t, split.PlatformNet.Equal(split.PlatformGross.Sub(split.ReferralBonus)))
		assert.True(t, split.Total().Equal(price))
	}
}

func TestSalePriceRoundsUp(t *testing.T) {
	fs := schedule()
	// (1.00 + 0.15 + 0.30) / 0.971 = 1.4933...
	price, err := domain.ComputeSalePrice(fs, d("1"), decimal.Zero, false)
	require.NoError(t, err)
	assertMoney(t, "1.50", price)
}

// 份额 0.0255 取整为 0.03。按未取整的份额求得的 0.54 容不下取整后的各方金额。
func TestSalePriceSolvesFromRoundedComponents(t *testing.T) {
	fs := schedule()

	_, err := domain.ComputeSplit(fs, d("0.54"), d("0.17"), d("0.15"), true, false)
	require.ErrorIs(t, err, domain.ErrSplitMismatch)

	price, err := domain.ComputeSalePrice(fs, d("0.17"), d("0.15"), false)
	require.NoError(t, err)
	assertMoney(t, "0.55", price)

	split, err := domain.ComputeSplit(fs, price, d("0.17"), d("0.15"), true, false)
	require.NoError(t, err)
	assertMoney(t, "0.03", split.AffiliateCommission)
	assertMoney(t, "0.03", split.PlatformGross)
	assertMoney(t, "0.32", split.ProcessorFee)
	assertMoney(t, "0", split.Residual)
}

func TestTimesScalesEveryComponent(t *testing.T) {
	fs := schedule()
	price, err := domain.ComputeSalePrice(fs, d("100"), d("0.20"), false)
	require.NoError(t, err)
	split, err := domain.ComputeSplit(fs, price, d("100"), d("0.20"), true, false)
	require.NoError(t, err)

	tripled := split.Times(3)
	assertMoney(t, "418.05", tripled.SalePrice)
	assertMoney(t, "300.00", tripled.SellerPayout)
	assert.True(t, tripled.Total().Equal(tripled.SalePrice))
}

func TestValidationErrors(t *testing.T) {
	fs := schedule()

	_, err := domain.ComputeSalePrice(fs, decimal.Zero, decimal.Zero, false)
	assert.ErrorIs(t, err, domain.ErrInvalidAsk)

	_, err = domain.ComputeSalePrice(fs, d("-5"), decimal.Zero, false)
	assert.ErrorIs(t, err, domain.ErrInvalidAsk)

	_, err = domain.ComputeSalePrice(fs, d("10"), d("1"), false)
	assert.ErrorIs(t, err, domain.ErrInvalidRate)

	_, err = domain.ComputeSalePrice(fs, d("10"), d("-0.1"), false)
	assert.ErrorIs(t, err, domain.ErrInvalidRate)

	broken := schedule()
	broken.ProcessorPercent = d("1")
	_, err = domain.ComputeSalePrice(broken, d("10"), decimal.Zero, false)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = domain.ComputeSplit(fs, decimal.Zero, d("10"), decimal.Zero, false, false)
	assert.ErrorIs(t, err, domain.ErrInvalidSalePrice)
}

func TestSplitMismatchWhenSalePriceTooLow(t *testing.T) {
	fs := schedule()
	_, err := domain.ComputeSplit(fs, d("100"), d("100"), d("0.20"), true, false)
	assert.ErrorIs(t, err, domain.ErrSplitMismatch)
}

func TestQuoteListing(t *testing.T) {
	q, err := domain.QuoteListing(schedule(), d("100"), d("0.20"), true)
	require.NoError(t, err)
	assert.Equal(t, 1, q.FeeScheduleVersion)
	assertMoney(t, "139.35", q.SalePrice)
	assertMoney(t, "3.00", q.ReferralBonus)
	assertMoney(t, "12.00", q.PlatformNet)
}
