// Package domain 定价与分账计算。所有函数都是纯函数，费率表作为显式参数传入。
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	feedomain "github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
)

var one = decimal.NewFromInt(1)

// ComputeSalePrice 由卖家期望到手金额反推面向买家的售价。
//
// 各方份额先按最小货币单位取整再求和，然后解
// salePrice = base + processorFixed + processorPercent*salePrice，结果向上取整。
// 这样处理方手续费取整后各方之和不会超过售价。
// hasReferrer 不影响售价，推荐奖励出自平台份额。
func ComputeSalePrice(fs *feedomain.FeeSchedule, ask, affiliateRate decimal.Decimal, hasReferrer bool) (decimal.Decimal, error) {
	if err := validateInputs(fs, ask, affiliateRate); err != nil {
		return decimal.Zero, err
	}

	base := baseAmount(fs, ask, affiliateRate)
	denominator := one.Sub(fs.ProcessorPercent)
	return base.Add(fs.ProcessorFixed).Div(denominator).RoundCeil(fs.Scale), nil
}

// baseAmount 卖家 + 分销 + 平台三项取整后的和
func baseAmount(fs *feedomain.FeeSchedule, ask, affiliateRate decimal.Decimal) decimal.Decimal {
	ask = ask.Round(fs.Scale)
	return ask.
		Add(ask.Mul(affiliateRate).Round(fs.Scale)).
		Add(ask.Mul(fs.PlatformFeePercent).Round(fs.Scale))
}

func validateInputs(fs *feedomain.FeeSchedule, ask, affiliateRate decimal.Decimal) error {
	if fs == nil {
		return fmt.Errorf("%w: no fee schedule", ErrConfiguration)
	}
	if err := fs.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if !ask.Round(fs.Scale).IsPositive() {
		return ErrInvalidAsk
	}
	if affiliateRate.IsNegative() || affiliateRate.GreaterThanOrEqual(one) {
		return ErrInvalidRate
	}
	return nil
}
