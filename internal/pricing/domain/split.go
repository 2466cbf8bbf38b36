package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	feedomain "github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
)

// Split 一个订单行售价在各方之间的分配
type Split struct {
	SalePrice           decimal.Decimal `json:"sale_price"`
	SellerPayout        decimal.Decimal `json:"seller_payout"`
	AffiliateCommission decimal.Decimal `json:"affiliate_commission"`
	PlatformGross       decimal.Decimal `json:"platform_gross"`
	ReferralBonus       decimal.Decimal `json:"referral_bonus"`
	PlatformNet         decimal.Decimal `json:"platform_net"`
	ProcessorFee        decimal.Decimal `json:"processor_fee"`
	// 售价向上取整留下的零头，归平台
	Residual decimal.Decimal `json:"residual"`
}

// PlatformShare 平台实际入账：平台净额加上取整零头
func (s Split) PlatformShare() decimal.Decimal {
	return s.PlatformNet.Add(s.Residual)
}

// Total 各方入账与处理方手续费之和，恒等于售价
func (s Split) Total() decimal.Decimal {
	return s.SellerPayout.
		Add(s.AffiliateCommission).
		Add(s.ReferralBonus).
		Add(s.PlatformShare()).
		Add(s.ProcessorFee)
}

// Times 按数量放大每一项
func (s Split) Times(quantity int64) Split {
	q := decimal.NewFromInt(quantity)
	return Split{
		SalePrice:           s.SalePrice.Mul(q),
		SellerPayout:        s.SellerPayout.Mul(q),
		AffiliateCommission: s.AffiliateCommission.Mul(q),
		PlatformGross:       s.PlatformGross.Mul(q),
		ReferralBonus:       s.ReferralBonus.Mul(q),
		PlatformNet:         s.PlatformNet.Mul(q),
		ProcessorFee:        s.ProcessorFee.Mul(q),
		Residual:            s.Residual.Mul(q),
	}
}

// ComputeSplit 计算一个订单行的分账。卖家所得恒为 round(ask)，与实际售价无关。
// 组成项按四舍五入取整，售价与各项之和的差额归平台。
func ComputeSplit(fs *feedomain.FeeSchedule, salePrice, ask, affiliateRate decimal.Decimal, hasAffiliate, hasReferrer bool) (*Split, error) {
	if err := validateInputs(fs, ask, affiliateRate); err != nil {
		return nil, err
	}
	salePrice = salePrice.Round(fs.Scale)
	if !salePrice.IsPositive() {
		return nil, ErrInvalidSalePrice
	}

	ask = ask.Round(fs.Scale)
	s := &Split{
		SalePrice:           salePrice,
		SellerPayout:        ask,
		AffiliateCommission: decimal.Zero,
		PlatformGross:       ask.Mul(fs.PlatformFeePercent).Round(fs.Scale),
		ReferralBonus:       decimal.Zero,
		ProcessorFee:        salePrice.Mul(fs.ProcessorPercent).Add(fs.ProcessorFixed).Round(fs.Scale),
	}
	if hasAffiliate {
		s.AffiliateCommission = ask.Mul(affiliateRate).Round(fs.Scale)
	}
	if hasReferrer {
		s.ReferralBonus = s.PlatformGross.Mul(fs.ReferralOfPlatformRate).Round(fs.Scale)
	}
	s.PlatformNet = s.PlatformGross.Sub(s.ReferralBonus)

	components := s.SellerPayout.Add(s.AffiliateCommission).Add(s.PlatformGross).Add(s.ProcessorFee)
	if components.GreaterThan(salePrice) {
		return nil, fmt.Errorf("%w: components %s > sale price %s", ErrSplitMismatch, components, salePrice)
	}
	s.Residual = salePrice.Sub(components)
	return s, nil
}

// Quote 定价预览：售价及其分账
type Quote struct {
	FeeScheduleVersion int    `json:"fee_schedule_version"`
	Currency           string `json:"currency"`
	Split
}

// QuoteListing 计算挂牌售价并预览分账，referrer 以存在分销人为前提
func QuoteListing(fs *feedomain.FeeSchedule, ask, affiliateRate decimal.Decimal, hasReferrer bool) (*Quote, error) {
	price, err := ComputeSalePrice(fs, ask, affiliateRate, hasReferrer)
	if err != nil {
		return nil, err
	}
	hasAffiliate := affiliateRate.IsPositive()
	split, err := ComputeSplit(fs, price, ask, affiliateRate, hasAffiliate, hasReferrer && hasAffiliate)
	if err != nil {
		return nil, err
	}
	return &Quote{FeeScheduleVersion: fs.Version, Currency: fs.Currency, Split: *split}, nil
}
