// Package domain 费率表领域模型
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrScheduleNotFound 费率表不存在
	ErrScheduleNotFound = errors.New("fee schedule not found")
	// ErrVersionExists 版本号已被占用
	ErrVersionExists = errors.New("fee schedule version already exists")
	// ErrInvalidSchedule 费率参数非法
	ErrInvalidSchedule = errors.New("invalid fee schedule")
)

// FeeSchedule 版本化的费率表。已发布的版本不可修改，历史订单行按其记录的版本重算。
type FeeSchedule struct {
	Version int
	// 平台对 ask 收取的比例
	PlatformFeePercent decimal.Decimal
	// 平台毛收入中分给推荐人的比例
	ReferralOfPlatformRate decimal.Decimal
	// 支付处理方按售价收取的比例
	ProcessorPercent decimal.Decimal
	// 支付处理方每笔固定费用
	ProcessorFixed decimal.Decimal
	Currency       string
	// 最小货币单位的小数位数
	Scale         int32
	EffectiveFrom time.Time
	CreatedAt     time.Time
}

// Validate 校验费率参数
func (s *FeeSchedule) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case s.PlatformFeePercent.IsNegative():
		return fmt.Errorf("%w: platform fee percent is negative", ErrInvalidSchedule)
	case s.ReferralOfPlatformRate.IsNegative() || s.ReferralOfPlatformRate.GreaterThan(one):
		return fmt.Errorf("%w: referral rate must be within [0,1]", ErrInvalidSchedule)
	case s.ProcessorPercent.IsNegative() || s.ProcessorPercent.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: processor percent must be within [0,1)", ErrInvalidSchedule)
	case s.ProcessorFixed.IsNegative():
		return fmt.Errorf("%w: processor fixed fee is negative", ErrInvalidSchedule)
	case s.Scale < 0:
		return fmt.Errorf("%w: negative currency scale", ErrInvalidSchedule)
	case s.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidSchedule)
	}
	return nil
}

// Unit 最小货币单位，例如 scale=2 时为 0.01
func (s *FeeSchedule) Unit() decimal.Decimal {
	return decimal.New(1, -s.Scale)
}

// FeeScheduleRepository 费率表仓储接口
type FeeScheduleRepository interface {
	// Save 保存新版本，版本号冲突时返回 ErrVersionExists
	Save(ctx context.Context, s *FeeSchedule) error
	// GetByVersion 按版本号查询
	GetByVersion(ctx context.Context, version int) (*FeeSchedule, error)
	// GetActive 返回 at 时刻生效的最高版本
	GetActive(ctx context.Context, at time.Time) (*FeeSchedule, error)
	// GetLatest 返回最高版本
	GetLatest(ctx context.Context) (*FeeSchedule, error)
	List(ctx context.Context) ([]*FeeSchedule, error)
}
