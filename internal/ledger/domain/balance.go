package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceKey 余额按 (用户, 角色) 维护
type BalanceKey struct {
	UserID string
	Role   Role
}

// Less 加锁顺序，多个余额在同一事务中按此顺序加锁
func (k BalanceKey) Less(o BalanceKey) bool {
	if k.UserID != o.UserID {
		return k.UserID < o.UserID
	}
	return k.Role < o.Role
}

// UserBalance 用户余额聚合。每次分配记录状态迁移都在同一事务内更新它，
// 始终满足 TotalEarned == Held + Current + PaidOut。
type UserBalance struct {
	UserID      string
	Role        Role
	Held        decimal.Decimal
	Current     decimal.Decimal
	PaidOut     decimal.Decimal
	TotalEarned decimal.Decimal
	// 终态失败或重试次数耗尽后冻结付款
	PayoutsBlocked bool
	LastPayoutAt   *time.Time
	UpdatedAt      time.Time
}

// NewUserBalance 创建零余额
func NewUserBalance(key BalanceKey) *UserBalance {
	return &UserBalance{
		UserID:      key.UserID,
		Role:        key.Role,
		Held:        decimal.Zero,
		Current:     decimal.Zero,
		PaidOut:     decimal.Zero,
		TotalEarned: decimal.Zero,
	}
}

// Key 余额键
func (b *UserBalance) Key() BalanceKey {
	return BalanceKey{UserID: b.UserID, Role: b.Role}
}

// Apply 把一次分配记录状态迁移作用到余额上。from 为空表示新建记录。
// 任何会产生负值或破坏恒等式的迁移都被拒绝，余额保持不变。
func (b *UserBalance) Apply(from, to DistributionStatus, amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", ErrBalanceInvariant, amount)
	}

	next := *b
	switch {
	case from == "" && to == StatusHeld:
		next.Held = b.Held.Add(amount)
		next.TotalEarned = b.TotalEarned.Add(amount)
	case from == StatusHeld && to == StatusPending:
		next.Held = b.Held.Sub(amount)
		next.Current = b.Current.Add(amount)
	case from.Payable() && to == StatusPaid:
		next.Current = b.Current.Sub(amount)
		next.PaidOut = b.PaidOut.Add(amount)
		next.LastPayoutAt = &now
	case from == StatusHeld && to == StatusReversed:
		next.Held = b.Held.Sub(amount)
		next.TotalEarned = b.TotalEarned.Sub(amount)
	case from.Payable() && to == StatusReversed:
		next.Current = b.Current.Sub(amount)
		next.TotalEarned = b.TotalEarned.Sub(amount)
	case from.Payable() && to.Payable():
		// pending <-> failed 不改变余额
	default:
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}

	if err := next.Check(); err != nil {
		return err
	}
	next.UpdatedAt = now
	*b = next
	return nil
}

// Check 校验非负与恒等式
func (b *UserBalance) Check() error {
	if b.Held.IsNegative() || b.Current.IsNegative() || b.PaidOut.IsNegative() {
		return fmt.Errorf("%w: negative bucket for %s/%s (held=%s current=%s paid_out=%s)",
			ErrBalanceInvariant, b.UserID, b.Role, b.Held, b.Current, b.PaidOut)
	}
	if !b.TotalEarned.Equal(b.Held.Add(b.Current).Add(b.PaidOut)) {
		return fmt.Errorf("%w: total_earned %s != held %s + current %s + paid_out %s for %s/%s",
			ErrBalanceInvariant, b.TotalEarned, b.Held, b.Current, b.PaidOut, b.UserID, b.Role)
	}
	return nil
}
