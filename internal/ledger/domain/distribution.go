package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DistributionStatus 分配记录状态
type DistributionStatus string

const (
	StatusHeld     DistributionStatus = "held"
	StatusPending  DistributionStatus = "pending"
	StatusPaid     DistributionStatus = "paid"
	StatusFailed   DistributionStatus = "failed"
	StatusReversed DistributionStatus = "reversed"
)

// transitions 合法的状态迁移。failed 是可付款状态，重试成功后直接进入 paid。
var transitions = map[DistributionStatus][]DistributionStatus{
	StatusHeld:    {StatusPending, StatusReversed},
	StatusPending: {StatusPaid, StatusFailed, StatusReversed},
	StatusFailed:  {StatusPaid, StatusPending, StatusReversed},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to DistributionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payable 可被批次结算认领的状态
func (s DistributionStatus) Payable() bool {
	return s == StatusPending || s == StatusFailed
}

// Distribution 一个收款方在一个订单行中的应得金额。金额创建后不可修改，更正通过冲正完成。
type Distribution struct {
	ID          int64
	OrderID     string
	OrderLineID string
	RecipientID string
	Role        Role
	Amount      decimal.Decimal
	Status      DistributionStatus
	// 最早可释放时间
	AvailableAt time.Time
	// 认领该记录的在途付款
	PayoutID        *int64
	FailureCount    int
	CreatedAt       time.Time
	StatusChangedAt time.Time
}

// Key 余额键
func (d *Distribution) Key() BalanceKey {
	return BalanceKey{UserID: d.RecipientID, Role: d.Role}
}

// Claimed 是否被在途付款认领
func (d *Distribution) Claimed() bool {
	return d.PayoutID != nil
}

func (d *Distribution) transition(to DistributionStatus, now time.Time) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s (distribution %d)", ErrInvalidTransition, d.Status, to, d.ID)
	}
	d.Status = to
	d.StatusChangedAt = now
	return nil
}

// Release held -> pending
func (d *Distribution) Release(now time.Time) error {
	if d.Status != StatusHeld {
		return fmt.Errorf("%w: release from %s", ErrInvalidTransition, d.Status)
	}
	return d.transition(StatusPending, now)
}

// Reverse 退款/拒付冲正。已付款的需要追回，不在本账本处理；被在途付款认领的不可冲正。
func (d *Distribution) Reverse(now time.Time) error {
	switch {
	case d.Status == StatusPaid:
		return ErrClawbackUnsupported
	case d.Claimed():
		return ErrDistributionInSettlement
	}
	return d.transition(StatusReversed, now)
}

// Claim 由付款认领
func (d *Distribution) Claim(payoutID int64) error {
	if !d.Status.Payable() {
		return fmt.Errorf("%w: claim from %s", ErrInvalidTransition, d.Status)
	}
	if d.Claimed() {
		return ErrDistributionInSettlement
	}
	d.PayoutID = &payoutID
	return nil
}

// MarkPaid 认领它的付款已确认成功
func (d *Distribution) MarkPaid(payoutID int64, now time.Time) error {
	if d.PayoutID == nil || *d.PayoutID != payoutID {
		return fmt.Errorf("%w: distribution %d not claimed by payout %d", ErrInvalidTransition, d.ID, payoutID)
	}
	return d.transition(StatusPaid, now)
}

// MarkFailed 认领它的付款被拒绝：释放认领，记录失败次数。已是 failed 的记录只累加次数。
func (d *Distribution) MarkFailed(payoutID int64, now time.Time) error {
	if d.PayoutID == nil || *d.PayoutID != payoutID {
		return fmt.Errorf("%w: distribution %d not claimed by payout %d", ErrInvalidTransition, d.ID, payoutID)
	}
	if d.Status == StatusPending {
		if err := d.transition(StatusFailed, now); err != nil {
			return err
		}
	}
	d.PayoutID = nil
	d.FailureCount++
	return nil
}

// Remediate 人工处理后 failed -> pending，重置失败次数
func (d *Distribution) Remediate(now time.Time) error {
	if d.Claimed() {
		return ErrDistributionInSettlement
	}
	if d.Status != StatusFailed {
		return fmt.Errorf("%w: remediate from %s", ErrInvalidTransition, d.Status)
	}
	if err := d.transition(StatusPending, now); err != nil {
		return err
	}
	d.FailureCount = 0
	return nil
}
