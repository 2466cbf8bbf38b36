package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

// BatchStatus 批次状态
type BatchStatus string

const (
	BatchRunning            BatchStatus = "running"
	BatchCompleted          BatchStatus = "completed"
	BatchPartiallyCompleted BatchStatus = "partially_completed"
)

// BatchNumberFormat 批次号由结算窗口起点生成，同一窗口内重复执行落在同一批次
const BatchNumberFormat = "20060102T1504Z"

// BatchNumberFor 时刻 now 所在窗口的批次号
func BatchNumberFor(now time.Time, window time.Duration) string {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return "B" + now.UTC().Truncate(window).Format(BatchNumberFormat)
}

// PayoutBatch 一次批次结算
type PayoutBatch struct {
	ID          int64
	BatchNumber string
	Status      BatchStatus
	TotalAmount decimal.Decimal
	// 成功付款人数
	RecipientCount int
	FailedCount    int
	// 结果未知、等待确认的付款数
	UnconfirmedCount int
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// Summarize 根据批次内全部付款重新计算汇总与状态。全部成功才算 completed。
func (b *PayoutBatch) Summarize(payouts []*Payout, now time.Time) {
	b.TotalAmount = decimal.Zero
	b.RecipientCount, b.FailedCount, b.UnconfirmedCount = 0, 0, 0
	for _, p := range payouts {
		switch p.Status {
		case PayoutCompleted:
			b.RecipientCount++
			b.TotalAmount = b.TotalAmount.Add(p.Amount)
		case PayoutFailed:
			b.FailedCount++
		case PayoutProcessing, PayoutPendingConfirmation:
			b.UnconfirmedCount++
		}
	}
	b.Status = BatchCompleted
	if b.FailedCount > 0 || b.UnconfirmedCount > 0 {
		b.Status = BatchPartiallyCompleted
	}
	b.CompletedAt = &now
}

// PayoutStatus 付款状态
type PayoutStatus string

const (
	// PayoutProcessing 已认领余额，转账请求已发出或即将发出
	PayoutProcessing PayoutStatus = "processing"
	// PayoutPendingConfirmation 转账结果未知，下一轮向处理方查询后再决定
	PayoutPendingConfirmation PayoutStatus = "pending_confirmation"
	PayoutCompleted           PayoutStatus = "completed"
	PayoutFailed              PayoutStatus = "failed"
)

// Unresolved 结果尚未确定
func (s PayoutStatus) Unresolved() bool {
	return s == PayoutProcessing || s == PayoutPendingConfirmation
}

// Payout 批次内给一个 (用户, 角色) 的一笔转账。ID 同时是分配记录上的认领标识。
type Payout struct {
	ID             int64
	BatchID        int64
	BatchNumber    string
	UserID         string
	Role           ledger.Role
	Amount         decimal.Decimal
	Currency       string
	Destination    string
	Status         PayoutStatus
	IdempotencyKey string
	TransferID     string
	FailureReason  string
	// 发起转账的次数，含结果未知后的重发
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Key 对应的余额
func (p *Payout) Key() ledger.BalanceKey {
	return ledger.BalanceKey{UserID: p.UserID, Role: p.Role}
}

// Complete 转账成功
func (p *Payout) Complete(transferID string, now time.Time) error {
	if !p.Status.Unresolved() {
		return fmt.Errorf("%w: complete from %s", ErrInvalidPayoutTransition, p.Status)
	}
	p.Status = PayoutCompleted
	p.TransferID = transferID
	p.FailureReason = ""
	p.UpdatedAt = now
	p.CompletedAt = &now
	return nil
}

// Fail 转账被拒绝
func (p *Payout) Fail(reason string, now time.Time) error {
	if !p.Status.Unresolved() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidPayoutTransition, p.Status)
	}
	p.Status = PayoutFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	return nil
}

// MarkUnknown 转账超时或处理方不可达，结果未知
func (p *Payout) MarkUnknown(reason string, now time.Time) error {
	if !p.Status.Unresolved() {
		return fmt.Errorf("%w: mark unknown from %s", ErrInvalidPayoutTransition, p.Status)
	}
	p.Status = PayoutPendingConfirmation
	p.FailureReason = reason
	p.UpdatedAt = now
	return nil
}
