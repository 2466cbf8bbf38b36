package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

// PayoutRequestStatus 付款申请状态
type PayoutRequestStatus string

const (
	RequestPending   PayoutRequestStatus = "pending"
	RequestApproved  PayoutRequestStatus = "approved"
	RequestRejected  PayoutRequestStatus = "rejected"
	RequestFulfilled PayoutRequestStatus = "fulfilled"
)

// Open 仍在等待批次付款
func (s PayoutRequestStatus) Open() bool {
	return s == RequestPending || s == RequestApproved
}

// PayoutRequest 用户提现意向的审计记录，不改变余额
type PayoutRequest struct {
	ID              int64
	UserID          string
	Role            ledger.Role
	Amount          decimal.Decimal
	Status          PayoutRequestStatus
	RequestedAt     time.Time
	ProcessedAt     *time.Time
	RejectionReason string
	// 完成该申请的付款
	PayoutID *int64
}

// Approve 运营审核通过
func (r *PayoutRequest) Approve(now time.Time) error {
	if r.Status != RequestPending {
		return fmt.Errorf("%w: approve from %s", ErrInvalidRequestTransition, r.Status)
	}
	r.Status = RequestApproved
	r.ProcessedAt = &now
	return nil
}

// Reject 运营拒绝
func (r *PayoutRequest) Reject(reason string, now time.Time) error {
	if !r.Status.Open() {
		return fmt.Errorf("%w: reject from %s", ErrInvalidRequestTransition, r.Status)
	}
	r.Status = RequestRejected
	r.RejectionReason = reason
	r.ProcessedAt = &now
	return nil
}

// Fulfill 付款成功后关闭申请
func (r *PayoutRequest) Fulfill(payoutID int64, now time.Time) error {
	if !r.Status.Open() {
		return fmt.Errorf("%w: fulfill from %s", ErrInvalidRequestTransition, r.Status)
	}
	r.Status = RequestFulfilled
	r.PayoutID = &payoutID
	r.ProcessedAt = &now
	return nil
}
