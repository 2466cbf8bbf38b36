// Package application 付款结算应用服务：关联账户、付款申请、余额查询与批次结算
package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
)

// Options 结算参数
type Options struct {
	MinimumPayout decimal.Decimal
	Currency      string
	// 批次窗口，同一窗口内的重复执行落在同一批次
	BatchWindow time.Duration
	// 批次锁的过期时间，默认与窗口相同
	BatchLockTTL time.Duration
	// 余额查询附带的最近申请条数
	RecentRequests int
}

// IDGenerator 付款、批次、申请的 ID 生成
type IDGenerator interface {
	Next() int64
}

// Locker 跨实例互斥
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// ConnectAccountCommand 开户
type ConnectAccountCommand struct {
	UserID  string `json:"user_id" binding:"required"`
	Email   string `json:"email" binding:"required"`
	Country string `json:"country" binding:"required,len=2"`
}

// SetVerificationCommand 运营设置卖家审核结果与税务协议
type SetVerificationCommand struct {
	UserID             string  `json:"-"`
	SellerStatus       *string `json:"seller_status,omitempty"`
	TaxAgreementOnFile *bool   `json:"tax_agreement_on_file,omitempty"`
}

// AccountDTO 关联账户
type AccountDTO struct {
	UserID             string    `json:"user_id"`
	ProcessorAccountID string    `json:"processor_account_id"`
	ChargesEnabled     bool      `json:"charges_enabled"`
	PayoutsEnabled     bool      `json:"payouts_enabled"`
	RequirementsDue    []string  `json:"requirements_due"`
	IdentityStatus     string    `json:"identity_status"`
	SellerStatus       string    `json:"seller_status"`
	TaxAgreementOnFile bool      `json:"tax_agreement_on_file"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toAccountDTO(a *domain.ConnectedAccount) *AccountDTO {
	due := a.RequirementsDue
	if due == nil {
		due = []string{}
	}
	return &AccountDTO{
		UserID:             a.UserID,
		ProcessorAccountID: a.ProcessorAccountID,
		ChargesEnabled:     a.ChargesEnabled,
		PayoutsEnabled:     a.PayoutsEnabled,
		RequirementsDue:    due,
		IdentityStatus:     string(a.IdentityStatus),
		SellerStatus:       string(a.SellerStatus),
		TaxAgreementOnFile: a.TaxAgreementOnFile,
		UpdatedAt:          a.UpdatedAt,
	}
}

// RequestPayoutCommand 付款申请。Amount 为空时申请全部可用余额。
type RequestPayoutCommand struct {
	UserID string           `json:"user_id" binding:"required"`
	Role   string           `json:"role" binding:"required"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// PayoutRequestDTO 付款申请
type PayoutRequestDTO struct {
	ID              int64           `json:"id,string"`
	UserID          string          `json:"user_id"`
	Role            string          `json:"role"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	RequestedAt     time.Time       `json:"requested_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	PayoutID        *int64          `json:"payout_id,string,omitempty"`
}

func toRequestDTO(r *domain.PayoutRequest) *PayoutRequestDTO {
	return &PayoutRequestDTO{
		ID:              r.ID,
		UserID:          r.UserID,
		Role:            string(r.Role),
		Amount:          r.Amount,
		Status:          string(r.Status),
		RequestedAt:     r.RequestedAt,
		ProcessedAt:     r.ProcessedAt,
		RejectionReason: r.RejectionReason,
		PayoutID:        r.PayoutID,
	}
}

// BalancesDTO 用户余额视图
type BalancesDTO struct {
	UserID         string              `json:"user_id"`
	Role           ledger.Role         `json:"role"`
	TotalEarned    decimal.Decimal     `json:"total_earned"`
	HeldBalance    decimal.Decimal     `json:"held_balance"`
	CurrentBalance decimal.Decimal     `json:"current_balance"`
	PaidOut        decimal.Decimal     `json:"paid_out"`
	// 在途付款金额
	PendingPayout  decimal.Decimal     `json:"pending_payout"`
	PayoutsBlocked bool                `json:"payouts_blocked"`
	LastPayoutAt   *time.Time          `json:"last_payout_at,omitempty"`
	RecentRequests []*PayoutRequestDTO `json:"recent_requests"`
}

// BatchResult 一次批次结算的结果。Unconfirmed 为转账结果未知、下一轮确认的付款数，
// Skipped 为未开户、未核验、已冻结或本窗口已付款的余额数，Reconciled 为本轮开始时确认的历史未决付款数。
type BatchResult struct {
	BatchID     int64           `json:"batch_id,string"`
	BatchNumber string          `json:"batch_number"`
	Status      string          `json:"status"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	Unconfirmed int             `json:"unconfirmed"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Skipped     int             `json:"skipped"`
	Reconciled  int             `json:"reconciled"`
	Errors      []string        `json:"errors,omitempty"`
}
