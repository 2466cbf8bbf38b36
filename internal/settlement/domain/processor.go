package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus 处理方账户状态
type AccountStatus struct {
	AccountID       string   `json:"id"`
	ChargesEnabled  bool     `json:"charges_enabled"`
	PayoutsEnabled  bool     `json:"payouts_enabled"`
	RequirementsDue []string `json:"requirements_due"`
}

// CreateAccountInput 开户参数
type CreateAccountInput struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Country string `json:"country"`
}

// TransferStatus 处理方侧的转账状态。succeeded 与 failed 是终态，其余状态（pending、in_transit
// 或无法识别的值）都表示资金可能仍在途中。
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSucceeded TransferStatus = "succeeded"
	TransferFailed    TransferStatus = "failed"
)

// TransferInput 转账参数。相同 IdempotencyKey 的请求处理方只执行一次。
type TransferInput struct {
	Destination    string            `json:"destination"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Transfer 处理方转账记录
type Transfer struct {
	ID             string          `json:"id"`
	Status         TransferStatus  `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Destination    string          `json:"destination"`
	IdempotencyKey string          `json:"idempotency_key"`
	FailureCode    string          `json:"failure_code,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
}

// ProcessorPayout 处理方从关联账户打到银行卡的出款，只读
type ProcessorPayout struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	ArrivalDate time.Time       `json:"arrival_date"`
}

// Processor 支付处理方
type Processor interface {
	CreateConnectedAccount(ctx context.Context, in CreateAccountInput) (*AccountStatus, error)
	GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
	// CreateTransfer 只有转账状态为 succeeded 时返回 nil error。被明确拒绝时返回 *RejectionError；
	// 超时、5xx、熔断或非终态状态返回 ErrTransferUnknown
	CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error)
	// FindTransfer 按幂等键查询，没有记录时返回 ErrTransferNotFound
	FindTransfer(ctx context.Context, idempotencyKey string) (*Transfer, error)
	ListPayouts(ctx context.Context, accountID string, limit int) ([]ProcessorPayout, error)
}
