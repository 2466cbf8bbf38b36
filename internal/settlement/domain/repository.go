package domain

import (
	"context"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

// Ledger 结算对账本的依赖。ClaimForPayout 必须在调用方事务内执行。
type Ledger interface {
	ClaimForPayout(ctx context.Context, key ledger.BalanceKey, payoutID int64, minimum decimal.Decimal) (decimal.Decimal, error)
	SettlePayout(ctx context.Context, key ledger.BalanceKey, payoutID int64) (decimal.Decimal, error)
	FailPayout(ctx context.Context, key ledger.BalanceKey, payoutID int64, terminal bool) (bool, error)
	GetBalance(ctx context.Context, userID string, role ledger.Role) (*ledger.UserBalance, error)
	ListPayableBalances(ctx context.Context, minimum decimal.Decimal) ([]*ledger.UserBalance, error)
}

// AccountRepository 关联账户仓储
type AccountRepository interface {
	Save(ctx context.Context, a *ConnectedAccount) error
	Get(ctx context.Context, userID string) (*ConnectedAccount, error)
}

// PayoutRequestRepository 付款申请仓储
type PayoutRequestRepository interface {
	Create(ctx context.Context, r *PayoutRequest) error
	Get(ctx context.Context, id int64) (*PayoutRequest, error)
	// Update 以 fromStatus 为条件更新，条件不满足时返回 false
	Update(ctx context.Context, r *PayoutRequest, fromStatus PayoutRequestStatus) (bool, error)
	// ListByUser 最近的申请，role 为空时不限角色
	ListByUser(ctx context.Context, userID string, role ledger.Role, limit int) ([]*PayoutRequest, error)
	ListOpen(ctx context.Context, key ledger.BalanceKey) ([]*PayoutRequest, error)
}

// BatchRepository 批次仓储
type BatchRepository interface {
	// GetOrCreate 按批次号取批次，不存在时创建
	GetOrCreate(ctx context.Context, b *PayoutBatch) (*PayoutBatch, error)
	Get(ctx context.Context, id int64) (*PayoutBatch, error)
	Update(ctx context.Context, b *PayoutBatch) error
}

// PayoutRepository 付款仓储
type PayoutRepository interface {
	// Create 插入付款，(batch_id, user_id, role) 已存在时返回 ErrPayoutExists
	Create(ctx context.Context, p *Payout) error
	Get(ctx context.Context, id int64) (*Payout, error)
	// Update 只作用于 processing 或 pending_confirmation 的付款
	Update(ctx context.Context, p *Payout) error
	ListByBatch(ctx context.Context, batchID int64) ([]*Payout, error)
	ListUnresolved(ctx context.Context) ([]*Payout, error)
	// SumUnresolved 某余额在途付款的金额
	SumUnresolved(ctx context.Context, key ledger.BalanceKey) (decimal.Decimal, error)
}

// EventPublisher 付款结果事件
type EventPublisher interface {
	PublishPayoutCompleted(ctx context.Context, p *Payout) error
	PublishPayoutFailed(ctx context.Context, p *Payout, blocked bool) error
}
