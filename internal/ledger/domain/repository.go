package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transactor 在同一事务中执行 fn，事务句柄经由 ctx 传递
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderLineRepository 订单行仓储
type OrderLineRepository interface {
	// Create 插入订单行，已存在时返回 false 且不修改
	Create(ctx context.Context, line *OrderLine) (bool, error)
	Get(ctx context.Context, id string) (*OrderLine, error)
}

// DistributionRepository 分配记录仓储
type DistributionRepository interface {
	CreateBatch(ctx context.Context, dists []*Distribution) error
	Get(ctx context.Context, id int64) (*Distribution, error)
	ListByOrderLine(ctx context.Context, orderLineID string) ([]*Distribution, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Distribution, error)
	// ListReleasable held 且 available_at <= now，按 ID 升序，afterID 用于分页
	ListReleasable(ctx context.Context, now time.Time, afterID int64, limit int) ([]*Distribution, error)
	// ListPayable 某余额下 pending/failed 的全部记录（含已认领的）
	ListPayable(ctx context.Context, key BalanceKey) ([]*Distribution, error)
	ListByPayout(ctx context.Context, payoutID int64) ([]*Distribution, error)
	ListFailed(ctx context.Context, key BalanceKey) ([]*Distribution, error)
	// UpdateStatus 以 fromStatus / fromPayoutID 为条件更新状态、认领与失败次数，条件不满足时返回 false
	UpdateStatus(ctx context.Context, d *Distribution, fromStatus DistributionStatus, fromPayoutID *int64) (bool, error)
	// SumByStatus 按 (用户, 角色, 状态) 汇总金额，用于对账
	SumByStatus(ctx context.Context) ([]StatusSum, error)
	// ListBySeller 某卖家的 seller 角色记录，报表使用
	ListBySeller(ctx context.Context, sellerID string) ([]*Distribution, error)
}

// StatusSum 汇总行
type StatusSum struct {
	UserID string
	Role   Role
	Status DistributionStatus
	Amount decimal.Decimal
}

// BalanceRepository 余额仓储
type BalanceRepository interface {
	// GetForUpdate 加行锁读取余额，不存在时先创建零余额。必须在事务中调用。
	GetForUpdate(ctx context.Context, key BalanceKey) (*UserBalance, error)
	Get(ctx context.Context, key BalanceKey) (*UserBalance, error)
	Save(ctx context.Context, b *UserBalance) error
	// ListPayable current_balance >= minimum、未冻结、角色可付款的余额
	ListPayable(ctx context.Context, minimum decimal.Decimal) ([]*UserBalance, error)
	List(ctx context.Context) ([]*UserBalance, error)
}
