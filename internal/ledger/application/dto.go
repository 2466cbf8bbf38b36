package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	feedomain "github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	pricing "github.com/wyfcoding/commissionledger/internal/pricing/domain"
)

// Options 账本参数
type Options struct {
	PlatformUserID      string
	HoldWindow          time.Duration
	MaxTransferAttempts int
	ReleaseBatchSize    int
}

// ScheduleProvider 费率表来源
type ScheduleProvider interface {
	Active(ctx context.Context, at time.Time) (*feedomain.FeeSchedule, error)
	ByVersion(ctx context.Context, version int) (*feedomain.FeeSchedule, error)
}

// IDGenerator 分配记录 ID 生成
type IDGenerator interface {
	Next() int64
}

// Locker 跨实例互斥，防止多个实例同时跑同一个任务
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// RecordSaleCommand 订单行结算事件。Ask 与 SalePrice 都是单件金额。
type RecordSaleCommand struct {
	OrderLineID   string          `json:"order_line_id"`
	OrderID       string          `json:"order_id"`
	ProductID     string          `json:"product_id"`
	SellerID      string          `json:"seller_id"`
	AffiliateID   string          `json:"affiliate_id,omitempty"`
	ReferrerID    string          `json:"referrer_id,omitempty"`
	Quantity      int64           `json:"quantity"`
	Ask           decimal.Decimal `json:"ask"`
	AffiliateRate decimal.Decimal `json:"affiliate_rate"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	SettledAt     time.Time       `json:"settled_at"`
	// 为 0 时使用 SettledAt 时刻生效的版本
	FeeScheduleVersion int `json:"fee_schedule_version,omitempty"`
}

// RecordSaleResult 记录结果。Duplicate 为 true 表示订单行此前已记录，本次无任何写入。
type RecordSaleResult struct {
	OrderLine     *domain.OrderLine
	Distributions []*domain.Distribution
	Split         *pricing.Split
	Duplicate     bool
}

// ReversalResult 冲正结果
type ReversalResult struct {
	Reversed int             `json:"reversed"`
	Amount   decimal.Decimal `json:"amount"`
	// 已付款、需要追回的记录，本账本不处理
	ClawbackRequired []int64 `json:"clawback_required,omitempty"`
}

// SplitAudit 按记录时的费率版本重算分账并与已入账记录比对
type SplitAudit struct {
	OrderLineID        string        `json:"order_line_id"`
	FeeScheduleVersion int           `json:"fee_schedule_version"`
	Split              pricing.Split `json:"split"`
	Matches            bool          `json:"matches"`
	Mismatches         []string      `json:"mismatches,omitempty"`
}

// Drift 一个余额与分配记录汇总的差异
type Drift struct {
	UserID          string          `json:"user_id"`
	Role            domain.Role     `json:"role"`
	StoredHeld      decimal.Decimal `json:"stored_held"`
	ComputedHeld    decimal.Decimal `json:"computed_held"`
	StoredCurrent   decimal.Decimal `json:"stored_current"`
	ComputedCurrent decimal.Decimal `json:"computed_current"`
	StoredPaidOut   decimal.Decimal `json:"stored_paid_out"`
	ComputedPaidOut decimal.Decimal `json:"computed_paid_out"`
	StoredTotal     decimal.Decimal `json:"stored_total"`
}

// ReconcileReport 对账报告
type ReconcileReport struct {
	Checked int     `json:"checked"`
	Drifts  []Drift `json:"drifts"`
}
