package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

// OrderLineModel 订单行
type OrderLineModel struct {
	OrderLineID        string          `gorm:"column:order_line_id;primaryKey;type:varchar(64)"`
	OrderID            string          `gorm:"column:order_id;type:varchar(64);index;not null"`
	ProductID          string          `gorm:"column:product_id;type:varchar(64)"`
	SellerID           string          `gorm:"column:seller_id;type:varchar(64);index;not null"`
	AffiliateID        string          `gorm:"column:affiliate_id;type:varchar(64)"`
	ReferrerID         string          `gorm:"column:referrer_id;type:varchar(64)"`
	Quantity           int64           `gorm:"column:quantity;not null"`
	UnitAsk            decimal.Decimal `gorm:"column:unit_ask;type:decimal(20,2);not null"`
	UnitSalePrice      decimal.Decimal `gorm:"column:unit_sale_price;type:decimal(20,2);not null"`
	AffiliateRate      decimal.Decimal `gorm:"column:affiliate_rate;type:decimal(10,6);not null"`
	SalePrice          decimal.Decimal `gorm:"column:sale_price;type:decimal(20,2);not null"`
	ProcessorFee       decimal.Decimal `gorm:"column:processor_fee;type:decimal(20,2);not null"`
	FeeScheduleVersion int             `gorm:"column:fee_schedule_version;not null"`
	Currency           string          `gorm:"column:currency;type:varchar(3);not null"`
	SettledAt          time.Time       `gorm:"column:settled_at;not null"`
	CreatedAt          time.Time       `gorm:"column:created_at"`
}

// TableName 指定表名
func (OrderLineModel) TableName() string { return "order_lines" }

// DistributionModel 分配记录
type DistributionModel struct {
	ID              int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	OrderID         string          `gorm:"column:order_id;type:varchar(64);index;not null"`
	OrderLineID     string          `gorm:"column:order_line_id;type:varchar(64);uniqueIndex:uk_line_role;not null"`
	RecipientID     string          `gorm:"column:recipient_id;type:varchar(64);index:idx_recipient_role;not null"`
	Role            string          `gorm:"column:role;type:varchar(16);uniqueIndex:uk_line_role;index:idx_recipient_role;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	Status          string          `gorm:"column:status;type:varchar(16);index:idx_status_available;not null"`
	AvailableAt     time.Time       `gorm:"column:available_at;index:idx_status_available;not null"`
	PayoutID        *int64          `gorm:"column:payout_id;index"`
	FailureCount    int             `gorm:"column:failure_count;not null;default:0"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	StatusChangedAt time.Time       `gorm:"column:status_changed_at"`
}

// TableName 指定表名
func (DistributionModel) TableName() string { return "distributions" }

// UserBalanceModel 用户余额，(user_id, role) 唯一
type UserBalanceModel struct {
	UserID         string          `gorm:"column:user_id;primaryKey;type:varchar(64)"`
	Role           string          `gorm:"column:role;primaryKey;type:varchar(16)"`
	HeldBalance    decimal.Decimal `gorm:"column:held_balance;type:decimal(20,2);not null"`
	CurrentBalance decimal.Decimal `gorm:"column:current_balance;type:decimal(20,2);not null;index"`
	PaidOut        decimal.Decimal `gorm:"column:paid_out;type:decimal(20,2);not null"`
	TotalEarned    decimal.Decimal `gorm:"column:total_earned;type:decimal(20,2);not null"`
	PayoutsBlocked bool            `gorm:"column:payouts_blocked;not null;default:false"`
	LastPayoutAt   *time.Time      `gorm:"column:last_payout_at"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

// TableName 指定表名
func (UserBalanceModel) TableName() string { return "user_balances" }

// OrderModel 订单服务维护的 orders 表，账本只读
type OrderModel struct {
	ID                string  `gorm:"column:id;primaryKey;type:varchar(64)"`
	Status            string  `gorm:"column:status;type:varchar(16)"`
	FulfillmentStatus *string `gorm:"column:fulfillment_status;type:varchar(16)"`
}

// TableName 指定表名
func (OrderModel) TableName() string { return "orders" }

// Models 账本拥有的表
func Models() []any {
	return []any{&OrderLineModel{}, &DistributionModel{}, &UserBalanceModel{}}
}

func lineToModel(l *domain.OrderLine) *OrderLineModel {
	return &OrderLineModel{
		OrderLineID:        l.ID,
		OrderID:            l.OrderID,
		ProductID:          l.ProductID,
		SellerID:           l.SellerID,
		AffiliateID:        l.AffiliateID,
		ReferrerID:         l.ReferrerID,
		Quantity:           l.Quantity,
		UnitAsk:            l.UnitAsk,
		UnitSalePrice:      l.UnitSalePrice,
		AffiliateRate:      l.AffiliateRate,
		SalePrice:          l.SalePrice,
		ProcessorFee:       l.ProcessorFee,
		FeeScheduleVersion: l.FeeScheduleVersion,
		Currency:           l.Currency,
		SettledAt:          l.SettledAt.UTC(),
	}
}

func lineToDomain(m *OrderLineModel) *domain.OrderLine {
	return &domain.OrderLine{
		ID:                 m.OrderLineID,
		OrderID:            m.OrderID,
		ProductID:          m.ProductID,
		SellerID:           m.SellerID,
		AffiliateID:        m.AffiliateID,
		ReferrerID:         m.ReferrerID,
		Quantity:           m.Quantity,
		UnitAsk:            m.UnitAsk,
		UnitSalePrice:      m.UnitSalePrice,
		AffiliateRate:      m.AffiliateRate,
		SalePrice:          m.SalePrice,
		ProcessorFee:       m.ProcessorFee,
		FeeScheduleVersion: m.FeeScheduleVersion,
		Currency:           m.Currency,
		SettledAt:          m.SettledAt,
		CreatedAt:          m.CreatedAt,
	}
}

func distToModel(d *domain.Distribution) *DistributionModel {
	return &DistributionModel{
		ID:              d.ID,
		OrderID:         d.OrderID,
		OrderLineID:     d.OrderLineID,
		RecipientID:     d.RecipientID,
		Role:            string(d.Role),
		Amount:          d.Amount,
		Status:          string(d.Status),
		AvailableAt:     d.AvailableAt.UTC(),
		PayoutID:        d.PayoutID,
		FailureCount:    d.FailureCount,
		CreatedAt:       d.CreatedAt.UTC(),
		StatusChangedAt: d.StatusChangedAt.UTC(),
	}
}

func distToDomain(m *DistributionModel) *domain.Distribution {
	return &domain.Distribution{
		ID:              m.ID,
		OrderID:         m.OrderID,
		OrderLineID:     m.OrderLineID,
		RecipientID:     m.RecipientID,
		Role:            domain.Role(m.Role),
		Amount:          m.Amount,
		Status:          domain.DistributionStatus(m.Status),
		AvailableAt:     m.AvailableAt,
		PayoutID:        m.PayoutID,
		FailureCount:    m.FailureCount,
		CreatedAt:       m.CreatedAt,
		StatusChangedAt: m.StatusChangedAt,
	}
}

func distsToDomain(models []*DistributionModel) []*domain.Distribution {
	out := make([]*domain.Distribution, len(models))
	for i, m := range models {
		out[i] = distToDomain(m)
	}
	return out
}

func balanceToDomain(m *UserBalanceModel) *domain.UserBalance {
	return &domain.UserBalance{
		UserID:         m.UserID,
		Role:           domain.Role(m.Role),
		Held:           m.HeldBalance,
		Current:        m.CurrentBalance,
		PaidOut:        m.PaidOut,
		TotalEarned:    m.TotalEarned,
		PayoutsBlocked: m.PayoutsBlocked,
		LastPayoutAt:   m.LastPayoutAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
