package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	pricing "github.com/wyfcoding/commissionledger/internal/pricing/domain"
)

// OrderStatus 订单生命周期状态，由订单服务维护
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderRefunded  OrderStatus = "refunded"
	OrderCanceled  OrderStatus = "canceled"
)

// FulfillmentStatus 履约状态。为空表示无履约跟踪（数字商品）。
type FulfillmentStatus string

const (
	FulfillmentNone        FulfillmentStatus = ""
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentShipped     FulfillmentStatus = "shipped"
	FulfillmentDelivered   FulfillmentStatus = "delivered"
)

// Order 账本只读取订单的状态字段
type Order struct {
	ID                string
	Status            OrderStatus
	FulfillmentStatus FulfillmentStatus
}

// AllowsRelease 订单已完成，且无履约跟踪或已发货/已送达
func (o *Order) AllowsRelease() bool {
	if o.Status != OrderCompleted {
		return false
	}
	switch o.FulfillmentStatus {
	case FulfillmentNone, FulfillmentShipped, FulfillmentDelivered:
		return true
	default:
		return false
	}
}

// OrderReader 订单服务的只读视图
type OrderReader interface {
	// GetOrders 批量读取订单，不存在的 ID 不出现在结果中
	GetOrders(ctx context.Context, ids []string) (map[string]*Order, error)
}

// OrderLine 一个订单中的一个商品行，结算后不可修改
type OrderLine struct {
	ID          string
	OrderID     string
	ProductID   string
	SellerID    string
	AffiliateID string
	ReferrerID  string
	Quantity    int64
	// 单件 ask 与单件实际售价
	UnitAsk       decimal.Decimal
	UnitSalePrice decimal.Decimal
	AffiliateRate decimal.Decimal
	// 整行金额 = 单件金额 × 数量
	SalePrice          decimal.Decimal
	ProcessorFee       decimal.Decimal
	FeeScheduleVersion int
	Currency           string
	SettledAt          time.Time
	CreatedAt          time.Time
}

// HasAffiliate 是否有分销人
func (l *OrderLine) HasAffiliate() bool { return l.AffiliateID != "" }

// HasReferrer 是否有推荐人
func (l *OrderLine) HasReferrer() bool { return l.ReferrerID != "" }

// Validate 校验必填字段
func (l *OrderLine) Validate() error {
	switch {
	case l.ID == "", l.OrderID == "", l.SellerID == "":
		return ErrInvalidOrderLine
	case l.Quantity <= 0:
		return ErrInvalidOrderLine
	case l.ReferrerID != "" && l.AffiliateID == "":
		return ErrInvalidOrderLine
	}
	return nil
}

// RecipientOf 角色对应的收款人
func (l *OrderLine) RecipientOf(role Role, platformUserID string) string {
	switch role {
	case RoleSeller:
		return l.SellerID
	case RoleAffiliate:
		return l.AffiliateID
	case RoleReferrer:
		return l.ReferrerID
	case RolePlatform:
		return platformUserID
	default:
		return ""
	}
}

// BuildDistributions 按分账为每个非零份额生成 held 状态的分配记录
func (l *OrderLine) BuildDistributions(split pricing.Split, platformUserID string, holdWindow time.Duration, nextID func() int64) []*Distribution {
	dists := make([]*Distribution, 0, len(Roles))
	for _, role := range Roles {
		amount := role.ShareOf(split)
		if !amount.IsPositive() {
			continue
		}
		dists = append(dists, &Distribution{
			ID:              nextID(),
			OrderID:         l.OrderID,
			OrderLineID:     l.ID,
			RecipientID:     l.RecipientOf(role, platformUserID),
			Role:            role,
			Amount:          amount,
			Status:          StatusHeld,
			AvailableAt:     l.SettledAt.Add(holdWindow),
			CreatedAt:       l.SettledAt,
			StatusChangedAt: l.SettledAt,
		})
	}
	return dists
}
