package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderLineRepository struct {
	db *db.DB
}

// NewOrderLineRepository 创建订单行仓储
func NewOrderLineRepository(database *db.DB) domain.OrderLineRepository {
	return &orderLineRepository{db: database}
}

func (r *orderLineRepository) Create(ctx context.Context, line *domain.OrderLine) (bool, error) {
	res := r.db.Conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(lineToModel(line))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *orderLineRepository) Get(ctx context.Context, id string) (*domain.OrderLine, error) {
	var m OrderLineModel
	if err := r.db.Conn(ctx).Where("order_line_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderLineNotFound
		}
		return nil, err
	}
	return lineToDomain(&m), nil
}

type distributionRepository struct {
	db *db.DB
}

// NewDistributionRepository 创建分配记录仓储
func NewDistributionRepository(database *db.DB) domain.DistributionRepository {
	return &distributionRepository{db: database}
}

func (r *distributionRepository) CreateBatch(ctx context.Context, dists []*domain.Distribution) error {
	if len(dists) == 0 {
		return nil
	}
	models := make([]*DistributionModel, len(dists))
	for i, d := range dists {
		models[i] = distToModel(d)
	}
	return r.db.Conn(ctx).Create(&models).Error
}

func (r *distributionRepository) Get(ctx context.Context, id int64) (*domain.Distribution, error) {
	var m DistributionModel
	if err := r.db.Conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDistributionNotFound
		}
		return nil, err
	}
	return distToDomain(&m), nil
}

func (r *distributionRepository) find(ctx context.Context, query string, args ...any) ([]*domain.Distribution, error) {
	var models []*DistributionModel
	if err := r.db.Conn(ctx).Where(query, args...).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return distsToDomain(models), nil
}

func (r *distributionRepository) ListByOrderLine(ctx context.Context, orderLineID string) ([]*domain.Distribution, error) {
	return r.find(ctx, "order_line_id = ?", orderLineID)
}

func (r *distributionRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Distribution, error) {
	return r.find(ctx, "order_id = ?", orderID)
}

func (r *distributionRepository) ListReleasable(ctx context.Context, now time.Time, afterID int64, limit int) ([]*domain.Distribution, error) {
	var models []*DistributionModel
	err := r.db.Conn(ctx).
		Where("status = ? AND available_at <= ? AND id > ?", domain.StatusHeld, now.UTC(), afterID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return distsToDomain(models), nil
}

func (r *distributionRepository) ListPayable(ctx context.Context, key domain.BalanceKey) ([]*domain.Distribution, error) {
	return r.find(ctx, "recipient_id = ? AND role = ? AND status IN ?",
		key.UserID, key.Role, []string{string(domain.StatusPending), string(domain.StatusFailed)})
}

func (r *distributionRepository) ListByPayout(ctx context.Context, payoutID int64) ([]*domain.Distribution, error) {
	return r.find(ctx, "payout_id = ?", payoutID)
}

func (r *distributionRepository) ListFailed(ctx context.Context, key domain.BalanceKey) ([]*domain.Distribution, error) {
	return r.find(ctx, "recipient_id = ? AND role = ? AND status = ?", key.UserID, key.Role, domain.StatusFailed)
}

func (r *distributionRepository) ListBySeller(ctx context.Context, sellerID string) ([]*domain.Distribution, error) {
	return r.find(ctx, "recipient_id = ? AND role = ?", sellerID, domain.RoleSeller)
}

func (r *distributionRepository) UpdateStatus(ctx context.Context, d *domain.Distribution, fromStatus domain.DistributionStatus, fromPayoutID *int64) (bool, error) {
	q := r.db.Conn(ctx).Model(&DistributionModel{}).Where("id = ? AND status = ?", d.ID, fromStatus)
	if fromPayoutID == nil {
		q = q.Where("payout_id IS NULL")
	} else {
		q = q.Where("payout_id = ?", *fromPayoutID)
	}
	res := q.Updates(map[string]any{
		"status":            string(d.Status),
		"payout_id":         d.PayoutID,
		"failure_count":     d.FailureCount,
		"status_changed_at": d.StatusChangedAt.UTC(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type statusSumRow struct {
	RecipientID string
	Role        string
	Status      string
	Amount      decimal.Decimal
}

func (r *distributionRepository) SumByStatus(ctx context.Context) ([]domain.StatusSum, error) {
	var rows []statusSumRow
	err := r.db.Conn(ctx).Model(&DistributionModel{}).
		Select("recipient_id, role, status, SUM(amount) AS amount").
		Group("recipient_id, role, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.StatusSum, len(rows))
	for i, row := range rows {
		out[i] = domain.StatusSum{
			UserID: row.RecipientID,
			Role:   domain.Role(row.Role),
			Status: domain.DistributionStatus(row.Status),
			// 部分驱动以浮点返回 SUM
			Amount: row.Amount.Round(2),
		}
	}
	return out, nil
}

type balanceRepository struct {
	db *db.DB
}

// NewBalanceRepository 创建余额仓储
func NewBalanceRepository(database *db.DB) domain.BalanceRepository {
	return &balanceRepository{db: database}
}

func (r *balanceRepository) GetForUpdate(ctx context.Context, key domain.BalanceKey) (*domain.UserBalance, error) {
	conn := r.db.Conn(ctx)
	seed := &UserBalanceModel{
		UserID:         key.UserID,
		Role:           string(key.Role),
		HeldBalance:    decimal.Zero,
		CurrentBalance: decimal.Zero,
		PaidOut:        decimal.Zero,
		TotalEarned:    decimal.Zero,
	}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, err
	}

	var m UserBalanceModel
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND role = ?", key.UserID, key.Role).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return balanceToDomain(&m), nil
}

func (r *balanceRepository) Get(ctx context.Context, key domain.BalanceKey) (*domain.UserBalance, error) {
	var m UserBalanceModel
	err := r.db.Conn(ctx).Where("user_id = ? AND role = ?", key.UserID, key.Role).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBalanceNotFound
		}
		return nil, err
	}
	return balanceToDomain(&m), nil
}

func (r *balanceRepository) Save(ctx context.Context, b *domain.UserBalance) error {
	var lastPayoutAt *time.Time
	if b.LastPayoutAt != nil {
		t := b.LastPayoutAt.UTC()
		lastPayoutAt = &t
	}
	return r.db.Conn(ctx).Model(&UserBalanceModel{}).
		Where("user_id = ? AND role = ?", b.UserID, b.Role).
		Updates(map[string]any{
			"held_balance":    b.Held,
			"current_balance": b.Current,
			"paid_out":        b.PaidOut,
			"total_earned":    b.TotalEarned,
			"payouts_blocked": b.PayoutsBlocked,
			"last_payout_at":  lastPayoutAt,
			"updated_at":      b.UpdatedAt.UTC(),
		}).Error
}

func (r *balanceRepository) ListPayable(ctx context.Context, minimum decimal.Decimal) ([]*domain.UserBalance, error) {
	var models []*UserBalanceModel
	err := r.db.Conn(ctx).
		Where("current_balance >= ? AND payouts_blocked = ? AND role <> ?", minimum, false, domain.RolePlatform).
		Order("user_id ASC").Order("role ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.UserBalance, len(models))
	for i, m := range models {
		out[i] = balanceToDomain(m)
	}
	return out, nil
}

func (r *balanceRepository) List(ctx context.Context) ([]*domain.UserBalance, error) {
	var models []*UserBalanceModel
	if err := r.db.Conn(ctx).Order("user_id ASC").Order("role ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.UserBalance, len(models))
	for i, m := range models {
		out[i] = balanceToDomain(m)
	}
	return out, nil
}

type orderReader struct {
	db *db.DB
}

// NewOrderReader 创建订单只读视图
func NewOrderReader(database *db.DB) domain.OrderReader {
	return &orderReader{db: database}
}

func (r *orderReader) GetOrders(ctx context.Context, ids []string) (map[string]*domain.Order, error) {
	out := make(map[string]*domain.Order, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []*OrderModel
	if err := r.db.Conn(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		o := &domain.Order{ID: m.ID, Status: domain.OrderStatus(m.Status)}
		if m.FulfillmentStatus != nil {
			o.FulfillmentStatus = domain.FulfillmentStatus(*m.FulfillmentStatus)
		}
		out[m.ID] = o
	}
	return out, nil
}
