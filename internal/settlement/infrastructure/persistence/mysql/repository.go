package mysql

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db *db.DB
}

// NewAccountRepository 创建关联账户仓储
func NewAccountRepository(database *db.DB) domain.AccountRepository {
	return &accountRepository{db: database}
}

func (r *accountRepository) Save(ctx context.Context, a *domain.ConnectedAccount) error {
	return r.db.Conn(ctx).Save(accountToModel(a)).Error
}

func (r *accountRepository) Get(ctx context.Context, userID string) (*domain.ConnectedAccount, error) {
	var m ConnectedAccountModel
	if err := r.db.Conn(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return accountToDomain(&m), nil
}

type payoutRequestRepository struct {
	db *db.DB
}

// NewPayoutRequestRepository 创建付款申请仓储
func NewPayoutRequestRepository(database *db.DB) domain.PayoutRequestRepository {
	return &payoutRequestRepository{db: database}
}

func (r *payoutRequestRepository) Create(ctx context.Context, req *domain.PayoutRequest) error {
	return r.db.Conn(ctx).Create(requestToModel(req)).Error
}

func (r *payoutRequestRepository) Get(ctx context.Context, id int64) (*domain.PayoutRequest, error) {
	var m PayoutRequestModel
	if err := r.db.Conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, err
	}
	return requestToDomain(&m), nil
}

func (r *payoutRequestRepository) Update(ctx context.Context, req *domain.PayoutRequest, fromStatus domain.PayoutRequestStatus) (bool, error) {
	res := r.db.Conn(ctx).Model(&PayoutRequestModel{}).
		Where("id = ? AND status = ?", req.ID, fromStatus).
		Updates(map[string]any{
			"status":           string(req.Status),
			"processed_at":     utcPtr(req.ProcessedAt),
			"rejection_reason": req.RejectionReason,
			"payout_id":        req.PayoutID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *payoutRequestRepository) ListByUser(ctx context.Context, userID string, role ledger.Role, limit int) ([]*domain.PayoutRequest, error) {
	q := r.db.Conn(ctx).Where("user_id = ?", userID)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var models []*PayoutRequestModel
	if err := q.Order("requested_at DESC").Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return requestsToDomain(models), nil
}

func (r *payoutRequestRepository) ListOpen(ctx context.Context, key ledger.BalanceKey) ([]*domain.PayoutRequest, error) {
	var models []*PayoutRequestModel
	err := r.db.Conn(ctx).
		Where("user_id = ? AND role = ? AND status IN ?", key.UserID, key.Role,
			[]string{string(domain.RequestPending), string(domain.RequestApproved)}).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return requestsToDomain(models), nil
}

func requestsToDomain(models []*PayoutRequestModel) []*domain.PayoutRequest {
	out := make([]*domain.PayoutRequest, len(models))
	for i, m := range models {
		out[i] = requestToDomain(m)
	}
	return out
}

type batchRepository struct {
	db *db.DB
}

// NewBatchRepository 创建批次仓储
func NewBatchRepository(database *db.DB) domain.BatchRepository {
	return &batchRepository{db: database}
}

func (r *batchRepository) GetOrCreate(ctx context.Context, b *domain.PayoutBatch) (*domain.PayoutBatch, error) {
	conn := r.db.Conn(ctx)
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(batchToModel(b)).Error; err != nil {
		return nil, err
	}
	var m PayoutBatchModel
	if err := conn.Where("batch_number = ?", b.BatchNumber).First(&m).Error; err != nil {
		return nil, err
	}
	return batchToDomain(&m), nil
}

func (r *batchRepository) Get(ctx context.Context, id int64) (*domain.PayoutBatch, error) {
	var m PayoutBatchModel
	if err := r.db.Conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, err
	}
	return batchToDomain(&m), nil
}

func (r *batchRepository) Update(ctx context.Context, b *domain.PayoutBatch) error {
	return r.db.Conn(ctx).Model(&PayoutBatchModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"status":            string(b.Status),
			"total_amount":      b.TotalAmount,
			"recipient_count":   b.RecipientCount,
			"failed_count":      b.FailedCount,
			"unconfirmed_count": b.UnconfirmedCount,
			"completed_at":      utcPtr(b.CompletedAt),
		}).Error
}

type payoutRepository struct {
	db *db.DB
}

// NewPayoutRepository 创建付款仓储
func NewPayoutRepository(database *db.DB) domain.PayoutRepository {
	return &payoutRepository{db: database}
}

func (r *payoutRepository) Create(ctx context.Context, p *domain.Payout) error {
	res := r.db.Conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(payoutToModel(p))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPayoutExists
	}
	return nil
}

func (r *payoutRepository) Get(ctx context.Context, id int64) (*domain.Payout, error) {
	var m PayoutModel
	if err := r.db.Conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, err
	}
	return payoutToDomain(&m), nil
}

// Update 只改写未决付款，已完成或已失败的付款不会被并发批次的旧副本覆盖
func (r *payoutRepository) Update(ctx context.Context, p *domain.Payout) error {
	return r.db.Conn(ctx).Model(&PayoutModel{}).
		Where("id = ? AND status IN ?", p.ID, unresolved).
		Updates(map[string]any{
			"status":         string(p.Status),
			"transfer_id":    p.TransferID,
			"failure_reason": p.FailureReason,
			"attempts":       p.Attempts,
			"updated_at":     p.UpdatedAt.UTC(),
			"completed_at":   utcPtr(p.CompletedAt),
		}).Error
}

func (r *payoutRepository) find(ctx context.Context, query string, args ...any) ([]*domain.Payout, error) {
	var models []*PayoutModel
	if err := r.db.Conn(ctx).Where(query, args...).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Payout, len(models))
	for i, m := range models {
		out[i] = payoutToDomain(m)
	}
	return out, nil
}

func (r *payoutRepository) ListByBatch(ctx context.Context, batchID int64) ([]*domain.Payout, error) {
	return r.find(ctx, "batch_id = ?", batchID)
}

var unresolved = []string{string(domain.PayoutProcessing), string(domain.PayoutPendingConfirmation)}

func (r *payoutRepository) ListUnresolved(ctx context.Context) ([]*domain.Payout, error) {
	return r.find(ctx, "status IN ?", unresolved)
}

func (r *payoutRepository) SumUnresolved(ctx context.Context, key ledger.BalanceKey) (decimal.Decimal, error) {
	var row struct {
		Total decimal.NullDecimal
	}
	err := r.db.Conn(ctx).Model(&PayoutModel{}).
		Select("SUM(amount) AS total").
		Where("user_id = ? AND role = ? AND status IN ?", key.UserID, key.Role, unresolved).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !row.Total.Valid {
		return decimal.Zero, nil
	}
	return row.Total.Decimal.Round(2), nil
}
