package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
	"github.com/wyfcoding/commissionledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeeScheduleModel GORM 模型
type FeeScheduleModel struct {
	Version                int             `gorm:"column:version;primaryKey;autoIncrement:false"`
	PlatformFeePercent     decimal.Decimal `gorm:"column:platform_fee_percent;type:decimal(10,6);not null"`
	ReferralOfPlatformRate decimal.Decimal `gorm:"column:referral_of_platform_rate;type:decimal(10,6);not null"`
	ProcessorPercent       decimal.Decimal `gorm:"column:processor_percent;type:decimal(10,6);not null"`
	ProcessorFixed         decimal.Decimal `gorm:"column:processor_fixed;type:decimal(20,2);not null"`
	Currency               string          `gorm:"column:currency;type:varchar(3);not null"`
	Scale                  int32           `gorm:"column:scale;not null"`
	EffectiveFrom          time.Time       `gorm:"column:effective_from;index;not null"`
	CreatedAt              time.Time       `gorm:"column:created_at"`
}

// TableName 指定表名
func (FeeScheduleModel) TableName() string { return "fee_schedules" }

type feeScheduleRepository struct {
	db *db.DB
}

// NewFeeScheduleRepository 创建费率表仓储
func NewFeeScheduleRepository(database *db.DB) domain.FeeScheduleRepository {
	return &feeScheduleRepository{db: database}
}

func (r *feeScheduleRepository) Save(ctx context.Context, s *domain.FeeSchedule) error {
	m := toModel(s)
	res := r.db.Conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionExists
	}
	s.CreatedAt = m.CreatedAt
	return nil
}

func (r *feeScheduleRepository) GetByVersion(ctx context.Context, version int) (*domain.FeeSchedule, error) {
	var m FeeScheduleModel
	if err := r.db.Conn(ctx).Where("version = ?", version).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return toDomain(&m), nil
}

func (r *feeScheduleRepository) GetActive(ctx context.Context, at time.Time) (*domain.FeeSchedule, error) {
	var m FeeScheduleModel
	err := r.db.Conn(ctx).
		Where("effective_from <= ?", at).
		Order("effective_from DESC").Order("version DESC").
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return toDomain(&m), nil
}

func (r *feeScheduleRepository) GetLatest(ctx context.Context) (*domain.FeeSchedule, error) {
	var m FeeScheduleModel
	if err := r.db.Conn(ctx).Order("version DESC").First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return toDomain(&m), nil
}

func (r *feeScheduleRepository) List(ctx context.Context) ([]*domain.FeeSchedule, error) {
	var models []*FeeScheduleModel
	if err := r.db.Conn(ctx).Order("version ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]*domain.FeeSchedule, len(models))
	for i, m := range models {
		res[i] = toDomain(m)
	}
	return res, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrScheduleNotFound
	}
	return err
}

func toModel(s *domain.FeeSchedule) *FeeScheduleModel {
	return &FeeScheduleModel{
		Version:                s.Version,
		PlatformFeePercent:     s.PlatformFeePercent,
		ReferralOfPlatformRate: s.ReferralOfPlatformRate,
		ProcessorPercent:       s.ProcessorPercent,
		ProcessorFixed:         s.ProcessorFixed,
		Currency:               s.Currency,
		Scale:                  s.Scale,
		EffectiveFrom:          s.EffectiveFrom.UTC(),
	}
}

func toDomain(m *FeeScheduleModel) *domain.FeeSchedule {
	return &domain.FeeSchedule{
		Version:                m.Version,
		PlatformFeePercent:     m.PlatformFeePercent,
		ReferralOfPlatformRate: m.ReferralOfPlatformRate,
		ProcessorPercent:       m.ProcessorPercent,
		ProcessorFixed:         m.ProcessorFixed,
		Currency:               m.Currency,
		Scale:                  m.Scale,
		EffectiveFrom:          m.EffectiveFrom,
		CreatedAt:              m.CreatedAt,
	}
}
