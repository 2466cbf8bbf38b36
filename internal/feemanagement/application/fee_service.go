package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
	"github.com/wyfcoding/commissionledger/pkg/cache"
)

const versionCacheTTL = 24 * time.Hour

// PublishScheduleCommand 发布新版本费率表
type PublishScheduleCommand struct {
	PlatformFeePercent     decimal.Decimal
	ReferralOfPlatformRate decimal.Decimal
	ProcessorPercent       decimal.Decimal
	ProcessorFixed         decimal.Decimal
	Currency               string
	Scale                  int32
	EffectiveFrom          time.Time
}

// FeeService 费率表应用服务
type FeeService struct {
	repo   domain.FeeScheduleRepository
	cache  *cache.RedisCache
	logger *slog.Logger
}

// NewFeeService 创建费率表服务，cache 可为 nil
func NewFeeService(repo domain.FeeScheduleRepository, c *cache.RedisCache, logger *slog.Logger) *FeeService {
	return &FeeService{
		repo:   repo,
		cache:  c,
		logger: logger.With("service", "feemanagement_application"),
	}
}

// Active 返回 at 时刻生效的费率表
func (s *FeeService) Active(ctx context.Context, at time.Time) (*domain.FeeSchedule, error) {
	return s.repo.GetActive(ctx, at.UTC())
}

// ByVersion 按版本号查询。已发布版本不可变，命中缓存即可直接使用。
func (s *FeeService) ByVersion(ctx context.Context, version int) (*domain.FeeSchedule, error) {
	key := "fee_schedule:" + strconv.Itoa(version)
	if s.cache != nil {
		var cached domain.FeeSchedule
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	fs, err := s.repo.GetByVersion(ctx, version)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, fs, versionCacheTTL); err != nil {
			s.logger.WarnContext(ctx, "failed to cache fee schedule", "version", version, "error", err)
		}
	}
	return fs, nil
}

// Publish 以下一个版本号发布费率表
func (s *FeeService) Publish(ctx context.Context, cmd PublishScheduleCommand) (*domain.FeeSchedule, error) {
	next := 1
	latest, err := s.repo.GetLatest(ctx)
	switch {
	case err == nil:
		next = latest.Version + 1
	case !errors.Is(err, domain.ErrScheduleNotFound):
		return nil, err
	}

	fs := &domain.FeeSchedule{
		Version:                next,
		PlatformFeePercent:     cmd.PlatformFeePercent,
		ReferralOfPlatformRate: cmd.ReferralOfPlatformRate,
		ProcessorPercent:       cmd.ProcessorPercent,
		ProcessorFixed:         cmd.ProcessorFixed,
		Currency:               cmd.Currency,
		Scale:                  cmd.Scale,
		EffectiveFrom:          cmd.EffectiveFrom.UTC(),
	}
	if err := fs.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, fs); err != nil {
		return nil, fmt.Errorf("publish fee schedule v%d: %w", next, err)
	}

	s.logger.InfoContext(ctx, "fee schedule published",
		"version", fs.Version,
		"platform_fee_percent", fs.PlatformFeePercent.String(),
		"processor_percent", fs.ProcessorPercent.String(),
		"processor_fixed", fs.ProcessorFixed.String(),
		"effective_from", fs.EffectiveFrom,
	)
	return fs, nil
}

// EnsureDefault 表为空时写入第 1 版费率表，自纪元起生效
func (s *FeeService) EnsureDefault(ctx context.Context, cmd PublishScheduleCommand) (*domain.FeeSchedule, error) {
	latest, err := s.repo.GetLatest(ctx)
	if err == nil {
		return latest, nil
	}
	if !errors.Is(err, domain.ErrScheduleNotFound) {
		return nil, err
	}

	cmd.EffectiveFrom = time.Unix(0, 0).UTC()
	fs, err := s.Publish(ctx, cmd)
	if errors.Is(err, domain.ErrVersionExists) {
		// 并发初始化
		return s.repo.GetLatest(ctx)
	}
	return fs, err
}

// List 列出所有版本
func (s *FeeService) List(ctx context.Context) ([]*domain.FeeSchedule, error) {
	return s.repo.List(ctx)
}
