package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	feedomain "github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
	"github.com/wyfcoding/commissionledger/internal/pricing/domain"
)

// ScheduleProvider 提供生效中的费率表
type ScheduleProvider interface {
	Active(ctx context.Context, at time.Time) (*feedomain.FeeSchedule, error)
	ByVersion(ctx context.Context, version int) (*feedomain.FeeSchedule, error)
}

// QuoteRequest 定价请求
type QuoteRequest struct {
	Ask           string `json:"ask" binding:"required"`
	AffiliateRate string `json:"affiliate_rate"`
	HasReferrer   bool   `json:"has_referrer"`
}

// QuoteService 挂牌定价服务
type QuoteService struct {
	schedules ScheduleProvider
	logger    *slog.Logger
	now       func() time.Time
}

// NewQuoteService 创建定价服务
func NewQuoteService(schedules ScheduleProvider, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		schedules: schedules,
		logger:    logger.With("service", "pricing_application"),
		now:       time.Now,
	}
}

// Quote 以当前生效的费率表计算售价与分账预览
func (s *QuoteService) Quote(ctx context.Context, req QuoteRequest) (*domain.Quote, error) {
	ask, err := decimal.NewFromString(req.Ask)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAsk, err)
	}
	rate := decimal.Zero
	if req.AffiliateRate != "" {
		if rate, err = decimal.NewFromString(req.AffiliateRate); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRate, err)
		}
	}

	fs, err := s.schedules.Active(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("load active fee schedule: %w", err)
	}

	q, err := domain.QuoteListing(fs, ask, rate, req.HasReferrer)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "listing quoted", "ask", ask.String(), "sale_price", q.SalePrice.String(), "fee_version", fs.Version)
	return q, nil
}
