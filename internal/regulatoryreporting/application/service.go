// Package application 报表应用服务
package application

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/regulatoryreporting/domain"
	settlement "github.com/wyfcoding/commissionledger/internal/settlement/domain"
)

// ProcessorPayoutLister 处理方出款查询
type ProcessorPayoutLister interface {
	ListProcessorPayouts(ctx context.Context, userID string, limit int) ([]settlement.ProcessorPayout, error)
}

// ReportingService 只读报表
type ReportingService struct {
	repo      domain.ReportRepository
	payouts   ProcessorPayoutLister
	threshold decimal.Decimal
	logger    *slog.Logger
}

// NewReportingService 创建报表服务，threshold 为年度申报阈值
func NewReportingService(repo domain.ReportRepository, payouts ProcessorPayoutLister, threshold decimal.Decimal, logger *slog.Logger) *ReportingService {
	return &ReportingService{
		repo:      repo,
		payouts:   payouts,
		threshold: threshold,
		logger:    logger.With("service", "reporting_application"),
	}
}

// SalesLedger 卖家销售台账
func (s *ReportingService) SalesLedger(ctx context.Context, sellerID string) (*domain.SalesLedger, error) {
	rows, err := s.repo.SalesLedgerRows(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return domain.BuildSalesLedger(sellerID, rows), nil
}

// TaxReport 年度报税付款汇总
func (s *ReportingService) TaxReport(ctx context.Context, year int) (*domain.TaxReport, error) {
	from, to, err := domain.YearRange(year)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.TaxReportable(ctx, from, to, s.threshold)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "tax report generated", "year", year, "users", len(rows))
	return &domain.TaxReport{Year: year, Threshold: s.threshold, Rows: rows}, nil
}

// ProcessorPayouts 处理方侧出款记录
func (s *ReportingService) ProcessorPayouts(ctx context.Context, userID string, limit int) ([]settlement.ProcessorPayout, error) {
	return s.payouts.ListProcessorPayouts(ctx, userID, limit)
}
