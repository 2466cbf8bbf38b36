// Package mysql 报表查询，直接读取账本与结算的表
package mysql

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/regulatoryreporting/domain"
	"github.com/wyfcoding/commissionledger/pkg/db"
)

type reportRepository struct {
	db *db.DB
}

// NewReportRepository 创建报表仓储
func NewReportRepository(database *db.DB) domain.ReportRepository {
	return &reportRepository{db: database}
}

type sellerDistribution struct {
	OrderID   string
	Status    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// SalesLedgerRows 逐条读取卖家分配记录后在内存中按 (订单, 状态) 汇总
func (r *reportRepository) SalesLedgerRows(ctx context.Context, sellerID string) ([]domain.SalesLedgerRow, error) {
	var dists []sellerDistribution
	err := r.db.Conn(ctx).
		Table("distributions").
		Select("order_id, status, amount, created_at").
		Where("recipient_id = ? AND role = ?", sellerID, "seller").
		Order("order_id ASC").Order("id ASC").
		Scan(&dists).Error
	if err != nil {
		return nil, err
	}

	type groupKey struct{ order, status string }
	index := make(map[groupKey]int)
	var rows []domain.SalesLedgerRow
	for _, d := range dists {
		k := groupKey{d.OrderID, d.Status}
		i, ok := index[k]
		if !ok {
			i = len(rows)
			index[k] = i
			rows = append(rows, domain.SalesLedgerRow{OrderID: d.OrderID, Status: d.Status, Amount: decimal.Zero})
		}
		rows[i].Count++
		rows[i].Amount = rows[i].Amount.Add(d.Amount)
		if d.CreatedAt.After(rows[i].LatestAt) {
			rows[i].LatestAt = d.CreatedAt
		}
	}
	return rows, nil
}

type paidTotal struct {
	UserID      string
	Total       decimal.NullDecimal
	PayoutCount int
}

// TaxReportable 阈值比较放在内存里用 decimal 做，避免各数据库对数值与参数比较的差异
func (r *reportRepository) TaxReportable(ctx context.Context, from, to time.Time, threshold decimal.Decimal) ([]domain.TaxReportRow, error) {
	var totals []paidTotal
	err := r.db.Conn(ctx).
		Table("payouts AS p").
		Select("p.user_id AS user_id, SUM(p.amount) AS total, COUNT(*) AS payout_count").
		Joins("JOIN connected_accounts AS a ON a.user_id = p.user_id").
		Where("p.status = ? AND p.completed_at >= ? AND p.completed_at < ?", "completed", from.UTC(), to.UTC()).
		Where("a.tax_agreement_on_file = ?", true).
		Group("p.user_id").
		Order("p.user_id ASC").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	rows := make([]domain.TaxReportRow, 0, len(totals))
	for _, t := range totals {
		if !t.Total.Valid {
			continue
		}
		total := t.Total.Decimal.Round(2)
		if total.LessThan(threshold) {
			continue
		}
		rows = append(rows, domain.TaxReportRow{UserID: t.UserID, TotalPaid: total, PayoutCount: t.PayoutCount})
	}
	return rows, nil
}
