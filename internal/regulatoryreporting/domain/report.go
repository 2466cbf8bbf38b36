// Package domain 报表领域模型：卖家销售台账与年度报税付款汇总。
// 报表只读已提交的账本数据，不参与任何余额决策。
package domain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidYear = errors.New("invalid report year")

// SalesLedgerRow 某订单下某状态的卖家分配记录汇总
type SalesLedgerRow struct {
	OrderID  string
	Status   string
	Count    int
	Amount   decimal.Decimal
	LatestAt time.Time
}

// SalesLedgerOrder 一个订单的卖家收入
type SalesLedgerOrder struct {
	OrderID      string          `json:"order_id"`
	SellerAmount decimal.Decimal `json:"seller_amount"`
	StatusCounts map[string]int  `json:"status_counts"`
	LatestAt     time.Time       `json:"latest_at"`
}

// SalesLedger 卖家销售台账，按订单分组，最近的订单在前
type SalesLedger struct {
	SellerID    string              `json:"seller_id"`
	Orders      []*SalesLedgerOrder `json:"orders"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
}

// BuildSalesLedger 把按 (订单, 状态) 汇总的行组装成台账。
// 已冲正的记录只计数，不计入金额。
func BuildSalesLedger(sellerID string, rows []SalesLedgerRow) *SalesLedger {
	ledger := &SalesLedger{SellerID: sellerID, Orders: []*SalesLedgerOrder{}, TotalAmount: decimal.Zero}
	byOrder := make(map[string]*SalesLedgerOrder)
	for _, r := range rows {
		o, ok := byOrder[r.OrderID]
		if !ok {
			o = &SalesLedgerOrder{OrderID: r.OrderID, SellerAmount: decimal.Zero, StatusCounts: map[string]int{}}
			byOrder[r.OrderID] = o
			ledger.Orders = append(ledger.Orders, o)
		}
		o.StatusCounts[r.Status] += r.Count
		if r.Status != "reversed" {
			o.SellerAmount = o.SellerAmount.Add(r.Amount)
			ledger.TotalAmount = ledger.TotalAmount.Add(r.Amount)
		}
		if r.LatestAt.After(o.LatestAt) {
			o.LatestAt = r.LatestAt
		}
	}
	sort.SliceStable(ledger.Orders, func(i, j int) bool {
		a, b := ledger.Orders[i], ledger.Orders[j]
		if !a.LatestAt.Equal(b.LatestAt) {
			return a.LatestAt.After(b.LatestAt)
		}
		return a.OrderID < b.OrderID
	})
	return ledger
}

// TaxReportRow 一个用户全年的已完成付款
type TaxReportRow struct {
	UserID      string          `json:"user_id"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	PayoutCount int             `json:"payout_count"`
}

// TaxReport 超过申报阈值且已签税务协议的用户
type TaxReport struct {
	Year      int             `json:"year"`
	Threshold decimal.Decimal `json:"threshold"`
	Rows      []TaxReportRow  `json:"rows"`
}

// YearRange 自然年的 UTC 起止
func YearRange(year int) (time.Time, time.Time, error) {
	if year < 2000 || year > 9999 {
		return time.Time{}, time.Time{}, ErrInvalidYear
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0), nil
}

// ReportRepository 报表查询
type ReportRepository interface {
	// SalesLedgerRows 卖家角色分配记录按 (订单, 状态) 汇总
	SalesLedgerRows(ctx context.Context, sellerID string) ([]SalesLedgerRow, error)
	// TaxReportable [from, to) 内完成的付款按用户汇总，只返回超过阈值且已签税务协议的用户
	TaxReportable(ctx context.Context, from, to time.Time, threshold decimal.Decimal) ([]TaxReportRow, error)
}
