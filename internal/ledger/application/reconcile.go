package application

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
)

// Reconciler 从分配记录重新汇总每个余额并与存量余额比对。只报告，从不修正。
type Reconciler struct {
	dists    domain.DistributionRepository
	balances domain.BalanceRepository
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewReconciler 创建对账器
func NewReconciler(dists domain.DistributionRepository, balances domain.BalanceRepository, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		dists:    dists,
		balances: balances,
		metrics:  m,
		logger:   logger.With("service", "ledger_reconciler"),
	}
}

type bucketSums struct {
	held, current, paid decimal.Decimal
}

// Reconcile 执行一次对账
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	sums, err := r.dists.SumByStatus(ctx)
	if err != nil {
		return nil, err
	}
	computed := make(map[domain.BalanceKey]*bucketSums)
	for _, s := range sums {
		key := domain.BalanceKey{UserID: s.UserID, Role: s.Role}
		b, ok := computed[key]
		if !ok {
			b = &bucketSums{held: decimal.Zero, current: decimal.Zero, paid: decimal.Zero}
			computed[key] = b
		}
		switch s.Status {
		case domain.StatusHeld:
			b.held = b.held.Add(s.Amount)
		case domain.StatusPending, domain.StatusFailed:
			b.current = b.current.Add(s.Amount)
		case domain.StatusPaid:
			b.paid = b.paid.Add(s.Amount)
		case domain.StatusReversed:
		}
	}

	stored, err := r.balances.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Drifts: []Drift{}}
	seen := make(map[domain.BalanceKey]struct{}, len(stored))
	for _, b := range stored {
		seen[b.Key()] = struct{}{}
		report.Checked++
		c, ok := computed[b.Key()]
		if !ok {
			c = &bucketSums{held: decimal.Zero, current: decimal.Zero, paid: decimal.Zero}
		}
		if b.Check() == nil && c.held.Equal(b.Held) && c.current.Equal(b.Current) && c.paid.Equal(b.PaidOut) {
			continue
		}
		report.Drifts = append(report.Drifts, drift(b.Key(), b, c))
	}
	// 有分配记录却没有余额行
	for key, c := range computed {
		if _, ok := seen[key]; ok {
			continue
		}
		report.Checked++
		if c.held.IsZero() && c.current.IsZero() && c.paid.IsZero() {
			continue
		}
		report.Drifts = append(report.Drifts, drift(key, domain.NewUserBalance(key), c))
	}
	sort.Slice(report.Drifts, func(i, j int) bool {
		a := domain.BalanceKey{UserID: report.Drifts[i].UserID, Role: report.Drifts[i].Role}
		b := domain.BalanceKey{UserID: report.Drifts[j].UserID, Role: report.Drifts[j].Role}
		return a.Less(b)
	})

	r.metrics.BalanceDriftAccounts.Set(float64(len(report.Drifts)))
	for _, d := range report.Drifts {
		r.logger.ErrorContext(ctx, "balance drift detected",
			"user_id", d.UserID,
			"role", d.Role,
			"stored_held", d.StoredHeld.String(), "computed_held", d.ComputedHeld.String(),
			"stored_current", d.StoredCurrent.String(), "computed_current", d.ComputedCurrent.String(),
			"stored_paid_out", d.StoredPaidOut.String(), "computed_paid_out", d.ComputedPaidOut.String(),
		)
	}
	r.logger.InfoContext(ctx, "reconciliation finished", "checked", report.Checked, "drifts", len(report.Drifts))
	return report, nil
}

func drift(key domain.BalanceKey, b *domain.UserBalance, c *bucketSums) Drift {
	return Drift{
		UserID:          key.UserID,
		Role:            key.Role,
		StoredHeld:      b.Held,
		ComputedHeld:    c.held,
		StoredCurrent:   b.Current,
		ComputedCurrent: c.current,
		StoredPaidOut:   b.PaidOut,
		ComputedPaidOut: c.paid,
		StoredTotal:     b.TotalEarned,
	}
}
