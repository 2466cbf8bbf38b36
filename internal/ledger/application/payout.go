package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

// ClaimForPayout 锁定余额并让付款认领全部可付款记录，返回认领金额。
// 必须在调用方的事务内执行，与付款记录的写入同时提交或回滚。
//
// 已有在途付款时返回 ErrPayoutInFlight；可付款记录之和与 current_balance
// 不一致时返回 ErrBalanceDrift 并告警，不发起付款。
func (s *LedgerService) ClaimForPayout(ctx context.Context, key domain.BalanceKey, payoutID int64, minimum decimal.Decimal) (decimal.Decimal, error) {
	if !key.Role.Payable() {
		return decimal.Zero, fmt.Errorf("%w: %s balances are not paid out", domain.ErrInvalidRole, key.Role)
	}

	bal, err := s.balances.GetForUpdate(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if bal.PayoutsBlocked {
		return decimal.Zero, domain.ErrPayoutsBlocked
	}

	dists, err := s.dists.ListPayable(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range dists {
		if d.Claimed() {
			return decimal.Zero, domain.ErrPayoutInFlight
		}
		total = total.Add(d.Amount)
	}
	if !total.Equal(bal.Current) {
		s.metrics.BalanceDriftAccounts.Inc()
		s.logger.ErrorContext(ctx, "payable distributions disagree with current balance, payout skipped",
			"user_id", key.UserID, "role", key.Role, "current_balance", bal.Current.String(), "payable_sum", total.String())
		return decimal.Zero, fmt.Errorf("%w: %s/%s current %s, payable %s", domain.ErrBalanceDrift, key.UserID, key.Role, bal.Current, total)
	}
	if total.IsZero() || total.LessThan(minimum) {
		return decimal.Zero, domain.ErrBelowMinimum
	}

	for _, d := range dists {
		if err := d.Claim(payoutID); err != nil {
			return decimal.Zero, err
		}
		ok, err := s.dists.UpdateStatus(ctx, d, d.Status, nil)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: distribution %d", domain.ErrDistributionInSettlement, d.ID)
		}
	}
	return total, nil
}

// SettlePayout 付款成功：认领的记录 -> paid，current_balance 转入 paid_out。重复调用无副作用。
func (s *LedgerService) SettlePayout(ctx context.Context, key domain.BalanceKey, payoutID int64) (decimal.Decimal, error) {
	settled := decimal.Zero
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		bal, err := s.balances.GetForUpdate(ctx, key)
		if err != nil {
			return err
		}
		dists, err := s.dists.ListByPayout(ctx, payoutID)
		if err != nil {
			return err
		}

		now := s.now()
		for _, d := range dists {
			if d.Status == domain.StatusPaid {
				continue
			}
			if d.Key() != key {
				return fmt.Errorf("%w: distribution %d belongs to %s/%s", domain.ErrInvalidTransition, d.ID, d.RecipientID, d.Role)
			}
			from := d.Status
			if err := d.MarkPaid(payoutID, now); err != nil {
				return err
			}
			if err := s.transition(ctx, bal, d, from, &payoutID, now); err != nil {
				return err
			}
			settled = settled.Add(d.Amount)
		}
		if settled.IsZero() {
			return nil
		}
		return s.balances.Save(ctx, bal)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return settled, nil
}

// FailPayout 付款被拒绝：释放认领，记录 -> failed，余额不变。
// terminal 为 true 或任一记录失败次数达到上限时冻结该余额的后续付款，返回是否冻结。
func (s *LedgerService) FailPayout(ctx context.Context, key domain.BalanceKey, payoutID int64, terminal bool) (bool, error) {
	blocked := false
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		bal, err := s.balances.GetForUpdate(ctx, key)
		if err != nil {
			return err
		}
		dists, err := s.dists.ListByPayout(ctx, payoutID)
		if err != nil {
			return err
		}

		now := s.now()
		exhausted := false
		for _, d := range dists {
			if !d.Status.Payable() {
				continue
			}
			from := d.Status
			if err := d.MarkFailed(payoutID, now); err != nil {
				return err
			}
			if err := s.transition(ctx, bal, d, from, &payoutID, now); err != nil {
				return err
			}
			if s.opts.MaxTransferAttempts > 0 && d.FailureCount >= s.opts.MaxTransferAttempts {
				exhausted = true
			}
		}
		if (terminal || exhausted) && !bal.PayoutsBlocked {
			bal.PayoutsBlocked = true
			bal.UpdatedAt = now
			blocked = true
		}
		return s.balances.Save(ctx, bal)
	})
	if err != nil {
		return false, err
	}
	if blocked {
		s.logger.ErrorContext(ctx, "payouts blocked, operator remediation required",
			"user_id", key.UserID, "role", key.Role, "payout_id", payoutID, "terminal", terminal)
	}
	return blocked, nil
}

// RemediatePayouts 人工处理后把 failed 记录放回 pending 并解除冻结
func (s *LedgerService) RemediatePayouts(ctx context.Context, key domain.BalanceKey) (int, error) {
	count := 0
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		bal, err := s.balances.GetForUpdate(ctx, key)
		if err != nil {
			return err
		}
		dists, err := s.dists.ListFailed(ctx, key)
		if err != nil {
			return err
		}

		now := s.now()
		for _, d := range dists {
			if d.Claimed() {
				return domain.ErrPayoutInFlight
			}
			if err := d.Remediate(now); err != nil {
				return err
			}
			if err := s.transition(ctx, bal, d, domain.StatusFailed, nil, now); err != nil {
				return err
			}
			count++
		}
		bal.PayoutsBlocked = false
		bal.UpdatedAt = now
		return s.balances.Save(ctx, bal)
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "payouts remediated", "user_id", key.UserID, "role", key.Role, "distributions", count)
	return count, nil
}
