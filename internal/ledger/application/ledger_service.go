// Package application 分账账本应用服务：记录销售、释放、冲正、付款认领与对账
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	feedomain "github.com/wyfcoding/commissionledger/internal/feemanagement/domain"
	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
	pricing "github.com/wyfcoding/commissionledger/internal/pricing/domain"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
)

// LedgerService 分账账本应用服务。所有余额变更都在事务内先锁余额行，再按条件更新分配记录。
type LedgerService struct {
	tx        domain.Transactor
	lines     domain.OrderLineRepository
	dists     domain.DistributionRepository
	balances  domain.BalanceRepository
	schedules ScheduleProvider
	ids       IDGenerator
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedgerService 创建账本服务
func NewLedgerService(
	tx domain.Transactor,
	lines domain.OrderLineRepository,
	dists domain.DistributionRepository,
	balances domain.BalanceRepository,
	schedules ScheduleProvider,
	ids IDGenerator,
	m *metrics.Metrics,
	opts Options,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		tx:        tx,
		lines:     lines,
		dists:     dists,
		balances:  balances,
		schedules: schedules,
		ids:       ids,
		metrics:   m,
		opts:      opts,
		logger:    logger.With("service", "ledger_application"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟，测试使用
func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordSale 记录一个已结算的订单行并生成 held 分配记录。
// 对同一 order_line_id 重复调用不产生任何写入，返回已有记录。
func (s *LedgerService) RecordSale(ctx context.Context, cmd RecordSaleCommand) (*RecordSaleResult, error) {
	if cmd.Quantity == 0 {
		cmd.Quantity = 1
	}
	if cmd.SettledAt.IsZero() {
		cmd.SettledAt = s.now()
	}
	line := &domain.OrderLine{
		ID:            cmd.OrderLineID,
		OrderID:       cmd.OrderID,
		ProductID:     cmd.ProductID,
		SellerID:      cmd.SellerID,
		AffiliateID:   cmd.AffiliateID,
		ReferrerID:    cmd.ReferrerID,
		Quantity:      cmd.Quantity,
		UnitAsk:       cmd.Ask,
		UnitSalePrice: cmd.SalePrice,
		AffiliateRate: cmd.AffiliateRate,
		SettledAt:     cmd.SettledAt.UTC(),
	}
	if err := line.Validate(); err != nil {
		return nil, err
	}

	fs, err := s.schedule(ctx, cmd.FeeScheduleVersion, line.SettledAt)
	if err != nil {
		return nil, err
	}

	unit, err := pricing.ComputeSplit(fs, line.UnitSalePrice, line.UnitAsk, line.AffiliateRate, line.HasAffiliate(), line.HasReferrer())
	if err != nil {
		if errors.Is(err, pricing.ErrSplitMismatch) {
			s.logger.ErrorContext(ctx, "split invariant violated, order line rejected",
				"order_line_id", line.ID, "sale_price", line.UnitSalePrice.String(), "ask", line.UnitAsk.String(), "error", err)
		}
		return nil, err
	}
	split := unit.Times(line.Quantity)

	line.UnitAsk = line.UnitAsk.Round(fs.Scale)
	line.UnitSalePrice = unit.SalePrice
	line.SalePrice = split.SalePrice
	line.ProcessorFee = split.ProcessorFee
	line.FeeScheduleVersion = fs.Version
	line.Currency = fs.Currency

	result := &RecordSaleResult{OrderLine: line, Split: &split}
	err = s.tx.Transaction(ctx, func(ctx context.Context) error {
		created, err := s.lines.Create(ctx, line)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
		if !created {
			result.Duplicate = true
			result.Distributions, err = s.dists.ListByOrderLine(ctx, line.ID)
			return err
		}

		dists := line.BuildDistributions(split, s.opts.PlatformUserID, s.opts.HoldWindow, s.ids.Next)
		locked, err := s.lockBalances(ctx, keysOf(dists))
		if err != nil {
			return err
		}
		for _, d := range dists {
			if err := locked[d.Key()].Apply("", domain.StatusHeld, d.Amount, s.now()); err != nil {
				return err
			}
		}
		if err := s.dists.CreateBatch(ctx, dists); err != nil {
			return fmt.Errorf("insert distributions: %w", err)
		}
		if err := s.saveBalances(ctx, locked); err != nil {
			return err
		}
		result.Distributions = dists
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		s.logger.InfoContext(ctx, "order line already recorded", "order_line_id", line.ID)
		return result, nil
	}
	for _, d := range result.Distributions {
		s.metrics.DistributionsRecorded.WithLabelValues(string(d.Role)).Inc()
	}
	s.logger.InfoContext(ctx, "order line recorded",
		"order_line_id", line.ID,
		"order_id", line.OrderID,
		"sale_price", line.SalePrice.String(),
		"distributions", len(result.Distributions),
		"fee_version", fs.Version,
	)
	return result, nil
}

func (s *LedgerService) schedule(ctx context.Context, version int, at time.Time) (*feedomain.FeeSchedule, error) {
	if version > 0 {
		return s.schedules.ByVersion(ctx, version)
	}
	return s.schedules.Active(ctx, at)
}

// ReverseOrder 订单退款/拒付：冲正该订单全部未付款且未被认领的分配记录
func (s *LedgerService) ReverseOrder(ctx context.Context, orderID string) (*ReversalResult, error) {
	return s.reverse(ctx, "order_id", orderID, func(ctx context.Context) ([]*domain.Distribution, error) {
		return s.dists.ListByOrder(ctx, orderID)
	})
}

// ReverseOrderLine 冲正单个订单行
func (s *LedgerService) ReverseOrderLine(ctx context.Context, orderLineID string) (*ReversalResult, error) {
	return s.reverse(ctx, "order_line_id", orderLineID, func(ctx context.Context) ([]*domain.Distribution, error) {
		return s.dists.ListByOrderLine(ctx, orderLineID)
	})
}

// reverse 先读一次确定要锁的余额，按固定顺序加锁后重新读取再迁移。
// 任一记录被在途付款认领时整体失败，调用方稍后重试。
func (s *LedgerService) reverse(ctx context.Context, field, id string, load func(context.Context) ([]*domain.Distribution, error)) (*ReversalResult, error) {
	result := &ReversalResult{Amount: decimal.Zero}
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		initial, err := load(ctx)
		if err != nil {
			return err
		}
		if len(initial) == 0 {
			return domain.ErrDistributionNotFound
		}
		locked, err := s.lockBalances(ctx, keysOf(initial))
		if err != nil {
			return err
		}
		dists, err := load(ctx)
		if err != nil {
			return err
		}

		now := s.now()
		for _, d := range dists {
			from, claimedBy := d.Status, d.PayoutID
			if from == domain.StatusReversed {
				continue
			}
			if err := d.Reverse(now); err != nil {
				if errors.Is(err, domain.ErrClawbackUnsupported) {
					result.ClawbackRequired = append(result.ClawbackRequired, d.ID)
					continue
				}
				return fmt.Errorf("reverse distribution %d: %w", d.ID, err)
			}
			if err := s.transition(ctx, locked[d.Key()], d, from, claimedBy, now); err != nil {
				return err
			}
			result.Reversed++
			result.Amount = result.Amount.Add(d.Amount)
		}
		return s.saveBalances(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.DistributionsReversed.Add(float64(result.Reversed))
	if len(result.ClawbackRequired) > 0 {
		s.logger.WarnContext(ctx, "reversal skipped paid distributions", field, id, "distribution_ids", result.ClawbackRequired)
	}
	s.logger.InfoContext(ctx, "distributions reversed", field, id, "count", result.Reversed, "amount", result.Amount.String())
	return result, nil
}

// GetBalance 读取余额，不存在时返回零余额
func (s *LedgerService) GetBalance(ctx context.Context, userID string, role domain.Role) (*domain.UserBalance, error) {
	key := domain.BalanceKey{UserID: userID, Role: role}
	b, err := s.balances.Get(ctx, key)
	if errors.Is(err, domain.ErrBalanceNotFound) {
		return domain.NewUserBalance(key), nil
	}
	return b, err
}

// ListPayableBalances 可发起付款的余额
func (s *LedgerService) ListPayableBalances(ctx context.Context, minimum decimal.Decimal) ([]*domain.UserBalance, error) {
	return s.balances.ListPayable(ctx, minimum)
}

// RecomputeSplit 以订单行记录的费率版本重算分账，并与已入账分配记录比对
func (s *LedgerService) RecomputeSplit(ctx context.Context, orderLineID string) (*SplitAudit, error) {
	line, err := s.lines.Get(ctx, orderLineID)
	if err != nil {
		return nil, err
	}
	fs, err := s.schedules.ByVersion(ctx, line.FeeScheduleVersion)
	if err != nil {
		return nil, err
	}
	unit, err := pricing.ComputeSplit(fs, line.UnitSalePrice, line.UnitAsk, line.AffiliateRate, line.HasAffiliate(), line.HasReferrer())
	if err != nil {
		return nil, err
	}
	split := unit.Times(line.Quantity)

	dists, err := s.dists.ListByOrderLine(ctx, orderLineID)
	if err != nil {
		return nil, err
	}
	recorded := make(map[domain.Role]decimal.Decimal, len(dists))
	for _, d := range dists {
		recorded[d.Role] = d.Amount
	}

	audit := &SplitAudit{OrderLineID: orderLineID, FeeScheduleVersion: fs.Version, Split: split, Matches: true}
	for _, role := range domain.Roles {
		want := role.ShareOf(split)
		got, ok := recorded[role]
		if !ok {
			got = decimal.Zero
		}
		if !want.Equal(got) {
			audit.Matches = false
			audit.Mismatches = append(audit.Mismatches, fmt.Sprintf("%s: recorded %s, recomputed %s", role, got, want))
		}
	}
	if !line.ProcessorFee.Equal(split.ProcessorFee) {
		audit.Matches = false
		audit.Mismatches = append(audit.Mismatches, fmt.Sprintf("processor_fee: recorded %s, recomputed %s", line.ProcessorFee, split.ProcessorFee))
	}
	return audit, nil
}

// transition 以条件更新落库并作用到已加锁的余额
func (s *LedgerService) transition(ctx context.Context, bal *domain.UserBalance, d *domain.Distribution, from domain.DistributionStatus, claimedBy *int64, now time.Time) error {
	if bal == nil {
		return fmt.Errorf("%w: balance for %s/%s not locked", domain.ErrBalanceInvariant, d.RecipientID, d.Role)
	}
	if err := bal.Apply(from, d.Status, d.Amount, now); err != nil {
		s.logger.ErrorContext(ctx, "balance invariant violated, transition aborted",
			"distribution_id", d.ID, "from", from, "to", d.Status, "error", err)
		return err
	}
	ok, err := s.dists.UpdateStatus(ctx, d, from, claimedBy)
	if err != nil {
		return fmt.Errorf("update distribution %d: %w", d.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: distribution %d changed concurrently", domain.ErrInvalidTransition, d.ID)
	}
	return nil
}

// lockBalances 按固定顺序对多个余额加锁，避免死锁
func (s *LedgerService) lockBalances(ctx context.Context, keys []domain.BalanceKey) (map[domain.BalanceKey]*domain.UserBalance, error) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	locked := make(map[domain.BalanceKey]*domain.UserBalance, len(keys))
	for _, k := range keys {
		b, err := s.balances.GetForUpdate(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("lock balance %s/%s: %w", k.UserID, k.Role, err)
		}
		locked[k] = b
	}
	return locked, nil
}

func (s *LedgerService) saveBalances(ctx context.Context, locked map[domain.BalanceKey]*domain.UserBalance) error {
	for _, b := range locked {
		if err := s.balances.Save(ctx, b); err != nil {
			return fmt.Errorf("save balance %s/%s: %w", b.UserID, b.Role, err)
		}
	}
	return nil
}

func keysOf(dists []*domain.Distribution) []domain.BalanceKey {
	seen := make(map[domain.BalanceKey]struct{}, len(dists))
	keys := make([]domain.BalanceKey, 0, len(dists))
	for _, d := range dists {
		if _, ok := seen[d.Key()]; ok {
			continue
		}
		seen[d.Key()] = struct{}{}
		keys = append(keys, d.Key())
	}
	return keys
}
