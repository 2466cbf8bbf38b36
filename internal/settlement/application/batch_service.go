package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
	"github.com/wyfcoding/commissionledger/pkg/utils"
)

const batchLockKey = "settlement:batch"

// BatchSettlementService 批次结算：唯一调用处理方转账接口的组件。
//
// 每个余额的付款流程：
//  1. 事务内认领全部可付款记录并插入 processing 付款，(批次, 用户, 角色) 唯一；
//  2. 以 (批次号, 用户, 角色) 派生的幂等键发起转账；
//  3. 成功则结算并关闭付款，明确拒绝则释放认领，结果未知则标记 pending_confirmation，
//     下一轮开始时向处理方查询后再决定。
//
// 一个收款方的失败不影响其它收款方。
type BatchSettlementService struct {
	tx        ledger.Transactor
	ledger    domain.Ledger
	accounts  domain.AccountRepository
	requests  domain.PayoutRequestRepository
	batches   domain.BatchRepository
	payouts   domain.PayoutRepository
	processor domain.Processor
	events    domain.EventPublisher
	locker    Locker
	ids       IDGenerator
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// BatchDeps 批次结算的依赖
type BatchDeps struct {
	Tx        ledger.Transactor
	Ledger    domain.Ledger
	Accounts  domain.AccountRepository
	Requests  domain.PayoutRequestRepository
	Batches   domain.BatchRepository
	Payouts   domain.PayoutRepository
	Processor domain.Processor
	Events    domain.EventPublisher
	// 可为 nil，单实例部署时不加锁
	Locker Locker
	IDs    IDGenerator
}

// NewBatchSettlementService 创建批次结算服务
func NewBatchSettlementService(deps BatchDeps, m *metrics.Metrics, opts Options, logger *slog.Logger) *BatchSettlementService {
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = 24 * time.Hour
	}
	if opts.BatchLockTTL <= 0 {
		opts.BatchLockTTL = opts.BatchWindow
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &BatchSettlementService{
		tx:        deps.Tx,
		ledger:    deps.Ledger,
		accounts:  deps.Accounts,
		requests:  deps.Requests,
		batches:   deps.Batches,
		payouts:   deps.Payouts,
		processor: deps.Processor,
		events:    deps.Events,
		locker:    deps.Locker,
		ids:       deps.IDs,
		metrics:   m,
		opts:      opts,
		logger:    logger.With("service", "batch_settlement"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟，测试使用
func (s *BatchSettlementService) SetClock(now func() time.Time) {
	s.now = now
}

// RunBatch 执行一轮批次结算。另一实例持有批次锁时返回 ErrBatchRunning。
// 同一窗口内重复执行不会产生新的转账。
func (s *BatchSettlementService) RunBatch(ctx context.Context) (*BatchResult, error) {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, batchLockKey, s.opts.BatchLockTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBatchRunning, err)
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.logger.WarnContext(ctx, "batch unlock failed", "error", err)
			}
		}()
	}

	start := time.Now()
	defer func() {
		s.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	result := &BatchResult{TotalAmount: decimal.Zero}
	reconciled, err := s.reconcileUnresolved(ctx, result)
	if err != nil {
		return nil, err
	}
	result.Reconciled = reconciled

	now := s.now()
	batch, err := s.batches.GetOrCreate(ctx, &domain.PayoutBatch{
		ID:          s.ids.Next(),
		BatchNumber: domain.BatchNumberFor(now, s.opts.BatchWindow),
		Status:      domain.BatchRunning,
		TotalAmount: decimal.Zero,
		StartedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	result.BatchID = batch.ID
	result.BatchNumber = batch.BatchNumber
	s.logger.InfoContext(ctx, "payout batch started", "batch_number", batch.BatchNumber, "reconciled", reconciled)

	balances, err := s.ledger.ListPayableBalances(ctx, s.opts.MinimumPayout)
	if err != nil {
		return nil, err
	}
	for _, bal := range balances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.payBalance(ctx, batch, bal, result)
	}

	if err := s.summarize(ctx, batch.ID); err != nil {
		return nil, err
	}
	batch, err = s.batches.Get(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	result.Status = string(batch.Status)

	s.logger.InfoContext(ctx, "payout batch finished",
		"batch_number", result.BatchNumber,
		"status", result.Status,
		"successful", result.Successful,
		"failed", result.Failed,
		"unconfirmed", result.Unconfirmed,
		"skipped", result.Skipped,
		"total_amount", result.TotalAmount.String(),
		"duration", time.Since(start))
	return result, nil
}

// payBalance 给一个余额付款，错误记录到 result，不中断批次
func (s *BatchSettlementService) payBalance(ctx context.Context, batch *domain.PayoutBatch, bal *ledger.UserBalance, result *BatchResult) {
	key := bal.Key()
	acct, err := s.accounts.Get(ctx, key.UserID)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		s.recordError(ctx, result, key, err)
		return
	}
	if !acct.CanReceivePayout(key.Role) {
		result.Skipped++
		s.logger.DebugContext(ctx, "balance not eligible for payout", "user_id", key.UserID, "role", key.Role)
		return
	}

	p, err := s.claim(ctx, batch, key, acct)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPayoutExists),
		errors.Is(err, ledger.ErrPayoutInFlight),
		errors.Is(err, ledger.ErrPayoutsBlocked),
		errors.Is(err, ledger.ErrBelowMinimum):
		result.Skipped++
		s.logger.InfoContext(ctx, "payout skipped", "user_id", key.UserID, "role", key.Role, "reason", err.Error())
		return
	default:
		s.recordError(ctx, result, key, err)
		return
	}

	switch status, err := s.send(ctx, p); {
	case err != nil:
		s.recordError(ctx, result, key, err)
	case status == domain.PayoutCompleted:
		result.Successful++
		result.TotalAmount = result.TotalAmount.Add(p.Amount)
	case status == domain.PayoutFailed:
		result.Failed++
	default:
		result.Unconfirmed++
	}
}

// claim 认领与插入付款在同一事务，付款已存在时认领随之回滚
func (s *BatchSettlementService) claim(ctx context.Context, batch *domain.PayoutBatch, key ledger.BalanceKey, acct *domain.ConnectedAccount) (*domain.Payout, error) {
	now := s.now()
	p := &domain.Payout{
		ID:             s.ids.Next(),
		BatchID:        batch.ID,
		BatchNumber:    batch.BatchNumber,
		UserID:         key.UserID,
		Role:           key.Role,
		Currency:       s.opts.Currency,
		Destination:    acct.ProcessorAccountID,
		Status:         domain.PayoutProcessing,
		IdempotencyKey: utils.IdempotencyKey(batch.BatchNumber, key.UserID, string(key.Role)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		amount, err := s.ledger.ClaimForPayout(ctx, key, p.ID, s.opts.MinimumPayout)
		if err != nil {
			return err
		}
		p.Amount = amount
		return s.payouts.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// send 发起转账并处理结果，返回付款的最终状态
func (s *BatchSettlementService) send(ctx context.Context, p *domain.Payout) (domain.PayoutStatus, error) {
	p.Attempts++
	p.UpdatedAt = s.now()
	if err := s.payouts.Update(ctx, p); err != nil {
		return "", err
	}

	tr, err := s.processor.CreateTransfer(ctx, domain.TransferInput{
		Destination:    p.Destination,
		Amount:         p.Amount,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey,
		Metadata: map[string]string{
			"payout_id":    strconv.FormatInt(p.ID, 10),
			"batch_number": p.BatchNumber,
			"role":         string(p.Role),
		},
	})
	if err == nil && tr.Status != domain.TransferSucceeded {
		err = fmt.Errorf("%w: transfer %s status %q", domain.ErrTransferUnknown, tr.ID, tr.Status)
	}
	if err == nil {
		return s.complete(ctx, p, tr.ID)
	}
	var rej *domain.RejectionError
	if errors.As(err, &rej) {
		return s.fail(ctx, p, rej)
	}
	return s.markUnknown(ctx, p, err)
}

// complete 结算记录、关闭付款与用户的未结申请在同一事务
func (s *BatchSettlementService) complete(ctx context.Context, p *domain.Payout, transferID string) (domain.PayoutStatus, error) {
	now := s.now()
	var fulfilled int
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		current, err := s.payouts.Get(ctx, p.ID)
		if err != nil {
			return err
		}
		if !current.Status.Unresolved() {
			*p = *current
			return nil
		}
		if _, err := s.ledger.SettlePayout(ctx, p.Key(), p.ID); err != nil {
			return err
		}
		if err := p.Complete(transferID, now); err != nil {
			return err
		}
		if err := s.payouts.Update(ctx, p); err != nil {
			return err
		}
		fulfilled, err = s.fulfillRequests(ctx, p, now)
		return err
	})
	if err != nil {
		return "", err
	}
	if p.Status != domain.PayoutCompleted {
		return p.Status, nil
	}

	s.metrics.PayoutsTotal.WithLabelValues(string(domain.PayoutCompleted)).Inc()
	s.metrics.PayoutAmountTotal.Add(p.Amount.InexactFloat64())
	s.logger.InfoContext(ctx, "payout completed", "payout_id", p.ID, "user_id", p.UserID, "role", p.Role,
		"amount", p.Amount.String(), "transfer_id", transferID, "requests_fulfilled", fulfilled)
	if err := s.events.PublishPayoutCompleted(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "payout completed event not published", "payout_id", p.ID, "error", err)
	}
	return p.Status, nil
}

func (s *BatchSettlementService) fulfillRequests(ctx context.Context, p *domain.Payout, now time.Time) (int, error) {
	open, err := s.requests.ListOpen(ctx, p.Key())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range open {
		from := r.Status
		if err := r.Fulfill(p.ID, now); err != nil {
			return n, err
		}
		ok, err := s.requests.Update(ctx, r, from)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// fail 转账被明确拒绝：释放认领，余额留到下一批次，终态拒绝或重试耗尽时冻结
func (s *BatchSettlementService) fail(ctx context.Context, p *domain.Payout, rej *domain.RejectionError) (domain.PayoutStatus, error) {
	now := s.now()
	blocked := false
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		blocked, err = s.ledger.FailPayout(ctx, p.Key(), p.ID, rej.Terminal)
		if err != nil {
			return err
		}
		if err := p.Fail(rej.Error(), now); err != nil {
			return err
		}
		return s.payouts.Update(ctx, p)
	})
	if err != nil {
		return "", err
	}

	s.metrics.PayoutsTotal.WithLabelValues(string(domain.PayoutFailed)).Inc()
	s.logger.WarnContext(ctx, "payout rejected", "payout_id", p.ID, "user_id", p.UserID, "role", p.Role,
		"code", rej.Code, "terminal", rej.Terminal, "payouts_blocked", blocked)
	if err := s.events.PublishPayoutFailed(ctx, p, blocked); err != nil {
		s.logger.WarnContext(ctx, "payout failed event not published", "payout_id", p.ID, "error", err)
	}
	return p.Status, nil
}

// markUnknown 超时或处理方不可达：不能当作失败，否则重发可能重复转账
func (s *BatchSettlementService) markUnknown(ctx context.Context, p *domain.Payout, cause error) (domain.PayoutStatus, error) {
	if p.Status != domain.PayoutPendingConfirmation {
		if err := p.MarkUnknown(cause.Error(), s.now()); err != nil {
			return "", err
		}
		if err := s.payouts.Update(ctx, p); err != nil {
			return "", err
		}
	}
	s.metrics.PayoutsTotal.WithLabelValues(string(domain.PayoutPendingConfirmation)).Inc()
	s.logger.WarnContext(ctx, "payout outcome unknown, will confirm next run", "payout_id", p.ID,
		"user_id", p.UserID, "role", p.Role, "error", cause)
	return p.Status, nil
}

// reconcileUnresolved 向处理方确认历史未决付款：成功则结算，失败则释放，未找到则用原幂等键重发
func (s *BatchSettlementService) reconcileUnresolved(ctx context.Context, result *BatchResult) (int, error) {
	pending, err := s.payouts.ListUnresolved(ctx)
	if err != nil {
		return 0, err
	}
	touched := make(map[int64]struct{})
	resolved := 0
	for _, p := range pending {
		status, err := s.confirm(ctx, p)
		if err != nil {
			s.recordError(ctx, result, p.Key(), err)
			continue
		}
		if !status.Unresolved() {
			resolved++
			touched[p.BatchID] = struct{}{}
		}
	}
	for batchID := range touched {
		if err := s.summarize(ctx, batchID); err != nil {
			return resolved, err
		}
	}
	return resolved, nil
}

func (s *BatchSettlementService) confirm(ctx context.Context, p *domain.Payout) (domain.PayoutStatus, error) {
	tr, err := s.processor.FindTransfer(ctx, p.IdempotencyKey)
	switch {
	case err == nil && tr.Status == domain.TransferSucceeded:
		return s.complete(ctx, p, tr.ID)
	case err == nil && tr.Status == domain.TransferFailed:
		// 查询结果不带终态标记，按可重试处理，重试上限兜底
		return s.fail(ctx, p, &domain.RejectionError{Code: tr.FailureCode, Message: tr.FailureMessage})
	case err == nil:
		// 在途转账保持认领，不能换新幂等键重发
		return s.markUnknown(ctx, p, fmt.Errorf("%w: transfer %s status %q", domain.ErrTransferUnknown, tr.ID, tr.Status))
	case errors.Is(err, domain.ErrTransferNotFound):
		s.logger.InfoContext(ctx, "unconfirmed transfer not found at processor, reissuing", "payout_id", p.ID)
		return s.send(ctx, p)
	default:
		return s.markUnknown(ctx, p, err)
	}
}

func (s *BatchSettlementService) summarize(ctx context.Context, batchID int64) error {
	batch, err := s.batches.Get(ctx, batchID)
	if err != nil {
		return err
	}
	payouts, err := s.payouts.ListByBatch(ctx, batchID)
	if err != nil {
		return err
	}
	batch.Summarize(payouts, s.now())
	return s.batches.Update(ctx, batch)
}

func (s *BatchSettlementService) recordError(ctx context.Context, result *BatchResult, key ledger.BalanceKey, err error) {
	result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", key.UserID, key.Role, err))
	s.logger.ErrorContext(ctx, "payout error", "user_id", key.UserID, "role", key.Role, "error", err)
}
