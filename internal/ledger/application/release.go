package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

// ReleaseScheduler 把到期且订单允许释放的 held 记录提升为 pending
type ReleaseScheduler struct {
	ledger *LedgerService
	orders domain.OrderReader
	logger *slog.Logger
}

// NewReleaseScheduler 创建释放调度器
func NewReleaseScheduler(ledger *LedgerService, orders domain.OrderReader, logger *slog.Logger) *ReleaseScheduler {
	return &ReleaseScheduler{
		ledger: ledger,
		orders: orders,
		logger: logger.With("service", "release_scheduler"),
	}
}

// ReleaseEligible 扫描 available_at <= now 的 held 记录，逐条在独立事务中释放，返回释放条数。
// 订单未完成、未发货或订单不存在的记录留待下次。可重复调用。
func (r *ReleaseScheduler) ReleaseEligible(ctx context.Context) (int, error) {
	start := time.Now()
	now := r.ledger.now()
	limit := r.ledger.opts.ReleaseBatchSize
	if limit <= 0 {
		limit = 500
	}

	released, skipped := 0, 0
	var afterID int64
	for {
		page, err := r.ledger.dists.ListReleasable(ctx, now, afterID, limit)
		if err != nil {
			return released, err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		orders, err := r.orders.GetOrders(ctx, orderIDs(page))
		if err != nil {
			return released, err
		}
		for _, d := range page {
			o, ok := orders[d.OrderID]
			if !ok || !o.AllowsRelease() {
				skipped++
				continue
			}
			done, err := r.release(ctx, d.ID, now)
			if err != nil {
				r.logger.ErrorContext(ctx, "release failed", "distribution_id", d.ID, "error", err)
				continue
			}
			if done {
				released++
			}
		}
		if len(page) < limit {
			break
		}
	}

	r.ledger.metrics.DistributionsReleased.Add(float64(released))
	r.logger.InfoContext(ctx, "release run finished",
		"released", released, "skipped", skipped, "duration", time.Since(start))
	return released, nil
}

// release 锁余额后重新读取记录，期间被冲正或已释放的跳过
func (r *ReleaseScheduler) release(ctx context.Context, id int64, now time.Time) (bool, error) {
	released := false
	err := r.ledger.tx.Transaction(ctx, func(ctx context.Context) error {
		d, err := r.ledger.dists.Get(ctx, id)
		if err != nil {
			return err
		}
		bal, err := r.ledger.balances.GetForUpdate(ctx, d.Key())
		if err != nil {
			return err
		}
		d, err = r.ledger.dists.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != domain.StatusHeld || d.AvailableAt.After(now) {
			return nil
		}
		if err := d.Release(now); err != nil {
			return err
		}
		if err := r.ledger.transition(ctx, bal, d, domain.StatusHeld, nil, now); err != nil {
			return err
		}
		released = true
		return r.ledger.balances.Save(ctx, bal)
	})
	return released, err
}

func orderIDs(dists []*domain.Distribution) []string {
	seen := make(map[string]struct{}, len(dists))
	ids := make([]string, 0, len(dists))
	for _, d := range dists {
		if _, ok := seen[d.OrderID]; ok {
			continue
		}
		seen[d.OrderID] = struct{}{}
		ids = append(ids, d.OrderID)
	}
	return ids
}

// PeriodicJob 按固定间隔执行一次任务。配置了 Locker 时每次执行前获取分布式锁，
// 拿不到锁说明其它实例正在执行，本轮跳过。
type PeriodicJob struct {
	name     string
	interval time.Duration
	locker   Locker
	run      func(ctx context.Context) error
	logger   *slog.Logger
}

// NewPeriodicJob 创建定时任务，locker 可为 nil
func NewPeriodicJob(name string, interval time.Duration, locker Locker, run func(ctx context.Context) error, logger *slog.Logger) *PeriodicJob {
	return &PeriodicJob{
		name:     name,
		interval: interval,
		locker:   locker,
		run:      run,
		logger:   logger.With("job", name),
	}
}

// Start 阻塞直到 ctx 取消
func (j *PeriodicJob) Start(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("job started", "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("job stopped")
			return nil
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮，错误只记录日志
func (j *PeriodicJob) RunOnce(ctx context.Context) {
	if j.locker != nil {
		unlock, err := j.locker.Lock(ctx, "job:"+j.name, j.interval)
		if err != nil {
			j.logger.WarnContext(ctx, "job lock not acquired, skipping run", "error", err)
			return
		}
		defer func() {
			if err := unlock(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.WarnContext(ctx, "job unlock failed", "error", err)
			}
		}()
	}
	if err := j.run(ctx); err != nil {
		j.logger.ErrorContext(ctx, "job run failed", "error", err)
	}
}
