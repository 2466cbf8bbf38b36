package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	feeapp "github.com/wyfcoding/commissionledger/internal/feemanagement/application"
	feemysql "github.com/wyfcoding/commissionledger/internal/feemanagement/infrastructure/persistence/mysql"
	ledgerapp "github.com/wyfcoding/commissionledger/internal/ledger/application"
	ledgermysql "github.com/wyfcoding/commissionledger/internal/ledger/infrastructure/persistence/mysql"
	pricingapp "github.com/wyfcoding/commissionledger/internal/pricing/application"
	reportapp "github.com/wyfcoding/commissionledger/internal/regulatoryreporting/application"
	reportmysql "github.com/wyfcoding/commissionledger/internal/regulatoryreporting/infrastructure/persistence/mysql"
	settlementapp "github.com/wyfcoding/commissionledger/internal/settlement/application"
	settlementdomain "github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/internal/settlement/infrastructure/events"
	settlementmysql "github.com/wyfcoding/commissionledger/internal/settlement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/internal/settlement/infrastructure/processor"
	"github.com/wyfcoding/commissionledger/pkg/cache"
	"github.com/wyfcoding/commissionledger/pkg/config"
	"github.com/wyfcoding/commissionledger/pkg/db"
	"github.com/wyfcoding/commissionledger/pkg/logger"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
	"github.com/wyfcoding/commissionledger/pkg/mq"
	"github.com/wyfcoding/commissionledger/pkg/utils"
)

// schemaVersion 当前代码对应的 schema 版本，表结构变更时递增
const schemaVersion = 1

// App 进程内共享的依赖
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *db.DB
	Cache    *cache.RedisCache
	Producer *mq.KafkaProducer
	Metrics  *metrics.Metrics

	Fees       *feeapp.FeeService
	Quotes     *pricingapp.QuoteService
	Ledger     *ledgerapp.LedgerService
	Release    *ledgerapp.ReleaseScheduler
	Reconciler *ledgerapp.Reconciler
	Accounts   *settlementapp.AccountService
	Requests   *settlementapp.PayoutRequestService
	Batch      *settlementapp.BatchSettlementService
	Reports    *reportapp.ReportingService
}

// models 服务拥有的全部表。orders 表由订单服务维护，不在此列。
func models() []any {
	all := []any{&feemysql.FeeScheduleModel{}}
	all = append(all, ledgermysql.Models()...)
	return append(all, settlementmysql.Models()...)
}

// openBase 加载配置、初始化日志并连接数据库。数据库可能晚于服务就绪，连接失败时退避重试。
func openBase(ctx context.Context, path string) (*config.Config, *slog.Logger, *db.DB, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With("service_name", cfg.ServiceName, "environment", cfg.Environment)

	var database *db.DB
	err = utils.RetryWithBackoff(ctx, 5, time.Second, 10*time.Second, func() error {
		var initErr error
		database, initErr = db.Init(db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		})
		if initErr != nil {
			log.Warn("database not ready", "error", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, database, nil
}

// newApp 组装所有服务。schema 版本不匹配时直接失败，不在请求路径上探测。
func newApp(ctx context.Context, path string) (*App, error) {
	cfg, log, database, err := openBase(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := database.RequireSchemaVersion(ctx, schemaVersion); err != nil {
		_ = database.Close()
		return nil, err
	}

	app := &App{Config: cfg, Logger: log, DB: database, Metrics: metrics.New("commission")}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	if err := app.Metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if cfg.Redis.Enabled {
		app.Cache, err = cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
	}
	if cfg.Kafka.Enabled {
		app.Producer = mq.NewProducer(kafkaConfig(cfg))
	}

	nodeID, err := strconv.ParseInt(config.GetEnv("NODE_ID", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid NODE_ID: %w", err)
	}
	ids, err := utils.NewIDGenerator(nodeID)
	if err != nil {
		return nil, err
	}

	// 费率表
	app.Fees = feeapp.NewFeeService(feemysql.NewFeeScheduleRepository(database), app.Cache, log)
	if _, err := app.Fees.EnsureDefault(ctx, defaultSchedule(cfg)); err != nil {
		return nil, fmt.Errorf("seed fee schedule: %w", err)
	}
	app.Quotes = pricingapp.NewQuoteService(app.Fees, log)

	// 账本
	dists := ledgermysql.NewDistributionRepository(database)
	balances := ledgermysql.NewBalanceRepository(database)
	app.Ledger = ledgerapp.NewLedgerService(
		database,
		ledgermysql.NewOrderLineRepository(database),
		dists,
		balances,
		app.Fees,
		ids,
		app.Metrics,
		ledgerapp.Options{
			PlatformUserID:      cfg.Ledger.PlatformUserID,
			HoldWindow:          cfg.Ledger.HoldWindow,
			MaxTransferAttempts: cfg.Ledger.MaxTransferAttempts,
			ReleaseBatchSize:    cfg.Ledger.ReleaseBatchSize,
		},
		log,
	)
	app.Release = ledgerapp.NewReleaseScheduler(app.Ledger, ledgermysql.NewOrderReader(database), log)
	app.Reconciler = ledgerapp.NewReconciler(dists, balances, app.Metrics, log)

	// 结算
	proc := newProcessor(cfg, app.Metrics, log)
	accounts := settlementmysql.NewAccountRepository(database)
	requests := settlementmysql.NewPayoutRequestRepository(database)
	payouts := settlementmysql.NewPayoutRepository(database)
	opts := settlementapp.Options{
		MinimumPayout: cfg.Ledger.MinimumPayoutAmount(),
		Currency:      cfg.Ledger.Currency,
		BatchWindow:   cfg.Ledger.BatchWindow,
	}
	app.Accounts = settlementapp.NewAccountService(accounts, proc, log)
	app.Requests = settlementapp.NewPayoutRequestService(accounts, requests, payouts, app.Ledger, ids, app.Metrics, opts, log)

	deps := settlementapp.BatchDeps{
		Tx:        database,
		Ledger:    app.Ledger,
		Accounts:  accounts,
		Requests:  requests,
		Batches:   settlementmysql.NewBatchRepository(database),
		Payouts:   payouts,
		Processor: proc,
		Events:    events.NoopPublisher{},
		IDs:       ids,
	}
	if app.Producer != nil {
		deps.Events = events.NewKafkaPublisher(app.Producer, cfg.Kafka.PayoutEventsTopic, log)
	}
	if app.Cache != nil {
		deps.Locker = app.Cache
	}
	app.Batch = settlementapp.NewBatchSettlementService(deps, app.Metrics, opts, log)

	// 报表
	app.Reports = reportapp.NewReportingService(
		reportmysql.NewReportRepository(database),
		app.Accounts,
		cfg.Ledger.TaxReportThresholdAmount(),
		log,
	)
	ready = true
	return app, nil
}

// locker 未启用 Redis 时返回 nil 接口
func (a *App) locker() ledgerapp.Locker {
	if a.Cache == nil {
		return nil
	}
	return a.Cache
}

// Close 释放外部连接
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.Logger.Warn("failed to close kafka producer", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("failed to close redis", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("failed to close database", "error", err)
	}
}

func newProcessor(cfg *config.Config, m *metrics.Metrics, log *slog.Logger) settlementdomain.Processor {
	if cfg.Processor.BaseURL == "" {
		log.Warn("processor.base_url not set, using in-memory processor")
		return processor.NewMemory()
	}
	return processor.NewClient(processor.Config{
		BaseURL:         cfg.Processor.BaseURL,
		APIKey:          cfg.Processor.APIKey,
		Timeout:         cfg.Processor.Timeout,
		MaxRetries:      cfg.Processor.MaxRetries,
		BreakerFailures: cfg.Processor.BreakerFailures,
		BreakerTimeout:  cfg.Processor.BreakerTimeout,
	}, m, log)
}

func kafkaConfig(cfg *config.Config) mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
}

func defaultSchedule(cfg *config.Config) feeapp.PublishScheduleCommand {
	l := cfg.Ledger
	return feeapp.PublishScheduleCommand{
		PlatformFeePercent:     decimal.RequireFromString(l.PlatformFeePercent),
		ReferralOfPlatformRate: decimal.RequireFromString(l.ReferralOfPlatformRate),
		ProcessorPercent:       decimal.RequireFromString(l.ProcessorPercent),
		ProcessorFixed:         decimal.RequireFromString(l.ProcessorFixed),
		Currency:               l.Currency,
		Scale:                  l.CurrencyScale,
	}
}
