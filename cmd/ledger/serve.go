package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	ledgerapp "github.com/wyfcoding/commissionledger/internal/ledger/application"
	"github.com/wyfcoding/commissionledger/internal/ledger/interfaces/consumer"
	ledgerhttp "github.com/wyfcoding/commissionledger/internal/ledger/interfaces/http"
	pricinghttp "github.com/wyfcoding/commissionledger/internal/pricing/interfaces/http"
	reporthttp "github.com/wyfcoding/commissionledger/internal/regulatoryreporting/interfaces/http"
	settlementhttp "github.com/wyfcoding/commissionledger/internal/settlement/interfaces/http"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
	"github.com/wyfcoding/commissionledger/pkg/middleware"
	"github.com/wyfcoding/commissionledger/pkg/mq"
	"github.com/wyfcoding/commissionledger/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC health service, background jobs and event consumers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg := app.Config

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      newRouter(app),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCRecoveryInterceptor(),
		middleware.GRPCLoggingInterceptor(),
	))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.Logger.Info("grpc server started", "addr", grpcAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	for _, job := range jobs(app) {
		job := job
		g.Go(func() error { return job.Start(gctx) })
	}
	startConsumers(gctx, g, app)

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error("http shutdown failed", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

func newRouter(app *App) *gin.Engine {
	cfg := app.Config
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(app.Metrics),
	)

	router.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := app.DB.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "schema_version": schemaVersion})
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	var requestLimit gin.HandlerFunc
	if cfg.RateLimit.Enabled && app.Cache != nil {
		limiter := ratelimit.NewGCRA(app.Cache.GetClient())
		requestLimit = middleware.RateLimitMiddleware(limiter, cfg.RateLimit, "payout_request", settlementhttp.UserKey)
	} else if cfg.RateLimit.Enabled {
		app.Logger.Warn("rate_limit enabled but redis is disabled, payout requests are not limited")
	}

	api := router.Group("/api/v1")
	pricinghttp.NewPricingHandler(app.Quotes).RegisterRoutes(api)
	ledgerhttp.NewLedgerHandler(app.Ledger, app.Release, app.Reconciler).RegisterRoutes(api)
	settlementhttp.NewSettlementHandler(app.Accounts, app.Requests, app.Batch, requestLimit).RegisterRoutes(api)
	reporthttp.NewReportHandler(app.Reports).RegisterRoutes(api)
	return router
}

// jobs 释放、结算、对账三个定时任务。多实例部署时由 Redis 锁保证同一时刻只有一个实例执行。
func jobs(app *App) []*ledgerapp.PeriodicJob {
	l := app.Config.Ledger
	return []*ledgerapp.PeriodicJob{
		ledgerapp.NewPeriodicJob("release", l.ReleaseInterval, app.locker(), func(ctx context.Context) error {
			_, err := app.Release.ReleaseEligible(ctx)
			return err
		}, app.Logger),
		ledgerapp.NewPeriodicJob("settle", l.SettlementInterval, app.locker(), func(ctx context.Context) error {
			_, err := app.Batch.RunBatch(ctx)
			return err
		}, app.Logger),
		ledgerapp.NewPeriodicJob("reconcile", l.ReconcileInterval, app.locker(), func(ctx context.Context) error {
			_, err := app.Reconciler.Reconcile(ctx)
			return err
		}, app.Logger),
	}
}

// startConsumers 订阅订单结算与退款事件，处理失败的消息重试后进入死信队列
func startConsumers(ctx context.Context, g *errgroup.Group, app *App) {
	cfg := app.Config
	if !cfg.Kafka.Enabled {
		app.Logger.Info("kafka disabled, order events are not consumed")
		return
	}

	dlq := mq.NewDeadLetterQueue(app.Producer, cfg.Kafka.DeadLetterTopic)
	handler := consumer.NewOrderEventHandler(app.Ledger, cfg.Kafka.OrderLineSettledTopic, cfg.Kafka.OrderRefundedTopic, app.Logger)

	for _, topic := range []string{cfg.Kafka.OrderLineSettledTopic, cfg.Kafka.OrderRefundedTopic} {
		topic := topic
		c := mq.NewConsumer(kafkaConfig(cfg), topic, dlq)
		g.Go(func() error {
			defer func() {
				if err := c.Close(); err != nil {
					app.Logger.Warn("failed to close kafka consumer", "topic", topic, "error", err)
				}
			}()
			return c.Run(ctx, handler.Handle)
		})
	}
}
