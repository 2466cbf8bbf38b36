// Package metrics 定义佣金账本的 Prometheus 指标
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/commissionledger/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 新建分配记录数，按角色
	DistributionsRecorded *prometheus.CounterVec
	// 释放到可用余额的分配记录数
	DistributionsReleased prometheus.Counter
	// 冲正的分配记录数
	DistributionsReversed prometheus.Counter

	// 付款结果，按状态
	PayoutsTotal *prometheus.CounterVec
	// 成功付款金额
	PayoutAmountTotal prometheus.Counter
	// 批次结算耗时
	BatchDuration prometheus.Histogram
	// 付款申请结果，按错误码
	PayoutRequestsTotal *prometheus.CounterVec

	// 支付处理方调用，按操作与结果
	ProcessorCallsTotal *prometheus.CounterVec

	// 最近一次对账发现的不一致账户数
	BalanceDriftAccounts prometheus.Gauge
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		DistributionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "distributions_recorded_total",
			Help:      "Distributions created from settled order lines",
		}, []string{"role"}),
		DistributionsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "distributions_released_total",
			Help:      "Distributions moved from held to pending",
		}),
		DistributionsReversed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "distributions_reversed_total",
			Help:      "Distributions reversed after refund or cancellation",
		}),

		PayoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "payouts_total",
			Help:      "Payout outcomes by status",
		}, []string{"status"}),
		PayoutAmountTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "payout_amount_total",
			Help:      "Sum of completed payout amounts",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "batch_duration_seconds",
			Help:      "Payout batch settlement duration in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
		PayoutRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "payout_requests_total",
			Help:      "Payout request outcomes by result code",
		}, []string{"result"}),

		ProcessorCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "processor_calls_total",
			Help:      "Payment processor calls by operation and result",
		}, []string{"op", "result"}),

		BalanceDriftAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: serviceName,
			Name:      "balance_drift_accounts",
			Help:      "Balances that disagree with their distributions at the last reconciliation",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DistributionsRecorded,
		m.DistributionsReleased,
		m.DistributionsReversed,
		m.PayoutsTotal,
		m.PayoutAmountTotal,
		m.BatchDuration,
		m.PayoutRequestsTotal,
		m.ProcessorCallsTotal,
		m.BalanceDriftAccounts,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// Handler 返回 Prometheus 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordProcessorCall 记录处理方调用结果
func (m *Metrics) RecordProcessorCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProcessorCallsTotal.WithLabelValues(op, result).Inc()
}
