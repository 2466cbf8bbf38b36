// Package processor 支付处理方适配：Connect 风格的 REST 客户端与内存实现
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
)

// Config 客户端配置
type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	MaxRetries      int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// 处理方返回这些拒绝码时重试不会成功
var terminalCodes = map[string]bool{
	"account_closed":        true,
	"account_invalid":       true,
	"invalid_destination":   true,
	"payouts_not_allowed":   true,
	"transfers_not_allowed": true,
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type transferList struct {
	Data []domain.Transfer `json:"data"`
}

type payoutList struct {
	Data []domain.ProcessorPayout `json:"data"`
}

// Client 处理方 REST 客户端。所有调用经过熔断器，熔断打开时转账结果视为未知。
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient 创建客户端
func NewClient(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		// 只重试读请求；转账的重试依赖幂等键，由批次在下一轮查询后决定
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-processor",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 业务拒绝不代表处理方故障
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrTransferRejected) ||
				errors.Is(err, domain.ErrTransferNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		metrics: m,
		logger:  logger.With("component", "processor_client"),
	}
}

func (c *Client) call(op string, fn func() (any, error)) (any, error) {
	out, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
	}
	if c.metrics != nil {
		c.metrics.RecordProcessorCall(op, err)
	}
	return out, err
}

// CreateConnectedAccount 开户
func (c *Client) CreateConnectedAccount(ctx context.Context, in domain.CreateAccountInput) (*domain.AccountStatus, error) {
	out, err := c.call("create_account", func() (any, error) {
		var st domain.AccountStatus
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", "account-"+in.UserID).
			SetBody(in).
			SetResult(&st).
			SetError(&apiErr).
			Post("/v1/accounts")
		if err := classify(resp, err, &apiErr); err != nil {
			return nil, err
		}
		return &st, nil
	})
	if err != nil {
		return nil, unknownToUnavailable(err)
	}
	return out.(*domain.AccountStatus), nil
}

// GetAccountStatus 查询账户状态
func (c *Client) GetAccountStatus(ctx context.Context, accountID string) (*domain.AccountStatus, error) {
	out, err := c.call("get_account", func() (any, error) {
		var st domain.AccountStatus
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", accountID).
			SetResult(&st).
			SetError(&apiErr).
			Get("/v1/accounts/{id}")
		if err := classify(resp, err, &apiErr); err != nil {
			return nil, err
		}
		return &st, nil
	})
	if err != nil {
		return nil, unknownToUnavailable(err)
	}
	return out.(*domain.AccountStatus), nil
}

// CreateTransfer 发起转账，Idempotency-Key 保证同一付款只转一次
func (c *Client) CreateTransfer(ctx context.Context, in domain.TransferInput) (*domain.Transfer, error) {
	out, err := c.call("create_transfer", func() (any, error) {
		var tr domain.Transfer
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", in.IdempotencyKey).
			SetBody(in).
			SetResult(&tr).
			SetError(&apiErr).
			Post("/v1/transfers")
		if err := classify(resp, err, &apiErr); err != nil {
			return nil, err
		}
		if tr.Status == domain.TransferFailed {
			return nil, rejection(tr.FailureCode, tr.FailureMessage)
		}
		return &tr, nil
	})
	if err == nil {
		// 处理方已受理但未到终态，资金可能仍在途中
		if tr := out.(*domain.Transfer); tr.Status != domain.TransferSucceeded {
			err = fmt.Errorf("%w: transfer %s status %q", domain.ErrTransferUnknown, tr.ID, tr.Status)
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrProcessorUnavailable) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransferUnknown, err)
		}
		c.logger.WarnContext(ctx, "transfer not confirmed", "idempotency_key", in.IdempotencyKey, "error", err)
		return nil, err
	}
	return out.(*domain.Transfer), nil
}

// FindTransfer 按幂等键查询转账
func (c *Client) FindTransfer(ctx context.Context, idempotencyKey string) (*domain.Transfer, error) {
	out, err := c.call("find_transfer", func() (any, error) {
		var list transferList
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("idempotency_key", idempotencyKey).
			SetResult(&list).
			SetError(&apiErr).
			Get("/v1/transfers")
		if err := classify(resp, err, &apiErr); err != nil {
			return nil, err
		}
		if len(list.Data) == 0 {
			return nil, domain.ErrTransferNotFound
		}
		return &list.Data[0], nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrProcessorUnavailable) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransferUnknown, err)
		}
		return nil, err
	}
	return out.(*domain.Transfer), nil
}

// ListPayouts 关联账户的出款记录
func (c *Client) ListPayouts(ctx context.Context, accountID string, limit int) ([]domain.ProcessorPayout, error) {
	out, err := c.call("list_payouts", func() (any, error) {
		var list payoutList
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", accountID).
			SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&list).
			SetError(&apiErr).
			Get("/v1/accounts/{id}/payouts")
		if err := classify(resp, err, &apiErr); err != nil {
			return nil, err
		}
		return list.Data, nil
	})
	if err != nil {
		return nil, unknownToUnavailable(err)
	}
	return out.([]domain.ProcessorPayout), nil
}

// classify 传输错误、超时、429、5xx 视为结果未知；其它 4xx 是明确拒绝
func classify(resp *resty.Response, err error, apiErr *apiError) error {
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransferUnknown, err)
	}
	status := resp.StatusCode()
	switch {
	case status < 300:
		return nil
	case status == http.StatusNotFound && apiErr.Error.Code == "":
		return domain.ErrTransferNotFound
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: processor returned %d", domain.ErrTransferUnknown, status)
	default:
		code := apiErr.Error.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", status)
		}
		return rejection(code, apiErr.Error.Message)
	}
}

func rejection(code, message string) *domain.RejectionError {
	return &domain.RejectionError{Code: code, Message: message, Terminal: terminalCodes[code]}
}

// unknownToUnavailable 非转账调用没有“结果未知”的语义
func unknownToUnavailable(err error) error {
	if errors.Is(err, domain.ErrTransferUnknown) {
		return fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
	}
	return err
}
