package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
)

// PayoutRequestService 付款申请与余额查询。申请只落审计记录，余额只由批次结算改变。
type PayoutRequestService struct {
	accounts domain.AccountRepository
	requests domain.PayoutRequestRepository
	payouts  domain.PayoutRepository
	ledger   domain.Ledger
	ids      IDGenerator
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewPayoutRequestService 创建付款申请服务
func NewPayoutRequestService(
	accounts domain.AccountRepository,
	requests domain.PayoutRequestRepository,
	payouts domain.PayoutRepository,
	ledgerSvc domain.Ledger,
	ids IDGenerator,
	m *metrics.Metrics,
	opts Options,
	logger *slog.Logger,
) *PayoutRequestService {
	if opts.RecentRequests <= 0 {
		opts.RecentRequests = 10
	}
	return &PayoutRequestService{
		accounts: accounts,
		requests: requests,
		payouts:  payouts,
		ledger:   ledgerSvc,
		ids:      ids,
		metrics:  m,
		opts:     opts,
		logger:   logger.With("service", "payout_request_application"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟，测试使用
func (s *PayoutRequestService) SetClock(now func() time.Time) {
	s.now = now
}

// RequestPayout 校验前置条件后创建 pending 申请。
// 依次检查：已开户、卖家核验、金额为正、不低于最低额、不超过可用余额；
// 每一项失败返回对应的 *domain.PayoutRequestError。
func (s *PayoutRequestService) RequestPayout(ctx context.Context, cmd RequestPayoutCommand) (*PayoutRequestDTO, error) {
	role, err := ledger.ParseRole(cmd.Role)
	if err != nil {
		return nil, err
	}
	if !role.Payable() {
		return nil, ledger.ErrInvalidRole
	}
	key := ledger.BalanceKey{UserID: cmd.UserID, Role: role}

	req, err := s.checkAndCreate(ctx, key, cmd.Amount)
	if err != nil {
		var reqErr *domain.PayoutRequestError
		if errors.As(err, &reqErr) {
			s.metrics.PayoutRequestsTotal.WithLabelValues(string(reqErr.Code)).Inc()
			s.logger.InfoContext(ctx, "payout request refused", "user_id", key.UserID, "role", key.Role, "code", reqErr.Code)
		}
		return nil, err
	}

	s.metrics.PayoutRequestsTotal.WithLabelValues("OK").Inc()
	s.logger.InfoContext(ctx, "payout request created", "request_id", req.ID, "user_id", key.UserID, "role", key.Role, "amount", req.Amount.String())
	return toRequestDTO(req), nil
}

func (s *PayoutRequestService) checkAndCreate(ctx context.Context, key ledger.BalanceKey, amount *decimal.Decimal) (*domain.PayoutRequest, error) {
	acct, err := s.accounts.Get(ctx, key.UserID)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}
	if !acct.Connected() {
		return nil, domain.NotConnectedError()
	}
	if missing := acct.MissingSteps(key.Role); len(missing) > 0 {
		return nil, domain.VerificationRequiredError(missing)
	}

	bal, err := s.ledger.GetBalance(ctx, key.UserID, key.Role)
	if err != nil {
		return nil, err
	}
	pending, err := s.payouts.SumUnresolved(ctx, key)
	if err != nil {
		return nil, err
	}
	available := decimal.Max(bal.Current, pending)

	requested := available
	if amount != nil {
		requested = *amount
	}
	requested = requested.Round(2)
	if !requested.IsPositive() {
		return nil, domain.InvalidAmountError(requested)
	}
	if requested.LessThan(s.opts.MinimumPayout) {
		return nil, domain.BelowMinimumError(requested, s.opts.MinimumPayout)
	}
	if requested.GreaterThan(available) {
		return nil, domain.InsufficientBalanceError(requested, available)
	}

	req := &domain.PayoutRequest{
		ID:          s.ids.Next(),
		UserID:      key.UserID,
		Role:        key.Role,
		Amount:      requested,
		Status:      domain.RequestPending,
		RequestedAt: s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ApproveRequest 运营审核通过
func (s *PayoutRequestService) ApproveRequest(ctx context.Context, id int64) (*PayoutRequestDTO, error) {
	return s.review(ctx, id, func(r *domain.PayoutRequest, now time.Time) error {
		return r.Approve(now)
	})
}

// RejectRequest 运营拒绝，reason 会展示给用户
func (s *PayoutRequestService) RejectRequest(ctx context.Context, id int64, reason string) (*PayoutRequestDTO, error) {
	return s.review(ctx, id, func(r *domain.PayoutRequest, now time.Time) error {
		return r.Reject(reason, now)
	})
}

func (s *PayoutRequestService) review(ctx context.Context, id int64, apply func(*domain.PayoutRequest, time.Time) error) (*PayoutRequestDTO, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := req.Status
	if err := apply(req, s.now()); err != nil {
		return nil, err
	}
	ok, err := s.requests.Update(ctx, req, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidRequestTransition
	}
	s.logger.InfoContext(ctx, "payout request reviewed", "request_id", id, "from", from, "to", req.Status)
	return toRequestDTO(req), nil
}

// GetBalances 余额视图：各余额桶、在途付款金额与最近的申请
func (s *PayoutRequestService) GetBalances(ctx context.Context, userID string, role ledger.Role) (*BalancesDTO, error) {
	bal, err := s.ledger.GetBalance(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	pending, err := s.payouts.SumUnresolved(ctx, bal.Key())
	if err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListByUser(ctx, userID, role, s.opts.RecentRequests)
	if err != nil {
		return nil, err
	}

	recent := make([]*PayoutRequestDTO, len(reqs))
	for i, r := range reqs {
		recent[i] = toRequestDTO(r)
	}
	return &BalancesDTO{
		UserID:         bal.UserID,
		Role:           bal.Role,
		TotalEarned:    bal.TotalEarned,
		HeldBalance:    bal.Held,
		CurrentBalance: bal.Current,
		PaidOut:        bal.PaidOut,
		PendingPayout:  pending,
		PayoutsBlocked: bal.PayoutsBlocked,
		LastPayoutAt:   bal.LastPayoutAt,
		RecentRequests: recent,
	}, nil
}
