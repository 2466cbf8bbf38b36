package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
)

// ErrInvalidVerificationStatus 卖家审核状态取值非法
var ErrInvalidVerificationStatus = errors.New("invalid verification status")

// AccountService 关联账户管理
type AccountService struct {
	accounts  domain.AccountRepository
	processor domain.Processor
	logger    *slog.Logger
	now       func() time.Time
}

// NewAccountService 创建关联账户服务
func NewAccountService(accounts domain.AccountRepository, processor domain.Processor, logger *slog.Logger) *AccountService {
	return &AccountService{
		accounts:  accounts,
		processor: processor,
		logger:    logger.With("service", "account_application"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ConnectAccount 在处理方开户。已开户时直接返回现有账户。
func (s *AccountService) ConnectAccount(ctx context.Context, cmd ConnectAccountCommand) (*AccountDTO, error) {
	existing, err := s.accounts.Get(ctx, cmd.UserID)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}
	if existing.Connected() {
		return toAccountDTO(existing), nil
	}

	st, err := s.processor.CreateConnectedAccount(ctx, domain.CreateAccountInput{
		UserID:  cmd.UserID,
		Email:   cmd.Email,
		Country: cmd.Country,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create connected account", "user_id", cmd.UserID, "error", err)
		return nil, fmt.Errorf("create connected account: %w", err)
	}

	now := s.now()
	acct := existing
	if acct == nil {
		acct = &domain.ConnectedAccount{
			UserID:         cmd.UserID,
			IdentityStatus: domain.VerificationUnverified,
			SellerStatus:   domain.VerificationUnverified,
			CreatedAt:      now,
		}
	}
	acct.ProcessorAccountID = st.AccountID
	acct.Email = cmd.Email
	acct.Country = cmd.Country
	acct.ApplyStatus(st, now)

	if err := s.accounts.Save(ctx, acct); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "connected account created", "user_id", acct.UserID, "processor_account_id", acct.ProcessorAccountID)
	return toAccountDTO(acct), nil
}

// RefreshAccountStatus 从处理方拉取账户状态并推导身份核验结果
func (s *AccountService) RefreshAccountStatus(ctx context.Context, userID string) (*AccountDTO, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !acct.Connected() {
		return nil, domain.ErrNotConnected
	}
	st, err := s.processor.GetAccountStatus(ctx, acct.ProcessorAccountID)
	if err != nil {
		return nil, fmt.Errorf("get account status: %w", err)
	}

	before := acct.IdentityStatus
	acct.ApplyStatus(st, s.now())
	if err := s.accounts.Save(ctx, acct); err != nil {
		return nil, err
	}
	if before != acct.IdentityStatus {
		s.logger.InfoContext(ctx, "identity verification changed", "user_id", userID, "from", before, "to", acct.IdentityStatus)
	}
	return toAccountDTO(acct), nil
}

// SetVerification 记录运营的卖家审核结果与税务协议
func (s *AccountService) SetVerification(ctx context.Context, cmd SetVerificationCommand) (*AccountDTO, error) {
	acct, err := s.accounts.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if cmd.SellerStatus != nil {
		st, ok := domain.ParseVerificationStatus(*cmd.SellerStatus)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVerificationStatus, *cmd.SellerStatus)
		}
		acct.SellerStatus = st
	}
	if cmd.TaxAgreementOnFile != nil {
		acct.TaxAgreementOnFile = *cmd.TaxAgreementOnFile
	}
	acct.UpdatedAt = s.now()
	if err := s.accounts.Save(ctx, acct); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "verification updated", "user_id", acct.UserID,
		"seller_status", acct.SellerStatus, "tax_agreement_on_file", acct.TaxAgreementOnFile)
	return toAccountDTO(acct), nil
}

// GetAccount 查询关联账户
func (s *AccountService) GetAccount(ctx context.Context, userID string) (*AccountDTO, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toAccountDTO(acct), nil
}

// ListProcessorPayouts 处理方侧的出款记录，只读，供客服排查
func (s *AccountService) ListProcessorPayouts(ctx context.Context, userID string, limit int) ([]domain.ProcessorPayout, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !acct.Connected() {
		return nil, domain.ErrNotConnected
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.processor.ListPayouts(ctx, acct.ProcessorAccountID, limit)
}
