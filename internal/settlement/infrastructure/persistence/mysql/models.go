package mysql

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
)

// ConnectedAccountModel 关联账户
type ConnectedAccountModel struct {
	UserID             string    `gorm:"column:user_id;primaryKey;type:varchar(64)"`
	ProcessorAccountID string    `gorm:"column:processor_account_id;type:varchar(64);uniqueIndex"`
	Email              string    `gorm:"column:email;type:varchar(255)"`
	Country            string    `gorm:"column:country;type:varchar(2)"`
	ChargesEnabled     bool      `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled     bool      `gorm:"column:payouts_enabled;not null;default:false"`
	RequirementsDue    string    `gorm:"column:requirements_due;type:varchar(1024)"`
	IdentityStatus     string    `gorm:"column:identity_status;type:varchar(16);not null"`
	SellerStatus       string    `gorm:"column:seller_status;type:varchar(16);not null"`
	TaxAgreementOnFile bool      `gorm:"column:tax_agreement_on_file;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名
func (ConnectedAccountModel) TableName() string { return "connected_accounts" }

// PayoutRequestModel 付款申请
type PayoutRequestModel struct {
	ID              int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	UserID          string          `gorm:"column:user_id;type:varchar(64);index:idx_request_user_role;not null"`
	Role            string          `gorm:"column:role;type:varchar(16);index:idx_request_user_role;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	Status          string          `gorm:"column:status;type:varchar(16);index;not null"`
	RequestedAt     time.Time       `gorm:"column:requested_at;not null"`
	ProcessedAt     *time.Time      `gorm:"column:processed_at"`
	RejectionReason string          `gorm:"column:rejection_reason;type:varchar(512)"`
	PayoutID        *int64          `gorm:"column:payout_id"`
}

// TableName 指定表名
func (PayoutRequestModel) TableName() string { return "payout_requests" }

// PayoutBatchModel 批次
type PayoutBatchModel struct {
	ID               int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	BatchNumber      string          `gorm:"column:batch_number;type:varchar(32);uniqueIndex;not null"`
	Status           string          `gorm:"column:status;type:varchar(24);not null"`
	TotalAmount      decimal.Decimal `gorm:"column:total_amount;type:decimal(20,2);not null"`
	RecipientCount   int             `gorm:"column:recipient_count;not null"`
	FailedCount      int             `gorm:"column:failed_count;not null"`
	UnconfirmedCount int             `gorm:"column:unconfirmed_count;not null"`
	StartedAt        time.Time       `gorm:"column:started_at;not null"`
	CompletedAt      *time.Time      `gorm:"column:completed_at"`
}

// TableName 指定表名
func (PayoutBatchModel) TableName() string { return "payout_batches" }

// PayoutModel 付款，(batch_id, user_id, role) 唯一
type PayoutModel struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	BatchID        int64           `gorm:"column:batch_id;uniqueIndex:uk_batch_recipient;not null"`
	BatchNumber    string          `gorm:"column:batch_number;type:varchar(32);not null"`
	UserID         string          `gorm:"column:user_id;type:varchar(64);uniqueIndex:uk_batch_recipient;index:idx_payout_user;not null"`
	Role           string          `gorm:"column:role;type:varchar(16);uniqueIndex:uk_batch_recipient;index:idx_payout_user;not null"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	Currency       string          `gorm:"column:currency;type:varchar(3);not null"`
	Destination    string          `gorm:"column:destination;type:varchar(64);not null"`
	Status         string          `gorm:"column:status;type:varchar(24);index;not null"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex;not null"`
	TransferID     string          `gorm:"column:transfer_id;type:varchar(64)"`
	FailureReason  string          `gorm:"column:failure_reason;type:varchar(512)"`
	Attempts       int             `gorm:"column:attempts;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
	CompletedAt    *time.Time      `gorm:"column:completed_at;index"`
}

// TableName 指定表名
func (PayoutModel) TableName() string { return "payouts" }

// Models 结算拥有的表
func Models() []any {
	return []any{&ConnectedAccountModel{}, &PayoutRequestModel{}, &PayoutBatchModel{}, &PayoutModel{}}
}

func accountToModel(a *domain.ConnectedAccount) *ConnectedAccountModel {
	return &ConnectedAccountModel{
		UserID:             a.UserID,
		ProcessorAccountID: a.ProcessorAccountID,
		Email:              a.Email,
		Country:            a.Country,
		ChargesEnabled:     a.ChargesEnabled,
		PayoutsEnabled:     a.PayoutsEnabled,
		RequirementsDue:    strings.Join(a.RequirementsDue, ","),
		IdentityStatus:     string(a.IdentityStatus),
		SellerStatus:       string(a.SellerStatus),
		TaxAgreementOnFile: a.TaxAgreementOnFile,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func accountToDomain(m *ConnectedAccountModel) *domain.ConnectedAccount {
	var due []string
	if m.RequirementsDue != "" {
		due = strings.Split(m.RequirementsDue, ",")
	}
	return &domain.ConnectedAccount{
		UserID:             m.UserID,
		ProcessorAccountID: m.ProcessorAccountID,
		Email:              m.Email,
		Country:            m.Country,
		ChargesEnabled:     m.ChargesEnabled,
		PayoutsEnabled:     m.PayoutsEnabled,
		RequirementsDue:    due,
		IdentityStatus:     domain.VerificationStatus(m.IdentityStatus),
		SellerStatus:       domain.VerificationStatus(m.SellerStatus),
		TaxAgreementOnFile: m.TaxAgreementOnFile,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func requestToModel(r *domain.PayoutRequest) *PayoutRequestModel {
	return &PayoutRequestModel{
		ID:              r.ID,
		UserID:          r.UserID,
		Role:            string(r.Role),
		Amount:          r.Amount,
		Status:          string(r.Status),
		RequestedAt:     r.RequestedAt.UTC(),
		ProcessedAt:     utcPtr(r.ProcessedAt),
		RejectionReason: r.RejectionReason,
		PayoutID:        r.PayoutID,
	}
}

func requestToDomain(m *PayoutRequestModel) *domain.PayoutRequest {
	return &domain.PayoutRequest{
		ID:              m.ID,
		UserID:          m.UserID,
		Role:            ledger.Role(m.Role),
		Amount:          m.Amount,
		Status:          domain.PayoutRequestStatus(m.Status),
		RequestedAt:     m.RequestedAt,
		ProcessedAt:     m.ProcessedAt,
		RejectionReason: m.RejectionReason,
		PayoutID:        m.PayoutID,
	}
}

func batchToModel(b *domain.PayoutBatch) *PayoutBatchModel {
	return &PayoutBatchModel{
		ID:               b.ID,
		BatchNumber:      b.BatchNumber,
		Status:           string(b.Status),
		TotalAmount:      b.TotalAmount,
		RecipientCount:   b.RecipientCount,
		FailedCount:      b.FailedCount,
		UnconfirmedCount: b.UnconfirmedCount,
		StartedAt:        b.StartedAt.UTC(),
		CompletedAt:      utcPtr(b.CompletedAt),
	}
}

func batchToDomain(m *PayoutBatchModel) *domain.PayoutBatch {
	return &domain.PayoutBatch{
		ID:               m.ID,
		BatchNumber:      m.BatchNumber,
		Status:           domain.BatchStatus(m.Status),
		TotalAmount:      m.TotalAmount,
		RecipientCount:   m.RecipientCount,
		FailedCount:      m.FailedCount,
		UnconfirmedCount: m.UnconfirmedCount,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
	}
}

func payoutToModel(p *domain.Payout) *PayoutModel {
	return &PayoutModel{
		ID:             p.ID,
		BatchID:        p.BatchID,
		BatchNumber:    p.BatchNumber,
		UserID:         p.UserID,
		Role:           string(p.Role),
		Amount:         p.Amount,
		Currency:       p.Currency,
		Destination:    p.Destination,
		Status:         string(p.Status),
		IdempotencyKey: p.IdempotencyKey,
		TransferID:     p.TransferID,
		FailureReason:  p.FailureReason,
		Attempts:       p.Attempts,
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
		CompletedAt:    utcPtr(p.CompletedAt),
	}
}

func payoutToDomain(m *PayoutModel) *domain.Payout {
	return &domain.Payout{
		ID:             m.ID,
		BatchID:        m.BatchID,
		BatchNumber:    m.BatchNumber,
		UserID:         m.UserID,
		Role:           ledger.Role(m.Role),
		Amount:         m.Amount,
		Currency:       m.Currency,
		Destination:    m.Destination,
		Status:         domain.PayoutStatus(m.Status),
		IdempotencyKey: m.IdempotencyKey,
		TransferID:     m.TransferID,
		FailureReason:  m.FailureReason,
		Attempts:       m.Attempts,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		CompletedAt:    m.CompletedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
