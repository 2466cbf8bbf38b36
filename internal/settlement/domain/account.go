// Package domain 付款结算领域模型：关联账户、付款申请、付款批次与处理方接口
package domain

import (
	"time"

	ledger "github.com/wyfcoding/commissionledger/internal/ledger/domain"
)

// VerificationStatus 核验状态
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRejected   VerificationStatus = "rejected"
)

// ParseVerificationStatus 解析核验状态
func ParseVerificationStatus(s string) (VerificationStatus, bool) {
	switch v := VerificationStatus(s); v {
	case VerificationUnverified, VerificationPending, VerificationVerified, VerificationRejected:
		return v, true
	default:
		return "", false
	}
}

// 缺失的核验步骤
const (
	StepIdentityVerification = "identity_verification"
	StepSellerVerification   = "seller_verification"
)

// ConnectedAccount 用户在支付处理方的关联账户
type ConnectedAccount struct {
	UserID             string
	ProcessorAccountID string
	Email              string
	Country            string
	ChargesEnabled     bool
	PayoutsEnabled     bool
	RequirementsDue    []string
	// 由处理方账户状态推导
	IdentityStatus VerificationStatus
	// 运营人工审核
	SellerStatus       VerificationStatus
	TaxAgreementOnFile bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Connected 是否已在处理方开户
func (a *ConnectedAccount) Connected() bool {
	return a != nil && a.ProcessorAccountID != ""
}

// ApplyStatus 写入处理方返回的账户状态。可收款且无待补资料时身份核验通过。
func (a *ConnectedAccount) ApplyStatus(st *AccountStatus, now time.Time) {
	a.ChargesEnabled = st.ChargesEnabled
	a.PayoutsEnabled = st.PayoutsEnabled
	a.RequirementsDue = append([]string(nil), st.RequirementsDue...)
	switch {
	case st.PayoutsEnabled && len(st.RequirementsDue) == 0:
		a.IdentityStatus = VerificationVerified
	case a.IdentityStatus == VerificationRejected:
	default:
		a.IdentityStatus = VerificationPending
	}
	a.UpdatedAt = now
}

// MissingSteps 该角色收款前还缺的核验步骤。卖家需要身份核验与卖家审核都通过。
func (a *ConnectedAccount) MissingSteps(role ledger.Role) []string {
	if role != ledger.RoleSeller {
		return nil
	}
	var missing []string
	if a.IdentityStatus != VerificationVerified {
		missing = append(missing, StepIdentityVerification)
	}
	if a.SellerStatus != VerificationVerified {
		missing = append(missing, StepSellerVerification)
	}
	return missing
}

// CanReceivePayout 批次结算的资格：已开户、处理方允许收款、核验齐全
func (a *ConnectedAccount) CanReceivePayout(role ledger.Role) bool {
	return a.Connected() && a.PayoutsEnabled && len(a.MissingSteps(role)) == 0
}
