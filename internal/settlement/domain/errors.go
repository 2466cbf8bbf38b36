package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound = errors.New("connected account not found")
	ErrRequestNotFound = errors.New("payout request not found")
	ErrBatchNotFound   = errors.New("payout batch not found")
	ErrPayoutNotFound  = errors.New("payout not found")
	// ErrPayoutExists 同一批次已为该余额创建过付款
	ErrPayoutExists = errors.New("payout already exists for batch")
	// ErrInvalidRequestTransition 付款申请状态不允许该操作
	ErrInvalidRequestTransition = errors.New("invalid payout request status transition")
	ErrInvalidPayoutTransition  = errors.New("invalid payout status transition")
	// ErrBatchRunning 另一个实例正在执行批次结算
	ErrBatchRunning = errors.New("payout batch already running")
)

// 付款申请的前置条件错误，按检查顺序排列
var (
	ErrNotConnected         = errors.New("no connected payment account")
	ErrVerificationRequired = errors.New("verification required")
	ErrInvalidAmount        = errors.New("invalid payout amount")
	ErrBelowMinimum         = errors.New("amount below minimum payout")
	ErrInsufficientBalance  = errors.New("insufficient available balance")
)

// RequestErrorCode 对外暴露的错误码
type RequestErrorCode string

const (
	CodeNotConnected         RequestErrorCode = "NOT_CONNECTED"
	CodeVerificationRequired RequestErrorCode = "VERIFICATION_REQUIRED"
	CodeInvalidAmount        RequestErrorCode = "INVALID_AMOUNT"
	CodeBelowMinimum         RequestErrorCode = "BELOW_MINIMUM"
	CodeInsufficientBalance  RequestErrorCode = "INSUFFICIENT_BALANCE"
)

// PayoutRequestError 付款申请被拒绝的原因，带上用户可据此处理的细节
type PayoutRequestError struct {
	Code         RequestErrorCode `json:"code"`
	Message      string           `json:"message"`
	MissingSteps []string         `json:"missing_steps,omitempty"`
	Minimum      *decimal.Decimal `json:"minimum,omitempty"`
	Available    *decimal.Decimal `json:"available,omitempty"`
	Requested    *decimal.Decimal `json:"requested,omitempty"`
}

func (e *PayoutRequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 映射到对应的哨兵错误
func (e *PayoutRequestError) Unwrap() error {
	switch e.Code {
	case CodeNotConnected:
		return ErrNotConnected
	case CodeVerificationRequired:
		return ErrVerificationRequired
	case CodeInvalidAmount:
		return ErrInvalidAmount
	case CodeBelowMinimum:
		return ErrBelowMinimum
	case CodeInsufficientBalance:
		return ErrInsufficientBalance
	default:
		return nil
	}
}

// NotConnectedError 用户尚未关联支付账户
func NotConnectedError() *PayoutRequestError {
	return &PayoutRequestError{
		Code:    CodeNotConnected,
		Message: "connect a payment account before requesting a payout",
	}
}

// VerificationRequiredError 缺少的核验步骤
func VerificationRequiredError(missing []string) *PayoutRequestError {
	return &PayoutRequestError{
		Code:         CodeVerificationRequired,
		Message:      "complete " + strings.Join(missing, " and ") + " before requesting a payout",
		MissingSteps: missing,
	}
}

// InvalidAmountError 金额取整后不为正
func InvalidAmountError(requested decimal.Decimal) *PayoutRequestError {
	return &PayoutRequestError{
		Code:      CodeInvalidAmount,
		Message:   "payout amount must be greater than zero",
		Requested: &requested,
	}
}

// BelowMinimumError 低于最低付款额
func BelowMinimumError(requested, minimum decimal.Decimal) *PayoutRequestError {
	return &PayoutRequestError{
		Code:      CodeBelowMinimum,
		Message:   fmt.Sprintf("minimum payout is %s", minimum.StringFixed(2)),
		Minimum:   &minimum,
		Requested: &requested,
	}
}

// InsufficientBalanceError 超出可用余额
func InsufficientBalanceError(requested, available decimal.Decimal) *PayoutRequestError {
	return &PayoutRequestError{
		Code:      CodeInsufficientBalance,
		Message:   fmt.Sprintf("available balance is %s", available.StringFixed(2)),
		Available: &available,
		Requested: &requested,
	}
}

// 处理方转账错误。被明确拒绝与结果未知必须区分：结果未知时不能重发新的转账。
var (
	ErrTransferRejected = errors.New("transfer rejected by processor")
	ErrTransferUnknown  = errors.New("transfer outcome unknown")
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrProcessorUnavailable 处理方不可达或熔断打开
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
)

// RejectionError 处理方明确拒绝。Terminal 表示重试不会成功（账户关闭等），需要人工处理。
type RejectionError struct {
	Code     string
	Message  string
	Terminal bool
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("transfer rejected (%s): %s", e.Code, e.Message)
}

func (e *RejectionError) Unwrap() error { return ErrTransferRejected }
