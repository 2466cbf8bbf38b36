package domain

import "errors"

var (
	ErrInvalidRole      = errors.New("invalid recipient role")
	ErrInvalidOrderLine = errors.New("invalid order line")
	// ErrInvalidTransition 分配记录状态不允许该迁移
	ErrInvalidTransition = errors.New("invalid distribution status transition")
	// ErrBalanceInvariant 迁移会破坏 total_earned == held + current + paid_out 或产生负余额
	ErrBalanceInvariant = errors.New("balance invariant violated")
	// ErrBalanceDrift 可付款分配记录之和与 current_balance 不一致
	ErrBalanceDrift = errors.New("balance drifted from distributions")

	ErrDistributionNotFound = errors.New("distribution not found")
	ErrOrderLineNotFound    = errors.New("order line not found")
	ErrBalanceNotFound      = errors.New("balance not found")

	ErrClawbackUnsupported      = errors.New("distribution already paid, claw-back is not supported")
	ErrDistributionInSettlement = errors.New("distribution is claimed by an in-flight payout")

	// ErrPayoutInFlight 该余额已有未完成的付款
	ErrPayoutInFlight = errors.New("payout already in flight for balance")
	// ErrPayoutsBlocked 余额因终态失败被冻结，需要人工处理
	ErrPayoutsBlocked = errors.New("payouts blocked pending remediation")
	// ErrBelowMinimum 可付款金额低于最低付款额
	ErrBelowMinimum = errors.New("payable amount below minimum")
)
