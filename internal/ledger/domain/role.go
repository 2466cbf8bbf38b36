// Package domain 分账账本领域模型：分配记录状态机与用户余额
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	pricing "github.com/wyfcoding/commissionledger/internal/pricing/domain"
)

// Role 收款方角色
type Role string

const (
	RoleSeller    Role = "seller"
	RoleAffiliate Role = "affiliate"
	RoleReferrer  Role = "referrer"
	RolePlatform  Role = "platform"
)

// Roles 全部角色，按分配记录的创建顺序排列
var Roles = []Role{RoleSeller, RoleAffiliate, RoleReferrer, RolePlatform}

// ParseRole 解析角色字符串
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSeller, RoleAffiliate, RoleReferrer, RolePlatform:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Payable 平台份额留在平台，不参与对外付款
func (r Role) Payable() bool {
	return r != RolePlatform
}

// ShareOf 从分账中取出该角色应得的金额
func (r Role) ShareOf(s pricing.Split) decimal.Decimal {
	switch r {
	case RoleSeller:
		return s.SellerPayout
	case RoleAffiliate:
		return s.AffiliateCommission
	case RoleReferrer:
		return s.ReferralBonus
	case RolePlatform:
		return s.PlatformShare()
	default:
		panic(fmt.Sprintf("unhandled role %q", string(r)))
	}
}
