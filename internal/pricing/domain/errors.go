package domain

import "errors"

var (
	// ErrInvalidAsk ask 必须为正
	ErrInvalidAsk = errors.New("ask must be positive")
	// ErrInvalidRate 分销佣金比例必须在 [0,1) 内
	ErrInvalidRate = errors.New("affiliate rate must be within [0,1)")
	// ErrInvalidSalePrice 售价必须为正
	ErrInvalidSalePrice = errors.New("sale price must be positive")
	// ErrConfiguration 费率表无法用于定价
	ErrConfiguration = errors.New("fee configuration error")
	// ErrSplitMismatch 各方金额之和超过售价
	ErrSplitMismatch = errors.New("split components exceed sale price")
)
