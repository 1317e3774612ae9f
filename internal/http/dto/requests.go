package dto

import (
	"github.com/shopspring/decimal"
)

type CreateWithdrawalRequest struct {
	UserID int64           `json:"user_id" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount"`
	Wallet string          `json:"wallet" validate:"required,min=3,max=128"`
}

type ApplyCronRequest struct {
	Expr string `json:"expr" validate:"required,max=128"`
}
