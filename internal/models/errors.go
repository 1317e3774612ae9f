package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientFunds = errors.New("insufficient funds in hot wallet")
	ErrInvalidSchedule   = errors.New("invalid schedule expression")
)

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SolvencyError aborts a whole payout batch before any withdrawal is touched.
type SolvencyError struct {
	Asset     string // native / stable
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *SolvencyError) Error() string {
	return fmt.Sprintf("%s balance %s below required %s", e.Asset, e.Available.String(), e.Required.String())
}

func (e *SolvencyError) Unwrap() error { return ErrInsufficientFunds }

// TransferError is a single failed ledger transfer inside a batch.
type TransferError struct {
	WithdrawalID int64
	Err          error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("withdrawal %d: transfer failed: %v", e.WithdrawalID, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
