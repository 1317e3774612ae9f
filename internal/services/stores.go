package services

import (
	"context"
	"time"

	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/repositories"
	"github.com/shopspring/decimal"
)

// WithdrawalStore is satisfied by repositories.WithdrawalRepo.
type WithdrawalStore interface {
	Create(ctx context.Context, userID int64, amountRequested, feePercent, amountNet decimal.Decimal, wallet string) (*models.Withdrawal, error)
	GetByID(ctx context.Context, id int64) (*models.Withdrawal, error)
	Approve(ctx context.Context, id int64, scheduledFor time.Time) (*models.Withdrawal, error)
	SelectDueForPayout(ctx context.Context, date time.Time, limit int) ([]models.Withdrawal, error)
	TransitionIfStatus(ctx context.Context, id int64, expected, next string) (bool, error)
	MarkPaid(ctx context.Context, id int64, txHash string) error
	MarkFailed(ctx context.Context, id int64) error
	List(ctx context.Context, f repositories.WithdrawalFilter) ([]models.Withdrawal, error)
}

// ConfigStore is satisfied by repositories.ConfigRepo.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}

// AuditSink is satisfied by repositories.AuditRepo.
type AuditSink interface {
	Append(ctx context.Context, actor, action, detail string) error
}

var (
	_ WithdrawalStore = (*repositories.WithdrawalRepo)(nil)
	_ ConfigStore     = (*repositories.ConfigRepo)(nil)
	_ AuditSink       = (*repositories.AuditRepo)(nil)
)
