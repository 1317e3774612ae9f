package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodial-payouts/backend/internal/events"
	"github.com/custodial-payouts/backend/internal/metrics"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WithdrawalService struct {
	withdrawals WithdrawalStore
	settings    *Settings
	audit       AuditSink
	publisher   events.Publisher
	log         *zap.Logger
	now         func() time.Time
}

func NewWithdrawalService(
	withdrawals WithdrawalStore,
	settings *Settings,
	audit AuditSink,
	publisher events.Publisher,
	log *zap.Logger,
) *WithdrawalService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &WithdrawalService{
		withdrawals: withdrawals,
		settings:    settings,
		audit:       audit,
		publisher:   publisher,
		log:         log,
		now:         time.Now,
	}
}

type CreateWithdrawalInput struct {
	UserID int64
	Amount decimal.Decimal
	Wallet string
}

// Request records a new withdrawal with the fee percent in force right now.
// Later fee changes never touch it.
func (s *WithdrawalService) Request(ctx context.Context, actor string, in CreateWithdrawalInput) (*models.Withdrawal, error) {
	if in.UserID <= 0 {
		return nil, &models.ValidationError{Field: "user_id", Msg: "required"}
	}
	if !in.Amount.IsPositive() {
		return nil, &models.ValidationError{Field: "amount", Msg: "must be positive"}
	}
	if !models.ValidAmountPrecision(in.Amount) {
		return nil, &models.ValidationError{Field: "amount", Msg: fmt.Sprintf("at most %d integer digits and %d decimals", models.AmountIntDigits, models.AmountScale)}
	}
	wallet := strings.TrimSpace(in.Wallet)
	if wallet == "" {
		return nil, &models.ValidationError{Field: "wallet", Msg: "required"}
	}
	if min := s.settings.MinWithdraw(ctx); in.Amount.LessThan(min) {
		return nil, &models.ValidationError{Field: "amount", Msg: fmt.Sprintf("below minimum withdrawal %s", min)}
	}

	fee := s.settings.FeePercent(ctx)
	net := models.NetAmount(in.Amount, fee)

	w, err := s.withdrawals.Create(ctx, in.UserID, in.Amount, fee, net, wallet)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, actor, models.AuditWithdrawalRequested,
		fmt.Sprintf("id=%d user=%d amount=%s net=%s", w.ID, w.UserID, w.AmountRequested, w.AmountNet))
	metrics.RecordWithdrawal("requested")

	s.log.Info("withdrawal requested",
		zap.Int64("id", w.ID),
		zap.Int64("user_id", w.UserID),
		zap.String("amount", w.AmountRequested.String()),
		zap.String("net", w.AmountNet.String()),
	)
	return w, nil
}

// Approve schedules a requested or failed withdrawal for the next payday.
// Approving an already approved withdrawal returns it unchanged.
func (s *WithdrawalService) Approve(ctx context.Context, actor string, id int64) (*models.Withdrawal, error) {
	current, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.WithdrawalStatusApproved {
		return current, nil
	}
	if !models.IsValidTransition(current.Status, models.WithdrawalStatusApproved) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.Status, models.WithdrawalStatusApproved)
	}

	scheduledFor := models.NextPayoutDate(s.now(), s.settings.PayoutWeekday(ctx), s.settings.PayoutSameDay(ctx))

	w, err := s.withdrawals.Approve(ctx, id, scheduledFor)
	if errors.Is(err, models.ErrInvalidTransition) && w != nil {
		// status moved between the read and the update
		if w.Status == models.WithdrawalStatusApproved {
			return w, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, w.Status, models.WithdrawalStatusApproved)
	}
	if err != nil {
		return nil, err
	}

	date := w.ScheduledDate()
	s.appendAudit(ctx, actor, models.AuditApproveWithdrawal, fmt.Sprintf("id=%d scheduled_for=%s", id, date))
	metrics.RecordWithdrawal("approved")

	_ = s.publisher.Publish(ctx, events.StreamPayout, events.Event{
		Type: events.EventWithdrawalApproved,
		Payload: map[string]any{
			"withdrawal_id": w.ID,
			"user_id":       w.UserID,
			"amount_net":    w.AmountNet.String(),
			"scheduled_for": date,
			"reapproved":    current.Status == models.WithdrawalStatusFailed,
		},
	})

	s.log.Info("withdrawal approved",
		zap.Int64("id", id),
		zap.String("actor", actor),
		zap.String("from", current.Status),
		zap.String("scheduled_for", date),
	)
	return w, nil
}

func (s *WithdrawalService) Get(ctx context.Context, id int64) (*models.Withdrawal, error) {
	return s.withdrawals.GetByID(ctx, id)
}

func (s *WithdrawalService) List(ctx context.Context, f repositories.WithdrawalFilter) ([]models.Withdrawal, error) {
	if f.Status != nil && !models.IsValidStatus(*f.Status) {
		return nil, &models.ValidationError{Field: "status", Msg: "unknown status"}
	}
	return s.withdrawals.List(ctx, f)
}

func (s *WithdrawalService) appendAudit(ctx context.Context, actor, action, detail string) {
	if err := s.audit.Append(ctx, actor, action, detail); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
