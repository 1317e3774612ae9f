package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodial-payouts/backend/internal/db"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, user_id, amount_requested, fee_percent, amount_net, wallet,
		       status, tx_hash, scheduled_for, created_at, updated_at`

type WithdrawalRepo struct {
	pool db.DBTX
}

func NewWithdrawalRepo(pool db.DBTX) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

func scanWithdrawal(row pgx.Row) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(
		&w.ID, &w.UserID, &w.AmountRequested, &w.FeePercent, &w.AmountNet, &w.Wallet,
		&w.Status, &w.TxHash, &w.ScheduledFor, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepo) Create(ctx context.Context, userID int64, amountRequested, feePercent, amountNet decimal.Decimal, wallet string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `
		INSERT INTO withdrawals (user_id, amount_requested, fee_percent, amount_net, wallet, status)
		VALUES ($1, $2, $3, $4, $5, 'requested')
		RETURNING `+withdrawalColumns,
		userID, amountRequested, feePercent, amountNet, wallet))
	if err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	return w, nil
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id int64) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return w, err
}

// Approve moves a requested or failed withdrawal to approved for the given
// payout date in one statement. ErrNotFound means the id does not exist;
// ErrInvalidTransition means it exists in a status that cannot be approved.
func (r *WithdrawalRepo) Approve(ctx context.Context, id int64, scheduledFor time.Time) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `
		UPDATE withdrawals
		SET status = 'approved', scheduled_for = $2, tx_hash = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('requested', 'failed')
		RETURNING `+withdrawalColumns,
		id, scheduledFor))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("approve withdrawal %d: %w", id, err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, models.ErrInvalidTransition
}

// SelectDueForPayout returns approved withdrawals scheduled for date,
// oldest id first, capped at limit.
func (r *WithdrawalRepo) SelectDueForPayout(ctx context.Context, date time.Time, limit int) ([]models.Withdrawal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = 'approved' AND scheduled_for = $1
		ORDER BY id ASC
		LIMIT $2
	`, models.UTCDate(date), limit)
	if err != nil {
		return nil, fmt.Errorf("select due withdrawals: %w", err)
	}
	defer rows.Close()

	var items []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *w)
	}
	return items, rows.Err()
}

// TransitionIfStatus is the claim primitive: the status changes only if it
// still equals expected, decided by the database in a single UPDATE. Edges
// outside the transition table are refused without touching the row.
func (r *WithdrawalRepo) TransitionIfStatus(ctx context.Context, id int64, expected, next string) (bool, error) {
	if !models.IsValidTransition(expected, next) {
		return false, models.ErrInvalidTransition
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE withdrawals SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("transition withdrawal %d %s->%s: %w", id, expected, next, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WithdrawalRepo) MarkPaid(ctx context.Context, id int64, txHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE withdrawals SET status = 'paid', tx_hash = $2, updated_at = now()
		WHERE id = $1 AND status = 'in_progress'
	`, id, txHash)
	if err != nil {
		return fmt.Errorf("mark withdrawal %d paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *WithdrawalRepo) MarkFailed(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE withdrawals SET status = 'failed', tx_hash = NULL, updated_at = now()
		WHERE id = $1 AND status = 'in_progress'
	`, id)
	if err != nil {
		return fmt.Errorf("mark withdrawal %d failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

type WithdrawalFilter struct {
	Status *string
	UserID *int64
	Limit  int
	Offset int
}

func (r *WithdrawalRepo) List(ctx context.Context, f WithdrawalFilter) ([]models.Withdrawal, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::bigint IS NULL OR user_id = $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, f.Status, f.UserID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	var items []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *w)
	}
	return items, rows.Err()
}
