package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal statuses
const (
	WithdrawalStatusRequested  = "requested"
	WithdrawalStatusApproved   = "approved"
	WithdrawalStatusInProgress = "in_progress"
	WithdrawalStatusPaid       = "paid"
	WithdrawalStatusFailed     = "failed"
)

// Valid state transitions: from -> []to
var ValidWithdrawalTransitions = map[string][]string{
	WithdrawalStatusRequested:  {WithdrawalStatusApproved},
	WithdrawalStatusApproved:   {WithdrawalStatusInProgress},
	WithdrawalStatusInProgress: {WithdrawalStatusPaid, WithdrawalStatusFailed},
	WithdrawalStatusPaid:       {},
	WithdrawalStatusFailed:     {WithdrawalStatusApproved}, // manual re-approval only
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidWithdrawalTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsValidStatus(status string) bool {
	_, ok := ValidWithdrawalTransitions[status]
	return ok
}

// Date layout used for scheduled_for and audit details.
const DateLayout = "2006-01-02"

type Withdrawal struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	AmountRequested decimal.Decimal `json:"amount_requested"`
	FeePercent      decimal.Decimal `json:"fee_percent"`
	AmountNet       decimal.Decimal `json:"amount_net"`
	Wallet          string          `json:"wallet"`
	Status          string          `json:"status"`
	TxHash          *string         `json:"tx_hash,omitempty"`
	ScheduledFor    *time.Time      `json:"scheduled_for,omitempty"` // date only, UTC
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ScheduledDate returns scheduled_for as YYYY-MM-DD or "" when unset.
func (w *Withdrawal) ScheduledDate() string {
	if w.ScheduledFor == nil {
		return ""
	}
	return w.ScheduledFor.UTC().Format(DateLayout)
}

var hundred = decimal.NewFromInt(100)

// NetAmount returns amount * (1 - feePercent/100) rounded to cents.
func NetAmount(amount, feePercent decimal.Decimal) decimal.Decimal {
	keep := decimal.NewFromInt(1).Sub(feePercent.Div(hundred))
	return amount.Mul(keep).Round(2)
}

// Column limits of withdrawals: fee_percent NUMERIC(5,2), amounts NUMERIC(18,6).
const (
	FeeScale        = 2
	AmountScale     = 6
	AmountIntDigits = 12
)

var maxAmount = decimal.New(1, AmountIntDigits)

// ValidFeePercent reports whether p lies in [0, 100] with at most two
// decimal places.
func ValidFeePercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred) && p.Equal(p.Truncate(FeeScale))
}

// ValidAmountPrecision reports whether amount is stored without rounding.
func ValidAmountPrecision(amount decimal.Decimal) bool {
	return amount.Abs().LessThan(maxAmount) && amount.Equal(amount.Truncate(AmountScale))
}

// UTCDate truncates t to midnight of its UTC calendar day.
func UTCDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextPayoutDate returns the UTC calendar date of the next payout weekday
// on or after now. When now already falls on that weekday, sameDay picks
// today; otherwise the date one week later is returned.
func NextPayoutDate(now time.Time, weekday time.Weekday, sameDay bool) time.Time {
	today := UTCDate(now)
	delta := (int(weekday) - int(today.Weekday()) + 7) % 7
	if delta == 0 && !sameDay {
		delta = 7
	}
	return today.AddDate(0, 0, delta)
}
