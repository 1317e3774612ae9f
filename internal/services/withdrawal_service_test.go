package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodial-payouts/backend/internal/events"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(t *testing.T, h *harness, amount string) *models.Withdrawal {
	t.Helper()
	w, err := h.svc.Request(context.Background(), "alice", CreateWithdrawalInput{
		UserID: 42,
		Amount: decimal.RequireFromString(amount),
		Wallet: "UQdest",
	})
	require.NoError(t, err)
	return w
}

func TestRequest_SnapshotsFee(t *testing.T) {
	h := newHarness(KeyFeePercent, "5")

	w := request(t, h, "100")
	assert.Equal(t, models.WithdrawalStatusRequested, w.Status)
	assert.True(t, w.FeePercent.Equal(decimal.NewFromInt(5)))
	assert.True(t, w.AmountNet.Equal(decimal.NewFromInt(95)))
	assert.Nil(t, w.TxHash)
	assert.Nil(t, w.ScheduledFor)

	// a later fee change does not touch the existing record
	require.NoError(t, h.cfgStore.Set(context.Background(), KeyFeePercent, "10"))
	stored := h.store.get(w.ID)
	assert.True(t, stored.FeePercent.Equal(decimal.NewFromInt(5)))
	assert.True(t, stored.AmountNet.Equal(decimal.NewFromInt(95)))

	w2 := request(t, h, "100")
	assert.True(t, w2.AmountNet.Equal(decimal.NewFromInt(90)))

	require.Len(t, h.audit.byAction(models.AuditWithdrawalRequested), 2)
}

func TestRequest_Validation(t *testing.T) {
	h := newHarness()
	tests := []struct {
		name  string
		in    CreateWithdrawalInput
		field string
	}{
		{"missing user", CreateWithdrawalInput{Amount: decimal.NewFromInt(50), Wallet: "UQdest"}, "user_id"},
		{"zero amount", CreateWithdrawalInput{UserID: 1, Amount: decimal.Zero, Wallet: "UQdest"}, "amount"},
		{"negative amount", CreateWithdrawalInput{UserID: 1, Amount: decimal.NewFromInt(-5), Wallet: "UQdest"}, "amount"},
		{"blank wallet", CreateWithdrawalInput{UserID: 1, Amount: decimal.NewFromInt(50), Wallet: "  "}, "wallet"},
		{"below minimum", CreateWithdrawalInput{UserID: 1, Amount: decimal.NewFromInt(5), Wallet: "UQdest"}, "amount"},
		{"seven decimals", CreateWithdrawalInput{UserID: 1, Amount: decimal.RequireFromString("50.1234567"), Wallet: "UQdest"}, "amount"},
		{"thirteen integer digits", CreateWithdrawalInput{UserID: 1, Amount: decimal.New(1, 12), Wallet: "UQdest"}, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Request(context.Background(), "alice", tt.in)
			require.ErrorIs(t, err, models.ErrValidation)
			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Empty(t, h.store.rows, "invalid requests must not create records")
}

func TestRequest_MalformedFeeFallsBackToDefault(t *testing.T) {
	h := newHarness(KeyFeePercent, "150")

	w := request(t, h, "100")
	assert.True(t, w.FeePercent.Equal(decimal.NewFromInt(5)))
}

func TestRequest_AcceptsColumnPrecision(t *testing.T) {
	h := newHarness(KeyFeePercent, "2.55")

	w := request(t, h, "999999999999.123456")
	assert.True(t, w.FeePercent.Equal(decimal.RequireFromString("2.55")))
	assert.True(t, w.AmountNet.Equal(models.NetAmount(w.AmountRequested, w.FeePercent)))
}

func TestRequest_FeeWithThreeDecimalsFallsBack(t *testing.T) {
	h := newHarness(KeyFeePercent, "2.555")

	w := request(t, h, "1000")
	assert.True(t, w.FeePercent.Equal(decimal.NewFromInt(5)))
	assert.True(t, w.AmountNet.Equal(decimal.NewFromInt(950)))
}

func TestApprove_SchedulesNextMonday(t *testing.T) {
	h := newHarness()
	h.svc.now = func() time.Time { return tuesdayNoon }
	w := request(t, h, "100")

	approved, err := h.svc.Approve(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusApproved, approved.Status)
	assert.Equal(t, "2024-01-08", approved.ScheduledDate())

	entries := h.audit.byAction(models.AuditApproveWithdrawal)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, "id=1 scheduled_for=2024-01-08", entries[0].Detail)
	assert.Contains(t, h.publisher.types(), events.EventWithdrawalApproved)
}

func TestApprove_OnPayday(t *testing.T) {
	h := newHarness()
	w := request(t, h, "100")

	approved, err := h.svc.Approve(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08", approved.ScheduledDate(), "same-day approval pays today")

	h2 := newHarness(KeyPayoutSameDay, "false")
	w2 := request(t, h2, "100")
	approved, err = h2.svc.Approve(context.Background(), "alice", w2.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", approved.ScheduledDate())
}

func TestApprove_ConfiguredWeekday(t *testing.T) {
	h := newHarness(KeyPayoutWeekday, "friday")
	w := request(t, h, "100")

	approved, err := h.svc.Approve(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-12", approved.ScheduledDate())
}

func TestApprove_UnknownID(t *testing.T) {
	h := newHarness()
	_, err := h.svc.Approve(context.Background(), "alice", 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, h.audit.byAction(models.AuditApproveWithdrawal))
}

func TestApprove_AlreadyApprovedIsNoop(t *testing.T) {
	h := newHarness()
	w := request(t, h, "100")

	first, err := h.svc.Approve(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	second, err := h.svc.Approve(context.Background(), "bob", w.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ScheduledDate(), second.ScheduledDate())
	assert.Len(t, h.audit.byAction(models.AuditApproveWithdrawal), 1)
}

func TestApprove_RejectsInFlightAndPaid(t *testing.T) {
	h := newHarness()
	tx := "abc"
	h.store.put(models.Withdrawal{ID: 1, Status: models.WithdrawalStatusInProgress})
	h.store.put(models.Withdrawal{ID: 2, Status: models.WithdrawalStatusPaid, TxHash: &tx})

	for _, id := range []int64{1, 2} {
		_, err := h.svc.Approve(context.Background(), "alice", id)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	}
	assert.Equal(t, models.WithdrawalStatusInProgress, h.store.get(1).Status)
	assert.Equal(t, models.WithdrawalStatusPaid, h.store.get(2).Status)
	assert.Equal(t, "abc", *h.store.get(2).TxHash)
}

func TestApprove_ReapprovesFailed(t *testing.T) {
	h := newHarness()
	last := monday.AddDate(0, 0, -7)
	h.store.put(models.Withdrawal{ID: 3, Status: models.WithdrawalStatusFailed, ScheduledFor: &last, AmountNet: decimal.NewFromInt(5)})

	w, err := h.svc.Approve(context.Background(), "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusApproved, w.Status)
	assert.Equal(t, "2024-01-08", w.ScheduledDate())
	assert.Nil(t, w.TxHash)
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	h := newHarness()
	bogus := "pending"
	_, err := h.svc.List(context.Background(), repositories.WithdrawalFilter{Status: &bogus})
	assert.ErrorIs(t, err, models.ErrValidation)

	request(t, h, "100")
	requested := models.WithdrawalStatusRequested
	items, err := h.svc.List(context.Background(), repositories.WithdrawalFilter{Status: &requested})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
