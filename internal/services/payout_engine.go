package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodial-payouts/backend/internal/events"
	"github.com/custodial-payouts/backend/internal/ledger"
	"github.com/custodial-payouts/backend/internal/metrics"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Batch triggers
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Item outcomes
const (
	OutcomePaid         = "paid"
	OutcomeFailed       = "failed"
	OutcomeSkipped      = "skipped"
	OutcomeRecordFailed = "record_failed"
)

type ItemResult struct {
	WithdrawalID int64           `json:"withdrawal_id"`
	Wallet       string          `json:"wallet"`
	Amount       decimal.Decimal `json:"amount"`
	Outcome      string          `json:"outcome"`
	TxHash       string          `json:"tx_hash,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type BatchResult struct {
	RunID      uuid.UUID        `json:"run_id"`
	Trigger    string           `json:"trigger"`
	Date       string           `json:"date"`
	Selected   int              `json:"selected"`
	Paid       int              `json:"paid"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Unrecorded int              `json:"unrecorded"`
	TotalNet   decimal.Decimal  `json:"total_net"`
	Balances   *ledger.Balances `json:"balances,omitempty"`
	Items      []ItemResult     `json:"items"`
}

// PayoutEngine pays every withdrawal approved for today in one batch.
// Concurrent runs are safe: each item is claimed with a conditional update
// and only the winner transfers.
type PayoutEngine struct {
	withdrawals     WithdrawalStore
	ledger          ledger.Client
	settings        *Settings
	audit           AuditSink
	publisher       events.Publisher
	transferTimeout time.Duration
	log             *zap.Logger
	now             func() time.Time
}

func NewPayoutEngine(
	withdrawals WithdrawalStore,
	ledgerClient ledger.Client,
	settings *Settings,
	audit AuditSink,
	publisher events.Publisher,
	transferTimeout time.Duration,
	log *zap.Logger,
) *PayoutEngine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &PayoutEngine{
		withdrawals:     withdrawals,
		ledger:          ledgerClient,
		settings:        settings,
		audit:           audit,
		publisher:       publisher,
		transferTimeout: transferTimeout,
		log:             log,
		now:             time.Now,
	}
}

// Run executes one batch. Audit entries are written as the cron actor for
// scheduled runs and as system otherwise.
func (e *PayoutEngine) Run(ctx context.Context, trigger string) (*BatchResult, error) {
	actor := models.ActorSystem
	if trigger == TriggerCron {
		actor = models.ActorCron
	}
	return e.RunAs(ctx, trigger, actor)
}

// RunAs executes one batch and records actor on every audit entry. A
// *models.SolvencyError or a balance query error aborts the batch before any
// withdrawal is touched. Per-item transfer failures never abort the batch.
func (e *PayoutEngine) RunAs(ctx context.Context, trigger, actor string) (*BatchResult, error) {
	start := time.Now()
	today := models.UTCDate(e.now())
	res := &BatchResult{
		RunID:    uuid.New(),
		Trigger:  trigger,
		Date:     today.Format(models.DateLayout),
		TotalNet: decimal.Zero,
		Items:    []ItemResult{},
	}
	log := e.log.With(zap.String("run_id", res.RunID.String()), zap.String("trigger", trigger))

	batchMax := e.settings.BatchMax(ctx)
	minNative := e.settings.MinNativeForFees(ctx)

	items, err := e.withdrawals.SelectDueForPayout(ctx, today, batchMax)
	if err != nil {
		metrics.RecordBatch(trigger, "error", time.Since(start).Seconds())
		return res, err
	}
	res.Selected = len(items)
	if len(items) == 0 {
		log.Debug("no withdrawals due", zap.String("date", res.Date))
		metrics.RecordBatch(trigger, "empty", time.Since(start).Seconds())
		return res, nil
	}

	for _, w := range items {
		res.TotalNet = res.TotalNet.Add(w.AmountNet)
	}

	hot := e.ledger.HotAddress()
	bal, err := e.ledger.GetBalances(ctx, hot)
	if err != nil {
		log.Error("balance query failed, batch not started", zap.String("hot", hot), zap.Error(err))
		metrics.RecordBatch(trigger, "error", time.Since(start).Seconds())
		return res, fmt.Errorf("get hot wallet balances: %w", err)
	}
	res.Balances = &bal
	metrics.SetHotWalletBalance(bal.Native, bal.Stable)

	var solvency *models.SolvencyError
	switch {
	case bal.Native.LessThan(minNative):
		solvency = &models.SolvencyError{Asset: "native", Available: bal.Native, Required: minNative}
	case bal.Stable.LessThan(res.TotalNet):
		solvency = &models.SolvencyError{Asset: "stable", Available: bal.Stable, Required: res.TotalNet}
	}
	if solvency != nil {
		e.abort(ctx, log, actor, res, solvency)
		metrics.RecordBatch(trigger, "aborted", time.Since(start).Seconds())
		return res, solvency
	}

	log.Info("payout batch started",
		zap.String("date", res.Date),
		zap.Int("items", len(items)),
		zap.String("total_net", res.TotalNet.String()),
		zap.String("native", bal.Native.String()),
		zap.String("stable", bal.Stable.String()),
	)

	var interrupted error
	for _, w := range items {
		if err := ctx.Err(); err != nil {
			// unclaimed items stay approved for the next run
			interrupted = err
			break
		}
		item := e.payOne(ctx, log, actor, res.RunID, w)
		res.Items = append(res.Items, item)
		switch item.Outcome {
		case OutcomePaid:
			res.Paid++
		case OutcomeFailed:
			res.Failed++
		case OutcomeRecordFailed:
			res.Unrecorded++
		default:
			res.Skipped++
		}
	}

	log.Info("payout batch completed",
		zap.Int("paid", res.Paid),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("unrecorded", res.Unrecorded),
		zap.Duration("duration", time.Since(start)),
	)
	_ = e.publisher.Publish(context.WithoutCancel(ctx), events.StreamPayout, events.Event{
		Type: events.EventPayoutBatchCompleted,
		Payload: map[string]any{
			"run_id":   res.RunID.String(),
			"trigger":  trigger,
			"date":     res.Date,
			"selected": res.Selected,
			"paid":     res.Paid,
			"failed":   res.Failed,
			"skipped":  res.Skipped,
		},
	})

	if interrupted != nil {
		metrics.RecordBatch(trigger, "interrupted", time.Since(start).Seconds())
		return res, fmt.Errorf("payout batch interrupted after %d items: %w", len(res.Items), interrupted)
	}
	metrics.RecordBatch(trigger, "completed", time.Since(start).Seconds())
	return res, nil
}

func (e *PayoutEngine) abort(ctx context.Context, log *zap.Logger, actor string, res *BatchResult, cause *models.SolvencyError) {
	log.Warn("payout batch aborted", zap.String("date", res.Date), zap.Int("items", res.Selected), zap.Error(cause))
	e.appendAudit(ctx, actor, models.AuditPayoutBatchAborted,
		fmt.Sprintf("date=%s items=%d err=%s", res.Date, res.Selected, cause.Error()))
	_ = e.publisher.Publish(ctx, events.StreamPayout, events.Event{
		Type: events.EventPayoutBatchAborted,
		Payload: map[string]any{
			"run_id":    res.RunID.String(),
			"date":      res.Date,
			"asset":     cause.Asset,
			"available": cause.Available.String(),
			"required":  cause.Required.String(),
		},
	})
}

// payOne claims, transfers and records a single withdrawal.
func (e *PayoutEngine) payOne(ctx context.Context, log *zap.Logger, actor string, runID uuid.UUID, w models.Withdrawal) ItemResult {
	item := ItemResult{WithdrawalID: w.ID, Wallet: w.Wallet, Amount: w.AmountNet}
	log = log.With(zap.Int64("withdrawal_id", w.ID))

	claimed, err := e.withdrawals.TransitionIfStatus(ctx, w.ID, models.WithdrawalStatusApproved, models.WithdrawalStatusInProgress)
	if err != nil {
		log.Error("claim failed", zap.Error(err))
		item.Outcome = OutcomeSkipped
		item.Error = err.Error()
		metrics.RecordPayoutItem(OutcomeSkipped, w.AmountNet)
		return item
	}
	if !claimed {
		log.Info("withdrawal already claimed elsewhere, skipping")
		item.Outcome = OutcomeSkipped
		metrics.RecordPayoutItem(OutcomeSkipped, w.AmountNet)
		return item
	}

	tctx, cancel := context.WithTimeout(ctx, e.transferTimeout)
	txID, err := e.ledger.Transfer(tctx, w.Wallet, w.AmountNet)
	cancel()
	if err == nil && txID == "" {
		err = errors.New("ledger returned an empty transaction id")
	}

	// the transfer already happened or definitely did not; record it even if ctx is gone
	rctx := context.WithoutCancel(ctx)

	if err != nil {
		terr := &models.TransferError{WithdrawalID: w.ID, Err: err}
		log.Warn("payout transfer failed", zap.Error(terr))
		if mErr := e.withdrawals.MarkFailed(rctx, w.ID); mErr != nil {
			log.Error("mark failed did not apply", zap.Error(mErr))
		}
		e.appendAudit(rctx, actor, models.AuditPayoutFail, fmt.Sprintf("wid=%d err=%s", w.ID, err.Error()))
		_ = e.publisher.Publish(rctx, events.StreamPayout, events.Event{
			Type: events.EventPayoutItemFailed,
			Payload: map[string]any{
				"run_id":        runID.String(),
				"withdrawal_id": w.ID,
				"user_id":       w.UserID,
				"amount_net":    w.AmountNet.String(),
				"error":         err.Error(),
			},
		})
		metrics.RecordPayoutItem(OutcomeFailed, w.AmountNet)
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		return item
	}

	item.TxHash = txID
	if err := e.withdrawals.MarkPaid(rctx, w.ID, txID); err != nil {
		// funds left the wallet: keep the row in_progress so it can never be re-approved
		log.Error("transfer sent but paid status not recorded", zap.String("tx", txID), zap.Error(err))
		e.appendAudit(rctx, actor, models.AuditPayoutRecordFailed,
			fmt.Sprintf("wid=%d tx=%s err=%s", w.ID, txID, err.Error()))
		metrics.RecordPayoutItem(OutcomeRecordFailed, w.AmountNet)
		item.Outcome = OutcomeRecordFailed
		item.Error = err.Error()
		return item
	}

	e.appendAudit(rctx, actor, models.AuditPayoutSuccess, fmt.Sprintf("wid=%d tx=%s", w.ID, txID))
	_ = e.publisher.Publish(rctx, events.StreamPayout, events.Event{
		Type: events.EventPayoutItemPaid,
		Payload: map[string]any{
			"run_id":        runID.String(),
			"withdrawal_id": w.ID,
			"user_id":       w.UserID,
			"amount_net":    w.AmountNet.String(),
			"wallet":        w.Wallet,
			"tx_hash":       txID,
		},
	})
	metrics.RecordPayoutItem(OutcomePaid, w.AmountNet)
	log.Info("payout sent", zap.String("tx", txID), zap.String("amount", w.AmountNet.String()))

	item.Outcome = OutcomePaid
	return item
}

func (e *PayoutEngine) appendAudit(ctx context.Context, actor, action, detail string) {
	if err := e.audit.Append(ctx, actor, action, detail); err != nil {
		e.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
