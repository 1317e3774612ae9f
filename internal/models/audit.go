package models

import "time"

// Audit actors
const (
	ActorCron   = "cron"
	ActorSystem = "system"
)

// Audit actions
const (
	AuditWithdrawalRequested = "withdrawal_requested"
	AuditApproveWithdrawal   = "approve_withdrawal"
	AuditPayoutSuccess       = "payout_success"
	AuditPayoutFail          = "payout_fail"
	AuditPayoutRecordFailed  = "payout_record_failed"
	AuditPayoutBatchAborted  = "payout_batch_aborted"
	AuditUpdateCron          = "update_cron"
	AuditUpdateConfig        = "update_config"
)

type AuditLog struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"ts"`
}
