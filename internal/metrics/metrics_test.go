package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/v1/admin/payouts/run", "200", 0.5)
	RecordHTTPRequest("POST", "/api/v1/admin/payouts/run", "409", 0.1)
	RecordHTTPRequest("POST", "/api/v1/admin/payouts/run", "200", 0.2)

	assert.Equal(t, float64(2), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/admin/payouts/run", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/admin/payouts/run", "409")))
	assert.Equal(t, 1, testutil.CollectAndCount(HTTPRequestDuration))
}

func TestRecordPayoutItem(t *testing.T) {
	PayoutItemsTotal.Reset()
	before := testutil.ToFloat64(PaidAmountTotal)

	RecordPayoutItem("paid", decimal.RequireFromString("95"))
	RecordPayoutItem("paid", decimal.RequireFromString("9.75"))
	RecordPayoutItem("failed", decimal.RequireFromString("50"))

	assert.Equal(t, float64(2), testutil.ToFloat64(PayoutItemsTotal.WithLabelValues("paid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PayoutItemsTotal.WithLabelValues("failed")))
	assert.InDelta(t, 104.75, testutil.ToFloat64(PaidAmountTotal)-before, 1e-9)
}

func TestRecordBatch(t *testing.T) {
	PayoutBatchesTotal.Reset()

	RecordBatch("cron", "completed", 12)
	RecordBatch("manual", "aborted", 0.3)

	assert.Equal(t, float64(1), testutil.ToFloat64(PayoutBatchesTotal.WithLabelValues("cron", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PayoutBatchesTotal.WithLabelValues("manual", "aborted")))
}

func TestSetHotWalletBalance(t *testing.T) {
	SetHotWalletBalance(decimal.NewFromInt(25), decimal.RequireFromString("1000.5"))

	assert.Equal(t, float64(25), testutil.ToFloat64(HotWalletBalance.WithLabelValues("native")))
	assert.Equal(t, 1000.5, testutil.ToFloat64(HotWalletBalance.WithLabelValues("stable")))
}
