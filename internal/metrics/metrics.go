package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payouts_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_withdrawals_total",
			Help: "Withdrawal lifecycle events",
		},
		[]string{"event"},
	)

	PayoutItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_items_total",
			Help: "Payout batch items by outcome",
		},
		[]string{"outcome"},
	)

	PayoutBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_batches_total",
			Help: "Payout batch runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	PayoutBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payouts_batch_duration_seconds",
			Help:    "Payout batch duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	PaidAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payouts_paid_amount_total",
			Help: "Total net stable amount paid out",
		},
	)

	HotWalletBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payouts_hot_wallet_balance",
			Help: "Hot wallet balance observed at the last batch pre-flight",
		},
		[]string{"asset"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordWithdrawal(event string) {
	WithdrawalsTotal.WithLabelValues(event).Inc()
}

func RecordPayoutItem(outcome string, amount decimal.Decimal) {
	PayoutItemsTotal.WithLabelValues(outcome).Inc()
	if outcome == "paid" {
		PaidAmountTotal.Add(amount.InexactFloat64())
	}
}

func RecordBatch(trigger, outcome string, seconds float64) {
	PayoutBatchesTotal.WithLabelValues(trigger, outcome).Inc()
	PayoutBatchDuration.Observe(seconds)
}

func SetHotWalletBalance(native, stable decimal.Decimal) {
	HotWalletBalance.WithLabelValues("native").Set(native.InexactFloat64())
	HotWalletBalance.WithLabelValues("stable").Set(stable.InexactFloat64())
}
