package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/custodial-payouts/backend/internal/events"
	"go.uber.org/zap"
)

type notification struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload"`
}

type forwarder struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func newForwarder(url string, timeout time.Duration, log *zap.Logger) *forwarder {
	return &forwarder{url: url, client: &http.Client{Timeout: timeout}, log: log}
}

// Forward posts one event. Delivery is best effort; failures are logged and
// dropped.
func (f *forwarder) Forward(ctx context.Context, event events.Event) {
	text := notificationText(event)
	if text == "" {
		return
	}

	body, err := json.Marshal(notification{Type: event.Type, Text: text, Payload: event.Payload})
	if err != nil {
		f.log.Warn("failed to encode notification", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.log.Warn("failed to build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("failed to forward notification", zap.String("type", event.Type), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		f.log.Warn("notification webhook returned non-2xx", zap.String("type", event.Type), zap.Int("status", resp.StatusCode))
		return
	}
	f.log.Info("notification forwarded", zap.String("type", event.Type))
}

// notificationText renders the events worth a human's attention. Other
// events return "".
func notificationText(event events.Event) string {
	p := event.Payload
	switch event.Type {
	case events.EventPayoutItemFailed:
		return fmt.Sprintf("Payout failed: withdrawal %v (%v USDT): %v", p["withdrawal_id"], p["amount_net"], p["error"])
	case events.EventPayoutBatchCompleted:
		return fmt.Sprintf("Payout batch %v finished: %v paid, %v failed, %v skipped", p["date"], p["paid"], p["failed"], p["skipped"])
	case events.EventPayoutBatchAborted:
		return fmt.Sprintf("Payout batch %v aborted: %v balance %v below required %v", p["date"], p["asset"], p["available"], p["required"])
	}
	return ""
}
