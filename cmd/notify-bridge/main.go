package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/custodial-payouts/backend/internal/db"
	"github.com/custodial-payouts/backend/internal/events"
	"go.uber.org/zap"
)

// Notify Bridge subscribes to payout events and forwards them to an
// external webhook (chat bot, ops channel).

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	fwd := newForwarder(cfg.NotifyWebhookURL, cfg.NotifyHTTPTimeout, log)

	if err := subscriber.Subscribe(ctx, events.StreamPayout, func(event events.Event) {
		fwd.Forward(ctx, event)
	}); err != nil {
		log.Fatal("failed to subscribe", zap.String("stream", events.StreamPayout), zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("stream", events.StreamPayout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
