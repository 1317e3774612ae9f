package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/custodial-payouts/backend/internal/db"
	"github.com/custodial-payouts/backend/internal/events"
	"github.com/custodial-payouts/backend/internal/ledger"
	"github.com/custodial-payouts/backend/internal/metrics"
	"github.com/custodial-payouts/backend/internal/repositories"
	"github.com/custodial-payouts/backend/internal/scheduler"
	"github.com/custodial-payouts/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Worker runs the payday scheduler without the HTTP surface and follows
// schedule changes applied through any API instance.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	withdrawalRepo := repositories.NewWithdrawalRepo(pool)
	configRepo := repositories.NewConfigRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	settings := services.NewSettings(configRepo, auditRepo, cfg, log)

	ledgerClient, err := ledger.NewTONClient(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to init ledger client", zap.Error(err))
	}
	engine := services.NewPayoutEngine(withdrawalRepo, ledgerClient, settings, auditRepo, publisher, cfg.TransferTimeout, log)

	trigger := scheduler.NewManager(func(ctx context.Context) error {
		_, err := engine.Run(ctx, services.TriggerCron)
		return err
	}, cfg.PayoutRunTimeout, log)
	scheduleService := services.NewScheduleService(trigger, settings, auditRepo, publisher, log)

	expr, err := scheduleService.Restore(ctx)
	if err != nil {
		log.Fatal("failed to start payout scheduler", zap.Error(err))
	}
	if err := scheduleService.Follow(ctx, subscriber); err != nil {
		log.Fatal("failed to follow schedule changes", zap.Error(err))
	}

	log.Info("worker started", zap.String("cron", expr), zap.String("hot_wallet", ledgerClient.HotAddress()))

	// Metrics endpoint
	metricsApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	metricsApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "cron": trigger.Expression(), "active": trigger.Running()})
	})
	metricsApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	go func() {
		if err := metricsApp.Listen(fmt.Sprintf(":%s", cfg.WorkerMetricsPort)); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	defer metricsApp.Shutdown()

	// Balance gauges between paydays
	balanceTicker := time.NewTicker(5 * time.Minute)
	defer balanceTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-balanceTicker.C:
			refreshBalances(ctx, ledgerClient, log)
		case <-sigCh:
			log.Info("shutting down worker")
			select {
			case <-trigger.Stop().Done():
			case <-time.After(cfg.TransferTimeout):
				log.Warn("payout run still in flight at shutdown")
			}
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func refreshBalances(ctx context.Context, client ledger.Client, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	bal, err := client.GetBalances(ctx, client.HotAddress())
	if err != nil {
		log.Warn("failed to refresh hot wallet balances", zap.Error(err))
		return
	}
	metrics.SetHotWalletBalance(bal.Native, bal.Stable)
}
