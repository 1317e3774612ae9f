package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/custodial-payouts/backend/internal/db"
	"github.com/custodial-payouts/backend/internal/events"
	apphttp "github.com/custodial-payouts/backend/internal/http"
	"github.com/custodial-payouts/backend/internal/http/dto"
	"github.com/custodial-payouts/backend/internal/http/handlers"
	"github.com/custodial-payouts/backend/internal/ledger"
	"github.com/custodial-payouts/backend/internal/middleware"
	"github.com/custodial-payouts/backend/internal/repositories"
	"github.com/custodial-payouts/backend/internal/scheduler"
	"github.com/custodial-payouts/backend/internal/services"
	"github.com/custodial-payouts/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	withdrawalRepo := repositories.NewWithdrawalRepo(pool)
	configRepo := repositories.NewConfigRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	settings := services.NewSettings(configRepo, auditRepo, cfg, log)
	withdrawalService := services.NewWithdrawalService(withdrawalRepo, settings, auditRepo, publisher, log)

	// The API can run without a hot wallet; payouts are then left to the worker.
	var engine *services.PayoutEngine
	var trigger *scheduler.Manager
	if cfg.HotWalletSeed != "" {
		ledgerClient, err := ledger.NewTONClient(ctx, cfg, log)
		if err != nil {
			log.Fatal("failed to init ledger client", zap.Error(err))
		}
		engine = services.NewPayoutEngine(withdrawalRepo, ledgerClient, settings, auditRepo, publisher, cfg.TransferTimeout, log)
		if cfg.SchedulerEnabled {
			trigger = scheduler.NewManager(func(ctx context.Context) error {
				_, err := engine.Run(ctx, services.TriggerCron)
				return err
			}, cfg.PayoutRunTimeout, log)
		}
	} else {
		log.Warn("TON_HOT_WALLET_SEED not set, payouts disabled in this process")
	}

	var scheduleService *services.ScheduleService
	if trigger != nil {
		scheduleService = services.NewScheduleService(trigger, settings, auditRepo, publisher, log)
		expr, err := scheduleService.Restore(ctx)
		if err != nil {
			log.Fatal("failed to start payout scheduler", zap.Error(err))
		}
		log.Info("payout scheduler started", zap.String("cron", expr))
		if err := scheduleService.Follow(ctx, subscriber); err != nil {
			log.Error("failed to follow schedule changes", zap.Error(err))
		}
	} else {
		scheduleService = services.NewScheduleService(nil, settings, auditRepo, publisher, log)
	}

	// Handlers
	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService, log)
	var runner handlers.PayoutRunner
	if engine != nil {
		runner = engine
	}
	payoutHandler := handlers.NewPayoutHandler(runner, scheduleService, cfg.PayoutRunTimeout, log)
	configHandler := handlers.NewConfigHandler(settings, auditRepo, log)
	wsHub := handlers.NewWSHub(cfg.JWTSecret, subscriber, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Error("failed to start ws hub", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, withdrawalHandler, payoutHandler, configHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		if trigger != nil {
			select {
			case <-trigger.Stop().Done():
			case <-time.After(cfg.TransferTimeout):
				log.Warn("payout run still in flight at shutdown")
			}
		}
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
