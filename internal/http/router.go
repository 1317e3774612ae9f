package http

import (
	"time"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/custodial-payouts/backend/internal/http/handlers"
	"github.com/custodial-payouts/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupRouter registers every route. rdb and wsHub may be nil, which disables
// rate limiting and the websocket feed.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb redis.UniversalClient,
	withdrawalHandler *handlers.WithdrawalHandler,
	payoutHandler *handlers.PayoutHandler,
	configHandler *handlers.ConfigHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	admin := app.Group("/api/v1/admin", middleware.AdminAuth(cfg.JWTSecret, log))
	if rdb != nil {
		admin.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMin, time.Minute, log))
	}

	// Withdrawals
	admin.Post("/withdrawals", withdrawalHandler.Create)
	admin.Get("/withdrawals", withdrawalHandler.List)
	admin.Get("/withdrawals/export.csv", withdrawalHandler.ExportCSV)
	admin.Get("/withdrawals/:id", withdrawalHandler.Get)
	admin.Post("/withdrawals/:id/approve", withdrawalHandler.Approve)

	// Payouts
	admin.Post("/payouts/run", payoutHandler.RunNow)
	admin.Get("/cron", payoutHandler.GetCron)
	admin.Post("/cron/apply", payoutHandler.ApplyCron)

	// Runtime config
	admin.Get("/config", configHandler.Get)
	admin.Post("/config", configHandler.Update)
	admin.Get("/audit", configHandler.Audit)

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}
