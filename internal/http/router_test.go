package http

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/custodial-payouts/backend/internal/http/handlers"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouterApp() *fiber.App {
	log := zap.NewNop()
	cfg := &config.Config{JWTSecret: "s3cret", RateLimitPerMin: 60}
	app := fiber.New()
	SetupRouter(app, cfg, log, nil,
		handlers.NewWithdrawalHandler(nil, log),
		handlers.NewPayoutHandler(nil, nil, time.Second, log),
		handlers.NewConfigHandler(nil, nil, log),
		nil,
	)
	return app
}

func TestRouter_Health(t *testing.T) {
	resp, err := newRouterApp().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_Metrics(t *testing.T) {
	resp, err := newRouterApp().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRouter_AdminRequiresToken(t *testing.T) {
	app := newRouterApp()
	for _, path := range []string{"/api/v1/admin/withdrawals", "/api/v1/admin/cron", "/api/v1/admin/config", "/api/v1/admin/audit"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, path)
	}
}
