package middleware

import (
	"strings"

	"github.com/custodial-payouts/backend/internal/auth"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxActor = "actor"

// AdminAuth requires a Bearer admin token and stores the admin name as the
// request actor.
func AdminAuth(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(secret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxActor, claims.Admin)
		return c.Next()
	}
}

// GetActor returns the authenticated admin, empty on public routes.
func GetActor(c *fiber.Ctx) string {
	actor, _ := c.Locals(CtxActor).(string)
	return actor
}
