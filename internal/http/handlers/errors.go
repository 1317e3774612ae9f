package handlers

import (
	"errors"

	"github.com/custodial-payouts/backend/internal/http/dto"
	"github.com/custodial-payouts/backend/internal/middleware"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// respondError maps domain errors to status codes. Unknown errors are logged
// and hidden behind a generic message.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	resp := dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)}

	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		resp.Details = []dto.FieldError{{Field: ve.Field, Tag: "invalid", Message: ve.Msg}}
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidSchedule):
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(resp)
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrInsufficientFunds):
		return c.Status(fiber.StatusConflict).JSON(resp)
	}

	log.Error("request failed", zap.String("path", c.Path()), zap.String("request_id", resp.RequestID), zap.Error(err))
	resp.Error = "internal error"
	return c.Status(fiber.StatusInternalServerError).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string, details []dto.FieldError) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Details:   details,
		RequestID: middleware.GetRequestID(c),
	})
}
