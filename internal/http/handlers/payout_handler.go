package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/custodial-payouts/backend/internal/http/dto"
	"github.com/custodial-payouts/backend/internal/middleware"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type PayoutRunner interface {
	RunAs(ctx context.Context, trigger, actor string) (*services.BatchResult, error)
}

type ScheduleService interface {
	Apply(ctx context.Context, actor, expr string) error
	Current(ctx context.Context) services.ScheduleInfo
}

type PayoutHandler struct {
	runner     PayoutRunner // nil when this process has no ledger
	schedule   ScheduleService
	runTimeout time.Duration
	log        *zap.Logger
}

func NewPayoutHandler(runner PayoutRunner, schedule ScheduleService, runTimeout time.Duration, log *zap.Logger) *PayoutHandler {
	return &PayoutHandler{runner: runner, schedule: schedule, runTimeout: runTimeout, log: log}
}

// RunNow executes a payout batch synchronously. The batch is detached from
// the request so a dropped client cannot stop it halfway.
func (h *PayoutHandler) RunNow(c *fiber.Ctx) error {
	if h.runner == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error:     "payouts are not enabled on this instance",
			RequestID: middleware.GetRequestID(c),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
	defer cancel()

	actor := middleware.GetActor(c)
	h.log.Info("manual payout run requested", zap.String("actor", actor))
	res, err := h.runner.RunAs(ctx, services.TriggerManual, actor)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientFunds) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error:     err.Error(),
				RequestID: middleware.GetRequestID(c),
				Data:      res,
			})
		}
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *PayoutHandler) GetCron(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.schedule.Current(c.UserContext())})
}

func (h *PayoutHandler) ApplyCron(c *fiber.Ctx) error {
	var req dto.ApplyCronRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request", nil)
	}
	if errs := dto.Validate(req); len(errs) > 0 {
		return badRequest(c, "validation failed", errs)
	}

	if err := h.schedule.Apply(c.UserContext(), middleware.GetActor(c), req.Expr); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.schedule.Current(c.UserContext())})
}
