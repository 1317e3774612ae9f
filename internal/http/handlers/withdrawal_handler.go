package handlers

import (
	"context"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/custodial-payouts/backend/internal/http/dto"
	"github.com/custodial-payouts/backend/internal/middleware"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/repositories"
	"github.com/custodial-payouts/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type WithdrawalService interface {
	Request(ctx context.Context, actor string, in services.CreateWithdrawalInput) (*models.Withdrawal, error)
	Approve(ctx context.Context, actor string, id int64) (*models.Withdrawal, error)
	Get(ctx context.Context, id int64) (*models.Withdrawal, error)
	List(ctx context.Context, f repositories.WithdrawalFilter) ([]models.Withdrawal, error)
}

type WithdrawalHandler struct {
	withdrawals WithdrawalService
	log         *zap.Logger
}

func NewWithdrawalHandler(withdrawals WithdrawalService, log *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, log: log}
}

func (h *WithdrawalHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateWithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request", nil)
	}
	if errs := dto.Validate(req); len(errs) > 0 {
		return badRequest(c, "validation failed", errs)
	}

	w, err := h.withdrawals.Request(c.UserContext(), middleware.GetActor(c), services.CreateWithdrawalInput{
		UserID: req.UserID,
		Amount: req.Amount,
		Wallet: req.Wallet,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: w})
}

func (h *WithdrawalHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "invalid withdrawal id", nil)
	}
	w, err := h.withdrawals.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: w})
}

func (h *WithdrawalHandler) Approve(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "invalid withdrawal id", nil)
	}
	w, err := h.withdrawals.Approve(c.UserContext(), middleware.GetActor(c), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: w})
}

func (h *WithdrawalHandler) List(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return badRequest(c, err.Error(), nil)
	}
	items, err := h.withdrawals.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if items == nil {
		items = []models.Withdrawal{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: items})
}

var csvHeader = []string{
	"id", "user_id", "amount_requested", "fee_percent", "amount_net", "wallet",
	"status", "tx_hash", "scheduled_for", "created_at", "updated_at",
}

// ExportCSV streams the filtered withdrawals as CSV.
func (h *WithdrawalHandler) ExportCSV(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return badRequest(c, err.Error(), nil)
	}
	if c.Query("limit") == "" {
		filter.Limit = 500
	}
	items, err := h.withdrawals.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="withdrawals.csv"`)

	w := csv.NewWriter(c)
	_ = w.Write(csvHeader)
	for _, it := range items {
		tx := ""
		if it.TxHash != nil {
			tx = *it.TxHash
		}
		_ = w.Write([]string{
			strconv.FormatInt(it.ID, 10),
			strconv.FormatInt(it.UserID, 10),
			it.AmountRequested.String(),
			it.FeePercent.String(),
			it.AmountNet.String(),
			it.Wallet,
			it.Status,
			tx,
			it.ScheduledDate(),
			it.CreatedAt.UTC().Format(time.RFC3339),
			it.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	return w.Error()
}

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.ErrBadRequest
	}
	return id, nil
}

func parseFilter(c *fiber.Ctx) (repositories.WithdrawalFilter, error) {
	f := repositories.WithdrawalFilter{Limit: c.QueryInt("limit", 100), Offset: c.QueryInt("offset", 0)}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}
	if v := c.Query("user_id"); v != "" {
		uid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fiber.NewError(fiber.StatusBadRequest, "invalid user_id")
		}
		f.UserID = &uid
	}
	return f, nil
}
