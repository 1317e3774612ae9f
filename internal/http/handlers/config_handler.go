package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/custodial-payouts/backend/internal/http/dto"
	"github.com/custodial-payouts/backend/internal/middleware"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type SettingsService interface {
	Snapshot(ctx context.Context) (map[string]string, error)
	Update(ctx context.Context, actor string, values map[string]string) error
}

type AuditReader interface {
	List(ctx context.Context, limit int) ([]models.AuditLog, error)
}

type ConfigHandler struct {
	settings SettingsService
	audit    AuditReader
	log      *zap.Logger
}

func NewConfigHandler(settings SettingsService, audit AuditReader, log *zap.Logger) *ConfigHandler {
	return &ConfigHandler{settings: settings, audit: audit, log: log}
}

func (h *ConfigHandler) Get(c *fiber.Ctx) error {
	snap, err := h.settings.Snapshot(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: snap})
}

// Update accepts a flat JSON object. Values may be strings, numbers or
// booleans and are stored as text.
func (h *ConfigHandler) Update(c *fiber.Ctx) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &raw); err != nil {
		return badRequest(c, "body must be a JSON object", nil)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := scalarString(v)
		if !ok {
			return badRequest(c, "validation failed", []dto.FieldError{{Field: k, Tag: "scalar", Message: k + " must be a string, number or boolean"}})
		}
		values[k] = s
	}

	if err := h.settings.Update(c.UserContext(), middleware.GetActor(c), values); err != nil {
		return respondError(c, h.log, err)
	}
	return h.Get(c)
}

func scalarString(v json.RawMessage) (string, bool) {
	t := strings.TrimSpace(string(v))
	if t == "" || t == "null" || t[0] == '{' || t[0] == '[' {
		return "", false
	}
	if t[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return s, true
	}
	if t == "true" || t == "false" {
		return t, true
	}
	if _, err := strconv.ParseFloat(t, 64); err != nil {
		return "", false
	}
	return t, true
}

func (h *ConfigHandler) Audit(c *fiber.Ctx) error {
	logs, err := h.audit.List(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
