package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Runtime config keys. Values are stored as text in the config table.
const (
	KeyFeePercent       = "feePercent"
	KeyMinWithdraw      = "minWithdraw"
	KeyBatchMax         = "batchMax"
	KeyMinNativeForFees = "minNativeForFees"
	KeyPaydayCron       = "paydayCron"
	KeyPayoutWeekday    = "payoutWeekday"
	KeyPayoutSameDay    = "payoutSameDay"
)

// Settings reads runtime config with process-wide defaults. A missing or
// malformed stored value falls back to the default.
type Settings struct {
	store    ConfigStore
	audit    AuditSink
	defaults *config.Config
	log      *zap.Logger
}

func NewSettings(store ConfigStore, audit AuditSink, defaults *config.Config, log *zap.Logger) *Settings {
	return &Settings{store: store, audit: audit, defaults: defaults, log: log}
}

func (s *Settings) raw(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Warn("config read failed, using default", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (s *Settings) decimalValue(ctx context.Context, key string, def decimal.Decimal, valid func(decimal.Decimal) bool) decimal.Decimal {
	v, ok := s.raw(ctx, key)
	if !ok {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !valid(d) {
		s.log.Warn("malformed config value, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return d
}

func nonNegative(d decimal.Decimal) bool { return !d.IsNegative() }

func (s *Settings) FeePercent(ctx context.Context) decimal.Decimal {
	return s.decimalValue(ctx, KeyFeePercent, s.defaults.FeePercent, models.ValidFeePercent)
}

func (s *Settings) MinWithdraw(ctx context.Context) decimal.Decimal {
	return s.decimalValue(ctx, KeyMinWithdraw, s.defaults.MinWithdraw, nonNegative)
}

func (s *Settings) MinNativeForFees(ctx context.Context) decimal.Decimal {
	return s.decimalValue(ctx, KeyMinNativeForFees, s.defaults.MinNativeForFees, nonNegative)
}

func (s *Settings) BatchMax(ctx context.Context) int {
	v, ok := s.raw(ctx, KeyBatchMax)
	if !ok {
		return s.defaults.BatchMax
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		s.log.Warn("malformed config value, using default", zap.String("key", KeyBatchMax), zap.String("value", v))
		return s.defaults.BatchMax
	}
	return n
}

func (s *Settings) PaydayCron(ctx context.Context) string {
	if v, ok := s.raw(ctx, KeyPaydayCron); ok && v != "" {
		return v
	}
	return s.defaults.PaydayCron
}

func (s *Settings) PayoutWeekday(ctx context.Context) time.Weekday {
	v, ok := s.raw(ctx, KeyPayoutWeekday)
	if !ok {
		return s.defaults.PayoutWeekday
	}
	wd, err := parseWeekday(v)
	if err != nil {
		s.log.Warn("malformed config value, using default", zap.String("key", KeyPayoutWeekday), zap.String("value", v))
		return s.defaults.PayoutWeekday
	}
	return wd
}

func (s *Settings) PayoutSameDay(ctx context.Context) bool {
	v, ok := s.raw(ctx, KeyPayoutSameDay)
	if !ok {
		return s.defaults.PayoutSameDay
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.log.Warn("malformed config value, using default", zap.String("key", KeyPayoutSameDay), zap.String("value", v))
		return s.defaults.PayoutSameDay
	}
	return b
}

// parseWeekday accepts 0-6 (Sunday=0) or an English day name.
func parseWeekday(v string) (time.Weekday, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday %d out of range", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(v, name) || strings.EqualFold(v, name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", v)
}

// Snapshot returns every effective setting, stored values over defaults.
func (s *Settings) Snapshot(ctx context.Context) (map[string]string, error) {
	out := map[string]string{
		KeyFeePercent:       s.defaults.FeePercent.String(),
		KeyMinWithdraw:      s.defaults.MinWithdraw.String(),
		KeyBatchMax:         strconv.Itoa(s.defaults.BatchMax),
		KeyMinNativeForFees: s.defaults.MinNativeForFees.String(),
		KeyPaydayCron:       s.defaults.PaydayCron,
		KeyPayoutWeekday:    strconv.Itoa(int(s.defaults.PayoutWeekday)),
		KeyPayoutSameDay:    strconv.FormatBool(s.defaults.PayoutSameDay),
	}
	stored, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Update validates every value first and writes nothing if one is invalid.
// The payday schedule is changed through ScheduleService.Apply only.
func (s *Settings) Update(ctx context.Context, actor string, values map[string]string) error {
	if len(values) == 0 {
		return &models.ValidationError{Field: "config", Msg: "no values"}
	}

	keys := make([]string, 0, len(values))
	for k, v := range values {
		if err := validateSetting(k, strings.TrimSpace(v)); err != nil {
			return err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := s.store.Set(ctx, k, strings.TrimSpace(values[k])); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}

	detail, _ := json.Marshal(values)
	if err := s.audit.Append(ctx, actor, models.AuditUpdateConfig, string(detail)); err != nil {
		s.log.Warn("audit write failed", zap.String("action", models.AuditUpdateConfig), zap.Error(err))
	}
	s.log.Info("config updated", zap.String("actor", actor), zap.Strings("keys", keys))
	return nil
}

func validateSetting(key, value string) error {
	invalid := func(msg string) error { return &models.ValidationError{Field: key, Msg: msg} }

	switch key {
	case KeyFeePercent:
		d, err := decimal.NewFromString(value)
		if err != nil || !models.ValidFeePercent(d) {
			return invalid("must be a number between 0 and 100 with at most 2 decimals")
		}
	case KeyMinWithdraw, KeyMinNativeForFees:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return invalid("must be a non-negative number")
		}
	case KeyBatchMax:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return invalid("must be a positive integer")
		}
	case KeyPayoutWeekday:
		if _, err := parseWeekday(value); err != nil {
			return invalid(err.Error())
		}
	case KeyPayoutSameDay:
		if _, err := strconv.ParseBool(value); err != nil {
			return invalid("must be true or false")
		}
	case KeyPaydayCron:
		return invalid("use the cron apply endpoint")
	default:
		return invalid("unknown config key")
	}
	return nil
}

// setRaw writes without validation or audit; callers audit themselves.
func (s *Settings) setRaw(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, key, value)
}
