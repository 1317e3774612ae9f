package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodial-payouts/backend/internal/events"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trigger is the part of scheduler.Manager the service drives.
type Trigger interface {
	Start(ctx context.Context, expr string) error
	Replace(expr string) error
	Expression() string
	Next() time.Time
	Running() bool
}

var _ Trigger = (*scheduler.Manager)(nil)

type ScheduleInfo struct {
	Expression string     `json:"expr"`
	Active     bool       `json:"active"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

// ScheduleService changes the payday schedule live. trigger is nil in a
// process that does not run payouts itself; such a process still persists
// and broadcasts the change for the worker to pick up.
type ScheduleService struct {
	trigger    Trigger
	settings   *Settings
	audit      AuditSink
	publisher  events.Publisher
	instanceID string
	log        *zap.Logger
}

func NewScheduleService(trigger Trigger, settings *Settings, audit AuditSink, publisher events.Publisher, log *zap.Logger) *ScheduleService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ScheduleService{
		trigger:    trigger,
		settings:   settings,
		audit:      audit,
		publisher:  publisher,
		instanceID: uuid.NewString(),
		log:        log,
	}
}

// Apply validates expr, swaps the live trigger, persists it and audits.
// An invalid expression changes nothing.
func (s *ScheduleService) Apply(ctx context.Context, actor, expr string) error {
	expr = strings.TrimSpace(expr)
	if _, err := scheduler.Validate(expr); err != nil {
		return err
	}

	if s.trigger != nil {
		var err error
		if s.trigger.Running() {
			err = s.trigger.Replace(expr)
		} else {
			// firings outlive the request that started them
			err = s.trigger.Start(context.WithoutCancel(ctx), expr)
		}
		if err != nil {
			return err
		}
	}

	if err := s.settings.setRaw(ctx, KeyPaydayCron, expr); err != nil {
		return fmt.Errorf("persist payday cron: %w", err)
	}
	if err := s.audit.Append(ctx, actor, models.AuditUpdateCron, expr); err != nil {
		s.log.Warn("audit write failed", zap.String("action", models.AuditUpdateCron), zap.Error(err))
	}

	_ = s.publisher.Publish(ctx, events.StreamSchedule, events.Event{
		Type: events.EventPayoutScheduleChanged,
		Payload: map[string]any{
			"cron":   expr,
			"actor":  actor,
			"origin": s.instanceID,
		},
	})

	s.log.Info("payday schedule applied", zap.String("cron", expr), zap.String("actor", actor))
	return nil
}

// Restore starts the trigger from the persisted expression, falling back to
// the process default when the stored one no longer parses.
func (s *ScheduleService) Restore(ctx context.Context) (string, error) {
	if s.trigger == nil {
		return "", nil
	}
	expr := s.settings.PaydayCron(ctx)
	if _, err := scheduler.Validate(expr); err != nil {
		s.log.Warn("stored payday cron is invalid, using default", zap.String("cron", expr), zap.Error(err))
		expr = s.settings.defaults.PaydayCron
	}
	if err := s.trigger.Start(ctx, expr); err != nil {
		return "", err
	}
	return expr, nil
}

// Follow replaces the local trigger whenever another process applies a new
// schedule.
func (s *ScheduleService) Follow(ctx context.Context, sub events.Subscriber) error {
	if s.trigger == nil {
		return nil
	}
	return sub.Subscribe(ctx, events.StreamSchedule, func(ev events.Event) {
		s.handleScheduleEvent(ev)
	})
}

func (s *ScheduleService) handleScheduleEvent(ev events.Event) {
	if ev.Type != events.EventPayoutScheduleChanged {
		return
	}
	if origin, _ := ev.Payload["origin"].(string); origin == s.instanceID {
		return
	}
	expr, _ := ev.Payload["cron"].(string)
	if expr == "" || expr == s.trigger.Expression() {
		return
	}
	if err := s.trigger.Replace(expr); err != nil {
		s.log.Error("ignoring schedule change", zap.String("cron", expr), zap.Error(err))
		return
	}
	s.log.Info("payday schedule followed", zap.String("cron", expr))
}

func (s *ScheduleService) Current(ctx context.Context) ScheduleInfo {
	if s.trigger == nil || s.trigger.Expression() == "" {
		info := ScheduleInfo{Expression: s.settings.PaydayCron(ctx)}
		if sched, err := scheduler.Validate(info.Expression); err == nil {
			next := sched.Next(time.Now().UTC())
			info.NextRun = &next
		}
		return info
	}
	info := ScheduleInfo{Expression: s.trigger.Expression(), Active: s.trigger.Running()}
	if next := s.trigger.Next(); !next.IsZero() {
		info.NextRun = &next
	}
	return info
}
