package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/custodial-payouts/backend/internal/events"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTrigger struct {
	mu       sync.Mutex
	expr     string
	running  bool
	replaced int
	startCtx context.Context
}

func (f *fakeTrigger) Start(ctx context.Context, expr string) error {
	if _, err := scheduler.Validate(expr); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expr, f.running, f.startCtx = expr, true, ctx
	return nil
}

func (f *fakeTrigger) Replace(expr string) error {
	if _, err := scheduler.Validate(expr); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expr = expr
	f.replaced++
	return nil
}

func (f *fakeTrigger) Expression() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expr
}

func (f *fakeTrigger) Next() time.Time {
	sched, err := scheduler.Validate(f.Expression())
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now().UTC())
}

func (f *fakeTrigger) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeSubscriber struct {
	handler func(events.Event)
}

func (s *fakeSubscriber) Subscribe(_ context.Context, _ string, handler func(events.Event)) error {
	s.handler = handler
	return nil
}

func newScheduleHarness(kv ...string) (*ScheduleService, *fakeTrigger, *harness) {
	h := newHarness(kv...)
	trig := &fakeTrigger{}
	return NewScheduleService(trig, h.settings, h.audit, h.publisher, zap.NewNop()), trig, h
}

func TestSchedule_RestoreUsesStoredExpression(t *testing.T) {
	svc, trig, _ := newScheduleHarness(KeyPaydayCron, "0 9 * * 5")

	expr, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 5", expr)
	assert.Equal(t, "0 9 * * 5", trig.Expression())
	assert.True(t, trig.Running())
}

func TestSchedule_RestoreFallsBackOnInvalidStoredValue(t *testing.T) {
	svc, trig, _ := newScheduleHarness(KeyPaydayCron, "every monday")

	expr, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0 10 * * 1", expr)
	assert.Equal(t, "0 10 * * 1", trig.Expression())
}

func TestSchedule_Apply(t *testing.T) {
	svc, trig, h := newScheduleHarness()
	_, err := svc.Restore(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.Apply(context.Background(), "alice", " 0 12 * * 1 "))
	assert.Equal(t, "0 12 * * 1", trig.Expression())
	assert.Equal(t, 1, trig.replaced)
	assert.Equal(t, "0 12 * * 1", h.cfgStore.vals[KeyPaydayCron])

	entries := h.audit.byAction(models.AuditUpdateCron)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, "0 12 * * 1", entries[0].Detail)
	assert.Contains(t, h.publisher.types(), events.EventPayoutScheduleChanged)
}

func TestSchedule_ApplyInvalidChangesNothing(t *testing.T) {
	svc, trig, h := newScheduleHarness()
	_, err := svc.Restore(context.Background())
	require.NoError(t, err)

	err = svc.Apply(context.Background(), "alice", "0 25 * * 1")
	assert.ErrorIs(t, err, models.ErrInvalidSchedule)
	assert.Equal(t, "0 10 * * 1", trig.Expression())
	_, stored := h.cfgStore.vals[KeyPaydayCron]
	assert.False(t, stored)
	assert.Empty(t, h.audit.byAction(models.AuditUpdateCron))
}

func TestSchedule_ApplyWithoutLocalTrigger(t *testing.T) {
	h := newHarness()
	svc := NewScheduleService(nil, h.settings, h.audit, h.publisher, zap.NewNop())

	require.NoError(t, svc.Apply(context.Background(), "alice", "@weekly"))
	assert.Equal(t, "@weekly", h.cfgStore.vals[KeyPaydayCron])

	info := svc.Current(context.Background())
	assert.Equal(t, "@weekly", info.Expression)
	assert.False(t, info.Active)
	require.NotNil(t, info.NextRun)
}

func TestSchedule_FollowIgnoresOwnEvents(t *testing.T) {
	svc, trig, _ := newScheduleHarness()
	_, err := svc.Restore(context.Background())
	require.NoError(t, err)

	sub := &fakeSubscriber{}
	require.NoError(t, svc.Follow(context.Background(), sub))
	require.NotNil(t, sub.handler)

	sub.handler(events.Event{Type: events.EventPayoutScheduleChanged, Payload: map[string]any{
		"cron": "0 8 * * 2", "origin": svc.instanceID,
	}})
	assert.Equal(t, "0 10 * * 1", trig.Expression())

	sub.handler(events.Event{Type: events.EventPayoutScheduleChanged, Payload: map[string]any{
		"cron": "0 8 * * 2", "origin": "api-1",
	}})
	assert.Equal(t, "0 8 * * 2", trig.Expression())

	sub.handler(events.Event{Type: events.EventPayoutScheduleChanged, Payload: map[string]any{
		"cron": "garbage", "origin": "api-1",
	}})
	assert.Equal(t, "0 8 * * 2", trig.Expression(), "invalid broadcast keeps the current trigger")
}

func TestSchedule_CurrentReportsLiveTrigger(t *testing.T) {
	svc, _, _ := newScheduleHarness()
	_, err := svc.Restore(context.Background())
	require.NoError(t, err)

	info := svc.Current(context.Background())
	assert.Equal(t, "0 10 * * 1", info.Expression)
	assert.True(t, info.Active)
	require.NotNil(t, info.NextRun)
	assert.Equal(t, time.Monday, info.NextRun.Weekday())
	assert.Equal(t, 10, info.NextRun.Hour())
}

func TestSchedule_ApplyOnStoppedTriggerOutlivesRequest(t *testing.T) {
	svc, trig, _ := newScheduleHarness()

	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Apply(reqCtx, "alice", "0 9 * * 1"))
	cancel()

	require.True(t, trig.Running())
	require.NotNil(t, trig.startCtx)
	assert.NoError(t, trig.startCtx.Err(), "trigger context must not end with the request")
}
