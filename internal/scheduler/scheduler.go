// Package scheduler owns the single recurring payout trigger.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/custodial-payouts/backend/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Expressions are evaluated in UTC. Both the classic 5-field form and the
// 6-field form with leading seconds are accepted, plus descriptors such as
// @weekly or @every 1h.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is one firing of the trigger. Errors are logged, never fatal.
type Job func(ctx context.Context) error

// Validate parses expr without scheduling anything.
func Validate(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", models.ErrInvalidSchedule)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", models.ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Manager holds exactly one cron entry. Start, Replace and Stop are
// serialized so two overlapping Replace calls can never leave two triggers.
type Manager struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	expr     string
	schedule cron.Schedule
	running  bool

	job     Job
	timeout time.Duration
	baseCtx context.Context
	log     *zap.Logger
}

// NewManager builds a stopped manager. timeout bounds a single firing.
func NewManager(job Job, timeout time.Duration, log *zap.Logger) *Manager {
	cl := cronLogger{log: log.Named("cron")}
	return &Manager{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		job:     job,
		timeout: timeout,
		baseCtx: context.Background(),
		log:     log,
	}
}

// Start installs expr and starts ticking. Calling Start on a running manager
// behaves like Replace.
func (m *Manager) Start(ctx context.Context, expr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.install(expr); err != nil {
		return err
	}
	if !m.running {
		m.baseCtx = ctx
		m.cron.Start()
		m.running = true
		m.log.Info("payout scheduler started", zap.String("cron", m.expr), zap.Time("next", m.nextLocked()))
	}
	return nil
}

// Replace swaps the trigger atomically. An invalid expression leaves the
// previous trigger installed.
func (m *Manager) Replace(expr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.install(expr); err != nil {
		return err
	}
	m.log.Info("payout schedule replaced", zap.String("cron", m.expr), zap.Time("next", m.nextLocked()))
	return nil
}

func (m *Manager) install(expr string) error {
	sched, err := Validate(expr)
	if err != nil {
		return err
	}
	if m.entry != 0 {
		m.cron.Remove(m.entry)
	}
	m.entry = m.cron.Schedule(sched, cron.FuncJob(m.fire))
	m.expr = strings.TrimSpace(expr)
	m.schedule = sched
	return nil
}

// Stop halts the trigger. The returned context is done once a firing that is
// already in flight has returned.
func (m *Manager) Stop() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	m.running = false
	m.log.Info("payout scheduler stopping")
	return m.cron.Stop()
}

// Expression returns the installed expression, empty before Start.
func (m *Manager) Expression() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expr
}

// Next returns the next firing time in UTC, zero when nothing is installed.
func (m *Manager) Next() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLocked()
}

func (m *Manager) nextLocked() time.Time {
	if m.schedule == nil {
		return time.Time{}
	}
	return m.schedule.Next(time.Now().UTC())
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) fire() {
	m.mu.Lock()
	parent := m.baseCtx
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, m.timeout)
	defer cancel()

	start := time.Now()
	if err := m.job(ctx); err != nil {
		m.log.Error("scheduled payout run failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	m.log.Debug("scheduled payout run finished", zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
