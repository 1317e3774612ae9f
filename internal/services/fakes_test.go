package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodial-payouts/backend/internal/config"
	"github.com/custodial-payouts/backend/internal/events"
	"github.com/custodial-payouts/backend/internal/ledger"
	"github.com/custodial-payouts/backend/internal/models"
	"github.com/custodial-payouts/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memWithdrawals mirrors the SQL semantics of WithdrawalRepo in memory.
type memWithdrawals struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]*models.Withdrawal
	paidErr error
	// onClaim runs before each claim; returning false loses the claim
	onClaim func(id int64) bool
}

func newMemWithdrawals() *memWithdrawals {
	return &memWithdrawals{rows: map[int64]*models.Withdrawal{}}
}

func clone(w *models.Withdrawal) *models.Withdrawal {
	c := *w
	if w.TxHash != nil {
		tx := *w.TxHash
		c.TxHash = &tx
	}
	if w.ScheduledFor != nil {
		d := *w.ScheduledFor
		c.ScheduledFor = &d
	}
	return &c
}

func (m *memWithdrawals) Create(_ context.Context, userID int64, amount, fee, net decimal.Decimal, wallet string) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now().UTC()
	w := &models.Withdrawal{
		ID: m.nextID, UserID: userID, AmountRequested: amount, FeePercent: fee, AmountNet: net,
		Wallet: wallet, Status: models.WithdrawalStatusRequested, CreatedAt: now, UpdatedAt: now,
	}
	m.rows[w.ID] = w
	return clone(w), nil
}

// put inserts a row directly, bypassing the service.
func (m *memWithdrawals) put(w models.Withdrawal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID > m.nextID {
		m.nextID = w.ID
	}
	m.rows[w.ID] = clone(&w)
}

func (m *memWithdrawals) get(id int64) *models.Withdrawal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.rows[id])
}

func (m *memWithdrawals) GetByID(_ context.Context, id int64) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(w), nil
}

func (m *memWithdrawals) Approve(_ context.Context, id int64, scheduledFor time.Time) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if w.Status != models.WithdrawalStatusRequested && w.Status != models.WithdrawalStatusFailed {
		return clone(w), models.ErrInvalidTransition
	}
	d := models.UTCDate(scheduledFor)
	w.Status = models.WithdrawalStatusApproved
	w.ScheduledFor = &d
	w.TxHash = nil
	w.UpdatedAt = time.Now().UTC()
	return clone(w), nil
}

func (m *memWithdrawals) SelectDueForPayout(_ context.Context, date time.Time, limit int) ([]models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := models.UTCDate(date)
	var out []models.Withdrawal
	for _, w := range m.rows {
		if w.Status == models.WithdrawalStatusApproved && w.ScheduledFor != nil && w.ScheduledFor.Equal(day) {
			out = append(out, *clone(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memWithdrawals) TransitionIfStatus(_ context.Context, id int64, expected, next string) (bool, error) {
	if !models.IsValidTransition(expected, next) {
		return false, models.ErrInvalidTransition
	}
	if m.onClaim != nil && !m.onClaim(id) {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok || w.Status != expected {
		return false, nil
	}
	w.Status = next
	return true, nil
}

func (m *memWithdrawals) MarkPaid(_ context.Context, id int64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paidErr != nil {
		return m.paidErr
	}
	w, ok := m.rows[id]
	if !ok || w.Status != models.WithdrawalStatusInProgress {
		return models.ErrInvalidTransition
	}
	w.Status = models.WithdrawalStatusPaid
	w.TxHash = &txHash
	return nil
}

func (m *memWithdrawals) MarkFailed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.rows[id]
	if !ok || w.Status != models.WithdrawalStatusInProgress {
		return models.ErrInvalidTransition
	}
	w.Status = models.WithdrawalStatusFailed
	w.TxHash = nil
	return nil
}

func (m *memWithdrawals) List(_ context.Context, f repositories.WithdrawalFilter) ([]models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range m.rows {
		if f.Status != nil && w.Status != *f.Status {
			continue
		}
		out = append(out, *clone(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memConfig struct {
	mu   sync.Mutex
	vals map[string]string
	err  error
}

func newMemConfig(kv ...string) *memConfig {
	c := &memConfig{vals: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		c.vals[kv[i]] = kv[i+1]
	}
	return c
}

func (c *memConfig) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	v, ok := c.vals[key]
	return v, ok, nil
}

func (c *memConfig) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.vals[key] = value
	return nil
}

func (c *memConfig) All(_ context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.vals))
	for k, v := range c.vals {
		out[k] = v
	}
	return out, c.err
}

type auditEntry struct {
	Actor, Action, Detail string
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *memAudit) Append(_ context.Context, actor, action, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{actor, action, detail})
	return nil
}

func (a *memAudit) byAction(action string) []auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditEntry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type transferCall struct {
	Dest   string
	Amount decimal.Decimal
}

type fakeLedger struct {
	mu       sync.Mutex
	balances ledger.Balances
	balErr   error
	balCalls int
	calls    []transferCall
	transfer func(ctx context.Context, dest string, amount decimal.Decimal) (string, error)
}

func (l *fakeLedger) HotAddress() string { return "UQhot" }

func (l *fakeLedger) GetBalances(_ context.Context, _ string) (ledger.Balances, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balCalls++
	return l.balances, l.balErr
}

func (l *fakeLedger) Transfer(ctx context.Context, dest string, amount decimal.Decimal) (string, error) {
	l.mu.Lock()
	l.calls = append(l.calls, transferCall{dest, amount})
	fn := l.transfer
	l.mu.Unlock()
	if fn == nil {
		return "tx123", nil
	}
	return fn(ctx, dest, amount)
}

func (l *fakeLedger) transfers() []transferCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transferCall(nil), l.calls...)
}

func richBalances() ledger.Balances {
	return ledger.Balances{Native: decimal.NewFromInt(100), Stable: decimal.NewFromInt(1_000_000)}
}

func testConfig() *config.Config {
	return &config.Config{
		FeePercent:       decimal.NewFromInt(5),
		MinWithdraw:      decimal.NewFromInt(10),
		MinNativeForFees: decimal.NewFromInt(20),
		BatchMax:         100,
		PaydayCron:       "0 10 * * 1",
		PayoutWeekday:    time.Monday,
		PayoutSameDay:    true,
		TransferTimeout:  time.Second,
	}
}

// 2024-01-08 is a Monday.
var (
	monday      = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	mondayTen   = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	tuesdayNoon = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	store     *memWithdrawals
	cfgStore  *memConfig
	audit     *memAudit
	publisher *recordingPublisher
	ledger    *fakeLedger
	settings  *Settings
	svc       *WithdrawalService
	engine    *PayoutEngine
}

func newHarness(kv ...string) *harness {
	h := &harness{
		store:     newMemWithdrawals(),
		cfgStore:  newMemConfig(kv...),
		audit:     &memAudit{},
		publisher: &recordingPublisher{},
		ledger:    &fakeLedger{balances: richBalances()},
	}
	log := zap.NewNop()
	cfg := testConfig()
	h.settings = NewSettings(h.cfgStore, h.audit, cfg, log)
	h.svc = NewWithdrawalService(h.store, h.settings, h.audit, h.publisher, log)
	h.svc.now = func() time.Time { return mondayTen }
	h.engine = NewPayoutEngine(h.store, h.ledger, h.settings, h.audit, h.publisher, cfg.TransferTimeout, log)
	h.engine.now = func() time.Time { return mondayTen }
	return h
}

// approvedFor stores an approved withdrawal due on day.
func approvedFor(id int64, net string, day time.Time) models.Withdrawal {
	d := models.UTCDate(day)
	return models.Withdrawal{
		ID:              id,
		UserID:          id * 10,
		AmountRequested: decimal.RequireFromString(net),
		FeePercent:      decimal.Zero,
		AmountNet:       decimal.RequireFromString(net),
		Wallet:          "UQuser" + decimal.NewFromInt(id).String(),
		Status:          models.WithdrawalStatusApproved,
		ScheduledFor:    &d,
	}
}
