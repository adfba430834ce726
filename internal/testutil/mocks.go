package testutil

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

// NewTestLogger creates a logger for testing that only emits errors
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// MockUpdater is a configurable maintenance.PackageUpdater
type MockUpdater struct {
	mu      sync.Mutex
	updates maintenance.Updates
	err     error
	panicV  any
	delay   time.Duration
	calls   int
	started chan struct{}
	release chan struct{}
}

func NewMockUpdater() *MockUpdater {
	return &MockUpdater{}
}

func (m *MockUpdater) SetUpdates(u maintenance.Updates) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = u
}

func (m *MockUpdater) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockUpdater) SetPanic(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicV = v
}

// Block makes the next Update call signal started and wait for Release
func (m *MockUpdater) Block() (started <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = make(chan struct{})
	m.release = make(chan struct{})
	return m.started
}

// Release unblocks a blocked Update call
func (m *MockUpdater) Release() {
	m.mu.Lock()
	release := m.release
	m.mu.Unlock()
	if release != nil {
		close(release)
	}
}

func (m *MockUpdater) Update(ctx context.Context, pluginsEnabled, themesEnabled bool) (maintenance.Updates, error) {
	m.mu.Lock()
	m.calls++
	updates, err, panicV := m.updates, m.err, m.panicV
	started, release := m.started, m.release
	m.started = nil
	m.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if panicV != nil {
		panic(panicV)
	}

	if !pluginsEnabled {
		updates.Plugins = nil
	}
	if !themesEnabled {
		updates.Themes = nil
	}
	return updates, err
}

func (m *MockUpdater) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockInvalidator is a configurable maintenance.CacheInvalidator
type MockInvalidator struct {
	mu      sync.Mutex
	cleared bool
	err     error
	calls   int
}

func NewMockInvalidator(cleared bool) *MockInvalidator {
	return &MockInvalidator{cleared: cleared}
}

func (m *MockInvalidator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockInvalidator) Invalidate(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.cleared, m.err
}

func (m *MockInvalidator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockLogScanner is a configurable maintenance.LogScanner
type MockLogScanner struct {
	mu        sync.Mutex
	lines     []string
	err       error
	lastLimit int
}

func NewMockLogScanner(lines ...string) *MockLogScanner {
	return &MockLogScanner{lines: lines}
}

func (m *MockLogScanner) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockLogScanner) ScanRecentErrors(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	lines := m.lines
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

func (m *MockLogScanner) LastLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLimit
}

// MockSampler is a configurable maintenance.MetricsSampler
type MockSampler struct {
	mu      sync.Mutex
	metrics maintenance.Metrics
	err     error
}

func NewMockSampler(metrics maintenance.Metrics) *MockSampler {
	return &MockSampler{metrics: metrics}
}

func (m *MockSampler) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockSampler) Sample(ctx context.Context) (maintenance.Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return maintenance.Metrics{}, m.err
	}
	return m.metrics, nil
}

// MockRenderer records the reports it renders
type MockRenderer struct {
	mu      sync.Mutex
	err     error
	reports []*maintenance.RunReport
}

func NewMockRenderer() *MockRenderer {
	return &MockRenderer{}
}

func (m *MockRenderer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockRenderer) Render(report *maintenance.RunReport, opts maintenance.RenderOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.reports = append(m.reports, report)
	return "<html>" + opts.SiteName + "</html>", nil
}

func (m *MockRenderer) Rendered() []*maintenance.RunReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*maintenance.RunReport, len(m.reports))
	copy(out, m.reports)
	return out
}

// MockMailer records sent messages
type MockMailer struct {
	mu   sync.Mutex
	sent []maintenance.Message
	err  error
}

func NewMockMailer() *MockMailer {
	return &MockMailer{sent: make([]maintenance.Message, 0)}
}

func (m *MockMailer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockMailer) Send(ctx context.Context, msg maintenance.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockMailer) Sent() []maintenance.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]maintenance.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// SavedState is one SaveRunState call
type SavedState struct {
	LastRun time.Time
	Metrics maintenance.Metrics
}

// MockStateStore records committed run state
type MockStateStore struct {
	mu    sync.Mutex
	saves []SavedState
	err   error
}

func NewMockStateStore() *MockStateStore {
	return &MockStateStore{saves: make([]SavedState, 0)}
}

func (m *MockStateStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockStateStore) SaveRunState(ctx context.Context, lastRun time.Time, metrics maintenance.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, SavedState{LastRun: lastRun, Metrics: metrics})
	return nil
}

func (m *MockStateStore) Saves() []SavedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SavedState, len(m.saves))
	copy(out, m.saves)
	return out
}

// MockObserver counts observed runs
type MockObserver struct {
	mu       sync.Mutex
	outcomes []maintenance.Outcome
	rejected int
}

func NewMockObserver() *MockObserver {
	return &MockObserver{}
}

func (m *MockObserver) ObserveRun(outcome maintenance.Outcome, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *MockObserver) ObserveRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *MockObserver) Outcomes() []maintenance.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]maintenance.Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

func (m *MockObserver) Rejected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected
}
