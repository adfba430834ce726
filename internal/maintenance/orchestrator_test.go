package maintenance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
	"github.com/livinlefevreloca/upkeep/internal/testutil"
)

var testStart = time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)

type fixture struct {
	updater  *testutil.MockUpdater
	cache    *testutil.MockInvalidator
	logs     *testutil.MockLogScanner
	sampler  *testutil.MockSampler
	renderer *testutil.MockRenderer
	mailer   *testutil.MockMailer
	state    *testutil.MockStateStore
	observer *testutil.MockObserver
	recorder *maintenance.StepRecorder
	clock    *testclock.Clock
	location *time.Location
	settings maintenance.Settings
}

func newFixture() *fixture {
	return &fixture{
		updater:  testutil.NewMockUpdater(),
		cache:    testutil.NewMockInvalidator(true),
		logs:     testutil.NewMockLogScanner(),
		sampler:  testutil.NewMockSampler(maintenance.Metrics{ServerInfo: "nginx", StorageBytes: 2048}),
		renderer: testutil.NewMockRenderer(),
		mailer:   testutil.NewMockMailer(),
		state:    testutil.NewMockStateStore(),
		observer: testutil.NewMockObserver(),
		recorder: maintenance.NewStepRecorder(),
		clock:    testclock.NewClock(testStart),
		location: time.UTC,
		settings: maintenance.Settings{
			Frequency:      maintenance.FrequencyWeekly,
			RecipientEmail: "ops@example.com",
			UpdatePlugins:  true,
			UpdateThemes:   true,
		},
	}
}

func (f *fixture) orchestrator(t *testing.T) *maintenance.Orchestrator {
	t.Helper()

	o, err := maintenance.NewOrchestrator(maintenance.Dependencies{
		Settings: maintenance.StaticSettings(f.settings),
		Updater:  f.updater,
		Cache:    f.cache,
		Logs:     f.logs,
		Sampler:  f.sampler,
		Renderer: f.renderer,
		Mailer:   f.mailer,
		State:    f.state,
		Observer: f.observer,
	}, maintenance.Options{
		SiteName: "example.org",
		Clock:    f.clock,
		Location: f.location,
		Logger:   testutil.NewTestLogger(),
		Recorder: f.recorder,
	})
	require.NoError(t, err)
	return o
}

var fullPath = []maintenance.Step{
	maintenance.StepUpdate,
	maintenance.StepCache,
	maintenance.StepLogScan,
	maintenance.StepMetrics,
	maintenance.StepRender,
	maintenance.StepDeliver,
	maintenance.StepCommit,
}

func TestNewOrchestrator_MissingDependency(t *testing.T) {
	_, err := maintenance.NewOrchestrator(maintenance.Dependencies{}, maintenance.Options{})
	assert.Error(t, err)
}

func TestRun_ReportDatedInSiteTimezone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	f := newFixture()
	lateEvening := time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)
	f.clock = testclock.NewClock(lateEvening)
	f.location = berlin

	outcome, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcome.Report)

	assert.True(t, outcome.Report.StartedAt.Equal(lateEvening))
	assert.Equal(t, berlin, outcome.Report.StartedAt.Location())

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Maintenance Report - example.org - 2026-10-19", sent[0].Subject)
}

func TestRun_HappyPath(t *testing.T) {
	f := newFixture()
	f.updater.SetUpdates(maintenance.Updates{
		Plugins: []maintenance.UpdateOutcome{maintenance.Succeeded("akismet", "5.0", "5.1")},
	})
	f.logs = testutil.NewMockLogScanner("PHP Warning: one", "PHP Fatal error: two")

	outcome, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, maintenance.StatusSucceeded, outcome.Status)
	assert.True(t, outcome.Committed)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, fullPath, f.recorder.Path())

	report := outcome.Report
	require.NotNil(t, report)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, testStart, report.StartedAt)
	assert.Len(t, report.Updates.Plugins, 1)
	assert.NotNil(t, report.Updates.Themes)
	assert.Empty(t, report.Updates.Themes)
	assert.True(t, report.CacheCleared)
	assert.Equal(t, []string{"PHP Warning: one", "PHP Fatal error: two"}, report.ErrorLines)
	assert.Equal(t, "nginx", report.Metrics.ServerInfo)
	require.Len(t, report.Tasks, 4)
	for _, task := range report.Tasks {
		assert.False(t, task.StartedAt.Before(report.StartedAt), "task %s started before the run", task.Step)
	}

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ops@example.com", sent[0].To)
	assert.Equal(t, "Maintenance Report - example.org - 2026-10-18", sent[0].Subject)
	assert.Equal(t, "<html>example.org</html>", sent[0].HTML)

	saves := f.state.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, report.Metrics, saves[0].Metrics)
	assert.Equal(t, testStart, saves[0].LastRun)

	assert.Len(t, f.observer.Outcomes(), 1)
}

func TestRun_DefaultErrorLogCap(t *testing.T) {
	f := newFixture()
	f.settings.ErrorLogCap = 0

	_, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maintenance.DefaultErrorLogCap, f.logs.LastLimit())
}

func TestRun_DisabledClasses(t *testing.T) {
	f := newFixture()
	f.settings.UpdatePlugins = false
	f.settings.UpdateThemes = false
	f.updater.SetUpdates(maintenance.Updates{
		Plugins: []maintenance.UpdateOutcome{maintenance.Succeeded("akismet", "5.0", "5.1")},
	})

	outcome, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	u := outcome.Report.Updates
	assert.False(t, u.PluginsEnabled)
	assert.False(t, u.ThemesEnabled)
	assert.Empty(t, u.Plugins)
	assert.Empty(t, u.Themes)
}

func TestRun_TaskIsolation(t *testing.T) {
	tests := []struct {
		name   string
		breaks func(f *fixture)
		failed maintenance.Step
	}{
		{
			name:   "updater error",
			breaks: func(f *fixture) { f.updater.SetError(errors.New("wp-cli missing")) },
			failed: maintenance.StepUpdate,
		},
		{
			name:   "updater panic",
			breaks: func(f *fixture) { f.updater.SetPanic("nil map write") },
			failed: maintenance.StepUpdate,
		},
		{
			name:   "cache error",
			breaks: func(f *fixture) { f.cache.SetError(errors.New("permission denied")) },
			failed: maintenance.StepCache,
		},
		{
			name:   "log scan error",
			breaks: func(f *fixture) { f.logs.SetError(errors.New("read error")) },
			failed: maintenance.StepLogScan,
		},
		{
			name:   "sampler error",
			breaks: func(f *fixture) { f.sampler.SetError(errors.New("probe timeout")) },
			failed: maintenance.StepMetrics,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.breaks(f)

			outcome, err := f.orchestrator(t).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, maintenance.StatusCompletedWithIssues, outcome.Status)
			assert.Equal(t, fullPath, f.recorder.Path())

			failures := outcome.TaskFailures()
			require.Len(t, failures, 1)
			assert.Equal(t, tt.failed, failures[0].Step)

			// The other fields are still populated.
			report := outcome.Report
			assert.NotNil(t, report.Updates.Plugins)
			assert.NotNil(t, report.Updates.Themes)
			assert.NotNil(t, report.ErrorLines)
			if tt.failed != maintenance.StepMetrics {
				assert.Equal(t, "nginx", report.Metrics.ServerInfo)
			}
			if tt.failed != maintenance.StepCache {
				assert.True(t, report.CacheCleared)
			}

			assert.Len(t, f.renderer.Rendered(), 1)
			assert.Len(t, f.mailer.Sent(), 1)
			assert.Len(t, f.state.Saves(), 1)
		})
	}
}

func TestRun_PanicIsTaskFailure(t *testing.T) {
	f := newFixture()
	f.updater.SetPanic("boom")

	outcome, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	failures := outcome.TaskFailures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, maintenance.ErrTaskPanicked)
}

func TestRun_AllTasksFail(t *testing.T) {
	f := newFixture()
	f.updater.SetError(errors.New("a"))
	f.cache.SetError(errors.New("b"))
	f.logs.SetError(errors.New("c"))
	f.sampler.SetError(errors.New("d"))

	outcome, err := f.orchestrator(t).Run(context.Background())
	assert.ErrorIs(t, err, maintenance.ErrAllTasksFailed)
	assert.Equal(t, maintenance.StatusFailed, outcome.Status)
	assert.True(t, outcome.Committed, "state is still committed when every task fails")
	assert.Len(t, outcome.TaskFailures(), 4)

	// Still rendered, delivered, and committed.
	assert.Len(t, f.mailer.Sent(), 1)
	assert.Len(t, f.state.Saves(), 1)
}

func TestRun_DeliveryFailure(t *testing.T) {
	f := newFixture()
	f.mailer.SetError(errors.New("smtp: connection refused"))

	outcome, err := f.orchestrator(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, maintenance.StatusCompletedWithIssues, outcome.Status)
	assert.True(t, outcome.Committed)
	assert.True(t, outcome.DeliveryFailed())
	assert.Empty(t, outcome.TaskFailures())
	assert.Equal(t, fullPath, f.recorder.Path())
	assert.Len(t, f.state.Saves(), 1)
}

func TestRun_RenderFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.renderer.SetError(errors.New("template: bad"))

	outcome, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, maintenance.StatusFailed, outcome.Status)
	assert.Equal(t, fullPath[:5], f.recorder.Path())
	assert.Empty(t, f.mailer.Sent())
	assert.Empty(t, f.state.Saves())
}

func TestRun_CommitFailure(t *testing.T) {
	f := newFixture()
	f.state.SetError(errors.New("database is locked"))

	outcome, err := f.orchestrator(t).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, maintenance.StatusFailed, outcome.Status)
	assert.False(t, outcome.Committed)
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestRun_CancelledBeforeRender(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.orchestrator(t).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, maintenance.StatusFailed, outcome.Status)
	assert.Empty(t, f.mailer.Sent())
	assert.Empty(t, f.state.Saves())
}

func TestRun_Reentrancy(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t)
	started := f.updater.Block()

	var (
		wg      sync.WaitGroup
		first   maintenance.Outcome
		firstEr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstEr = o.Run(context.Background())
	}()

	<-started

	second, err := o.Run(context.Background())
	assert.ErrorIs(t, err, maintenance.ErrRunInProgress)
	assert.Nil(t, second.Report)
	assert.Equal(t, 1, f.observer.Rejected())

	f.updater.Release()
	wg.Wait()

	require.NoError(t, firstEr)
	assert.Equal(t, maintenance.StatusSucceeded, first.Status)
	assert.Equal(t, 1, f.updater.Calls())
	assert.Len(t, f.state.Saves(), 1)
	assert.Len(t, f.mailer.Sent(), 1)

	// The guard is released once the run finishes.
	_, err = o.Run(context.Background())
	assert.NoError(t, err)
}

type heldLease struct{}

func (heldLease) AcquireLease(context.Context, string, string, time.Time, time.Duration) error {
	return maintenance.ErrRunInProgress
}

func (heldLease) ReleaseLease(context.Context, string, string) error { return nil }

func TestRun_LeaseHeldElsewhere(t *testing.T) {
	f := newFixture()
	o, err := maintenance.NewOrchestrator(maintenance.Dependencies{
		Settings: maintenance.StaticSettings(f.settings),
		Updater:  f.updater,
		Cache:    f.cache,
		Logs:     f.logs,
		Sampler:  f.sampler,
		Renderer: f.renderer,
		Mailer:   f.mailer,
		State:    f.state,
		Lease:    heldLease{},
	}, maintenance.Options{Clock: f.clock, Logger: testutil.NewTestLogger()})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, maintenance.ErrRunInProgress)
	assert.Equal(t, 0, f.updater.Calls())
	assert.Empty(t, f.state.Saves())
}

func TestUpdateOutcomeConstructors(t *testing.T) {
	names := []string{"akismet", "jetpack", "twentytwentyfour", ""}
	messages := [][]string{nil, {}, {""}, {"  "}, {"download failed"}, {"a", "", "b"}}

	for _, name := range names {
		ok := maintenance.Succeeded(name, "1.0", "1.1")
		assert.True(t, ok.Valid())
		assert.True(t, ok.Succeeded)
		assert.Empty(t, ok.ErrorDetail)

		for _, msgs := range messages {
			failed := maintenance.Failed(name, "1.0", msgs...)
			assert.True(t, failed.Valid(), "Failed(%q, %v) = %+v", name, msgs, failed)
			assert.False(t, failed.Succeeded)
			assert.NotEmpty(t, failed.ErrorDetail)
		}
	}

	assert.Equal(t, "a; b", maintenance.Failed("x", "1", "a", "", "b").ErrorDetail)
	assert.Equal(t, "update failed", maintenance.Failed("x", "1").ErrorDetail)
}

func TestParseFrequency(t *testing.T) {
	for _, s := range []string{"hourly", "Daily", " weekly ", "MONTHLY"} {
		_, err := maintenance.ParseFrequency(s)
		assert.NoError(t, err, s)
	}
	_, err := maintenance.ParseFrequency("yearly")
	assert.Error(t, err)
}
