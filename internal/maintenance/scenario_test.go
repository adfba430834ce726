package maintenance_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/upkeep/internal/cache"
	"github.com/livinlefevreloca/upkeep/internal/db"
	"github.com/livinlefevreloca/upkeep/internal/logscan"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
	"github.com/livinlefevreloca/upkeep/internal/report"
	"github.com/livinlefevreloca/upkeep/internal/state"
	"github.com/livinlefevreloca/upkeep/internal/testutil"
	"github.com/livinlefevreloca/upkeep/internal/updater"
)

// onePluginManager offers a single plugin upgrade from 1.0 to 1.1
type onePluginManager struct{}

func (onePluginManager) Outdated(ctx context.Context, class maintenance.PackageClass) ([]updater.Package, error) {
	if class != maintenance.ClassPlugin {
		return nil, nil
	}
	return []updater.Package{{Name: "akismet", Version: "1.0", UpdateVersion: "1.1"}}, nil
}

func (onePluginManager) Upgrade(ctx context.Context, class maintenance.PackageClass, pkg updater.Package) (updater.UpgradeResult, error) {
	return updater.UpgradeResult{NewVersion: "1.1"}, nil
}

func TestScenario_WeeklyRun(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewTestLogger()
	clk := testclock.NewClock(testStart)

	database, err := db.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx))
	t.Cleanup(func() { database.Close() })
	store := state.NewStore(database)

	renderer, err := report.NewRenderer()
	require.NoError(t, err)

	mailer := testutil.NewMockMailer()
	metrics := maintenance.Metrics{
		StorageBytes:        10 << 20,
		ResponseTimeSeconds: 0.2,
		MemoryBytes:         64 << 20,
		RuntimeVersion:      "8.2.12",
		PlatformVersion:     "6.6.2",
		TotalPackages:       7,
		ActivePackages:      5,
		TotalContentItems:   42,
		ServerInfo:          "nginx/1.25",
	}

	o, err := maintenance.NewOrchestrator(maintenance.Dependencies{
		Settings: maintenance.StaticSettings{
			Frequency:      maintenance.FrequencyWeekly,
			RecipientEmail: "ops@example.com",
			UpdatePlugins:  true,
			UpdateThemes:   false,
		},
		Updater:  updater.New(onePluginManager{}, logger),
		Cache:    cache.NewInvalidator(database, nil, cache.WithClock(clk), cache.WithLogger(logger)),
		Logs:     logscan.New(filepath.Join(t.TempDir(), "debug.log"), clk, nil, logger),
		Sampler:  testutil.NewMockSampler(metrics),
		Renderer: renderer,
		Mailer:   mailer,
		State:    store,
		Lease:    store,
	}, maintenance.Options{
		SiteName: "example.org",
		Clock:    clk,
		Location: time.UTC,
		Logger:   logger,
	})
	require.NoError(t, err)

	outcome, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusSucceeded, outcome.Status)

	r := outcome.Report
	assert.True(t, r.CacheCleared)
	assert.Equal(t, []maintenance.UpdateOutcome{maintenance.Succeeded("akismet", "1.0", "1.1")}, r.Updates.Plugins)
	assert.Equal(t, []maintenance.UpdateOutcome{}, r.Updates.Themes)
	assert.False(t, r.Updates.ThemesEnabled)
	assert.Equal(t, []string{}, r.ErrorLines)
	assert.Equal(t, metrics, r.Metrics)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ops@example.com", sent[0].To)

	html := sent[0].HTML
	sections := []string{
		"Maintenance Report: example.org",
		`id="updates"`,
		`id="cache"`,
		`id="errors"`,
		`id="performance"`,
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(html, s)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", s)
		assert.Greater(t, idx, last, "section %q out of order", s)
		last = idx
	}
	assert.Contains(t, html, "Themes updates are disabled.")
	assert.NotContains(t, html, "No updates were necessary")
	assert.Contains(t, html, "No errors found today.")
	assert.Contains(t, html, "Weekly")

	st, err := store.LoadRunState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, testStart.Unix(), st.LastRun.Unix())
	require.NotNil(t, st.Metrics)
	assert.Equal(t, metrics, *st.Metrics)

	// The lease is released once the run ends.
	next, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusSucceeded, next.Status)
}
