package state

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/upkeep/internal/db"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

func newTestStore(t *testing.T) (*Store, *db.DB) {
	t.Helper()

	database, err := db.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background()))
	t.Cleanup(func() { database.Close() })

	return NewStore(database), database
}

func TestLoadRunState_Empty(t *testing.T) {
	store, _ := newTestStore(t)

	st, err := store.LoadRunState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st.LastRun)
	assert.Nil(t, st.Metrics)
}

func TestSaveAndLoadRunState(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	free := uint64(1 << 30)
	metrics := maintenance.Metrics{
		StorageBytes:        4096,
		ResponseTimeSeconds: 0.25,
		MemoryBytes:         1 << 20,
		RuntimeVersion:      "8.2.1",
		PlatformVersion:     "6.6",
		TotalPackages:       12,
		ActivePackages:      9,
		TotalContentItems:   120,
		ServerInfo:          "nginx",
		FreeDiskBytes:       &free,
	}
	lastRun := time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRunState(ctx, lastRun, metrics))

	st, err := store.LoadRunState(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastRun)
	require.NotNil(t, st.Metrics)
	assert.True(t, lastRun.Equal(*st.LastRun))
	assert.Equal(t, metrics, *st.Metrics)
}

func TestSaveRunState_Overwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 10, 12, 3, 0, 0, 0, time.UTC)
	second := first.Add(7 * 24 * time.Hour)

	require.NoError(t, store.SaveRunState(ctx, first, maintenance.Metrics{ServerInfo: "old"}))
	require.NoError(t, store.SaveRunState(ctx, second, maintenance.Metrics{ServerInfo: "new"}))

	st, err := store.LoadRunState(ctx)
	require.NoError(t, err)
	assert.True(t, second.Equal(*st.LastRun))
	assert.Equal(t, "new", st.Metrics.ServerInfo)
	assert.Nil(t, st.Metrics.FreeDiskBytes)
}

func TestPurge(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Purging nothing is fine.
	require.NoError(t, store.Purge(ctx))

	require.NoError(t, store.SaveRunState(ctx, time.Now(), maintenance.Metrics{}))
	require.NoError(t, store.Purge(ctx))

	st, err := store.LoadRunState(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.LastRun)
	assert.Nil(t, st.Metrics)
}

func TestLoadRunState_Corrupt(t *testing.T) {
	store, database := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, database.SetOption(ctx, KeyLastRun, "not-a-number"))

	_, err := store.LoadRunState(ctx)
	assert.Error(t, err)
}

func TestAcquireLease_MapsToRunInProgress(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AcquireLease(ctx, maintenance.DefaultLeaseName, "a", now, time.Minute))

	err := store.AcquireLease(ctx, maintenance.DefaultLeaseName, "b", now, time.Minute)
	assert.True(t, errors.Is(err, maintenance.ErrRunInProgress), "got %v", err)

	require.NoError(t, store.ReleaseLease(ctx, maintenance.DefaultLeaseName, "a"))
	assert.NoError(t, store.AcquireLease(ctx, maintenance.DefaultLeaseName, "b", now, time.Minute))
}
