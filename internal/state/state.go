// Package state persists the dashboard-visible results of maintenance runs
// (last run time and metrics snapshot) and the run lease on top of the
// SQLite store.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/livinlefevreloca/upkeep/internal/db"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

// Option names of the persisted run state
const (
	KeyLastRun = "last_maintenance_run"
	KeyMetrics = "maintenance_metrics"
)

// RunState is what the dashboard reads back
type RunState struct {
	LastRun *time.Time           `json:"last_run,omitempty"`
	Metrics *maintenance.Metrics `json:"last_metrics,omitempty"`
}

// Store reads and writes run state in the options table
type Store struct {
	db *db.DB
}

// NewStore creates a Store over an opened, migrated database
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// SaveRunState overwrites the last run time and metrics in one transaction
func (s *Store) SaveRunState(ctx context.Context, lastRun time.Time, metrics maintenance.Metrics) error {
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}

	return s.db.WithTransaction(ctx, func(tx *db.Tx) error {
		if err := tx.SetOption(ctx, KeyLastRun, strconv.FormatInt(lastRun.Unix(), 10)); err != nil {
			return fmt.Errorf("save %s: %w", KeyLastRun, err)
		}
		if err := tx.SetOption(ctx, KeyMetrics, string(encoded)); err != nil {
			return fmt.Errorf("save %s: %w", KeyMetrics, err)
		}
		return nil
	})
}

// LoadRunState returns the persisted state. Missing keys leave the
// corresponding field nil.
func (s *Store) LoadRunState(ctx context.Context) (RunState, error) {
	var st RunState

	raw, err := s.db.GetOption(ctx, KeyLastRun)
	switch {
	case db.IsNotFound(err):
	case err != nil:
		return RunState{}, fmt.Errorf("load %s: %w", KeyLastRun, err)
	default:
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return RunState{}, fmt.Errorf("parse %s: %w", KeyLastRun, err)
		}
		t := time.Unix(secs, 0)
		st.LastRun = &t
	}

	raw, err = s.db.GetOption(ctx, KeyMetrics)
	switch {
	case db.IsNotFound(err):
	case err != nil:
		return RunState{}, fmt.Errorf("load %s: %w", KeyMetrics, err)
	default:
		var m maintenance.Metrics
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return RunState{}, fmt.Errorf("decode %s: %w", KeyMetrics, err)
		}
		st.Metrics = &m
	}

	return st, nil
}

// Purge deletes all persisted run state
func (s *Store) Purge(ctx context.Context) error {
	for _, key := range []string{KeyLastRun, KeyMetrics} {
		if err := s.db.DeleteOption(ctx, key); err != nil && !db.IsNotFound(err) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// AcquireLease claims the run lease, reporting a live holder as
// maintenance.ErrRunInProgress.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) error {
	err := s.db.AcquireLease(ctx, name, owner, now, ttl)
	if errors.Is(err, db.ErrLeaseHeld) {
		return fmt.Errorf("%w: %s", maintenance.ErrRunInProgress, name)
	}
	return err
}

// ReleaseLease drops the run lease held by owner
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	return s.db.ReleaseLease(ctx, name, owner)
}
