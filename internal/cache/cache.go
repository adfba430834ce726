// Package cache clears every registered cache backend, the object cache,
// and expired entries of the transient store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// Backend is one cache that may or may not be present on the site.
// TryInvalidate returns true only when the backend existed and was cleared.
type Backend interface {
	Name() string
	TryInvalidate(ctx context.Context) (bool, error)
}

// ExpiredStore drops expired ephemeral entries
type ExpiredStore interface {
	DeleteExpiredTransients(ctx context.Context, now time.Time) (int64, error)
}

// Invalidator implements maintenance.CacheInvalidator
type Invalidator struct {
	backends    []Backend
	objectCache Backend
	store       ExpiredStore
	clock       clock.Clock
	logger      *slog.Logger
}

// Option configures an Invalidator
type Option func(*Invalidator)

// WithObjectCache sets the backend flushed after the registered ones. Its
// result does not count towards the cleared flag.
func WithObjectCache(b Backend) Option {
	return func(inv *Invalidator) { inv.objectCache = b }
}

// WithClock overrides the wall clock used for expiry
func WithClock(c clock.Clock) Option {
	return func(inv *Invalidator) { inv.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(inv *Invalidator) { inv.logger = l }
}

// NewInvalidator creates an Invalidator over the given backends, tried in
// order.
func NewInvalidator(store ExpiredStore, backends []Backend, opts ...Option) *Invalidator {
	inv := &Invalidator{
		backends: backends,
		store:    store,
		clock:    clock.WallClock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invalidate tries every backend, then the object cache, then the expired
// entry cleanup. Backend errors are logged and never stop the sequence. The
// result is true if any backend cleared or the cleanup ran; only a cleanup
// error is returned.
func (inv *Invalidator) Invalidate(ctx context.Context) (bool, error) {
	cleared := false

	for _, b := range inv.backends {
		if inv.try(ctx, b) {
			cleared = true
		}
	}
	// The object cache is always present, so flushing it says nothing
	// about whether a page cache was cleared.
	if inv.objectCache != nil {
		inv.try(ctx, inv.objectCache)
	}

	removed, err := inv.store.DeleteExpiredTransients(ctx, inv.clock.Now())
	if err != nil {
		return cleared, fmt.Errorf("delete expired transients: %w", err)
	}
	inv.logger.Debug("expired transients deleted", "count", removed)

	return true, nil
}

func (inv *Invalidator) try(ctx context.Context, b Backend) bool {
	ok, err := b.TryInvalidate(ctx)
	switch {
	case err != nil:
		inv.logger.Warn("cache backend failed", "backend", b.Name(), "error", err)
		return false
	case ok:
		inv.logger.Info("cache cleared", "backend", b.Name())
	default:
		inv.logger.Debug("cache backend not present", "backend", b.Name())
	}
	return ok
}
