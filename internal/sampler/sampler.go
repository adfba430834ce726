// Package sampler collects a point-in-time health snapshot of the site.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

const defaultProbeTimeout = 10 * time.Second

// SiteInfo answers questions about the site's installation
type SiteInfo interface {
	DatabaseSize(ctx context.Context) (int64, error)
	RuntimeVersion(ctx context.Context) (string, error)
	PlatformVersion(ctx context.Context) (string, error)
	PackageCounts(ctx context.Context) (total, active int, err error)
	ContentCount(ctx context.Context) (int, error)
}

// Config configures a Sampler
type Config struct {
	HomeURL      string
	SitePath     string
	ProbeTimeout time.Duration
}

// Sampler implements maintenance.MetricsSampler
type Sampler struct {
	info   SiteInfo
	cfg    Config
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger

	// Platform readers, replaceable in tests.
	peakMemory func() (uint64, error)
	freeDisk   func(path string) (uint64, error)
}

// New creates a Sampler. info may be nil, in which case the install-level
// fields stay empty.
func New(info SiteInfo, cfg Config, clk clock.Clock, logger *slog.Logger) *Sampler {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		info:       info,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.ProbeTimeout},
		clock:      clk,
		logger:     logger,
		peakMemory: peakMemory,
		freeDisk:   freeDisk,
	}
}

// Sample reads every metric independently. Fields whose read fails stay
// zero (FreeDiskBytes nil). An error is returned only when no site read
// succeeded at all.
func (s *Sampler) Sample(ctx context.Context) (maintenance.Metrics, error) {
	var (
		m    maintenance.Metrics
		errs []error
		ok   int
	)
	read := func(name string, fn func() error) {
		if err := fn(); err != nil {
			s.logger.Warn("metric unavailable", "metric", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		ok++
	}

	if s.info != nil {
		read("storage", func() (err error) {
			m.StorageBytes, err = s.info.DatabaseSize(ctx)
			return err
		})
		read("runtime_version", func() (err error) {
			m.RuntimeVersion, err = s.info.RuntimeVersion(ctx)
			return err
		})
		read("platform_version", func() (err error) {
			m.PlatformVersion, err = s.info.PlatformVersion(ctx)
			return err
		})
		read("packages", func() (err error) {
			m.TotalPackages, m.ActivePackages, err = s.info.PackageCounts(ctx)
			return err
		})
		read("content", func() (err error) {
			m.TotalContentItems, err = s.info.ContentCount(ctx)
			return err
		})
	}

	if s.cfg.HomeURL != "" {
		read("response_time", func() error {
			latency, server, err := s.probe(ctx)
			if err != nil {
				return err
			}
			m.ResponseTimeSeconds = latency.Seconds()
			m.ServerInfo = server
			return nil
		})
	}

	if s.cfg.SitePath != "" {
		read("free_disk", func() error {
			free, err := s.freeDisk(s.cfg.SitePath)
			if err != nil {
				return err
			}
			m.FreeDiskBytes = &free
			return nil
		})
	}

	// Memory has a runtime fallback and never fails the sample.
	if rss, err := s.peakMemory(); err == nil {
		m.MemoryBytes = rss
	} else {
		s.logger.Debug("peak rss unavailable, using runtime stats", "error", err)
		m.MemoryBytes = runtimeMemory()
	}

	if ok == 0 && len(errs) > 0 {
		return m, errors.Join(errs...)
	}
	return m, nil
}

// probe times one GET of the home page
func (s *Sampler) probe(ctx context.Context) (time.Duration, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.HomeURL, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", "upkeep-sampler")

	start := s.clock.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, "", fmt.Errorf("read body: %w", err)
	}
	latency := s.clock.Now().Sub(start)

	if resp.StatusCode >= 500 {
		return latency, resp.Header.Get("Server"), fmt.Errorf("home page returned %s", resp.Status)
	}
	return latency, resp.Header.Get("Server"), nil
}
