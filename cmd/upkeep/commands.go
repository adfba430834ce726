package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/livinlefevreloca/upkeep/internal/api"
	"github.com/livinlefevreloca/upkeep/internal/config"
	"github.com/livinlefevreloca/upkeep/internal/cron"
	"github.com/livinlefevreloca/upkeep/internal/inbox"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
	"github.com/livinlefevreloca/upkeep/internal/scheduler"
	"github.com/livinlefevreloca/upkeep/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	logger := a.logger

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracing(telemetry.TracingOptions{
			ServiceName: cfg.Tracing.ServiceName,
			PrettyPrint: cfg.Tracing.PrettyPrint,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shut down tracing", "error", err)
			}
		}()
	}

	metrics := telemetry.NewMetrics()
	reloads := reloadInbox(cfg.Scheduler, logger)

	g, ctx := errgroup.WithContext(ctx)

	var settings maintenance.SettingsSource = maintenance.StaticSettings(cfg.Settings())
	if configFile != "" {
		watcher, err := config.NewWatcher(configFile, cfg, reloads, logger.With("component", "config"))
		if err != nil {
			return err
		}
		settings = watcher
		g.Go(func() error {
			watcher.Run(ctx)
			return nil
		})
	}

	orch, err := a.orchestrator(settings, metrics)
	if err != nil {
		return err
	}

	var planner api.Planner
	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(orch, settings, reloads, scheduler.Options{
			Location: cfg.Location(),
			Logger:   logger.With("component", "scheduler"),
		})
		if err != nil {
			return err
		}
		planner = sched
		g.Go(func() error {
			sched.Run(ctx)
			return nil
		})
	} else {
		logger.Info("scheduler disabled, runs happen only on request")
	}

	if cfg.HTTP.Enabled {
		opts := api.Options{
			Planner: planner,
			Limiter: rate.NewLimiter(rate.Limit(cfg.HTTP.TriggerRate), cfg.HTTP.TriggerBurst),
			Logger:  logger.With("component", "api"),
		}
		if cfg.Metrics.Enabled {
			opts.Metrics = promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})
			opts.MetricsPath = cfg.Metrics.Path
		}
		handler, err := api.New(orch, a.store, opts)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http api listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("upkeep is running", "site", cfg.Site.Name, "frequency", cfg.Maintenance.Frequency)
	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// reloadInbox returns the inbox the config watcher publishes settings to.
// Only the scheduler reads it, so there is none when the scheduler is off.
func reloadInbox(cfg scheduler.Config, logger *slog.Logger) *inbox.Inbox[maintenance.Settings] {
	if !cfg.Enabled {
		return nil
	}
	return inbox.New[maintenance.Settings](cfg.InboxBufferSize, cfg.InboxSendTimeout, logger)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(maintenance.StaticSettings(a.cfg.Settings()), nil)
	if err != nil {
		return err
	}

	outcome, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", outcome.Report.RunID, outcome.Status)
	for _, t := range outcome.TaskFailures() {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s failed: %v\n", t.Step, t.Err)
	}
	if outcome.DeliveryErr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  report not delivered: %v\n", outcome.DeliveryErr)
	}
	return nil
}

type statusOutput struct {
	LastRun     *time.Time           `json:"last_run"`
	NextRun     *time.Time           `json:"next_run"`
	Schedule    string               `json:"schedule"`
	LastMetrics *maintenance.Metrics `json:"last_metrics"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.LoadRunState(cmd.Context())
	if err != nil {
		return err
	}

	settings := a.cfg.Settings()
	sched, err := cron.ForFrequency(string(settings.Frequency), settings.KickoffTime)
	if err != nil {
		return err
	}

	out := statusOutput{LastRun: st.LastRun, Schedule: sched.String(), LastMetrics: st.Metrics}
	if next := sched.Next(clock.WallClock.Now().In(a.cfg.Location())); !next.IsZero() {
		out.NextRun = &next
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runPurge(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Purge(cmd.Context()); err != nil {
		return err
	}
	a.logger.Info("persisted run state deleted")
	return nil
}
