package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// DefaultLeaseName is the fixed hook identity runs lock on
const DefaultLeaseName = "doing_maintenance_scheduler_hook"

// commitTimeout bounds the final persistence step, which runs even when the
// run context has expired during delivery.
const commitTimeout = 10 * time.Second

// Dependencies are the collaborators a run drives. Lease and Observer are
// optional.
type Dependencies struct {
	Settings SettingsSource
	Updater  PackageUpdater
	Cache    CacheInvalidator
	Logs     LogScanner
	Sampler  MetricsSampler
	Renderer ReportRenderer
	Mailer   Mailer
	State    StateStore
	Lease    RunLease
	Observer Observer
}

// Options tune an Orchestrator
type Options struct {
	SiteName   string
	RunTimeout time.Duration
	LeaseName  string
	Clock      clock.Clock
	// Location dates the report and its subject. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
	Recorder *StepRecorder
}

// Orchestrator sequences the maintenance tasks, isolates their failures,
// and commits run state. At most one Run executes at a time.
type Orchestrator struct {
	deps Dependencies

	siteName   string
	runTimeout time.Duration
	leaseName  string

	guard    *semaphore.Weighted
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder *StepRecorder
}

// NewOrchestrator validates the dependencies and creates an orchestrator
func NewOrchestrator(deps Dependencies, opts Options) (*Orchestrator, error) {
	required := map[string]any{
		"settings": deps.Settings,
		"updater":  deps.Updater,
		"cache":    deps.Cache,
		"logs":     deps.Logs,
		"sampler":  deps.Sampler,
		"renderer": deps.Renderer,
		"mailer":   deps.Mailer,
		"state":    deps.State,
	}
	for name, dep := range required {
		if dep == nil {
			return nil, fmt.Errorf("maintenance: missing %s dependency", name)
		}
	}

	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LeaseName == "" {
		opts.LeaseName = DefaultLeaseName
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Orchestrator{
		deps:       deps,
		siteName:   opts.SiteName,
		runTimeout: opts.RunTimeout,
		leaseName:  opts.LeaseName,
		guard:      semaphore.NewWeighted(1),
		clock:      opts.Clock,
		location:   opts.Location,
		logger:     opts.Logger,
		tracer:     otel.Tracer("github.com/livinlefevreloca/upkeep/internal/maintenance"),
		recorder:   opts.Recorder,
	}, nil
}

// Run performs one maintenance run. A run that is rejected because another
// is in flight returns ErrRunInProgress and a zero Outcome. Whenever the
// Outcome status is StatusFailed the returned error is non-nil.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	if !o.guard.TryAcquire(1) {
		o.rejected("in-process run active")
		return Outcome{}, ErrRunInProgress
	}
	defer o.guard.Release(1)

	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	startedAt := o.clock.Now().In(o.location)

	if o.deps.Lease != nil {
		if err := o.deps.Lease.AcquireLease(ctx, o.leaseName, runID, startedAt, o.leaseTTL()); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				o.rejected("lease held")
				return Outcome{}, ErrRunInProgress
			}
			return o.finish(Outcome{Status: StatusFailed, Err: fmt.Errorf("acquire run lease: %w", err)}, startedAt)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
			defer cancel()
			if err := o.deps.Lease.ReleaseLease(releaseCtx, o.leaseName, runID); err != nil {
				o.logger.Warn("failed to release run lease", "run_id", runID, "error", err)
			}
		}()
	}

	ctx = WithRunID(ctx, runID)
	ctx, span := o.tracer.Start(ctx, "maintenance.run", trace.WithAttributes(
		attribute.String("run_id", runID),
	))
	defer span.End()

	report := &RunReport{RunID: runID, StartedAt: startedAt}
	o.logger.Info("maintenance run started", "run_id", runID, "started_at", startedAt)

	outcome := o.execute(ctx, report)
	span.SetAttributes(attribute.String("status", outcome.Status.String()))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}

	return o.finish(outcome, startedAt)
}

// execute runs the fixed pipeline against report
func (o *Orchestrator) execute(ctx context.Context, report *RunReport) Outcome {
	settings, err := o.deps.Settings.Settings()
	if err != nil {
		return o.fatal(report, fmt.Errorf("load settings: %w", err))
	}
	if settings.ErrorLogCap <= 0 {
		settings.ErrorLogCap = DefaultErrorLogCap
	}

	// Step 1: package updates
	updates := runTask(ctx, o, report, StepUpdate, func(ctx context.Context) (Updates, error) {
		return o.deps.Updater.Update(ctx, settings.UpdatePlugins, settings.UpdateThemes)
	})
	report.Updates = updates.Value
	report.Updates.PluginsEnabled = settings.UpdatePlugins
	report.Updates.ThemesEnabled = settings.UpdateThemes
	if report.Updates.Plugins == nil {
		report.Updates.Plugins = []UpdateOutcome{}
	}
	if report.Updates.Themes == nil {
		report.Updates.Themes = []UpdateOutcome{}
	}

	// Step 2: caches
	cleared := runTask(ctx, o, report, StepCache, o.deps.Cache.Invalidate)
	report.CacheCleared = cleared.Value

	// Step 3: error log
	lines := runTask(ctx, o, report, StepLogScan, func(ctx context.Context) ([]string, error) {
		return o.deps.Logs.ScanRecentErrors(ctx, settings.ErrorLogCap)
	})
	report.ErrorLines = lines.Value
	if report.ErrorLines == nil {
		report.ErrorLines = []string{}
	}

	// Step 4: metrics
	metrics := runTask(ctx, o, report, StepMetrics, o.deps.Sampler.Sample)
	report.Metrics = metrics.Value

	if err := ctx.Err(); err != nil {
		return o.fatal(report, fmt.Errorf("run aborted before rendering: %w", err))
	}

	// Step 5: render
	o.record(StepRender)
	html, err := o.deps.Renderer.Render(report, RenderOptions{
		SiteName:  o.siteName,
		Frequency: settings.Frequency,
	})
	if err != nil {
		return o.fatal(report, fmt.Errorf("render report: %w", err))
	}

	// Step 6: deliver
	o.record(StepDeliver)
	deliveryErr := o.deps.Mailer.Send(ctx, Message{
		To:      settings.RecipientEmail,
		Subject: o.subject(report.StartedAt),
		HTML:    html,
	})
	if deliveryErr != nil {
		o.logger.Error("report delivery failed",
			"run_id", report.RunID,
			"recipient", settings.RecipientEmail,
			"error", deliveryErr)
	}

	// Step 7: commit, regardless of delivery
	o.record(StepCommit)
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := o.deps.State.SaveRunState(commitCtx, o.clock.Now(), report.Metrics); err != nil {
		return Outcome{
			Status:      StatusFailed,
			Report:      report,
			DeliveryErr: deliveryErr,
			Err:         fmt.Errorf("commit run state: %w", err),
		}
	}

	outcome := Outcome{Report: report, DeliveryErr: deliveryErr, Committed: true}
	failures := report.Failures()
	switch {
	case len(failures) == taskCount:
		outcome.Status = StatusFailed
		outcome.Err = ErrAllTasksFailed
	case len(failures) > 0 || deliveryErr != nil:
		outcome.Status = StatusCompletedWithIssues
	default:
		outcome.Status = StatusSucceeded
	}
	return outcome
}

// TaskResult is the explicit result of one isolated task
type TaskResult[T any] struct {
	Value T
	Err   error
}

// Failed reports whether the task ended in a TaskFailure
func (r TaskResult[T]) Failed() bool {
	return r.Err != nil
}

// runTask invokes fn behind the task isolation boundary. Errors and panics
// become a failed TaskResult carrying whatever partial value fn returned.
func runTask[T any](ctx context.Context, o *Orchestrator, report *RunReport, step Step, fn func(context.Context) (T, error)) (result TaskResult[T]) {
	o.record(step)
	ctx, span := o.tracer.Start(ctx, "maintenance.task."+step.String())
	started := o.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			result = TaskResult[T]{Err: fmt.Errorf("%w: %s: %v", ErrTaskPanicked, step, r)}
		}

		record := TaskRecord{
			Step:      step,
			StartedAt: started,
			Duration:  o.clock.Now().Sub(started),
			Err:       result.Err,
		}
		report.Tasks = append(report.Tasks, record)

		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
			o.logger.Error("maintenance task failed",
				"run_id", report.RunID,
				"task", step.String(),
				"error", result.Err)
		} else {
			o.logger.Info("maintenance task completed",
				"run_id", report.RunID,
				"task", step.String(),
				"duration", record.Duration)
		}
		span.End()
	}()

	value, err := fn(ctx)
	return TaskResult[T]{Value: value, Err: err}
}

// fatal builds the outcome of a fault outside the task boundary. Nothing
// has been committed at this point.
func (o *Orchestrator) fatal(report *RunReport, err error) Outcome {
	return Outcome{Status: StatusFailed, Report: report, Err: err}
}

// finish logs and observes a completed run
func (o *Orchestrator) finish(outcome Outcome, startedAt time.Time) (Outcome, error) {
	duration := o.clock.Now().Sub(startedAt)

	runID := ""
	if outcome.Report != nil {
		runID = outcome.Report.RunID
	}

	attrs := []any{
		"run_id", runID,
		"status", outcome.Status.String(),
		"duration", duration,
		"task_failures", len(outcome.TaskFailures()),
	}
	switch {
	case outcome.Err != nil:
		o.logger.Error("maintenance run failed", append(attrs, "error", outcome.Err)...)
	case outcome.Status == StatusCompletedWithIssues:
		o.logger.Warn("maintenance run completed with issues", append(attrs, "delivery_error", outcome.DeliveryErr)...)
	default:
		o.logger.Info("maintenance run completed", attrs...)
	}

	if o.deps.Observer != nil {
		o.deps.Observer.ObserveRun(outcome, duration)
	}

	return outcome, outcome.Err
}

func (o *Orchestrator) rejected(reason string) {
	o.logger.Warn("maintenance run rejected", "reason", reason, "error", ErrRunInProgress)
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveRejected()
	}
}

func (o *Orchestrator) record(step Step) {
	if o.recorder != nil {
		o.recorder.Record(step)
	}
}

func (o *Orchestrator) subject(startedAt time.Time) string {
	return fmt.Sprintf("Maintenance Report - %s - %s", o.siteName, startedAt.Format("2006-01-02"))
}

// leaseTTL bounds how long a crashed run can block the next one
func (o *Orchestrator) leaseTTL() time.Duration {
	if o.runTimeout > 0 {
		return o.runTimeout + commitTimeout
	}
	return time.Hour
}
