package maintenance

import (
	"context"
	"errors"
	"sync"
)

// Step identifies one stage of a maintenance run
type Step int

const (
	// Isolated tasks, in execution order
	StepUpdate  Step = iota // Apply plugin and theme updates
	StepCache               // Clear caches and expired transients
	StepLogScan             // Collect today's error-log lines
	StepMetrics             // Sample site metrics

	// Orchestration steps
	StepRender  // Render the HTML report
	StepDeliver // Mail the report
	StepCommit  // Persist last run time and metrics
)

// String returns a human-readable representation of the step
func (s Step) String() string {
	switch s {
	case StepUpdate:
		return "update"
	case StepCache:
		return "cache"
	case StepLogScan:
		return "log_scan"
	case StepMetrics:
		return "metrics"
	case StepRender:
		return "render"
	case StepDeliver:
		return "deliver"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// taskCount is the number of isolated task steps
const taskCount = 4

// Status is the overall result of a run
type Status int

const (
	StatusSucceeded           Status = iota // Every task ran and the report was delivered
	StatusCompletedWithIssues               // Some tasks failed or delivery failed; state was committed
	StatusFailed                            // Fatal fault, commit failure, or every task failed
)

// String returns a human-readable representation of the status
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "success"
	case StatusCompletedWithIssues:
		return "completed_with_issues"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Standard errors
var (
	ErrRunInProgress  = errors.New("maintenance: run already in progress")
	ErrAllTasksFailed = errors.New("maintenance: every task failed")
	ErrTaskPanicked   = errors.New("maintenance: task panicked")
)

// Outcome is what a caller learns about a run
type Outcome struct {
	Status      Status
	Report      *RunReport
	DeliveryErr error
	Err         error
	Committed   bool // run state was saved
}

// Succeeded reports whether the run completed without any issue
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// DeliveryFailed reports whether the report was rendered but not sent
func (o Outcome) DeliveryFailed() bool {
	return o.DeliveryErr != nil
}

// TaskFailures returns the failed task records of the run
func (o Outcome) TaskFailures() []TaskRecord {
	if o.Report == nil {
		return nil
	}
	return o.Report.Failures()
}

// StepRecorder tracks the steps a run passes through, for tests and
// diagnostics.
type StepRecorder struct {
	mu   sync.Mutex
	path []Step
}

// NewStepRecorder creates an empty recorder
func NewStepRecorder() *StepRecorder {
	return &StepRecorder{path: make([]Step, 0)}
}

// Record appends a step
func (r *StepRecorder) Record(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = append(r.path, step)
}

// Path returns a copy of the recorded steps
func (r *StepRecorder) Path() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.path))
	copy(out, r.path)
	return out
}

type runIDKey struct{}

// WithRunID tags ctx with the identifier of the run it belongs to
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run identifier set by WithRunID, or ""
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
