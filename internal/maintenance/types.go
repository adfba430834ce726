package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Frequency is how often the scheduler fires a maintenance run
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency validates a frequency name
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("invalid frequency %q (must be hourly, daily, weekly, or monthly)", s)
	}
}

// Label returns the human-readable name used in reports
func (f Frequency) Label() string {
	switch f {
	case FrequencyHourly:
		return "Hourly"
	case FrequencyDaily:
		return "Daily"
	case FrequencyWeekly:
		return "Weekly"
	case FrequencyMonthly:
		return "Monthly"
	default:
		return "Unknown"
	}
}

// Settings is the operator-controlled configuration a run reads at start
type Settings struct {
	Frequency      Frequency
	RecipientEmail string
	UpdatePlugins  bool
	UpdateThemes   bool
	KickoffTime    string // "HH:MM", empty means midnight
	ErrorLogCap    int
}

// DefaultErrorLogCap bounds the error-log excerpt when no cap is configured
const DefaultErrorLogCap = 50

// MaxErrorLogCap is the largest error-log excerpt a configuration may ask for
const MaxErrorLogCap = 10000

// SettingsSource supplies the current settings
type SettingsSource interface {
	Settings() (Settings, error)
}

// StaticSettings is a SettingsSource that never changes
type StaticSettings Settings

// Settings returns the fixed settings
func (s StaticSettings) Settings() (Settings, error) {
	return Settings(s), nil
}

// PackageClass identifies a kind of installable package
type PackageClass int

const (
	ClassPlugin PackageClass = iota
	ClassTheme
)

// String returns the command noun for the class
func (c PackageClass) String() string {
	switch c {
	case ClassPlugin:
		return "plugin"
	case ClassTheme:
		return "theme"
	default:
		return "unknown"
	}
}

// UpdateOutcome is the result of attempting to upgrade one package.
// Build values with Succeeded or Failed so the invariants hold.
type UpdateOutcome struct {
	Name        string `json:"name"`
	Succeeded   bool   `json:"succeeded"`
	OldVersion  string `json:"old_version"`
	NewVersion  string `json:"new_version,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Succeeded records a successful upgrade
func Succeeded(name, oldVersion, newVersion string) UpdateOutcome {
	return UpdateOutcome{
		Name:       name,
		Succeeded:  true,
		OldVersion: oldVersion,
		NewVersion: newVersion,
	}
}

// Failed records a failed upgrade. The diagnostic messages are joined for
// display; an empty list still yields a non-empty detail.
func Failed(name, oldVersion string, messages ...string) UpdateOutcome {
	kept := make([]string, 0, len(messages))
	for _, m := range messages {
		if m = strings.TrimSpace(m); m != "" {
			kept = append(kept, m)
		}
	}

	detail := strings.Join(kept, "; ")
	if detail == "" {
		detail = "update failed"
	}

	return UpdateOutcome{
		Name:        name,
		OldVersion:  oldVersion,
		ErrorDetail: detail,
	}
}

// Valid reports whether the outcome satisfies the success/failure invariants
func (o UpdateOutcome) Valid() bool {
	if o.Succeeded {
		return o.NewVersion != "" && o.ErrorDetail == ""
	}
	return o.ErrorDetail != ""
}

// Updates groups the outcomes per package class. The enabled flags travel
// with the lists so "disabled" is never confused with "nothing to do".
type Updates struct {
	Plugins        []UpdateOutcome `json:"plugins"`
	Themes         []UpdateOutcome `json:"themes"`
	PluginsEnabled bool            `json:"plugins_enabled"`
	ThemesEnabled  bool            `json:"themes_enabled"`
}

// Metrics is a point-in-time snapshot of site health
type Metrics struct {
	StorageBytes        int64   `json:"storage_bytes"`
	ResponseTimeSeconds float64 `json:"response_time_seconds"`
	MemoryBytes         uint64  `json:"memory_bytes"`
	RuntimeVersion      string  `json:"runtime_version"`
	PlatformVersion     string  `json:"platform_version"`
	TotalPackages       int     `json:"total_packages"`
	ActivePackages      int     `json:"active_packages"`
	TotalContentItems   int     `json:"total_content_items"`
	ServerInfo          string  `json:"server_info"`
	FreeDiskBytes       *uint64 `json:"free_disk_bytes,omitempty"`
}

// TaskRecord captures one task execution within a run
type TaskRecord struct {
	Step      Step
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Failed reports whether the task ended in a TaskFailure
func (r TaskRecord) Failed() bool {
	return r.Err != nil
}

// RunReport is the single artifact produced per run. It is owned by one
// orchestrator invocation and read-only once rendering starts.
type RunReport struct {
	RunID        string
	StartedAt    time.Time
	Updates      Updates
	CacheCleared bool
	ErrorLines   []string
	Metrics      Metrics
	Tasks        []TaskRecord
}

// Failures returns the task records that ended in a TaskFailure
func (r *RunReport) Failures() []TaskRecord {
	var failed []TaskRecord
	for _, t := range r.Tasks {
		if t.Failed() {
			failed = append(failed, t)
		}
	}
	return failed
}

// Message is a rendered report ready for delivery
type Message struct {
	To      string
	Subject string
	HTML    string
}

// RenderOptions carries the non-report inputs of the renderer
type RenderOptions struct {
	SiteName  string
	Frequency Frequency
}

// Collaborators

// PackageUpdater applies available updates per enabled package class
type PackageUpdater interface {
	Update(ctx context.Context, pluginsEnabled, themesEnabled bool) (Updates, error)
}

// CacheInvalidator clears caches; true means something was cleared
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (bool, error)
}

// LogScanner returns at most limit of today's error-log lines
type LogScanner interface {
	ScanRecentErrors(ctx context.Context, limit int) ([]string, error)
}

// MetricsSampler reads a metrics snapshot
type MetricsSampler interface {
	Sample(ctx context.Context) (Metrics, error)
}

// ReportRenderer turns a report into an HTML document
type ReportRenderer interface {
	Render(report *RunReport, opts RenderOptions) (string, error)
}

// Mailer delivers a rendered report
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// StateStore persists the dashboard-visible results of a run
type StateStore interface {
	SaveRunState(ctx context.Context, lastRun time.Time, metrics Metrics) error
}

// RunLease is a cross-process mutual exclusion keyed by name
type RunLease interface {
	AcquireLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) error
	ReleaseLease(ctx context.Context, name, owner string) error
}

// Observer receives run results for metrics export
type Observer interface {
	ObserveRun(outcome Outcome, duration time.Duration)
	ObserveRejected()
}
