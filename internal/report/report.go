// Package report renders a maintenance RunReport as an HTML email body.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

//go:embed templates/report.html.tmpl
var templates embed.FS

// TimestampLayout is how the run start time is shown in the header
const TimestampLayout = "2006-01-02 15:04:05 MST"

// Renderer implements maintenance.ReportRenderer. It has no side effects
// and is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded template
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templates, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

type classView struct {
	Title    string
	Noun     string
	Enabled  bool
	Outcomes []maintenance.UpdateOutcome
}

type metricRow struct {
	Label string
	Value string
}

type view struct {
	SiteName       string
	StartedAt      string
	Plugins        classView
	Themes         classView
	CacheCleared   bool
	ErrorLines     []string
	Metrics        []metricRow
	FrequencyLabel string
}

// Render produces the HTML document for r
func (rd *Renderer) Render(r *maintenance.RunReport, opts maintenance.RenderOptions) (string, error) {
	if r == nil {
		return "", fmt.Errorf("render: nil report")
	}

	v := view{
		SiteName:  opts.SiteName,
		StartedAt: r.StartedAt.Format(TimestampLayout),
		Plugins: classView{
			Title:    "Plugins",
			Noun:     "Plugin",
			Enabled:  r.Updates.PluginsEnabled,
			Outcomes: r.Updates.Plugins,
		},
		Themes: classView{
			Title:    "Themes",
			Noun:     "Theme",
			Enabled:  r.Updates.ThemesEnabled,
			Outcomes: r.Updates.Themes,
		},
		CacheCleared:   r.CacheCleared,
		ErrorLines:     r.ErrorLines,
		Metrics:        metricRows(r.Metrics),
		FrequencyLabel: opts.Frequency.Label(),
	}

	var buf bytes.Buffer
	if err := rd.tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

func metricRows(m maintenance.Metrics) []metricRow {
	rows := []metricRow{
		{"Database Size", humanize.IBytes(uint64(max(m.StorageBytes, 0)))},
		{"Response Time", strconv.FormatFloat(m.ResponseTimeSeconds, 'f', 2, 64) + " seconds"},
		{"Memory Usage", humanize.IBytes(m.MemoryBytes)},
		{"PHP Version", orUnknown(m.RuntimeVersion)},
		{"WordPress Version", orUnknown(m.PlatformVersion)},
		{"Total Plugins", humanize.Comma(int64(m.TotalPackages))},
		{"Active Plugins", humanize.Comma(int64(m.ActivePackages))},
		{"Total Posts", humanize.Comma(int64(m.TotalContentItems))},
		{"Server Info", orUnknown(m.ServerInfo)},
	}
	if m.FreeDiskBytes != nil {
		rows = append(rows, metricRow{"Free Disk Space", humanize.IBytes(*m.FreeDiskBytes)})
	}
	return rows
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
