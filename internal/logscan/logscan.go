// Package logscan extracts today's entries from the site error log.
package logscan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/juju/clock"
)

const maxLineBytes = 1 << 20

// Scanner implements maintenance.LogScanner over a log file
type Scanner struct {
	path     string
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger
}

// New creates a Scanner for path. Dates are compared in loc (nil means
// local time).
func New(path string, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Scanner {
	if clk == nil {
		clk = clock.WallClock
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{path: path, clock: clk, location: loc, logger: logger}
}

// ScanRecentErrors returns at most limit of today's lines, oldest first.
// A missing log file yields no lines.
func (s *Scanner) ScanRecentErrors(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || s.path == "" {
		return []string{}, nil
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("error log not found", "path", s.path)
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	defer f.Close()

	return s.scan(ctx, f, limit)
}

func (s *Scanner) scan(ctx context.Context, r io.Reader, limit int) ([]string, error) {
	prefixes := todayPrefixes(s.clock.Now().In(s.location))
	window := newRing(limit)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for n := 0; sc.Scan(); n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return window.lines(), err
			}
		}
		line := sc.Text()
		if matchesDay(line, prefixes) {
			window.push(line)
		}
	}
	if err := sc.Err(); err != nil {
		return window.lines(), fmt.Errorf("read error log: %w", err)
	}
	return window.lines(), nil
}

// todayPrefixes returns the ISO and PHP error-log date stamps for day
func todayPrefixes(day time.Time) []string {
	return []string{
		day.Format("2006-01-02"),
		day.Format("02-Jan-2006"),
	}
}

func matchesDay(line string, prefixes []string) bool {
	line = strings.TrimPrefix(line, "[")
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// ring keeps the most recent limit lines, growing only as lines arrive
type ring struct {
	buf   []string
	limit int
	next  int
}

func newRing(limit int) *ring {
	return &ring{limit: limit}
}

func (r *ring) push(line string) {
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, line)
		return
	}
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
}

func (r *ring) lines() []string {
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
