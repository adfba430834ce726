package logscan

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "debug.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func newScanner(path string) *Scanner {
	return New(path, testclock.NewClock(today), time.UTC, nil)
}

func TestScan_MissingFile(t *testing.T) {
	lines, err := newScanner(filepath.Join(t.TempDir(), "nope.log")).ScanRecentErrors(context.Background(), 50)
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
}

func TestScan_TodayOnly(t *testing.T) {
	path := writeLog(t,
		"[18-Oct-2026 23:59:59 UTC] PHP Warning: yesterday",
		"[19-Oct-2026 00:00:01 UTC] PHP Warning: first",
		"2026-10-18 10:00:00 old iso line",
		"2026-10-19 10:00:00 iso line",
		"  continuation of a stack trace",
		"[2026-10-19 11:00:00] bracketed iso",
		"19-Oct-2025 00:00:00 last year",
		"[19-Oct-2026 12:00:00 UTC] PHP Fatal error: last",
	)

	lines, err := newScanner(path).ScanRecentErrors(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[19-Oct-2026 00:00:01 UTC] PHP Warning: first",
		"2026-10-19 10:00:00 iso line",
		"[2026-10-19 11:00:00] bracketed iso",
		"[19-Oct-2026 12:00:00 UTC] PHP Fatal error: last",
	}, lines)
}

func TestScan_CapKeepsMostRecent(t *testing.T) {
	var input []string
	for i := 0; i < 120; i++ {
		input = append(input, fmt.Sprintf("[19-Oct-2026 10:%02d:00 UTC] error %d", i%60, i))
		input = append(input, "[01-Jan-2026 00:00:00 UTC] noise")
	}
	path := writeLog(t, input...)

	for _, limit := range []int{1, 5, 50, 119, 120, 500} {
		lines, err := newScanner(path).ScanRecentErrors(context.Background(), limit)
		require.NoError(t, err)

		want := limit
		if want > 120 {
			want = 120
		}
		require.Len(t, lines, want, "limit %d", limit)
		assert.True(t, strings.HasSuffix(lines[len(lines)-1], "error 119"))
		assert.True(t, strings.HasSuffix(lines[0], fmt.Sprintf("error %d", 120-want)))
	}
}

func TestScan_HugeCapAllocatesLazily(t *testing.T) {
	path := writeLog(t,
		"2026-10-19 09:00:00 one",
		"2026-10-19 10:00:00 two",
	)

	lines, err := newScanner(path).ScanRecentErrors(context.Background(), math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-19 09:00:00 one", "2026-10-19 10:00:00 two"}, lines)
}

func TestRing_WrapsInOrder(t *testing.T) {
	r := newRing(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		r.push(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, r.lines())
	assert.Len(t, r.buf, 3)
}

func TestScan_NonPositiveCap(t *testing.T) {
	path := writeLog(t, "[19-Oct-2026 10:00:00 UTC] error")

	for _, limit := range []int{0, -1} {
		lines, err := newScanner(path).ScanRecentErrors(context.Background(), limit)
		require.NoError(t, err)
		assert.Empty(t, lines)
	}
}

func TestScan_UsesConfiguredLocation(t *testing.T) {
	// 14:30 UTC is already the next day in UTC+12.
	loc := time.FixedZone("UTC+12", 12*3600)
	path := writeLog(t,
		"[19-Oct-2026 10:00:00] utc day",
		"[20-Oct-2026 02:00:00] local day",
	)

	lines, err := New(path, testclock.NewClock(today), loc, nil).ScanRecentErrors(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"[20-Oct-2026 02:00:00] local day"}, lines)
}
