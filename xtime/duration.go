package xtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationRx = regexp.MustCompile(`^(\d*\.?\d+)(ms|us|µs|ns|[smhdw])`)

	units = map[string]time.Duration{
		"ns": time.Nanosecond,
		"us": time.Microsecond,
		"µs": time.Microsecond,
		"ms": time.Millisecond,
		"s":  time.Second,
		"m":  time.Minute,
		"h":  time.Hour,
		"d":  24 * time.Hour,
		"w":  7 * 24 * time.Hour,
	}
)

// ParseDuration parses a duration string such as "500ms", "1m30s" or "2d".
// It accepts the units of time.ParseDuration, plus "d" for days and "w" for
// weeks. A bare number is a number of milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", orig)
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		d := time.Duration(ms) * time.Millisecond
		if neg {
			d = -d
		}
		return d, nil
	}

	var sum time.Duration
	for s != "" {
		match := durationRx.FindStringSubmatch(s)
		if match == nil {
			return 0, fmt.Errorf("invalid duration '%s'", orig)
		}
		n, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
		}
		sum += time.Duration(n * float64(units[match[2]]))
		s = s[len(match[0]):]
	}

	if neg {
		sum = -sum
	}

	return sum, nil
}

// FormatDuration formats a duration with the units ParseDuration accepts,
// largest first, e.g. "1d2h" or "1s500ms". The round parameter specifies the
// smallest unit to include.
func FormatDuration(d, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteString("-")
		d = -d
	}

	for _, u := range []struct {
		name string
		dur  time.Duration
	}{
		{"w", units["w"]}, {"d", units["d"]}, {"h", time.Hour}, {"m", time.Minute},
		{"s", time.Second}, {"ms", time.Millisecond}, {"µs", time.Microsecond}, {"ns", time.Nanosecond},
	} {
		if d < u.dur || (round > 0 && u.dur < round) {
			continue
		}
		fmt.Fprintf(&sb, "%d%s", d/u.dur, u.name)
		d %= u.dur
	}

	return sb.String()
}
