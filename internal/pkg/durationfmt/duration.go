// Package durationfmt parses and formats the compound duration strings used
// throughout StoragePolicy and the process configuration: concatenated
// `d` (day), `h` (hour), `m` (minute) and `s` (second) components, e.g.
// "1d12h", "90s", "1h30m".
package durationfmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// unit is one recognised compound-duration component, in the fixed order
// they must appear in: days, hours, minutes, seconds.
type unit struct {
	suffix string
	size   time.Duration
}

var units = []unit{
	{"d", day},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// Parse converts a compound duration string into a time.Duration. It is
// total on well-formed input: any string consisting only of non-negative
// integer/suffix pairs drawn from d/h/m/s, each suffix used at most once
// and in d,h,m,s order, parses successfully. Malformed input returns an
// error describing the first problem encountered.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("durationfmt: empty duration string")
	}

	remaining := s
	var total time.Duration
	lastUnit := -1

	for len(remaining) > 0 {
		numEnd := 0
		for numEnd < len(remaining) && (remaining[numEnd] >= '0' && remaining[numEnd] <= '9') {
			numEnd++
		}
		if numEnd == 0 {
			return 0, fmt.Errorf("durationfmt: %q: expected a number at %q", s, remaining)
		}
		n, err := strconv.ParseInt(remaining[:numEnd], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("durationfmt: %q: invalid number: %w", s, err)
		}

		rest := remaining[numEnd:]
		if rest == "" {
			return 0, fmt.Errorf("durationfmt: %q: missing unit suffix after %d", s, n)
		}

		idx, u := -1, unit{}
		for i, candidate := range units {
			if strings.HasPrefix(rest, candidate.suffix) {
				idx, u = i, candidate
				break
			}
		}
		if idx == -1 {
			return 0, fmt.Errorf("durationfmt: %q: unrecognised unit suffix at %q", s, rest)
		}
		if idx <= lastUnit {
			return 0, fmt.Errorf("durationfmt: %q: unit %q out of order or repeated", s, u.suffix)
		}
		lastUnit = idx

		total += time.Duration(n) * u.size
		remaining = rest[len(u.suffix):]
	}

	return total, nil
}

// Format renders a non-negative time.Duration in canonical d/h/m/s order,
// omitting any component that is zero. The zero duration formats as "0s".
// Any sub-second remainder is dropped. Parse(Format(d)) == d for every
// non-negative whole-second d, since Format only emits components in the
// canonical order Parse accepts. The string itself is normalized, so
// Format(Parse("90s")) is "1m30s".
func Format(d time.Duration) string {
	if d < 0 {
		return "-" + Format(-d)
	}
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	remaining := d
	for _, u := range units {
		if remaining < u.size {
			continue
		}
		n := remaining / u.size
		remaining -= n * u.size
		fmt.Fprintf(&b, "%d%s", n, u.suffix)
	}
	return b.String()
}
