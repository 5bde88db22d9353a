package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// leadingDaysWeeks matches a leading run of week and day components, such
// as "1w2d" in "1w2d12h".
var leadingDaysWeeks = regexp.MustCompile(`^(?:(\d+)w)?(?:(\d+)d)?`)

// Duration is a time.Duration that also accepts "d" (days) and "w" (weeks)
// ahead of the standard units, for example "2d" or "1w2d12h".
type Duration time.Duration

// ParseDuration parses a duration with optional leading week and day
// components.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	m := leadingDaysWeeks.FindStringSubmatch(s)
	var total time.Duration
	if m[1] != "" {
		n, _ := strconv.Atoi(m[1])
		total += time.Duration(n) * week
	}
	if m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		total += time.Duration(n) * day
	}

	rest := s[len(m[0]):]
	if rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += d
	}
	return Duration(total), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String renders whole weeks and days with the extended units and the
// remainder in the standard format.
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}
	if dur < 0 {
		return "-" + Duration(-dur).String()
	}

	var out string
	if w := dur / week; w > 0 {
		out += fmt.Sprintf("%dw", w)
		dur -= w * week
	}
	if dd := dur / day; dd > 0 {
		out += fmt.Sprintf("%dd", dd)
		dur -= dd * day
	}
	if dur > 0 {
		out += dur.String()
	}
	return out
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
