// Package format provides human-readable formatting for CLI output.
package format

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number[T ~int | ~int64](n T) string {
	return printer.Sprintf("%d", int64(n))
}

// Count formats n followed by the singular or plural noun.
// Example: Count(1, "channel", "channels") => "1 channel"
func Count[T ~int | ~int64](n T, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return Number(n) + " " + plural
}

// Bytes formats a byte count with binary units.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}

// Relative formats t relative to now.
// Example: Relative(now.Add(-5*time.Minute), now) => "5 minutes ago"
func Relative(t, now time.Time) string {
	d := now.Sub(t)
	future := d < 0
	if future {
		d = -d
	}

	var s string
	switch {
	case d < time.Minute:
		if future {
			return "in a moment"
		}
		return "just now"
	case d < time.Hour:
		s = Count(int(d.Minutes()), "minute", "minutes")
	case d < 24*time.Hour:
		s = Count(int(d.Hours()), "hour", "hours")
	default:
		s = Count(int(d.Hours()/24), "day", "days")
	}

	if future {
		return "in " + s
	}
	return s + " ago"
}
