package util

import (
	"fmt"
	"time"
)

// FormatRelativeTime describes t relative to now, e.g. "5 min ago". Points
// in time older than a week are printed as date.
func FormatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := now.Sub(t)

	if diff < 0 {
		diff = -diff
	}

	if diff < time.Minute {
		seconds := int(diff.Seconds())
		return fmt.Sprintf("%d s ago", seconds)
	}

	if diff < time.Hour {
		minutes := int(diff.Minutes())
		return fmt.Sprintf("%d min ago", minutes)
	}

	if diff < 24*time.Hour {
		hours := int(diff.Hours())
		return fmt.Sprintf("%d h ago", hours)
	}

	if diff < 7*24*time.Hour {
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", days, pluralize(days))
	}

	return t.Format("Jan 2")
}

// FormatDuration prints a duration given in milliseconds the way the
// dashboard shows it: "850 ms", "1.5 s" or "2 min 5 s".
func FormatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%d ms", ms)
	}

	d := time.Duration(ms) * time.Millisecond

	if d < time.Minute {
		return fmt.Sprintf("%.1f s", d.Seconds())
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60

	return fmt.Sprintf("%d min %d s", minutes, seconds)
}

func pluralize(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
