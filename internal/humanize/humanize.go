// Package humanize formats byte sizes and durations for CLI and log
// output. The teacher's worker.go calls util.FormatBytes/FormatDuration
// from an internal/util package that isn't present in this codebase;
// this package fills the same role, backed by dustin/go-humanize
// rather than hand-rolled formatting.
package humanize

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count as a human string ("1.4 GB").
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}

// FormatDuration renders a duration the way the CLI reports transcode
// time and ETA: whole seconds below a minute, "Xm Ys" above it.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// FormatSaved renders the bytes-saved delta between an original and
// transcoded file, including the percentage reduction, matching the
// teacher's "saved" log field.
func FormatSaved(originalSize, newSize int64) string {
	saved := originalSize - newSize
	if originalSize <= 0 {
		return FormatBytes(saved)
	}
	pct := float64(saved) / float64(originalSize) * 100
	return fmt.Sprintf("%s (%.1f%%)", FormatBytes(saved), pct)
}
