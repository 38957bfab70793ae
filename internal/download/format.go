package download

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatSpeed renders bytes per second, or "-" when unknown.
func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return strings.Replace(humanize.IBytes(uint64(bps)), "iB", "B", 1) + "/s"
}

// FormatSize renders a byte count, or "-" when unknown.
func FormatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	return strings.Replace(humanize.IBytes(uint64(n)), "iB", "B", 1)
}

// FormatETA renders seconds as "1h 2m 3s", "2m 3s" or "3s", or "-" when unknown.
func FormatETA(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
