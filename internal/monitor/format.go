package monitor

import (
	"fmt"
	"time"
)

// FormatElapsed renders d as "1d 14h", "4h" or "59m", truncating to the
// largest whole unit below d.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int64(d / time.Hour)
	days, hours := hours/24, hours%24
	switch {
	case days >= 1:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours >= 1:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	}
}
