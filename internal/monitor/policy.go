package monitor

import (
	"fmt"
	"strings"
	"time"

	"pbpwatch/internal/storage"
)

const fallbackAuthor = "someone"

// Evaluate decides whether pair is due an alert at now.
//
// A thread without recorded activity never alerts: silence is measured from
// a first observed post. Both the silence threshold and the re-alert window
// are alertAfter, and both boundaries are inclusive.
func Evaluate(now time.Time, pair ThreadPair, activity *storage.ThreadActivity, alertAfter time.Duration) Decision {
	if activity == nil {
		return Decision{Reason: "no_baseline"}
	}
	elapsed := now.Sub(activity.LastEventTime)
	if elapsed < alertAfter {
		return Decision{Elapsed: elapsed, Reason: "active"}
	}
	if activity.LastAlertTime != nil && now.Sub(*activity.LastAlertTime) < alertAfter {
		return Decision{Elapsed: elapsed, Reason: "throttled"}
	}
	return Decision{Alert: true, Elapsed: elapsed, Message: AlertText(pair.Name, elapsed, activity.LastEventAuthor)}
}

// AlertText is the message posted into the chat topic.
func AlertText(name string, elapsed time.Duration, author string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		author = fallbackAuthor
	}
	return fmt.Sprintf("No new posts in %s PBP for %s.\nLast post was from %s.", name, FormatElapsed(elapsed), author)
}
