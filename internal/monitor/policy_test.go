package monitor

import (
	"strings"
	"testing"
	"time"

	"pbpwatch/internal/storage"
)

var vaults = ThreadPair{Name: "Abomination Vaults", SourceTopicID: 12, DestinationTopicID: 13}

func TestEvaluateWithoutBaselineNeverAlerts(t *testing.T) {
	t.Parallel()
	for _, now := range []time.Time{t0, t0.Add(1000 * time.Hour), time.Time{}} {
		if d := Evaluate(now, vaults, nil, 4*time.Hour); d.Alert {
			t.Fatalf("alert without baseline at %v", now)
		}
	}
}

func TestEvaluateThresholdIsInclusive(t *testing.T) {
	t.Parallel()
	a := &storage.ThreadActivity{LastEventTime: t0, LastEventAuthor: "Ash"}

	if d := Evaluate(t0.Add(4*time.Hour-time.Nanosecond), vaults, a, 4*time.Hour); d.Alert || d.Reason != "active" {
		t.Fatalf("just below threshold: %+v", d)
	}
	if d := Evaluate(t0.Add(4*time.Hour), vaults, a, 4*time.Hour); !d.Alert {
		t.Fatalf("at threshold: %+v", d)
	}
}

func TestEvaluateReAlertThrottle(t *testing.T) {
	t.Parallel()
	alertAfter := 4 * time.Hour
	alertedAt := t0.Add(6 * time.Hour)
	a := &storage.ThreadActivity{LastEventTime: t0, LastEventAuthor: "Ash", LastAlertTime: &alertedAt}

	if d := Evaluate(alertedAt.Add(alertAfter-time.Nanosecond), vaults, a, alertAfter); d.Alert || d.Reason != "throttled" {
		t.Fatalf("inside re-alert window: %+v", d)
	}
	d := Evaluate(alertedAt.Add(alertAfter), vaults, a, alertAfter)
	if !d.Alert {
		t.Fatalf("at end of re-alert window: %+v", d)
	}
	if !strings.Contains(d.Message, "for 10h.") {
		t.Fatalf("message = %q", d.Message)
	}
}

func TestEvaluateFiveHourScenario(t *testing.T) {
	t.Parallel()
	now := t0.Add(5 * time.Hour)
	a := storage.ThreadActivity{LastEventTime: t0, LastEventAuthor: "Mira"}

	d := Evaluate(now, vaults, &a, 4*time.Hour)
	if !d.Alert {
		t.Fatalf("expected alert: %+v", d)
	}
	want := "No new posts in Abomination Vaults PBP for 5h.\nLast post was from Mira."
	if d.Message != want {
		t.Fatalf("Message = %q, want %q", d.Message, want)
	}

	a.LastAlertTime = &now
	if d := Evaluate(now, vaults, &a, 4*time.Hour); d.Alert {
		t.Fatalf("re-evaluation right after alert should be throttled: %+v", d)
	}
}

func TestAlertTextFallsBackOnEmptyAuthor(t *testing.T) {
	t.Parallel()
	got := AlertText("Vaults", 38*time.Hour, "  ")
	if got != "No new posts in Vaults PBP for 1d 14h.\nLast post was from someone." {
		t.Fatalf("AlertText = %q", got)
	}
}
