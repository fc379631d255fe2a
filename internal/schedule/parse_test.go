package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "pbpwatch/pkg/logx"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		kind   Kind
		every  time.Duration
		source string
	}{
		{in: "@hourly", kind: KindCron, source: "cron"},
		{in: "@every 55m", kind: KindCron, source: "cron"},
		{in: "0 * * * *", kind: KindCron, source: "cron"},
		{in: "cron:*/30 * * * * *", kind: KindCron, source: "cron"},
		{in: "55m", kind: KindInterval, every: 55 * time.Minute, source: "duration"},
		{in: "01:00", kind: KindInterval, every: time.Hour, source: "hhmm"},
		{in: "every:02:30", kind: KindInterval, every: 150 * time.Minute, source: "hhmm"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got.Kind != tt.kind || got.Every != tt.every || got.Source != tt.source {
				t.Fatalf("Parse(%q) = %+v", tt.in, got)
			}
			if _, err := got.Schedule(); err != nil {
				t.Fatalf("Schedule: %v", err)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  ", "soon", "00:00", "01:75", "-5m", "0s", "cron:", "@fortnightly", "61 * * * *"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestIntervalNext(t *testing.T) {
	t.Parallel()

	sp, err := Parse("00:45")
	if err != nil {
		t.Fatal(err)
	}
	sched, _ := sp.Schedule()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if got, want := sched.Next(now), now.Add(45*time.Minute); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	sp, err := Parse("@every 1s")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	err = Run(ctx, sp, time.UTC, logx.Nop(), func(context.Context) {
		calls.Add(1)
		cancel()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("job ran %d times, want 1", calls.Load())
	}
}
