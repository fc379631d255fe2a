package monitor

import (
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{4 * time.Hour, "4h"},
		{38 * time.Hour, "1d 14h"},
		{59 * time.Minute, "59m"},
		{24 * time.Hour, "1d 0h"},
		{4*time.Hour + 59*time.Minute + 59*time.Second, "4h"},
		{47*time.Hour + 59*time.Minute, "1d 23h"},
		{72 * time.Hour, "3d 0h"},
		{59 * time.Second, "0m"},
		{-time.Minute, "0m"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Fatalf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
