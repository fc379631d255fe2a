package monitor

import (
	"strconv"
	"time"
)

// ThreadPair links a monitored PBP topic to the chat topic that is alerted.
type ThreadPair struct {
	Name               string
	SourceTopicID      int
	DestinationTopicID int
}

// Key is the thread id as used in the state document and in events.
func (p ThreadPair) Key() string { return strconv.Itoa(p.SourceTopicID) }

// Timeouts bound each external call of a run.
type Timeouts struct {
	Fetch time.Duration
	Send  time.Duration
	Store time.Duration
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Alert   bool
	Elapsed time.Duration
	Message string
	Reason  string // why no alert: "no_baseline", "active" or "throttled"
}
