package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Empty returns the initial document.
func Empty() State {
	return State{Threads: map[string]ThreadActivity{}}
}

// Clone deep-copies st so callers can mutate the copy freely.
func (st State) Clone() State {
	out := State{Cursor: st.Cursor, Threads: make(map[string]ThreadActivity, len(st.Threads))}
	for k, v := range st.Threads {
		if v.LastAlertTime != nil {
			t := *v.LastAlertTime
			v.LastAlertTime = &t
		}
		out.Threads[k] = v
	}
	return out
}

// Encode renders the wire form. Timestamps are written in UTC.
func Encode(st State) ([]byte, error) {
	cp := st.Clone()
	for k, v := range cp.Threads {
		v.LastEventTime = v.LastEventTime.UTC()
		if v.LastAlertTime != nil {
			t := v.LastAlertTime.UTC()
			v.LastAlertTime = &t
		}
		cp.Threads[k] = v
	}
	return json.MarshalIndent(cp, "", "  ")
}

// Decode parses a stored document. Documents in the legacy script format
// ({"offset", "topics", "last_alerts"}) are converted on the fly.
func Decode(b []byte) (State, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return State{}, errors.New("empty document")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return State{}, err
	}
	if _, legacy := probe["offset"]; legacy {
		return decodeLegacy(b)
	}

	var st State
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return State{}, err
	}
	if st.Cursor < 0 {
		return State{}, fmt.Errorf("negative cursor %d", st.Cursor)
	}
	if st.Threads == nil {
		st.Threads = map[string]ThreadActivity{}
	}
	for id, a := range st.Threads {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return State{}, fmt.Errorf("thread key %q is not numeric", id)
		}
		if a.LastEventTime.IsZero() {
			return State{}, fmt.Errorf("thread %s: last_event_time missing", id)
		}
	}
	return st, nil
}

type legacyDoc struct {
	Offset int64 `json:"offset"`
	Topics map[string]struct {
		LastMessageTime string `json:"last_message_time"`
		LastUser        string `json:"last_user"`
	} `json:"topics"`
	LastAlerts map[string]string `json:"last_alerts"`
}

// decodeLegacy maps the legacy document. Its offset is the next update id
// to request, i.e. one past the last processed id.
func decodeLegacy(b []byte) (State, error) {
	var d legacyDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return State{}, err
	}
	st := Empty()
	st.Stale = true
	if d.Offset > 0 {
		st.Cursor = d.Offset - 1
	}
	for id, t := range d.Topics {
		at, err := parseLegacyTime(t.LastMessageTime)
		if err != nil {
			return State{}, fmt.Errorf("topics[%s]: %w", id, err)
		}
		a := ThreadActivity{LastEventTime: at, LastEventAuthor: t.LastUser}
		if raw, ok := d.LastAlerts[id]; ok {
			if lt, err := parseLegacyTime(raw); err == nil {
				a.LastAlertTime = &lt
			}
		}
		st.Threads[id] = a
	}
	return st, nil
}

func parseLegacyTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
