package monitor

import (
	"pbpwatch/internal/storage"
	"pbpwatch/internal/transport"
)

// Track folds batch into a copy of st.
//
// Events at or below the cursor are ignored. Per thread the newest event
// time wins, so a late or backdated event never moves activity backwards.
// The cursor ends at the highest update id seen, including the batch's
// high-water mark for updates the source filtered out.
func Track(st storage.State, batch transport.Batch) storage.State {
	out := st.Clone()
	high := out.Cursor

	for _, ev := range batch.Events {
		if ev.UpdateID <= st.Cursor {
			continue
		}
		if ev.UpdateID > high {
			high = ev.UpdateID
		}
		cur, seen := out.Threads[ev.ThreadID]
		if seen && ev.Time.Before(cur.LastEventTime) {
			continue
		}
		cur.LastEventTime = ev.Time.UTC()
		cur.LastEventAuthor = ev.Author
		out.Threads[ev.ThreadID] = cur
	}
	if batch.HighWater > high {
		high = batch.HighWater
	}
	out.Cursor = high
	return out
}
