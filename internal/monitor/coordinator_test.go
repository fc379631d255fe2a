package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pbpwatch/internal/storage"
	"pbpwatch/internal/transport"
	logx "pbpwatch/pkg/logx"
)

type fakeSource struct {
	batch  transport.Batch
	err    error
	after  []int64
	onCall func()
}

func (f *fakeSource) FetchEvents(ctx context.Context, after int64) (transport.Batch, error) {
	f.after = append(f.after, after)
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return transport.Batch{}, f.err
	}
	var out transport.Batch
	out.HighWater = f.batch.HighWater
	for _, ev := range f.batch.Events {
		if ev.UpdateID > after {
			out.Events = append(out.Events, ev)
		}
	}
	return out, nil
}

type sentAlert struct {
	to   transport.ChatTarget
	text string
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []sentAlert
	failTo map[int]bool
}

func (f *fakeSink) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[to.ThreadID] {
		return errors.New("telegram: chat not found")
	}
	f.sent = append(f.sent, sentAlert{to: to, text: text})
	return nil
}

type failingStore struct {
	storage.Store
	loadErr error
	saveErr error
}

func (f failingStore) Load(ctx context.Context) (storage.State, storage.Version, error) {
	if f.loadErr != nil {
		return storage.State{}, storage.NoVersion, f.loadErr
	}
	return f.Store.Load(ctx)
}

func (f failingStore) Save(ctx context.Context, st storage.State, v storage.Version) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.Save(ctx, st, v)
}

var pairs = []ThreadPair{
	{Name: "Vaults", SourceTopicID: 12, DestinationTopicID: 13},
	{Name: "Kingmaker", SourceTopicID: 40, DestinationTopicID: 41},
	{Name: "Fresh", SourceTopicID: 90, DestinationTopicID: 91},
}

func newTestCoordinator(store storage.Store, src transport.EventSource, sink transport.AlertSink, now time.Time) *Coordinator {
	return New(Config{
		GroupID:    -100,
		Pairs:      pairs,
		AlertAfter: 4 * time.Hour,
		Timeouts:   Timeouts{Fetch: time.Second, Send: time.Second, Store: time.Second},
		Now:        func() time.Time { return now },
	}, store, src, sink, logx.Nop())
}

func TestRunAlertsSilentThreadsAndPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	src := &fakeSource{batch: transport.Batch{
		Events: []transport.Event{
			{ThreadID: "12", Author: "Ash", Time: t0, UpdateID: 5},
			{ThreadID: "40", Author: "Bo", Time: t0.Add(4 * time.Hour), UpdateID: 6},
		},
		HighWater: 9,
	}}
	sink := &fakeSink{}
	now := t0.Add(5 * time.Hour)

	rep, err := newTestCoordinator(store, src, sink, now).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Events)
	require.Equal(t, int64(9), rep.Cursor)
	require.Equal(t, 1, rep.Alerts)
	require.Equal(t, 1, rep.Sent)
	require.True(t, rep.Saved)

	require.Len(t, sink.sent, 1)
	require.Equal(t, transport.ChatTarget{ChatID: -100, ThreadID: 13}, sink.sent[0].to)
	require.Contains(t, sink.sent[0].text, "5h")
	require.Contains(t, sink.sent[0].text, "Ash")

	st, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(9), st.Cursor)
	require.NotNil(t, st.Threads["12"].LastAlertTime)
	require.True(t, st.Threads["12"].LastAlertTime.Equal(now))
	require.Nil(t, st.Threads["40"].LastAlertTime)
	_, tracked := st.Threads["90"]
	require.False(t, tracked)

	// Same clock, next invocation: cursor is used and the alert is throttled.
	rep, err = newTestCoordinator(store, src, sink, now).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 9}, src.after)
	require.Equal(t, 0, rep.Alerts)
	require.True(t, rep.Unchanged)
	require.Len(t, sink.sent, 1)
	require.Equal(t, 1, store.Saves())
}

func TestRunSinkFailureIsIsolatedPerPair(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	src := &fakeSource{batch: transport.Batch{Events: []transport.Event{
		{ThreadID: "12", Author: "Ash", Time: t0, UpdateID: 1},
		{ThreadID: "40", Author: "Bo", Time: t0, UpdateID: 2},
	}}}
	sink := &fakeSink{failTo: map[int]bool{13: true}}

	rep, err := newTestCoordinator(store, src, sink, t0.Add(6*time.Hour)).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Alerts)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, 1, rep.Failed)

	st, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, st.Threads["12"].LastAlertTime, "failed delivery must not be recorded")
	require.NotNil(t, st.Threads["40"].LastAlertTime)

	// The failed pair is retried on the next run.
	sink.failTo = nil
	rep, err = newTestCoordinator(store, src, sink, t0.Add(7*time.Hour)).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Sent)
	require.Equal(t, 13, sink.sent[len(sink.sent)-1].to.ThreadID)
}

func TestRunSourceFailureChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.Save(ctx, storage.State{Cursor: 3, Threads: map[string]storage.ThreadActivity{
		"12": {LastEventTime: t0, LastEventAuthor: "Ash"},
	}}, storage.NoVersion))
	sink := &fakeSink{}

	_, err := newTestCoordinator(store, &fakeSource{err: errors.New("timeout")}, sink, t0.Add(9*time.Hour)).Run(ctx)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.Empty(t, sink.sent)
	require.Equal(t, 1, store.Saves())
}

func TestRunLoadFailureAborts(t *testing.T) {
	src := &fakeSource{}
	store := failingStore{Store: storage.NewMemory(), loadErr: errors.New("connection refused")}
	_, err := newTestCoordinator(store, src, &fakeSink{}, t0).Run(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Empty(t, src.after, "fetch must not run without state")
}

func TestRunConflictEndsCleanly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.Save(ctx, storage.State{Cursor: 1, Threads: map[string]storage.ThreadActivity{
		"12": {LastEventTime: t0, LastEventAuthor: "Ash"},
	}}, storage.NoVersion))

	sink := &fakeSink{}
	src := &fakeSource{batch: transport.Batch{HighWater: 4}}
	// A concurrent run saves between this run's load and save.
	src.onCall = func() {
		st, v, err := store.Load(ctx)
		require.NoError(t, err)
		st.Cursor = 7
		require.NoError(t, store.Save(ctx, st, v))
	}

	rep, err := newTestCoordinator(store, src, sink, t0.Add(5*time.Hour)).Run(ctx)
	require.NoError(t, err)
	require.True(t, rep.Conflict)
	require.False(t, rep.Saved)
	require.Equal(t, 1, rep.Sent)

	st, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), st.Cursor, "the concurrent run's write must survive intact")
	require.Nil(t, st.Threads["12"].LastAlertTime)
}

func TestRunSaveFailureIsReportedNotReturned(t *testing.T) {
	store := failingStore{Store: storage.NewMemory(), saveErr: errors.New("disk full")}
	src := &fakeSource{batch: transport.Batch{Events: []transport.Event{{ThreadID: "12", Author: "Ash", Time: t0, UpdateID: 1}}}}

	rep, err := newTestCoordinator(store, src, &fakeSink{}, t0.Add(time.Hour)).Run(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, rep.SaveErr, ErrStoreUnavailable)
	require.False(t, rep.Saved)
}

func TestRunDryRunSendsAndSavesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	src := &fakeSource{batch: transport.Batch{Events: []transport.Event{{ThreadID: "12", Author: "Ash", Time: t0, UpdateID: 1}}}}
	sink := &fakeSink{}

	c := New(Config{
		GroupID: -100, Pairs: pairs, AlertAfter: 4 * time.Hour, DryRun: true,
		Now: func() time.Time { return t0.Add(8 * time.Hour) },
	}, store, src, sink, logx.Nop())
	rep, err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Alerts)
	require.Empty(t, sink.sent)
	require.Equal(t, 0, store.Saves())
}

func TestRunErrorsMentionStep(t *testing.T) {
	_, err := newTestCoordinator(storage.NewMemory(), &fakeSource{err: errors.New("boom")}, &fakeSink{}, t0).Run(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "boom"))
}

func TestRunRewritesLegacyDocumentWithoutChanges(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	store.Put([]byte(`{
	  "offset": 10,
	  "topics": {"12": {"last_message_time": "` + t0.Format(time.RFC3339) + `", "last_user": "Ash"}},
	  "last_alerts": {}
	}`))

	// No new events and nothing due: only the format differs.
	src := &fakeSource{batch: transport.Batch{HighWater: 0}}
	rep, err := newTestCoordinator(store, src, &fakeSink{}, t0.Add(time.Hour)).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{9}, src.after)
	require.Zero(t, rep.Alerts)
	require.False(t, rep.Unchanged)
	require.True(t, rep.Saved)

	raw := string(store.Raw())
	require.Contains(t, raw, `"cursor": 9`)
	require.NotContains(t, raw, `"offset"`)

	st, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, st.Stale)
	require.Equal(t, "Ash", st.Threads["12"].LastEventAuthor)

	// The canonical document is now left alone.
	rep, err = newTestCoordinator(store, src, &fakeSink{}, t0.Add(time.Hour)).Run(ctx)
	require.NoError(t, err)
	require.True(t, rep.Unchanged)
	require.Equal(t, 1, store.Saves())
}
