package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"pbpwatch/internal/storage"
	"pbpwatch/internal/transport"
	logx "pbpwatch/pkg/logx"
)

// Config is the static input of a Coordinator.
type Config struct {
	GroupID    int64
	Pairs      []ThreadPair
	AlertAfter time.Duration
	Timeouts   Timeouts
	// DryRun evaluates and logs alerts without sending them or saving state.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator executes runs: load, fetch, track, evaluate, dispatch, save.
type Coordinator struct {
	cfg    Config
	store  storage.Store
	source transport.EventSource
	sink   transport.AlertSink
	log    logx.Logger
}

// Report summarizes one run.
type Report struct {
	Events    int
	Cursor    int64
	Alerts    int
	Sent      int
	Failed    int
	Saved     bool
	Unchanged bool
	Conflict  bool
	SaveErr   error
}

func New(cfg Config, store storage.Store, source transport.EventSource, sink transport.AlertSink, log logx.Logger) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{cfg: cfg, store: store, source: source, sink: sink, log: log.With(logx.Component("monitor"))}
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Run performs one invocation.
//
// The returned error is non-nil only when nothing could be processed (state
// load or event fetch failed). Delivery failures and a lost or failed save
// are reported in Report and logged; the next run picks up from the last
// successfully saved state.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	var rep Report

	lctx, cancel := bounded(ctx, c.cfg.Timeouts.Store)
	prev, ver, err := c.store.Load(lctx)
	cancel()
	if err != nil {
		c.log.Error("load state failed", logx.Step("load"), logx.Err(err))
		return rep, fmt.Errorf("%w: load: %w", ErrStoreUnavailable, err)
	}
	c.log.Info("state loaded", logx.Int64("cursor", prev.Cursor), logx.Int("threads", len(prev.Threads)))

	fctx, cancel := bounded(ctx, c.cfg.Timeouts.Fetch)
	batch, err := c.source.FetchEvents(fctx, prev.Cursor)
	cancel()
	if err != nil {
		c.log.Error("fetch events failed", logx.Step("fetch"), logx.Int64("cursor", prev.Cursor), logx.Err(err))
		return rep, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	rep.Events = len(batch.Events)
	c.log.Info("events received", logx.Int("events", len(batch.Events)), logx.Int64("high_water", batch.HighWater))

	next := Track(prev, batch)
	rep.Cursor = next.Cursor
	now := c.cfg.Now()

	for _, pair := range c.cfg.Pairs {
		plog := c.log.With(logx.Pair(pair.Name))
		var activity *storage.ThreadActivity
		if a, ok := next.Threads[pair.Key()]; ok {
			activity = &a
		}
		d := Evaluate(now, pair, activity, c.cfg.AlertAfter)
		if !d.Alert {
			plog.Debug("no alert", logx.String("reason", d.Reason), logx.Duration("elapsed", d.Elapsed))
			continue
		}
		rep.Alerts++

		if c.cfg.DryRun {
			plog.Info("dry run: would alert", logx.String("text", d.Message))
			continue
		}
		if err := c.dispatch(ctx, pair, d.Message); err != nil {
			rep.Failed++
			plog.Error("alert delivery failed", logx.Step("dispatch"), logx.Err(err))
			continue
		}
		rep.Sent++
		stamped := now.UTC()
		a := next.Threads[pair.Key()]
		a.LastAlertTime = &stamped
		next.Threads[pair.Key()] = a
		plog.Info("alert sent", logx.String("inactive", FormatElapsed(d.Elapsed)))
	}

	if c.cfg.DryRun {
		c.log.Info("dry run: state not saved", logx.Int64("cursor", next.Cursor))
		return rep, nil
	}
	switch {
	case prev.Stale:
		c.log.Info("rewriting stored state in current format", logx.Step("save"))
	case unchanged(prev, next):
		rep.Unchanged = true
		c.log.Info("state unchanged; skipping save")
		return rep, nil
	}

	sctx, cancel := bounded(ctx, c.cfg.Timeouts.Store)
	err = c.store.Save(sctx, next, ver)
	cancel()
	switch {
	case err == nil:
		rep.Saved = true
		c.log.Info("state saved", logx.Int64("cursor", next.Cursor), logx.Int("alerts_sent", rep.Sent))
	case errors.Is(err, storage.ErrConflict):
		// Another run saved first. It has the same or newer events; the alerts
		// sent here are unrecorded and may repeat once after alert_after.
		rep.Conflict = true
		c.log.Warn("state changed by a concurrent run; discarding this run's state",
			logx.Step("save"), logx.Int("alerts_sent", rep.Sent))
	default:
		rep.SaveErr = fmt.Errorf("%w: save: %w", ErrStoreUnavailable, err)
		c.log.Error("save state failed", logx.Step("save"), logx.Int("alerts_sent", rep.Sent), logx.Err(err))
	}
	return rep, nil
}

func (c *Coordinator) dispatch(ctx context.Context, pair ThreadPair, text string) error {
	sctx, cancel := bounded(ctx, c.cfg.Timeouts.Send)
	defer cancel()
	to := transport.ChatTarget{ChatID: c.cfg.GroupID, ThreadID: pair.DestinationTopicID}
	if err := c.sink.SendText(sctx, to, text); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkFailure, err)
	}
	return nil
}

func unchanged(a, b storage.State) bool {
	ea, err1 := storage.Encode(a)
	eb, err2 := storage.Encode(b)
	return err1 == nil && err2 == nil && bytes.Equal(ea, eb)
}
