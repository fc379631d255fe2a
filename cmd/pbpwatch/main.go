package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pbpwatch/internal/config"
	"pbpwatch/internal/monitor"
	"pbpwatch/internal/schedule"
	"pbpwatch/internal/storage"
	"pbpwatch/internal/transport/telegram"
	logx "pbpwatch/pkg/logx"
)

const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath    string
		dryRun     bool
		daemonMode bool
		printState bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.BoolVar(&dryRun, "dry-run", false, "evaluate and log alerts without sending or saving")
	flag.BoolVar(&daemonMode, "daemon", false, "keep running and trigger on daemon.schedule")
	flag.BoolVar(&printState, "print-state", false, "print the persisted state document and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	boot := logx.NewConsole("info")
	mgr := config.NewManager(cfgPath, os.Getenv)
	mgr.SetLogger(boot)
	cfg, err := mgr.Load()
	if err != nil {
		boot.Error("config load failed", logx.String("path", cfgPath), logx.Err(err))
		return exitFailure
	}

	// Log lines at warn and above may be mirrored to an operator topic; that
	// client lives for the whole process, unlike the per-run one.
	logClient, err := newTelegram(cfg, boot)
	if err != nil {
		boot.Error("telegram init failed", logx.Err(err))
		return exitFailure
	}
	defer logClient.Close()
	logs, log := logx.New(cfg.Logging, logClient)
	defer func() { _ = logs.Close() }()
	mgr.SetLogger(log)

	switch {
	case printState:
		return dumpState(ctx, cfg, log)
	case daemonMode:
		return runDaemon(ctx, mgr, logs, log, dryRun)
	default:
		if _, err := runOnce(ctx, cfg, log, dryRun); err != nil {
			return exitFailure
		}
		return exitOK
	}
}

func newTelegram(cfg *config.Resolved, log logx.Logger) (*telegram.Client, error) {
	topics := make([]int, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		topics = append(topics, p.SourceTopicID)
	}
	return telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		APIURL:      cfg.Telegram.APIURL,
		GroupID:     cfg.GroupID,
		Topics:      topics,
		PollTimeout: cfg.Telegram.PollTimeout,
		HTTPTimeout: max(cfg.Timeouts.Fetch, cfg.Timeouts.Send),
	}, log)
}

// runOnce opens the store and the Telegram client, performs one run and
// releases both.
func runOnce(ctx context.Context, cfg *config.Resolved, log logx.Logger, dryRun bool) (monitor.Report, error) {
	start := time.Now()

	store, err := storage.Open(cfg.Storage, log)
	if err != nil {
		log.Error("open state store failed", logx.String("driver", cfg.Storage.Driver), logx.Err(err))
		return monitor.Report{}, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close state store failed", logx.Err(err))
		}
	}()

	tg, err := newTelegram(cfg, log)
	if err != nil {
		log.Error("telegram init failed", logx.Err(err))
		return monitor.Report{}, err
	}
	defer tg.Close()

	coord := monitor.New(monitor.Config{
		GroupID:    cfg.GroupID,
		Pairs:      cfg.Pairs,
		AlertAfter: cfg.AlertAfter,
		Timeouts:   cfg.Timeouts,
		DryRun:     dryRun,
	}, store, tg, tg, log)

	rep, err := coord.Run(ctx)
	if err != nil {
		log.Error("run aborted", logx.Err(err), logx.Duration("took", time.Since(start)))
		return rep, err
	}
	log.Info("run complete",
		logx.Int("events", rep.Events),
		logx.Int64("cursor", rep.Cursor),
		logx.Int("alerts", rep.Alerts),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Bool("saved", rep.Saved),
		logx.Bool("conflict", rep.Conflict),
		logx.Duration("took", time.Since(start)),
	)
	return rep, nil
}

func runDaemon(ctx context.Context, mgr *config.Manager, logs *logx.Service, log logx.Logger, dryRun bool) int {
	cfg := mgr.Get()
	spec, err := schedule.Parse(cfg.Schedule)
	if err != nil {
		log.Error("invalid daemon.schedule", logx.String("schedule", cfg.Schedule), logx.Err(err))
		return exitFailure
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	applied := cfg
	job := func(ctx context.Context) {
		cur := mgr.Get()
		if cur != applied {
			logs.Apply(cur.Logging)
			applied = cur
		}
		// Failures are already logged; the daemon keeps its schedule.
		_, _ = runOnce(ctx, cur, log, dryRun)
	}

	notify(log, daemon.SdNotifyReady)
	job(ctx)
	err = schedule.Run(ctx, spec, time.Local, log, job)
	notify(log, daemon.SdNotifyStopping)
	<-watchDone
	if err != nil {
		log.Error("scheduler failed", logx.Err(err))
		return exitFailure
	}
	return exitOK
}

// notify reports to systemd when started as a Type=notify unit; elsewhere
// it is a no-op.
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func dumpState(ctx context.Context, cfg *config.Resolved, log logx.Logger) int {
	store, err := storage.Open(cfg.Storage, log)
	if err != nil {
		log.Error("open state store failed", logx.Err(err))
		return exitFailure
	}
	defer func() { _ = store.Close() }()

	lctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Store)
	defer cancel()
	st, ver, err := store.Load(lctx)
	if err != nil {
		log.Error("load state failed", logx.Err(err))
		return exitFailure
	}
	b, err := storage.Encode(st)
	if err != nil {
		log.Error("encode state failed", logx.Err(err))
		return exitFailure
	}
	if ver == storage.NoVersion {
		log.Info("no state document yet", logx.String("driver", cfg.Storage.Driver))
	}
	if _, err := fmt.Fprintln(os.Stdout, string(b)); err != nil && !errors.Is(err, os.ErrClosed) {
		return exitFailure
	}
	return exitOK
}
