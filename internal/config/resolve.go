package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pbpwatch/internal/monitor"
	"pbpwatch/internal/storage"
	logx "pbpwatch/pkg/logx"
)

const (
	DefaultAlertAfterHours = 4
	DefaultTelegramAPI     = "https://api.telegram.org"
	DefaultSchedule        = "@hourly"
	DefaultStatePath       = "./pbp_state.json"
	DefaultStateKey        = "pbp_state"
	DefaultFetchTimeout    = 30 * time.Second
	DefaultSendTimeout     = 15 * time.Second
	DefaultStoreTimeout    = 15 * time.Second
)

// Environment variables that override file values when set.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvGistToken     = "GIST_TOKEN"
	EnvGistID        = "GIST_ID"
	EnvStorageDSN    = "PBPWATCH_STORAGE_DSN"
)

// Resolved is the validated, defaulted form of Config used by the rest of
// the program.
type Resolved struct {
	GroupID    int64
	AlertAfter time.Duration
	Pairs      []monitor.ThreadPair

	Telegram Telegram
	Storage  storage.Config
	Timeouts monitor.Timeouts
	Logging  logx.Config
	Schedule string
}

type Telegram struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// Resolve applies defaults and environment overrides and rejects configs
// that cannot drive a run. getenv is usually os.Getenv.
func Resolve(cfg *Config, getenv func(string) string) (*Resolved, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(fallback)
	}

	r := &Resolved{GroupID: cfg.GroupID}
	if r.GroupID == 0 {
		return nil, errors.New("group_id is required")
	}

	hours := DefaultAlertAfterHours
	if cfg.AlertAfterHours != nil {
		hours = *cfg.AlertAfterHours
	}
	if hours < 1 {
		return nil, fmt.Errorf("alert_after_hours must be >= 1 (got %d)", hours)
	}
	r.AlertAfter = time.Duration(hours) * time.Hour

	pairs, err := resolvePairs(cfg.TopicPairs)
	if err != nil {
		return nil, err
	}
	r.Pairs = pairs

	r.Telegram = Telegram{
		Token:  env(EnvTelegramToken, cfg.Telegram.Token),
		APIURL: strings.TrimRight(strings.TrimSpace(cfg.Telegram.APIURL), "/"),
	}
	if r.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram token is required (telegram.token or %s)", EnvTelegramToken)
	}
	if r.Telegram.APIURL == "" {
		r.Telegram.APIURL = DefaultTelegramAPI
	}
	if r.Telegram.PollTimeout, err = parseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return nil, err
	}

	if r.Storage, err = resolveStorage(cfg.Storage, env); err != nil {
		return nil, err
	}

	if r.Timeouts.Fetch, err = parseDuration("timeouts.fetch", cfg.Timeouts.Fetch, DefaultFetchTimeout); err != nil {
		return nil, err
	}
	if r.Timeouts.Send, err = parseDuration("timeouts.send", cfg.Timeouts.Send, DefaultSendTimeout); err != nil {
		return nil, err
	}
	if r.Timeouts.Store, err = parseDuration("timeouts.store", cfg.Timeouts.Store, DefaultStoreTimeout); err != nil {
		return nil, err
	}
	// A long poll must fit inside the fetch timeout.
	if r.Telegram.PollTimeout >= r.Timeouts.Fetch {
		return nil, fmt.Errorf("telegram.poll_timeout (%s) must be shorter than timeouts.fetch (%s)", r.Telegram.PollTimeout, r.Timeouts.Fetch)
	}

	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	r.Logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.GroupID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}

	r.Schedule = strings.TrimSpace(cfg.Daemon.Schedule)
	if r.Schedule == "" {
		r.Schedule = DefaultSchedule
	}
	return r, nil
}

func resolvePairs(in []TopicPair) ([]monitor.ThreadPair, error) {
	if len(in) == 0 {
		return nil, errors.New("topic_pairs: at least one pair is required")
	}
	seen := make(map[int]string, len(in))
	out := make([]monitor.ThreadPair, 0, len(in))
	for i, p := range in {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("topic_pairs[%d]: name is required", i)
		}
		if p.PBPTopicID <= 0 || p.ChatTopicID <= 0 {
			return nil, fmt.Errorf("topic_pairs[%d] (%s): topic ids must be positive", i, name)
		}
		if prev, dup := seen[p.PBPTopicID]; dup {
			return nil, fmt.Errorf("topic_pairs[%d] (%s): pbp_topic_id %d already used by %q", i, name, p.PBPTopicID, prev)
		}
		seen[p.PBPTopicID] = name
		out = append(out, monitor.ThreadPair{Name: name, SourceTopicID: p.PBPTopicID, DestinationTopicID: p.ChatTopicID})
	}
	return out, nil
}

func resolveStorage(in StorageConfig, env func(key, fallback string) string) (storage.Config, error) {
	out := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(in.Driver)),
		Path:   strings.TrimSpace(in.Path),
		DSN:    env(EnvStorageDSN, in.DSN),
		Key:    strings.TrimSpace(in.Key),
		Gist: storage.GistConfig{
			ID:       env(EnvGistID, in.Gist.ID),
			Token:    env(EnvGistToken, in.Gist.Token),
			Filename: strings.TrimSpace(in.Gist.Filename),
			APIURL:   strings.TrimRight(strings.TrimSpace(in.Gist.APIURL), "/"),
		},
	}
	if out.Driver == "" {
		out.Driver = storage.DriverFile
	}
	if out.Key == "" {
		out.Key = DefaultStateKey
	}
	if out.Path == "" && out.Driver == storage.DriverFile {
		out.Path = DefaultStatePath
	}
	var err error
	if out.BusyTimeout, err = parseDuration("storage.busy_timeout", in.BusyTimeout, 0); err != nil {
		return storage.Config{}, err
	}
	return out, nil
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 && def > 0 {
		return def, nil
	}
	return d, nil
}
