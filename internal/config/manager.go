package config

import (
	"context"
	"crypto/sha256"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "pbpwatch/pkg/logx"
)

// Manager loads the config file and, in daemon mode, keeps the committed
// copy in sync with the file. A reload that fails to parse or validate is
// logged and ignored; the previous config stays in force.
type Manager struct {
	path   string
	getenv func(string) string
	log    logx.Logger

	mu       sync.RWMutex
	cur      *Resolved
	lastHash [sha256.Size]byte
}

func NewManager(path string, getenv func(string) string) *Manager {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Manager{path: path, getenv: getenv}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

func (m *Manager) Path() string { return m.path }

func (m *Manager) parse() (*Resolved, [sha256.Size]byte, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	sum := sha256.Sum256(b)
	cfg, err := Decode(m.path, b)
	if err != nil {
		return nil, sum, err
	}
	r, err := Resolve(cfg, m.getenv)
	if err != nil {
		return nil, sum, err
	}
	return r, sum, nil
}

// Load reads, validates and commits the config file.
func (m *Manager) Load() (*Resolved, error) {
	r, sum, err := m.parse()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cur = r
	m.lastHash = sum
	m.mu.Unlock()
	return r, nil
}

// Get returns the last committed config (nil before Load).
func (m *Manager) Get() *Resolved {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func (m *Manager) reload() {
	r, sum, err := m.parse()
	m.mu.RLock()
	unchanged := sum == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping reload", logx.String("path", m.path))
		return
	}
	if err != nil {
		m.log.Warn("config reload rejected; keeping previous config", logx.String("path", m.path), logx.Err(err))
		return
	}
	m.mu.Lock()
	prev := m.cur
	m.cur = r
	m.lastHash = sum
	m.mu.Unlock()

	fields := []logx.Field{logx.String("path", m.path), logx.Int("pairs", len(r.Pairs)), logx.Duration("alert_after", r.AlertAfter)}
	if prev != nil && prev.Schedule != r.Schedule {
		// The cron entry is registered once at startup.
		fields = append(fields, logx.String("schedule_ignored_until_restart", r.Schedule))
	}
	m.log.Info("config reloaded", fields...)
}

// Watch reloads the config on file changes until ctx is done.
//
// The directory is watched rather than the file so editors that replace the
// file via rename are still seen. A broken watcher is recreated with a
// jittered exponential backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	const (
		backoffBase = 250 * time.Millisecond
		backoffMax  = 5 * time.Second
		debounceFor = 250 * time.Millisecond
	)
	backoff := backoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, backoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceFor, m.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !sleep() {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			m.log.Warn("config watch add failed", logx.Err(err), logx.String("dir", dir))
			if !sleep() {
				return nil
			}
			continue
		}
		backoff = backoffBase
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err != nil {
					m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
					debounce()
				}
			}
		}
		_ = w.Close()
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !sleep() {
			return nil
		}
	}
	return nil
}
