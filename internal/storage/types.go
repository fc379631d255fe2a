package storage

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned by Save when another writer saved since Load.
var ErrConflict = errors.New("state document changed since load")

// Version identifies one revision of the stored document. It is produced and
// compared by the driver only. NoVersion means "document does not exist".
type Version string

const NoVersion Version = ""

// ThreadActivity is the tracked state of one source thread.
type ThreadActivity struct {
	LastEventTime   time.Time  `json:"last_event_time"`
	LastEventAuthor string     `json:"last_event_author"`
	LastAlertTime   *time.Time `json:"last_alert_time"`
}

// State is the persisted document.
type State struct {
	Cursor  int64                     `json:"cursor"`
	Threads map[string]ThreadActivity `json:"threads"`

	// Stale is set on load when the stored body was a legacy or malformed
	// document. The next run rewrites it even if nothing else changed.
	Stale bool `json:"-"`
}

// Store is a versioned, single-document state store.
type Store interface {
	Load(ctx context.Context) (State, Version, error)
	// Save writes st if the stored version still equals expected.
	Save(ctx context.Context, st State, expected Version) error
	Close() error
}

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverGist     = "gist"
	DriverMemory   = "memory"
)

// Config configures Open.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres, redis
	Key         string        // document name / row key / redis key
	BusyTimeout time.Duration // sqlite only; 0 means driver default
	Gist        GistConfig
}

type GistConfig struct {
	ID       string
	Token    string
	Filename string // default: pbp_state.json
	APIURL   string // default: https://api.github.com
}
