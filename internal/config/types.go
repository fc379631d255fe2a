package config

// Config is the on-disk configuration document (JSON or YAML).
//
// group_id, alert_after_hours and topic_pairs stay at the top level so the
// checker's existing config.json keeps loading unchanged.
type Config struct {
	GroupID         int64       `json:"group_id"`
	AlertAfterHours *int        `json:"alert_after_hours,omitempty"`
	TopicPairs      []TopicPair `json:"topic_pairs"`

	Telegram TelegramConfig `json:"telegram,omitempty"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Timeouts TimeoutsConfig `json:"timeouts,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
	Daemon   DaemonConfig   `json:"daemon,omitempty"`
}

// TopicPair maps a play-by-post topic to the chat topic that receives its alerts.
type TopicPair struct {
	Name        string `json:"name"`
	PBPTopicID  int    `json:"pbp_topic_id"`
	ChatTopicID int    `json:"chat_topic_id"`
}

// TelegramConfig configures the Bot API binding.
//
// Token may be left empty and supplied via TELEGRAM_BOT_TOKEN instead.
type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	APIURL string `json:"api_url,omitempty"` // default: https://api.telegram.org
	// PollTimeout is a Go duration string; "0s" (default) is a short poll.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig selects the state document backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pbp_state.db" }
type StorageConfig struct {
	Driver      string     `json:"driver,omitempty"` // file|sqlite|postgres|redis|gist|memory (default: file)
	Path        string     `json:"path,omitempty"`   // file, sqlite
	DSN         string     `json:"dsn,omitempty"`    // postgres, redis; env PBPWATCH_STORAGE_DSN
	Key         string     `json:"key,omitempty"`    // document name (default: pbp_state)
	BusyTimeout string     `json:"busy_timeout,omitempty"`
	Gist        GistConfig `json:"gist,omitempty"`
}

type GistConfig struct {
	ID       string `json:"id,omitempty"`    // env GIST_ID
	Token    string `json:"token,omitempty"` // env GIST_TOKEN
	Filename string `json:"filename,omitempty"`
	APIURL   string `json:"api_url,omitempty"` // default: https://api.github.com
}

// TimeoutsConfig bounds every external call. Go duration strings.
//
// Defaults: fetch 30s, send 15s, store 15s.
type TimeoutsConfig struct {
	Fetch string `json:"fetch,omitempty"`
	Send  string `json:"send,omitempty"`
	Store string `json:"store,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  *bool           `json:"console,omitempty"` // default true
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegram posts warn/error lines into an operator topic of group_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DaemonConfig is only read with -daemon.
type DaemonConfig struct {
	// Schedule accepts cron ("0 * * * *", "@hourly", "@every 55m"),
	// a Go duration ("55m") or HH:MM ("01:00"). Default: @hourly.
	Schedule string `json:"schedule,omitempty"`
}
