package storage

import (
	"errors"
	"strings"

	logx "pbpwatch/pkg/logx"
)

// Open initializes the configured driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Component("storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case DriverFile, "":
		return openFile(cfg, log)
	case DriverSQLite, "sqlite3":
		return openSQLite(cfg, log)
	case DriverPostgres, "postgresql":
		return openPostgres(cfg, log)
	case DriverRedis:
		return openRedis(cfg, log)
	case DriverGist:
		return openGist(cfg, log)
	case DriverMemory:
		m := NewMemory()
		m.SetLogger(log.With(logx.String("driver", DriverMemory)))
		return m, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// decodeOrEmpty treats an unreadable document as a fresh start: losing the
// history of a few threads is preferable to a monitor that never runs again.
func decodeOrEmpty(raw []byte, log logx.Logger) State {
	st, err := Decode(raw)
	if err != nil {
		log.Warn("state document malformed; starting from empty state", logx.Err(err), logx.Int("bytes", len(raw)))
		st = Empty()
		st.Stale = true
	} else if st.Stale {
		log.Info("legacy state document loaded; it is rewritten on the next save", logx.Int64("cursor", st.Cursor))
	}
	return st
}
