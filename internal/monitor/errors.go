package monitor

import "errors"

var (
	// ErrSourceUnavailable: fetching events failed; nothing was changed.
	ErrSourceUnavailable = errors.New("event source unavailable")
	// ErrStoreUnavailable: the state document could not be read or written.
	ErrStoreUnavailable = errors.New("state store unavailable")
	// ErrSinkFailure: one alert could not be delivered.
	ErrSinkFailure = errors.New("alert delivery failed")
)
