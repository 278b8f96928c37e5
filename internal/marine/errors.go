package marine

import (
	"errors"
	"fmt"
)

// ErrNotAvailable signals that a station simply does not offer a product
// (water temperature, ocean sensors). It is a normal skip outcome, not a
// collection failure; callers distinguish it with errors.Is.
var ErrNotAvailable = errors.New("product not available at station")

// ConfigError marks a missing or malformed required configuration section.
// It is fatal to startup: the service refuses to run with partial behavior.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "marine config: " + e.Reason
}

// FetchError is returned by a data client after its retry budget is
// exhausted.
type FetchError struct {
	Source    Source
	StationID string
	Attempts  int
	Cause     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch for station %s failed after %d attempts: %v",
		e.Source, e.StationID, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// PersistenceError wraps a write failure for one destination table. It is
// logged and does not abort the remaining tables of the same cycle.
type PersistenceError struct {
	Table string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist to %s: %v", e.Table, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
