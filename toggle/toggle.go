package toggle

import (
	"context"
	"errors"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
)

// DefaultKey is the flag key used when none is configured.
const DefaultKey = "drop_engine_enabled"

// Store is the durable "engine enabled" flag shared by every context of one origin.
// Each context (engine instance) owns its own Store handle.
type Store interface {
	// Get returns the flag value and whether it was ever written.
	Get(ctx context.Context) (bool, bool, error)

	// Set writes the flag and propagates it to every other context.
	Set(ctx context.Context, value bool) error

	// Watch calls fn for every write made by another context.
	// The writer itself is not notified. Returns the unsubscribe func.
	Watch(fn func(value bool)) (func(), error)

	// Close releases the handle and its watchers.
	Close() error
}

// ErrClosed is returned by a closed Store.
var ErrClosed = errors.New("toggle store closed")

// Resolve applies the host-communicated default to a Get result.
func Resolve(value, found, defaultValue bool) bool {
	if !found {
		return defaultValue
	}

	return value
}
