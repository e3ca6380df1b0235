// Package metrics is the thin observability facade the pipeline records
// into. The core depends only on this package; a concrete backend (Datadog)
// is installed by the CLI at startup. With no backend installed every call
// is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Backend receives the recorded measurements.
//
// Implementations must tolerate concurrent calls. Flush pushes buffered data
// out; Close stops background work and flushes one final time.
type Backend interface {
	IncCounter(name string, delta float64)
	ObserveDuration(name string, seconds float64)
	Flush() error
	Close() error
}

var (
	mu      sync.RWMutex
	backend Backend
)

// SetBackend installs b as the process-wide backend. Passing nil restores
// the no-op default.
func SetBackend(b Backend) {
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64) {
	if b := current(); b != nil {
		b.IncCounter(name, delta)
	}
}

// ObserveDuration records one duration sample under name.
func ObserveDuration(name string, d time.Duration) {
	if b := current(); b != nil {
		b.ObserveDuration(name, d.Seconds())
	}
}

// Flush pushes buffered measurements to the backend, if one is installed.
func Flush() error {
	if b := current(); b != nil {
		return b.Flush()
	}
	return nil
}

// Close shuts the installed backend down and uninstalls it.
func Close() error {
	b := current()
	if b == nil {
		return nil
	}
	SetBackend(nil)
	return b.Close()
}
