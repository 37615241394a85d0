// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package factory is the process-wide registry of backend implementations.
// It decouples the abstract role a component needs (a storage backend, a
// user-info strategy) from the concrete implementation and configuration,
// selected by a short name at runtime.
//
// Implementations self-register from init functions, the same way database
// drivers register with database/sql:
//
//	func init() {
//		factory.Register("storage", "dict", newDictStore)
//	}
//
// Re-registering a (role, name) pair overwrites silently so tests can
// install doubles over a built-in implementation.
package factory // import "github.com/stormfleet/infobroker/internal/factory"

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Config carries the constructor parameters for one backend instance,
// forwarded verbatim from the caller's configuration.
type Config map[string]any

// Decode unmarshals the config into a typed struct using mapstructure tags,
// the same decoding viper applies to config files.
func (c Config) Decode(out any) error {
	if err := mapstructure.Decode(map[string]any(c), out); err != nil {
		return fmt.Errorf("invalid backend config: %w", err)
	}
	return nil
}

// Constructor builds one backend instance from its configuration.
// Construction may fail if the backend cannot validate or apply the config;
// such errors propagate to the New caller unchanged.
type Constructor func(cfg Config) (any, error)

// ErrUnknownBackend is the sentinel matched by errors.Is when a (role, name)
// pair has no registered implementation. This is a configuration error, not
// recoverable by retry.
var ErrUnknownBackend = errors.New("unknown backend")

// UnknownBackendError reports the unresolvable (role, name) pair.
type UnknownBackendError struct {
	Role string
	Name string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown backend: no %q implementation registered under role %q", e.Name, e.Role)
}

// Is lets errors.Is(err, ErrUnknownBackend) match.
func (e *UnknownBackendError) Is(target error) bool {
	return target == ErrUnknownBackend
}

var (
	mu       sync.RWMutex
	backends = make(map[string]map[string]Constructor)
)

// Register associates a constructor with the (role, name) pair. Last write
// wins; registration is append-only for the process lifetime.
func Register(role, name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	byName, ok := backends[role]
	if !ok {
		byName = make(map[string]Constructor)
		backends[role] = byName
	}
	byName[name] = ctor
}

// New instantiates the implementation registered under (role, name),
// forwarding cfg verbatim to its constructor. A nil cfg is treated as
// empty.
func New(role, name string, cfg Config) (any, error) {
	mu.RLock()
	ctor, ok := backends[role][name]
	mu.RUnlock()
	if !ok {
		return nil, &UnknownBackendError{Role: role, Name: name}
	}
	if cfg == nil {
		cfg = Config{}
	}
	return ctor(cfg)
}

// Names returns the sorted implementation names registered under role.
// Used for diagnostics and CLI help output.
func Names(role string) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends[role]))
	for name := range backends[role] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
