// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package kvstore abstracts the key-value stores the orchestrator persists
// into. Concrete backends register with the factory under the "storage"
// role and are selected by name from configuration: "dict" (in-memory),
// "redis" and "sql" (bun over sqlite, postgres or mysql).
package kvstore // import "github.com/stormfleet/infobroker/internal/kvstore"

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/stormfleet/infobroker/internal/factory"
)

// Role is the factory role storage backends register under.
const Role = "storage"

// Store is the key-value store contract. Implementations must be safe for
// concurrent use when shared across goroutines.
type Store interface {
	// HasKey reports whether the store holds key.
	HasKey(ctx context.Context, key string) (bool, error)

	// QueryItem returns the value stored under key, failing with an error
	// matching broker.ErrKeyNotFound when absent.
	QueryItem(ctx context.Context, key string) (any, error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key string, value any) error

	// DeleteItem removes key. Deleting an absent key is a no-op.
	DeleteItem(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}

// Enumerable is implemented by stores whose key space can be listed.
// Backends used only as opaque fallback need not support it.
type Enumerable interface {
	AllKeys(ctx context.Context) ([]string, error)
}

// New constructs the storage backend registered under name, forwarding cfg
// to its constructor.
func New(name string, cfg factory.Config) (Store, error) {
	v, err := factory.New(Role, name, cfg)
	if err != nil {
		return nil, err
	}
	store, ok := v.(Store)
	if !ok {
		return nil, fmt.Errorf("storage backend %q does not implement kvstore.Store (got %T)", name, v)
	}
	return store, nil
}

// encodeValue serializes a value for backends that store strings (redis,
// sql). YAML round-trips the map- and list-shaped records the orchestrator
// stores without schema declarations.
func encodeValue(value any) (string, error) {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encoding stored value: %w", err)
	}
	return string(raw), nil
}

// decodeValue reverses encodeValue.
func decodeValue(raw string) (any, error) {
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("decoding stored value: %w", err)
	}
	return value, nil
}
