// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package kvstore

import (
	"context"
	"sort"
	"sync"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/factory"
)

func init() {
	factory.Register(Role, "dict", func(cfg factory.Config) (any, error) {
		var c struct {
			Init map[string]any `mapstructure:"init"`
		}
		if err := cfg.Decode(&c); err != nil {
			return nil, err
		}
		return NewDict(c.Init), nil
	})
}

// Dict is the in-memory storage backend. Values are held as-is, without
// serialization, so stored references stay live within the process.
type Dict struct {
	mu    sync.RWMutex
	items map[string]any
}

// NewDict returns a Dict seeded with a copy of init (may be nil).
func NewDict(init map[string]any) *Dict {
	items := make(map[string]any, len(init))
	for k, v := range init {
		items[k] = v
	}
	return &Dict{items: items}
}

// HasKey reports whether key is present.
func (d *Dict) HasKey(ctx context.Context, key string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.items[key]
	return ok, nil
}

// QueryItem returns the value stored under key.
func (d *Dict) QueryItem(ctx context.Context, key string) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.items[key]
	if !ok {
		return nil, broker.NewKeyNotFound(key)
	}
	return v, nil
}

// SetItem stores value under key.
func (d *Dict) SetItem(ctx context.Context, key string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[key] = value
	return nil
}

// DeleteItem removes key if present.
func (d *Dict) DeleteItem(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, key)
	return nil
}

// AllKeys returns the stored keys, sorted for deterministic output.
func (d *Dict) AllKeys(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.items))
	for k := range d.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (d *Dict) Close() error { return nil }
