// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package kvstore

import (
	"context"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/logging"
)

// Provider exposes a store's key space through the broker contract. It has
// no handlers of its own: every query falls through to the store, so the
// advertised keys are whatever the store currently holds.
type Provider struct {
	broker.Base
	store Store
}

// NewProvider wraps store as a queryable provider.
func NewProvider(store Store) *Provider {
	p := &Provider{store: store}
	p.AttachBackend(store)
	return p
}

// Keys enumerates the store's keys when the backend supports enumeration,
// otherwise nil. Unlike registry-backed providers this is a live query; the
// result reflects the store's current contents.
func (p *Provider) Keys() []string {
	enum, ok := p.store.(Enumerable)
	if !ok {
		return nil
	}
	keys, err := enum.AllKeys(context.Background())
	if err != nil {
		logging.Warnf("kvstore: enumerating provider keys failed: %v", err)
		return nil
	}
	return keys
}
