// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package broker

import (
	"context"

	"github.com/stormfleet/infobroker/internal/logging"
)

// Base is the embeddable provider core implementing the two-tier resolution
// policy: answer from the registry first, then ask the attached backend.
// The order matters; a handler computing a derived answer (say, current
// time) must win over a stale stored value under the same key.
//
// Concrete providers embed Base, register their handlers during
// construction and optionally attach a backend:
//
//	type clockProvider struct{ broker.Base }
//
//	func newClockProvider() *clockProvider {
//		p := &clockProvider{}
//		p.Handle("global.time.utc", p.getUTC)
//		return p
//	}
type Base struct {
	registry *Registry
	backend  Backend
}

// Handle registers a handler for key, creating the registry on first use.
// Meant to be called from the embedding provider's constructor only.
func (b *Base) Handle(key string, handler HandlerFunc) {
	if b.registry == nil {
		b.registry = NewRegistry()
	}
	b.registry.Register(key, handler)
}

// AttachBackend sets the fallback backend consulted for keys without a
// local handler. Call during construction; a nil backend disables tier two.
func (b *Base) AttachBackend(backend Backend) {
	b.backend = backend
}

// Get resolves key against the local registry, then the attached backend.
// Handler and backend errors propagate unchanged; only the "no one can
// answer" case is normalized into *KeyNotFoundError.
func (b *Base) Get(ctx context.Context, key string, args Args) (any, error) {
	if b.registry != nil {
		if h, ok := b.registry.Resolve(key); ok {
			return h(ctx, args)
		}
	}
	if b.backend != nil {
		ok, err := b.backend.HasKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return b.backend.QueryItem(ctx, key)
		}
	}
	return nil, NewKeyNotFound(key)
}

// CanGet reports whether Get would resolve key, without invoking any
// handler. A backend probe failure counts as "cannot answer"; the failure
// will surface from Get if the caller proceeds anyway.
func (b *Base) CanGet(ctx context.Context, key string) bool {
	if b.registry != nil {
		if _, ok := b.registry.Resolve(key); ok {
			return true
		}
	}
	if b.backend != nil {
		ok, err := b.backend.HasKey(ctx, key)
		if err != nil {
			logging.Debugf("broker: backend probe for %q failed: %v", key, err)
			return false
		}
		return ok
	}
	return false
}

// Keys returns the registry's key sequence in declaration order. Backend
// keys are not included; a provider wanting to advertise its backend's key
// space overrides Keys (see kvstore.Provider).
func (b *Base) Keys() []string {
	if b.registry == nil {
		return nil
	}
	return b.registry.Keys()
}
