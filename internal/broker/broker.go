// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package broker implements the capability registration and query routing
// core of the orchestrator. Components declare the hierarchical keys they
// can answer (e.g. "infrastructure.node_instances") by binding handlers in
// a Registry; a Router aggregates several such providers and forwards each
// query to the first one able to handle it.
//
// The dispatch layer holds no mutable shared state after construction:
// registries are populated while a provider is being built and routers take
// their sub-provider list once. Concurrent Get/CanGet calls therefore need
// no locking here; any locking discipline belongs to the attached backends.
package broker // import "github.com/stormfleet/infobroker/internal/broker"

import "context"

// Args carries the named arguments of a single query. Handlers pull the
// arguments they need by name; unknown arguments are ignored.
type Args map[string]any

// String returns the named argument as a string, or "" when absent or of a
// different type.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// HandlerFunc answers exactly one capability key. It receives the query's
// named arguments verbatim and either returns a value or an error. Errors
// other than *KeyNotFoundError propagate to the caller unchanged.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// Provider is anything that can answer capability queries. A Router is
// itself a Provider, so providers and routers compose to arbitrary depth.
//
// Contract:
//   - Get answers the query or fails with *KeyNotFoundError when nobody can.
//   - CanGet is side-effect-free and never invokes handlers.
//   - Keys lists the declared keys in declaration order. Duplicates are
//     allowed and must be preserved.
type Provider interface {
	Get(ctx context.Context, key string, args Args) (any, error)
	CanGet(ctx context.Context, key string) bool
	Keys() []string
}

// Backend supplies values for keys a provider does not resolve with its own
// handlers. Key-value stores implement a superset of this contract.
type Backend interface {
	// HasKey reports whether the backend holds the given key. A probe
	// error means the key cannot be served right now.
	HasKey(ctx context.Context, key string) (bool, error)

	// QueryItem returns the value stored under key, or an error matching
	// ErrKeyNotFound when the backend does not hold it.
	QueryItem(ctx context.Context, key string) (any, error)
}
