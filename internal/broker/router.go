// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package broker

import "context"

// Router composes an ordered list of providers into a single virtual
// provider. Dispatch is a flat, order-based tie-break: the first
// sub-provider whose CanGet reports true answers, regardless of how
// "specific" a later sub-provider's registration looks. The list is fixed
// at construction; a Router is itself a Provider and can be nested inside
// another Router.
type Router struct {
	subProviders []Provider
}

// NewRouter builds a router over the given sub-providers. Order is
// significant and preserved verbatim; no sorting, no deduplication.
func NewRouter(subProviders ...Provider) *Router {
	subs := make([]Provider, len(subProviders))
	copy(subs, subProviders)
	return &Router{subProviders: subs}
}

// Get forwards the query to the first sub-provider able to answer it.
// CanGet is re-checked before the forwarded call rather than attempting
// and catching, so a sub-provider failing for unrelated reasons is not
// masked as "key not found".
func (r *Router) Get(ctx context.Context, key string, args Args) (any, error) {
	for _, sub := range r.subProviders {
		if sub.CanGet(ctx, key) {
			return sub.Get(ctx, key, args)
		}
	}
	return nil, NewKeyNotFound(key)
}

// CanGet reports whether any sub-provider can answer key.
func (r *Router) CanGet(ctx context.Context, key string) bool {
	for _, sub := range r.subProviders {
		if sub.CanGet(ctx, key) {
			return true
		}
	}
	return false
}

// Keys returns the literal concatenation of every sub-provider's keys, in
// sub-provider order. A key declared by two sub-providers appears twice;
// dispatch still always resolves to the first owner.
func (r *Router) Keys() []string {
	var keys []string
	for _, sub := range r.subProviders {
		keys = append(keys, sub.Keys()...)
	}
	return keys
}
