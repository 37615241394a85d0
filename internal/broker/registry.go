// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package broker

// Registry is an insertion-ordered mapping from capability key to handler.
// It belongs to a provider type, not an instance: all Register calls happen
// while the provider is being constructed, before the provider is shared,
// so lookups need no synchronization afterwards.
type Registry struct {
	keys     []string
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds key to handler. Re-registering a key replaces the handler
// in place and keeps the key's original position; within one provider each
// key maps to exactly one handler.
func (r *Registry) Register(key string, handler HandlerFunc) {
	if _, dup := r.handlers[key]; !dup {
		r.keys = append(r.keys, key)
	}
	r.handlers[key] = handler
}

// Resolve looks up the handler for key. Absence is reported through the
// bool, never as an error; the caller decides the fallback policy.
func (r *Registry) Resolve(key string) (HandlerFunc, bool) {
	h, ok := r.handlers[key]
	return h, ok
}

// Keys returns the registered keys in registration order. The returned
// slice is a copy; callers may keep or mutate it.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len reports the number of registered keys.
func (r *Registry) Len() int {
	return len(r.keys)
}
