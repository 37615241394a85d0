// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package uds is the user-data store: the persistent storage abstraction of
// the orchestrator. It implements stored-data querying and manipulation
// primitives over a key-value store backend, and exposes the query side
// through the broker contract (the broker core answers dynamic, on-demand
// queries; the UDS answers the persistent ones).
package uds // import "github.com/stormfleet/infobroker/internal/uds"

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/factory"
	"github.com/stormfleet/infobroker/internal/kvstore"
	"github.com/stormfleet/infobroker/internal/logging"
	"github.com/stormfleet/infobroker/internal/model"
)

// Role is the factory role UDS flavors register under. Each name mirrors a
// storage backend: instantiating ("uds", "redis") builds a redis-backed
// store and wraps it.
const Role = "uds"

func init() {
	for _, name := range []string{"dict", "redis", "sql"} {
		storage := name
		factory.Register(Role, storage, func(cfg factory.Config) (any, error) {
			store, err := kvstore.New(storage, cfg)
			if err != nil {
				return nil, err
			}
			return New(store), nil
		})
	}
}

// UDS wraps a key-value store with the orchestrator's record layout. It is
// itself a provider: its handlers answer the persistent capability keys
// listed in New. Mutations that read-modify-write a state map are
// serialized by an internal mutex; the store itself may still be shared
// with concurrent readers.
type UDS struct {
	broker.Base
	store kvstore.Store

	mu sync.Mutex
}

// New builds a UDS over the given store.
func New(store kvstore.Store) *UDS {
	u := &UDS{store: store}
	u.Handle("node.definition.all", u.allNodeDefinitions)
	u.Handle("node.definition", u.oneNodeDefinition)
	u.Handle("backends.auth_data", u.authData)
	u.Handle("backends", u.target)
	u.Handle("infrastructure.static_description", u.staticDescription)
	u.Handle("infrastructure.name", u.infraName)
	u.Handle("infrastructure.node_instances", u.nodeInstances)
	u.Handle("service_composer.aux_data", u.serviceComposerData)
	return u
}

// NewFromFactory builds the UDS flavor registered under name.
func NewFromFactory(name string, cfg factory.Config) (*UDS, error) {
	v, err := factory.New(Role, name, cfg)
	if err != nil {
		return nil, err
	}
	u, ok := v.(*UDS)
	if !ok {
		return nil, fmt.Errorf("uds backend %q has unexpected type %T", name, v)
	}
	return u, nil
}

// Store exposes the underlying key-value store, mainly for snapshots and
// tests.
func (u *UDS) Store() kvstore.Store { return u.store }

// Close closes the underlying store.
func (u *UDS) Close() error { return u.store.Close() }

// Backend key layout. Key formats are part of the stored data's contract;
// changing them orphans existing records.

func infraDescriptionKey(infraID string) string { return fmt.Sprintf("infra:%s:description", infraID) }
func infraStateKey(infraID string) string       { return fmt.Sprintf("infra:%s:state", infraID) }
func authDataKey(backendID, userID string) string {
	return fmt.Sprintf("auth:%s:%s", backendID, userID)
}
func targetKey(backendID string) string         { return fmt.Sprintf("backend:%s", backendID) }
func nodeDefKey(nodeType string) string         { return fmt.Sprintf("node_def:%s", nodeType) }
func serviceComposerKey(scID string) string     { return fmt.Sprintf("service_composer:%s", scID) }

// queryWithDefault returns def instead of failing when key is absent.
func (u *UDS) queryWithDefault(ctx context.Context, key string, def any) (any, error) {
	v, err := u.store.QueryItem(ctx, key)
	if errors.Is(err, broker.ErrKeyNotFound) {
		return def, nil
	}
	return v, err
}

// allNodeDefinitions answers node.definition.all: every implementation
// registered for a node type.
func (u *UDS) allNodeDefinitions(ctx context.Context, args broker.Args) (any, error) {
	nodeType := args.String("node_type")
	return u.store.QueryItem(ctx, nodeDefKey(nodeType))
}

// oneNodeDefinition answers node.definition: the implementation set
// narrowed to a single entry, honoring a preselected backend id when the
// caller supplies one.
func (u *UDS) oneNodeDefinition(ctx context.Context, args broker.Args) (any, error) {
	stored, err := u.allNodeDefinitions(ctx, args)
	if err != nil {
		return nil, err
	}
	defs, err := model.AsNodeDefinitions(stored)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("node type %q has no implementations", args.String("node_type"))
	}

	if preselected := args.String("preselected_backend_id"); preselected != "" {
		for _, def := range defs {
			if def.BackendID == preselected {
				return def, nil
			}
		}
		return nil, fmt.Errorf("node type %q has no implementation on backend %q",
			args.String("node_type"), preselected)
	}
	return defs[rand.Intn(len(defs))], nil
}

// authData answers backends.auth_data: a user's stored authentication data
// for a resource backend.
func (u *UDS) authData(ctx context.Context, args broker.Args) (any, error) {
	return u.store.QueryItem(ctx, authDataKey(args.String("backend_id"), args.String("user_id")))
}

// target answers backends: a resource backend's stored endpoint record.
func (u *UDS) target(ctx context.Context, args broker.Args) (any, error) {
	return u.store.QueryItem(ctx, targetKey(args.String("backend_id")))
}

// staticDescription answers infrastructure.static_description.
func (u *UDS) staticDescription(ctx context.Context, args broker.Args) (any, error) {
	return u.store.QueryItem(ctx, infraDescriptionKey(args.String("infra_id")))
}

// infraName answers infrastructure.name from the stored description.
func (u *UDS) infraName(ctx context.Context, args broker.Args) (any, error) {
	stored, err := u.staticDescription(ctx, args)
	if err != nil {
		return nil, err
	}
	desc, err := model.AsInfraDescription(stored)
	if err != nil {
		return nil, err
	}
	return desc.Name, nil
}

// nodeInstances answers infrastructure.node_instances: the dynamic state
// map node_name -> node_id -> instance data. An infrastructure with no
// recorded state yields an empty map, not an error.
func (u *UDS) nodeInstances(ctx context.Context, args broker.Args) (any, error) {
	return u.queryWithDefault(ctx, infraStateKey(args.String("infra_id")), map[string]any{})
}

// serviceComposerData answers service_composer.aux_data; content depends on
// the composer type.
func (u *UDS) serviceComposerData(ctx context.Context, args broker.Args) (any, error) {
	return u.queryWithDefault(ctx, serviceComposerKey(args.String("sc_id")), map[string]any{})
}

// AddInfrastructure stores an infrastructure's static description.
func (u *UDS) AddInfrastructure(ctx context.Context, desc *model.InfraDescription) error {
	if desc.InfraID == "" {
		return fmt.Errorf("infrastructure description has no infra_id")
	}
	logging.Debugf("uds: storing description for %s", desc)
	return u.store.SetItem(ctx, infraDescriptionKey(desc.InfraID), desc)
}

// RemoveInfrastructure deletes an infrastructure's static description and
// dynamic state.
func (u *UDS) RemoveInfrastructure(ctx context.Context, infraID string) error {
	if err := u.store.DeleteItem(ctx, infraDescriptionKey(infraID)); err != nil {
		return err
	}
	return u.store.DeleteItem(ctx, infraStateKey(infraID))
}

// RegisterStartedNode records a started node instance in the
// infrastructure's dynamic state.
func (u *UDS) RegisterStartedNode(ctx context.Context, infraID, nodeName string, instance model.InstanceData) error {
	nodeID := instance.NodeID()
	if nodeID == "" {
		return fmt.Errorf("instance data for node %q has no node_id", nodeName)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	state, err := u.loadState(ctx, infraID)
	if err != nil {
		return err
	}
	instances, _ := state[nodeName].(map[string]any)
	if instances == nil {
		instances = make(map[string]any)
		state[nodeName] = instances
	}
	instances[nodeID] = map[string]any(instance)
	return u.store.SetItem(ctx, infraStateKey(infraID), state)
}

// RemoveNode removes a node instance from the infrastructure's dynamic
// state. Removing the last instance of a node drops the node's entry.
func (u *UDS) RemoveNode(ctx context.Context, infraID, nodeName, instanceID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	state, err := u.loadState(ctx, infraID)
	if err != nil {
		return err
	}
	instances, _ := state[nodeName].(map[string]any)
	if _, ok := instances[instanceID]; !ok {
		return broker.NewKeyNotFound(fmt.Sprintf("%s/%s/%s", infraID, nodeName, instanceID))
	}
	delete(instances, instanceID)
	if len(instances) == 0 {
		delete(state, nodeName)
	}
	return u.store.SetItem(ctx, infraStateKey(infraID), state)
}

// AddNodeDefinition stores the implementation set for a node type.
func (u *UDS) AddNodeDefinition(ctx context.Context, nodeType string, defs []model.NodeDefinition) error {
	return u.store.SetItem(ctx, nodeDefKey(nodeType), defs)
}

// SetAuthData stores a user's authentication data for a resource backend.
func (u *UDS) SetAuthData(ctx context.Context, backendID, userID string, data any) error {
	return u.store.SetItem(ctx, authDataKey(backendID, userID), data)
}

// loadState fetches the mutable state map for infraID, converting the
// store's decoded shape in place. Callers hold u.mu.
func (u *UDS) loadState(ctx context.Context, infraID string) (map[string]any, error) {
	stored, err := u.queryWithDefault(ctx, infraStateKey(infraID), map[string]any{})
	if err != nil {
		return nil, err
	}
	state, ok := stored.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored state for %q has unexpected type %T", infraID, stored)
	}
	return state, nil
}
