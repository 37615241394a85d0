// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package userinfo gathers user-facing information about a running
// infrastructure. What is gathered depends on the strategy, selected per
// infrastructure in its static description and instantiated through the
// factory.
package userinfo

import (
	"context"
	"fmt"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/factory"
)

// Role is the factory role strategies register under.
const Role = "userinfo"

// DefaultStrategy is used when an infrastructure declares no strategy.
const DefaultStrategy = "basic"

// Strategy gathers user information for one infrastructure. Strategies
// query everything they need through the supplied provider; there is no
// ambient broker singleton.
type Strategy interface {
	GetUserInfo(ctx context.Context, ib broker.Provider, infraID string) (any, error)
}

// NewStrategy constructs the strategy registered under name.
func NewStrategy(name string, cfg factory.Config) (Strategy, error) {
	v, err := factory.New(Role, name, cfg)
	if err != nil {
		return nil, err
	}
	s, ok := v.(Strategy)
	if !ok {
		return nil, fmt.Errorf("userinfo backend %q does not implement Strategy (got %T)", name, v)
	}
	return s, nil
}

// ResolveSpec normalizes a strategy declaration from an infrastructure
// description: nil or "" selects the default, a string selects by name,
// and a map selects by its "protocol" entry with the remaining entries
// forwarded as strategy configuration.
func ResolveSpec(spec any) (string, factory.Config, error) {
	switch s := spec.(type) {
	case nil:
		return DefaultStrategy, nil, nil
	case string:
		if s == "" {
			return DefaultStrategy, nil, nil
		}
		return s, nil, nil
	case map[string]any:
		name, _ := s["protocol"].(string)
		if name == "" {
			return "", nil, fmt.Errorf("userinfo strategy spec has no protocol entry: %v", s)
		}
		cfg := make(factory.Config, len(s))
		for k, v := range s {
			if k != "protocol" {
				cfg[k] = v
			}
		}
		return name, cfg, nil
	default:
		return "", nil, fmt.Errorf("unsupported userinfo strategy spec type %T", spec)
	}
}

func init() {
	factory.Register(Role, "basic", func(cfg factory.Config) (any, error) {
		return &BasicStrategy{}, nil
	})
}

// BasicStrategy maps every registered node instance to its resource
// address: the result is node name -> node id -> address.
type BasicStrategy struct{}

// GetUserInfo walks the infrastructure's instance state and resolves each
// instance's address through the broker.
func (s *BasicStrategy) GetUserInfo(ctx context.Context, ib broker.Provider, infraID string) (any, error) {
	stored, err := ib.Get(ctx, "infrastructure.node_instances", broker.Args{"infra_id": infraID})
	if err != nil {
		return nil, err
	}
	state, ok := stored.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("instance state for %q has unexpected type %T", infraID, stored)
	}

	userinfo := make(map[string]any, len(state))
	for nodeName, v := range state {
		instances, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("instances of node %q have unexpected type %T", nodeName, v)
		}
		addresses := make(map[string]any, len(instances))
		for nodeID, instance := range instances {
			addr, err := ib.Get(ctx, "node.resource.address", broker.Args{
				"infra_id":      infraID,
				"node_id":       nodeID,
				"instance_data": instance,
			})
			if err != nil {
				return nil, err
			}
			addresses[nodeID] = addr
		}
		userinfo[nodeName] = addresses
	}
	return userinfo, nil
}
