// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the domain records the orchestrator stores and
// queries: infrastructure descriptions, node definitions and node instance
// data.
//
// Stored values come back from the storage backends either live (dict) or
// as decoded maps (redis, sql), so every record ships an As* helper that
// accepts both shapes.
package model

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// InfraDescription is an infrastructure's static description: identity,
// display name and the user-info strategy its owner declared.
type InfraDescription struct {
	InfraID string `yaml:"infra_id" json:"infra_id" mapstructure:"infra_id"`
	Name    string `yaml:"name" json:"name" mapstructure:"name"`

	// UserInfoStrategy selects how user information is gathered for this
	// infrastructure: either a bare strategy name or a map with a
	// "protocol" entry plus strategy configuration. Empty means the
	// default strategy.
	UserInfoStrategy any `yaml:"userinfo_strategy,omitempty" json:"userinfo_strategy,omitempty" mapstructure:"userinfo_strategy"`
}

// String returns the id and name, for logs.
func (d InfraDescription) String() string {
	return fmt.Sprintf("%s (%s)", d.InfraID, d.Name)
}

// NodeDefinition is one concrete implementation of a node type on a given
// resource backend.
type NodeDefinition struct {
	BackendID string         `yaml:"backend_id" json:"backend_id" mapstructure:"backend_id"`
	Attrs     map[string]any `yaml:"attrs,omitempty" json:"attrs,omitempty" mapstructure:",remain"`
}

// InstanceData describes one started node instance. The orchestrator treats
// it as an open map; only the node id is mandatory.
type InstanceData map[string]any

// NodeID returns the instance's mandatory node id, or "" when missing.
func (d InstanceData) NodeID() string {
	id, _ := d["node_id"].(string)
	return id
}

// AsInfraDescription converts a stored value back into a description.
// Accepts *InfraDescription, InfraDescription or a decoded map.
func AsInfraDescription(v any) (*InfraDescription, error) {
	switch t := v.(type) {
	case *InfraDescription:
		return t, nil
	case InfraDescription:
		return &t, nil
	}
	var desc InfraDescription
	if err := mapstructure.Decode(v, &desc); err != nil {
		return nil, fmt.Errorf("stored value is not an infrastructure description: %w", err)
	}
	return &desc, nil
}

// AsNodeDefinitions converts a stored node-definition set. Accepts
// []NodeDefinition or a decoded list of maps.
func AsNodeDefinitions(v any) ([]NodeDefinition, error) {
	if defs, ok := v.([]NodeDefinition); ok {
		return defs, nil
	}
	var defs []NodeDefinition
	if err := mapstructure.Decode(v, &defs); err != nil {
		return nil, fmt.Errorf("stored value is not a node definition set: %w", err)
	}
	return defs, nil
}
