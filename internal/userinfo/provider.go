// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package userinfo

import (
	"context"
	"fmt"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/model"
)

// Provider answers infrastructure.userinfo. It resolves the strategy
// declared in the infrastructure's static description and delegates the
// actual gathering to it. All lookups go through the broker reference
// handed in at construction.
type Provider struct {
	broker.Base

	ib broker.Provider
}

// NewProvider builds a userinfo provider querying through ib. ib is
// typically the router the provider itself is mounted on.
func NewProvider(ib broker.Provider) *Provider {
	p := &Provider{ib: ib}
	p.Handle("infrastructure.userinfo", p.getUserInfo)
	return p
}

func (p *Provider) getUserInfo(ctx context.Context, args broker.Args) (any, error) {
	infraID := args.String("infra_id")
	stored, err := p.ib.Get(ctx, "infrastructure.static_description", broker.Args{"infra_id": infraID})
	if err != nil {
		return nil, err
	}
	desc, err := model.AsInfraDescription(stored)
	if err != nil {
		return nil, fmt.Errorf("static description of %q: %w", infraID, err)
	}

	name, cfg, err := ResolveSpec(desc.UserInfoStrategy)
	if err != nil {
		return nil, err
	}
	strategy, err := NewStrategy(name, cfg)
	if err != nil {
		return nil, err
	}
	return strategy.GetUserInfo(ctx, p.ib, infraID)
}
