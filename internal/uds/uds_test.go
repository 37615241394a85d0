package uds

import (
	"context"
	"errors"
	"testing"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/model"
)

func newDictUDS(t *testing.T) *UDS {
	t.Helper()
	u, err := NewFromFactory("dict", nil)
	if err != nil {
		t.Fatalf("NewFromFactory(dict) failed: %v", err)
	}
	t.Cleanup(func() { _ = u.Close() })
	return u
}

func TestUDS_KeysCoverPersistentQueries(t *testing.T) {
	u := newDictUDS(t)
	want := []string{
		"node.definition.all", "node.definition",
		"backends.auth_data", "backends",
		"infrastructure.static_description", "infrastructure.name",
		"infrastructure.node_instances",
		"service_composer.aux_data",
	}
	got := u.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUDS_InfrastructureDescriptionRoundTrip(t *testing.T) {
	u := newDictUDS(t)
	ctx := context.Background()

	desc := &model.InfraDescription{InfraID: "i-1", Name: "web-tier"}
	if err := u.AddInfrastructure(ctx, desc); err != nil {
		t.Fatalf("AddInfrastructure failed: %v", err)
	}

	got, err := u.Get(ctx, "infrastructure.static_description", broker.Args{"infra_id": "i-1"})
	if err != nil {
		t.Fatalf("static_description query failed: %v", err)
	}
	stored, err := model.AsInfraDescription(got)
	if err != nil || stored.Name != "web-tier" {
		t.Fatalf("stored description = %v (%v)", got, err)
	}

	name, err := u.Get(ctx, "infrastructure.name", broker.Args{"infra_id": "i-1"})
	if err != nil || name != "web-tier" {
		t.Fatalf("infrastructure.name = %v, %v", name, err)
	}

	if err := u.RemoveInfrastructure(ctx, "i-1"); err != nil {
		t.Fatalf("RemoveInfrastructure failed: %v", err)
	}
	_, err = u.Get(ctx, "infrastructure.static_description", broker.Args{"infra_id": "i-1"})
	if !errors.Is(err, broker.ErrKeyNotFound) {
		t.Fatalf("removed description should be gone, got %v", err)
	}
}

func TestUDS_AddInfrastructureRequiresID(t *testing.T) {
	u := newDictUDS(t)
	if err := u.AddInfrastructure(context.Background(), &model.InfraDescription{Name: "anon"}); err == nil {
		t.Fatal("expected an error for a description without infra_id")
	}
}

func TestUDS_NodeInstancesDefaultToEmpty(t *testing.T) {
	u := newDictUDS(t)
	got, err := u.Get(context.Background(), "infrastructure.node_instances", broker.Args{"infra_id": "ghost"})
	if err != nil {
		t.Fatalf("node_instances query failed: %v", err)
	}
	state, ok := got.(map[string]any)
	if !ok || len(state) != 0 {
		t.Fatalf("expected an empty state map, got %v", got)
	}
}

func TestUDS_RegisterAndRemoveNodes(t *testing.T) {
	u := newDictUDS(t)
	ctx := context.Background()

	add := func(node, id string) {
		t.Helper()
		err := u.RegisterStartedNode(ctx, "i-1", node, model.InstanceData{
			"node_id": id, "address": id + ".internal",
		})
		if err != nil {
			t.Fatalf("RegisterStartedNode(%s/%s) failed: %v", node, id, err)
		}
	}
	add("app", "n-1")
	add("app", "n-2")
	add("db", "n-3")

	got, err := u.Get(ctx, "infrastructure.node_instances", broker.Args{"infra_id": "i-1"})
	if err != nil {
		t.Fatalf("node_instances query failed: %v", err)
	}
	state := got.(map[string]any)
	if len(state) != 2 {
		t.Fatalf("state = %v, want app and db entries", state)
	}
	app := state["app"].(map[string]any)
	if len(app) != 2 {
		t.Fatalf("app instances = %v", app)
	}

	if err := u.RemoveNode(ctx, "i-1", "app", "n-1"); err != nil {
		t.Fatalf("RemoveNode failed: %v", err)
	}
	if err := u.RemoveNode(ctx, "i-1", "db", "n-3"); err != nil {
		t.Fatalf("RemoveNode failed: %v", err)
	}

	got, _ = u.Get(ctx, "infrastructure.node_instances", broker.Args{"infra_id": "i-1"})
	state = got.(map[string]any)
	if _, ok := state["db"]; ok {
		t.Fatal("db entry should vanish with its last instance")
	}
	if app := state["app"].(map[string]any); len(app) != 1 {
		t.Fatalf("app should keep one instance, got %v", app)
	}

	err = u.RemoveNode(ctx, "i-1", "app", "n-404")
	if !errors.Is(err, broker.ErrKeyNotFound) {
		t.Fatalf("removing an unknown instance should be key-not-found, got %v", err)
	}
}

func TestUDS_RegisterStartedNodeRequiresNodeID(t *testing.T) {
	u := newDictUDS(t)
	err := u.RegisterStartedNode(context.Background(), "i-1", "app", model.InstanceData{"address": "x"})
	if err == nil {
		t.Fatal("expected an error for instance data without node_id")
	}
}

func TestUDS_NodeDefinitionSelection(t *testing.T) {
	u := newDictUDS(t)
	ctx := context.Background()

	defs := []model.NodeDefinition{
		{BackendID: "aws"},
		{BackendID: "cloudsigma"},
	}
	if err := u.AddNodeDefinition(ctx, "web", defs); err != nil {
		t.Fatalf("AddNodeDefinition failed: %v", err)
	}

	got, err := u.Get(ctx, "node.definition.all", broker.Args{"node_type": "web"})
	if err != nil {
		t.Fatalf("node.definition.all failed: %v", err)
	}
	all, err := model.AsNodeDefinitions(got)
	if err != nil || len(all) != 2 {
		t.Fatalf("definition set = %v (%v)", got, err)
	}

	// Preselection pins the choice.
	got, err = u.Get(ctx, "node.definition", broker.Args{
		"node_type": "web", "preselected_backend_id": "cloudsigma",
	})
	if err != nil {
		t.Fatalf("node.definition failed: %v", err)
	}
	if got.(model.NodeDefinition).BackendID != "cloudsigma" {
		t.Fatalf("preselected definition = %v", got)
	}

	// Without preselection the answer is one of the registered set.
	got, err = u.Get(ctx, "node.definition", broker.Args{"node_type": "web"})
	if err != nil {
		t.Fatalf("node.definition failed: %v", err)
	}
	picked := got.(model.NodeDefinition).BackendID
	if picked != "aws" && picked != "cloudsigma" {
		t.Fatalf("picked unknown backend %q", picked)
	}

	// Unknown preselection is an error, not a silent fallback.
	_, err = u.Get(ctx, "node.definition", broker.Args{
		"node_type": "web", "preselected_backend_id": "azure",
	})
	if err == nil {
		t.Fatal("expected an error for an unknown preselected backend")
	}

	// Unknown node type propagates key-not-found from the store.
	_, err = u.Get(ctx, "node.definition.all", broker.Args{"node_type": "ghost"})
	if !errors.Is(err, broker.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestUDS_AuthDataAndTargets(t *testing.T) {
	u := newDictUDS(t)
	ctx := context.Background()

	if err := u.SetAuthData(ctx, "aws", "alice", map[string]any{"token": "secret"}); err != nil {
		t.Fatalf("SetAuthData failed: %v", err)
	}
	got, err := u.Get(ctx, "backends.auth_data", broker.Args{"backend_id": "aws", "user_id": "alice"})
	if err != nil {
		t.Fatalf("backends.auth_data failed: %v", err)
	}
	if got.(map[string]any)["token"] != "secret" {
		t.Fatalf("auth data = %v", got)
	}

	if err := u.Store().SetItem(ctx, "backend:aws", "https://aws.example"); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	got, err = u.Get(ctx, "backends", broker.Args{"backend_id": "aws"})
	if err != nil || got != "https://aws.example" {
		t.Fatalf("backends = %v, %v", got, err)
	}
}

func TestUDS_BehindRouterWithComputedProviders(t *testing.T) {
	u := newDictUDS(t)
	ctx := context.Background()
	if err := u.AddInfrastructure(ctx, &model.InfraDescription{InfraID: "i-9", Name: "api"}); err != nil {
		t.Fatalf("AddInfrastructure failed: %v", err)
	}

	computed := &broker.Base{}
	computed.Handle("global.echo", func(ctx context.Context, args broker.Args) (any, error) {
		return args["msg"], nil
	})

	router := broker.NewRouter(computed, u)
	got, err := router.Get(ctx, "infrastructure.name", broker.Args{"infra_id": "i-9"})
	if err != nil || got != "api" {
		t.Fatalf("router query = %v, %v", got, err)
	}
	if !router.CanGet(ctx, "global.echo") || !router.CanGet(ctx, "backends") {
		t.Fatal("router should advertise both providers' keys")
	}
}

func TestUDS_SQLBackendRoundTrip(t *testing.T) {
	u, err := NewFromFactory("sql", map[string]any{
		"type": "sqlite",
		"dsn":  "file:test_uds_sql?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("NewFromFactory(sql) failed: %v", err)
	}
	defer func() { _ = u.Close() }()
	ctx := context.Background()

	if err := u.AddInfrastructure(ctx, &model.InfraDescription{InfraID: "i-2", Name: "batch"}); err != nil {
		t.Fatalf("AddInfrastructure failed: %v", err)
	}
	if err := u.RegisterStartedNode(ctx, "i-2", "worker", model.InstanceData{"node_id": "n-1"}); err != nil {
		t.Fatalf("RegisterStartedNode failed: %v", err)
	}

	name, err := u.Get(ctx, "infrastructure.name", broker.Args{"infra_id": "i-2"})
	if err != nil || name != "batch" {
		t.Fatalf("infrastructure.name = %v, %v", name, err)
	}

	got, err := u.Get(ctx, "infrastructure.node_instances", broker.Args{"infra_id": "i-2"})
	if err != nil {
		t.Fatalf("node_instances failed: %v", err)
	}
	state, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("state decoded as %T", got)
	}
	worker, _ := state["worker"].(map[string]any)
	if worker == nil || worker["n-1"] == nil {
		t.Fatalf("state = %v", state)
	}
}

func TestNewFromFactory_UnknownFlavor(t *testing.T) {
	_, err := NewFromFactory("memcached", nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered uds flavor")
	}
}
