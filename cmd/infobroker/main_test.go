package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/uds"
	"github.com/stormfleet/infobroker/internal/userinfo"
)

// setupTestServices wires a fresh dict-backed service into the package
// globals and isolates config discovery in a temp directory.
func setupTestServices(t *testing.T) {
	t.Helper()

	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	wd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	u, err := uds.NewFromFactory("dict", nil)
	if err != nil {
		t.Fatalf("NewFromFactory failed: %v", err)
	}
	oldService, oldIB := service, ib
	service = u
	inner := broker.NewRouter(u)
	ib = broker.NewRouter(inner, userinfo.NewProvider(inner))
	t.Cleanup(func() {
		_ = u.Close()
		service, ib = oldService, oldIB
	})
}

// runCommand executes the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := []string{"query", "can-get", "keys", "add-infra", "remove-infra", "add-node-def", "set-auth", "snapshot", "restore"}
	for _, n := range names {
		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == n {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected subcommand %s to be registered", n)
		}
	}
}

func TestAddInfraAndQuery(t *testing.T) {
	setupTestServices(t)

	descFile := filepath.Join(t.TempDir(), "infra.yaml")
	desc := "infra_id: i-1\nname: web-tier\n"
	if err := os.WriteFile(descFile, []byte(desc), 0o600); err != nil {
		t.Fatalf("write description: %v", err)
	}

	out, err := runCommand(t, "add-infra", descFile)
	if err != nil {
		t.Fatalf("add-infra failed: %v (%s)", err, out)
	}
	if !strings.Contains(out, "i-1") {
		t.Fatalf("expected the infra id in output, got: %s", out)
	}

	out, err = runCommand(t, "query", "infrastructure.name", "infra_id=i-1")
	if err != nil {
		t.Fatalf("query failed: %v (%s)", err, out)
	}
	if !strings.Contains(out, "web-tier") {
		t.Fatalf("expected web-tier in output, got: %s", out)
	}
}

func TestQuery_UnknownKeyFails(t *testing.T) {
	setupTestServices(t)

	_, err := runCommand(t, "query", "no.such.key")
	if err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestCanGetAndKeys(t *testing.T) {
	setupTestServices(t)

	out, err := runCommand(t, "can-get", "infrastructure.name")
	if err != nil || !strings.Contains(out, "true") {
		t.Fatalf("can-get infrastructure.name = %q, %v", out, err)
	}

	out, err = runCommand(t, "can-get", "no.such.key")
	if err != nil || !strings.Contains(out, "false") {
		t.Fatalf("can-get no.such.key = %q, %v", out, err)
	}

	out, err = runCommand(t, "keys")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	for _, key := range []string{"node.definition", "infrastructure.node_instances", "infrastructure.userinfo"} {
		if !strings.Contains(out, key) {
			t.Fatalf("expected %s in keys output, got: %s", key, out)
		}
	}
}

func TestAddNodeDefAndSelection(t *testing.T) {
	setupTestServices(t)

	defsFile := filepath.Join(t.TempDir(), "defs.yaml")
	defs := "- backend_id: cloud-a\n  image: ubuntu\n"
	if err := os.WriteFile(defsFile, []byte(defs), 0o600); err != nil {
		t.Fatalf("write definitions: %v", err)
	}

	if out, err := runCommand(t, "add-node-def", "worker", defsFile); err != nil {
		t.Fatalf("add-node-def failed: %v (%s)", err, out)
	}

	out, err := runCommand(t, "query", "node.definition", "node_type=worker")
	if err != nil {
		t.Fatalf("query node.definition failed: %v (%s)", err, out)
	}
	if !strings.Contains(out, "cloud-a") {
		t.Fatalf("expected the selected backend in output, got: %s", out)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	setupTestServices(t)

	dir := t.TempDir()
	descFile := filepath.Join(dir, "infra.yaml")
	if err := os.WriteFile(descFile, []byte("infra_id: i-9\nname: batch\n"), 0o600); err != nil {
		t.Fatalf("write description: %v", err)
	}
	if out, err := runCommand(t, "add-infra", descFile); err != nil {
		t.Fatalf("add-infra failed: %v (%s)", err, out)
	}

	snapFile := filepath.Join(dir, "snap.json.zst")
	if out, err := runCommand(t, "snapshot", snapFile); err != nil {
		t.Fatalf("snapshot failed: %v (%s)", err, out)
	}

	if out, err := runCommand(t, "remove-infra", "i-9"); err != nil {
		t.Fatalf("remove-infra failed: %v (%s)", err, out)
	}
	if _, err := runCommand(t, "query", "infrastructure.name", "infra_id=i-9"); err == nil {
		t.Fatal("expected the removed infrastructure to be gone")
	}

	if out, err := runCommand(t, "restore", snapFile); err != nil {
		t.Fatalf("restore failed: %v (%s)", err, out)
	}
	out, err := runCommand(t, "query", "infrastructure.name", "infra_id=i-9")
	if err != nil || !strings.Contains(out, "batch") {
		t.Fatalf("restored query = %q, %v", out, err)
	}
}

func TestSetAuthRoundTrip(t *testing.T) {
	setupTestServices(t)

	authFile := filepath.Join(t.TempDir(), "auth.yaml")
	if err := os.WriteFile(authFile, []byte("token: s3cret\n"), 0o600); err != nil {
		t.Fatalf("write auth data: %v", err)
	}
	if out, err := runCommand(t, "set-auth", "cloud-a", "alice", authFile); err != nil {
		t.Fatalf("set-auth failed: %v (%s)", err, out)
	}

	out, err := runCommand(t, "query", "backends.auth_data", "backend_id=cloud-a", "user_id=alice")
	if err != nil || !strings.Contains(out, "s3cret") {
		t.Fatalf("auth data query = %q, %v", out, err)
	}
}
