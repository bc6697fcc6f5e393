package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/3cpo-dev/kapnode/internal/config"
	"github.com/3cpo-dev/kapnode/internal/inventory"
	gssh "github.com/3cpo-dev/kapnode/internal/ssh"
	"github.com/3cpo-dev/kapnode/pkg/api"
)

// testConfig writes a config whose paths all live under a temp dir and
// returns its path.
func testConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	keyring.MockInit()
	t.Setenv(config.SecretTailscaleKey, "")
	t.Setenv(config.SecretK3sToken, "")

	dir := t.TempDir()
	key := filepath.Join(dir, "homelab_ed25519")
	if _, err := gssh.GenerateEd25519Keypair(key, "test"); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := config.Default()
	cfg.SSHKey = key
	cfg.Paths.Script = filepath.Join(dir, "deploy-ubuntu-vm.sh")
	cfg.Paths.Inventory = filepath.Join(dir, "inventory.yml")
	cfg.Paths.Journal = filepath.Join(dir, "kapnode.db")
	cfg.Paths.KnownHosts = filepath.Join(dir, "known_hosts")
	path := filepath.Join(dir, "config.yaml")
	if err := config.NewStore(path).Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return path, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color", "--log", "error"}, args...))
	root.SetContext(context.Background())
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "kapnode "+version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestDeployDryRun(t *testing.T) {
	cfgPath, _ := testConfig(t)
	t.Setenv(config.SecretTailscaleKey, "tskey-auth-"+strings.Repeat("k", 40))

	out, err := execute(t, "--config", cfgPath, "deploy",
		"--hostname", "kapnode7", "--ip", "192.168.86.57", "--location", "brooklyn",
		"--longhorn", "100", "--dry-run")
	if err != nil {
		t.Fatalf("deploy --dry-run: %v\n%s", err, out)
	}
	wantPrefix := "bash /tmp/deploy-ubuntu-vm.sh --name kapnode7 --vmid 206 --ip 192.168.86.57" +
		" --gateway 192.168.86.1 --dns '192.168.86.1,8.8.8.8'" +
		" --memory 16 --cores 4 --disk-size 200 --storage 'local-lvm' --longhorn-size 100" +
		" --tailscale-key '***' --ssh-pubkey 'ssh-ed25519 "
	if !strings.HasPrefix(out, wantPrefix) {
		t.Fatalf("command mismatch:\n got %s\nwant prefix %s", out, wantPrefix)
	}
	if !strings.Contains(out, "--location 'brooklyn' --node-type k3s-worker --k3s-master 'https://minikapserver:6443' --yes") {
		t.Fatalf("command tail mismatch: %s", out)
	}
	if strings.Contains(out, strings.Repeat("k", 40)) {
		t.Fatalf("dry run leaked the tailscale key: %s", out)
	}
}

func TestDeploySkipsVMIDsInInventory(t *testing.T) {
	cfgPath, cfg := testConfig(t)
	inv := inventory.NewStore(cfg.Paths.Inventory)
	if err := inv.Add(api.InventoryNode{Hostname: "kapnode6", IP: "192.168.86.56", VMID: 206, Location: "brooklyn", NodeType: api.NodeTypeK3sWorker}); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, err := execute(t, "--config", cfgPath, "deploy",
		"--hostname", "kapnode7", "--ip", "192.168.86.57", "--location", "brooklyn", "--dry-run")
	if err != nil {
		t.Fatalf("deploy --dry-run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "--vmid 207 ") {
		t.Fatalf("expected vmid 207, got %s", out)
	}
}

func TestDeployRejectsInvalidParameters(t *testing.T) {
	cfgPath, _ := testConfig(t)

	_, err := execute(t, "--config", cfgPath, "deploy",
		"--hostname=bad_host", "--ip", "10.0.0.5", "--location", "brooklyn", "--cores", "128", "--dry-run")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, field := range []string{"hostname=bad_host", "ip=10.0.0.5", "cores=128"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error does not mention %s: %v", field, err)
		}
	}
}

func TestNodesAndExport(t *testing.T) {
	cfgPath, cfg := testConfig(t)
	inv := inventory.NewStore(cfg.Paths.Inventory)
	deployed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	nodes := []api.InventoryNode{
		{Hostname: "kapnode7", IP: "192.168.86.57", VMID: 207, Location: "brooklyn", NodeType: api.NodeTypeK3sWorker, DeployedAt: deployed, Resources: api.Resources{Cores: 4, RAMGB: 16, DiskGB: 200}},
		{Hostname: "kapmaster", IP: "192.168.50.10", VMID: 210, Location: "manhattan", NodeType: api.NodeTypeK3sMaster, DeployedAt: deployed},
	}
	for _, n := range nodes {
		if err := inv.Add(n); err != nil {
			t.Fatalf("add %s: %v", n.Hostname, err)
		}
	}

	out, err := execute(t, "--config", cfgPath, "nodes", "--location", "brooklyn")
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	if !strings.Contains(out, "kapnode7") || strings.Contains(out, "kapmaster") {
		t.Fatalf("location filter not applied:\n%s", out)
	}
	if !strings.Contains(out, "4c/16G/200G") {
		t.Fatalf("resources column missing:\n%s", out)
	}

	out, err = execute(t, "--config", cfgPath, "export", "--type", api.NodeTypeK3sMaster)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := "hostname,vmid,location,ip,tailscale_name,node_type,deployed\n" +
		"kapmaster,210,manhattan,192.168.50.10,,k3s-master,2025-03-01T12:00:00Z\n"
	if out != want {
		t.Fatalf("export mismatch:\n got %q\nwant %q", out, want)
	}
}

func TestNodesEditRemoveAndLocations(t *testing.T) {
	cfgPath, cfg := testConfig(t)
	inv := inventory.NewStore(cfg.Paths.Inventory)
	for _, n := range []api.InventoryNode{
		{Hostname: "kapnode7", IP: "192.168.86.57", VMID: 207, Location: "brooklyn", NodeType: api.NodeTypeK3sWorker},
		{Hostname: "kapmaster", IP: "192.168.50.10", VMID: 210, Location: "manhattan", NodeType: api.NodeTypeK3sMaster},
	} {
		if err := inv.Add(n); err != nil {
			t.Fatalf("add %s: %v", n.Hostname, err)
		}
	}

	out, err := execute(t, "--config", cfgPath, "nodes", "locations")
	if err != nil {
		t.Fatalf("nodes locations: %v", err)
	}
	if out != "brooklyn\nmanhattan\n" {
		t.Fatalf("locations = %q", out)
	}

	_, err = execute(t, "--config", cfgPath, "nodes", "edit", "kapnode7",
		"--ip", "192.168.50.57", "--location", "manhattan", "--tailscale-name", "kapnode7-ts", "--type", api.NodeTypeBackup)
	if err != nil {
		t.Fatalf("nodes edit: %v", err)
	}
	got, err := inv.Get("kapnode7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IP != "192.168.50.57" || got.Location != "manhattan" || got.TailscaleName != "kapnode7-ts" || got.NodeType != api.NodeTypeBackup {
		t.Fatalf("edited node = %+v", got)
	}
	if got.VMID != 207 {
		t.Fatalf("vmid changed without --vmid: %d", got.VMID)
	}
	if got.Group != inventory.GroupBackupNodes {
		t.Fatalf("group = %s, want %s", got.Group, inventory.GroupBackupNodes)
	}

	if _, err := execute(t, "--config", cfgPath, "nodes", "edit", "kapnode7", "--vmid", "210"); !errors.Is(err, inventory.ErrVMIDInUse) {
		t.Fatalf("expected vmid in use, got %v", err)
	}
	if _, err := execute(t, "--config", cfgPath, "nodes", "edit", "kapnode7", "--ip", "not-an-ip"); err == nil {
		t.Fatalf("expected invalid ip error")
	}
	if _, err := execute(t, "--config", cfgPath, "nodes", "edit", "kapnode7", "--type", "etcd"); err == nil {
		t.Fatalf("expected unknown node type error")
	}

	if _, err := execute(t, "--config", cfgPath, "nodes", "rm", "kapmaster"); err != nil {
		t.Fatalf("nodes rm: %v", err)
	}
	if _, err := inv.Get("kapmaster"); !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("kapmaster still present: %v", err)
	}
	if _, err := execute(t, "--config", cfgPath, "nodes", "rm", "kapmaster"); !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("second rm: %v", err)
	}

	out, err = execute(t, "--config", cfgPath, "nodes", "locations")
	if err != nil {
		t.Fatalf("nodes locations: %v", err)
	}
	if out != "manhattan\n" {
		t.Fatalf("locations after edit and rm = %q", out)
	}
}

func TestHistoryWithEmptyJournal(t *testing.T) {
	cfgPath, _ := testConfig(t)
	out, err := execute(t, "--config", cfgPath, "history", "--runs")
	if err != nil {
		t.Fatalf("history --runs: %v", err)
	}
	if strings.TrimSpace(out) != "RUN  HOSTNAME  VMID  RESULT  STATE  STARTED  DURATION" {
		t.Fatalf("unexpected output %q", out)
	}

	_, err = execute(t, "--config", cfgPath, "logs", "deadbeef")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Fatalf("expected run not found, got %v", err)
	}
}
