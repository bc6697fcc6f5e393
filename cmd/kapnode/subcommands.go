package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/kapnode/internal/config"
	"github.com/3cpo-dev/kapnode/internal/core"
	"github.com/3cpo-dev/kapnode/internal/inventory"
	"github.com/3cpo-dev/kapnode/internal/journal"
	"github.com/3cpo-dev/kapnode/internal/recorder"
	gssh "github.com/3cpo-dev/kapnode/internal/ssh"
	"github.com/3cpo-dev/kapnode/internal/telemetry"
	"github.com/3cpo-dev/kapnode/pkg/api"
)

// workspace is the loaded config and the stores built from it.
type workspace struct {
	store  *config.Store
	cfg    *config.Config
	inv    *inventory.Store
	remote *gssh.Remote
}

// Resolve the workspace
func loadWorkspace(cmd *cobra.Command) (*workspace, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	store := config.NewStore(cfgPath)
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	cfg.SSHKey = gssh.ExpandHome(cfg.SSHKey)
	cfg.Paths.Inventory = gssh.ExpandHome(cfg.Paths.Inventory)
	cfg.Paths.Journal = gssh.ExpandHome(cfg.Paths.Journal)
	cfg.Paths.KnownHosts = gssh.ExpandHome(cfg.Paths.KnownHosts)
	cfg.Paths.MetricsTextfile = gssh.ExpandHome(cfg.Paths.MetricsTextfile)
	cfg.Paths.Script = gssh.ExpandHome(cfg.Paths.Script)
	return &workspace{
		store:  store,
		cfg:    cfg,
		inv:    inventory.NewStore(cfg.Paths.Inventory),
		remote: gssh.NewRemote(cfg.Paths.KnownHosts),
	}, nil
}

// Initialize configuration, SSH key and secrets
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "kapnode initialization command. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			tsKey, _ := cmd.Flags().GetString("tailscale-key")
			k3sToken, _ := cmd.Flags().GetString("k3s-token")

			store := config.NewStore(cfgPath)
			if _, err := os.Stat(store.Path()); err == nil && !force {
				fmt.Fprintf(out, "config already exists at %s (use --force to overwrite)\n", store.Path())
			} else {
				cfg := config.Default()
				key, err := ensureKey(out, gssh.ExpandHome("~/.ssh"))
				if err != nil {
					return err
				}
				cfg.SSHKey = key
				if err := store.Save(cfg); err != nil {
					return err
				}
				fmt.Fprintln(out, successColor.Sprintf("wrote %s", store.Path()))
			}

			cfg, err := store.Load()
			if err != nil {
				return err
			}
			if err := gssh.EnsureKnownHostsFile(gssh.ExpandHome(cfg.Paths.KnownHosts)); err != nil {
				return err
			}
			for name, value := range map[string]string{config.SecretTailscaleKey: tsKey, config.SecretK3sToken: k3sToken} {
				if value == "" {
					continue
				}
				if err := store.Secrets().Store(name, value); err != nil {
					return fmt.Errorf("store %s in keyring: %w", name, err)
				}
				fmt.Fprintf(out, "stored %s in the OS keyring\n", name)
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config with the defaults")
	cmd.Flags().String("tailscale-key", "", "Tailscale auth key to store in the OS keyring")
	cmd.Flags().String("k3s-token", "", "k3s join token to store in the OS keyring")
	return cmd
}

// ensureKey returns the first usable private key in sshDir, generating an
// ed25519 key when there is none.
func ensureKey(out io.Writer, sshDir string) (string, error) {
	key, err := gssh.DetectPrivateKey(sshDir)
	if err == nil {
		fmt.Fprintf(out, "using SSH key %s\n", key)
		return key, nil
	}
	if !errors.Is(err, gssh.ErrNoKey) {
		return "", err
	}
	key = filepath.Join(sshDir, "homelab_ed25519")
	pub, err := gssh.GenerateEd25519Keypair(key, "kapnode")
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "generated SSH key %s\n", key)
	fmt.Fprintf(out, "add this public key to the hypervisor's authorized_keys:\n  %s\n", strings.TrimSpace(pub))
	return key, nil
}

// Check SSH connectivity to the hypervisor
func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check that the hypervisor is reachable over SSH",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			target := ws.cfg.Target()
			if !ws.remote.Test(cmd.Context(), target) {
				fmt.Fprintln(cmd.OutOrStdout(), errorColor.Sprintf("✗ cannot reach %s@%s", target.User, target.Addr()))
				return fmt.Errorf("connection test failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), successColor.Sprintf("✓ connected to %s@%s", target.User, target.Addr()))
			return nil
		},
	}
}

// Deploy a VM
func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a new VM onto the hypervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			params, err := deployParams(cmd, ws)
			if err != nil {
				return err
			}
			if err := core.ValidateParams(params, ws.cfg.LocationNames()); err != nil {
				return fmt.Errorf("invalid parameters:\n%w", err)
			}
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				fmt.Fprintln(cmd.OutOrStdout(), core.RedactedCommand(core.RemoteScriptPath, params))
				return nil
			}

			out := cmd.OutOrStdout()
			pr := newPrinter(out)
			metrics := telemetry.NewMetrics()
			orch := core.NewOrchestrator(ws.remote, recorder.New(ws.inv, ws.store), ws.cfg.Paths.Script,
				core.WithObserver(core.NewStageTracker(pr.stage)),
				core.WithObserver(metrics),
				core.WithObserver(pr),
			)
			outcome := orch.Run(cmd.Context(), params, ws.cfg.Target())

			saveOutcome(cmd.Context(), ws.cfg.Paths.Journal, outcome)
			if err := metrics.WriteTextfile(ws.cfg.Paths.MetricsTextfile); err != nil {
				log.Warn().Err(err).Msg("Failed to write metrics")
			}
			if !outcome.Succeeded {
				return fmt.Errorf("deployment of %s failed", params.Hostname)
			}
			return nil
		},
	}
	cmd.Flags().String("hostname", "", "VM hostname")
	cmd.Flags().Int("vmid", 0, "Proxmox VM id (default next free id)")
	cmd.Flags().String("ip", "", "static IPv4 address")
	cmd.Flags().String("location", "", "site the VM is deployed at")
	cmd.Flags().String("gateway", "", "gateway (default from location)")
	cmd.Flags().StringSlice("dns", nil, "DNS servers (default from location)")
	cmd.Flags().Int("cores", 0, "CPU cores (default from config)")
	cmd.Flags().Int("memory", 0, "RAM in GB (default from config)")
	cmd.Flags().Int("disk", 0, "root disk in GB (default from config)")
	cmd.Flags().String("storage", "", "Proxmox storage pool (default from config)")
	cmd.Flags().Int("longhorn", -1, "Longhorn disk in GB, 0 to disable (default from config)")
	cmd.Flags().Int("backup", 0, "backup disk in GB, 0 to disable")
	cmd.Flags().String("node-type", "", "k3s-worker, k3s-master or backup (default from config)")
	cmd.Flags().String("k3s-master", "", "k3s server URL (default from config)")
	cmd.Flags().String("ssh-pubkey", "", "public key file installed on the VM (default the key next to ssh_key)")
	cmd.Flags().Bool("dry-run", false, "validate and print the command without running it")
	_ = cmd.MarkFlagRequired("hostname")
	_ = cmd.MarkFlagRequired("ip")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

// deployParams merges the deploy flags over the config and location defaults.
func deployParams(cmd *cobra.Command, ws *workspace) (api.DeploymentParameters, error) {
	f := cmd.Flags()
	cfg := ws.cfg
	hostname, _ := f.GetString("hostname")
	ip, _ := f.GetString("ip")
	location, _ := f.GetString("location")

	loc, known := cfg.LocationDefaults(location)
	if !known {
		log.Warn().Str("location", location).Msg("Unknown location, using generic network defaults")
	}
	p := api.DeploymentParameters{
		Hostname:     hostname,
		IP:           ip,
		Location:     location,
		Gateway:      loc.Gateway,
		DNS:          loc.DNS,
		Network:      loc.Network,
		Cores:        cfg.Defaults.Cores,
		MemoryGB:     cfg.Defaults.RAMGB,
		DiskGB:       cfg.Defaults.DiskGB,
		Storage:      cfg.Defaults.Storage,
		LonghornGB:   cfg.Defaults.LonghornGB,
		NodeType:     cfg.Defaults.NodeType,
		K3sMasterURL: cfg.K3sMaster,
		K3sToken:     cfg.K3sToken,
		TailscaleKey: cfg.TailscaleKey,
	}
	if f.Changed("gateway") {
		p.Gateway, _ = f.GetString("gateway")
	}
	if f.Changed("dns") {
		p.DNS, _ = f.GetStringSlice("dns")
	}
	if f.Changed("cores") {
		p.Cores, _ = f.GetInt("cores")
	}
	if f.Changed("memory") {
		p.MemoryGB, _ = f.GetInt("memory")
	}
	if f.Changed("disk") {
		p.DiskGB, _ = f.GetInt("disk")
	}
	if f.Changed("storage") {
		p.Storage, _ = f.GetString("storage")
	}
	if f.Changed("longhorn") {
		p.LonghornGB, _ = f.GetInt("longhorn")
	}
	p.BackupGB, _ = f.GetInt("backup")
	if f.Changed("node-type") {
		p.NodeType, _ = f.GetString("node-type")
	}
	if f.Changed("k3s-master") {
		p.K3sMasterURL, _ = f.GetString("k3s-master")
	}

	p.VMID, _ = f.GetInt("vmid")
	if p.VMID == 0 {
		next, err := recorder.New(ws.inv, ws.store).NextIdentifier()
		if err != nil {
			return p, fmt.Errorf("next vmid: %w", err)
		}
		p.VMID = next
	}

	if pubPath, _ := f.GetString("ssh-pubkey"); pubPath != "" {
		data, err := os.ReadFile(gssh.ExpandHome(pubPath))
		if err != nil {
			return p, fmt.Errorf("read ssh public key: %w", err)
		}
		p.SSHPublicKey = strings.TrimSpace(string(data))
	} else if pub, err := gssh.PublicKeyFor(cfg.SSHKey); err == nil {
		p.SSHPublicKey = pub
	} else {
		log.Warn().Err(err).Str("key", cfg.SSHKey).Msg("No public key to install on the VM")
	}
	return p, nil
}

// saveOutcome journals a run. Failures are logged, never returned.
func saveOutcome(ctx context.Context, path string, outcome *api.DeploymentOutcome) {
	j, err := journal.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to open run journal")
		return
	}
	defer j.Close()
	if err := j.SaveRun(context.WithoutCancel(ctx), outcome); err != nil {
		log.Warn().Err(err).Str("run_id", outcome.RunID).Msg("Failed to journal run")
	}
}

// Show the status of a VM
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <vmid>",
		Short: "Query the hypervisor for the status of a VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vmid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid vmid %q", args[0])
			}
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			metrics := telemetry.NewMetrics()
			start := time.Now()
			status, err := core.VMStatus(cmd.Context(), ws.remote, ws.cfg.Target(), vmid)
			metrics.ObserveCommand("vm_status", start, err)
			if werr := metrics.WriteTextfile(ws.cfg.Paths.MetricsTextfile); werr != nil {
				log.Warn().Err(werr).Msg("Failed to write metrics")
			}
			switch {
			case errors.Is(err, core.ErrStatusUnknown):
				fmt.Fprintf(cmd.OutOrStdout(), "VM %d: %s\n", vmid, warnColor.Sprint("unknown"))
				return nil
			case err != nil:
				return err
			}
			c := warnColor
			if status == "running" {
				c = successColor
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VM %d: %s\n", vmid, c.Sprint(status))
			return nil
		},
	}
}

// List inventory nodes
func newNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List nodes in the inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			nodes, err := ws.inv.List(inventoryFilter(cmd))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOSTNAME\tVMID\tIP\tLOCATION\tTYPE\tRESOURCES\tDEPLOYED")
			for _, n := range nodes {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%dc/%dG/%dG\t%s\n",
					n.Hostname, n.VMID, n.IP, n.Location, n.NodeType,
					n.Resources.Cores, n.Resources.RAMGB, n.Resources.DiskGB, formatDate(n.DeployedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("location", "", "only nodes at this location")
	cmd.Flags().String("type", "", "only nodes of this node type")
	cmd.AddCommand(newNodesEditCmd())
	cmd.AddCommand(newNodesRmCmd())
	cmd.AddCommand(newNodesLocationsCmd())
	return cmd
}

// Change the recorded details of a node
func newNodesEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <hostname>",
		Short: "Change the recorded details of an inventory node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			err = ws.inv.Update(args[0], func(n *api.InventoryNode) error {
				if flags.Changed("ip") {
					ip, _ := flags.GetString("ip")
					if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
						return fmt.Errorf("invalid IPv4 address %q", ip)
					}
					n.IP = ip
				}
				if flags.Changed("vmid") {
					n.VMID, _ = flags.GetInt("vmid")
				}
				if flags.Changed("tailscale-name") {
					n.TailscaleName, _ = flags.GetString("tailscale-name")
				}
				if flags.Changed("location") {
					n.Location, _ = flags.GetString("location")
				}
				if flags.Changed("type") {
					nodeType, _ := flags.GetString("type")
					switch nodeType {
					case api.NodeTypeK3sWorker, api.NodeTypeK3sMaster, api.NodeTypeBackup:
					default:
						return fmt.Errorf("unknown node type %q", nodeType)
					}
					n.NodeType = nodeType
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successColor.Sprintf("✓ updated %s", args[0]))
			return nil
		},
	}
	cmd.Flags().String("ip", "", "new IP address")
	cmd.Flags().Int("vmid", 0, "new VMID")
	cmd.Flags().String("tailscale-name", "", "Tailscale machine name")
	cmd.Flags().String("location", "", "new location")
	cmd.Flags().String("type", "", "new node type (k3s-worker, k3s-master, backup)")
	return cmd
}

// Remove a node from the inventory
func newNodesRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <hostname>",
		Aliases: []string{"remove"},
		Short:   "Remove a node from the inventory",
		Long:    "Remove a node from the inventory. The VM itself is left untouched on the hypervisor.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			if err := ws.inv.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successColor.Sprintf("✓ removed %s from %s", args[0], ws.inv.Path()))
			return nil
		},
	}
}

// List the locations in use
func newNodesLocationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locations",
		Short: "List the locations used by inventory nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			locations, err := ws.inv.Locations()
			if err != nil {
				return err
			}
			for _, l := range locations {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
}

func inventoryFilter(cmd *cobra.Command) inventory.Filter {
	location, _ := cmd.Flags().GetString("location")
	nodeType, _ := cmd.Flags().GetString("type")
	return inventory.Filter{Location: location, NodeType: nodeType}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// Show deployment history
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if runs, _ := cmd.Flags().GetBool("runs"); runs {
				j, err := journal.Open(ws.cfg.Paths.Journal)
				if err != nil {
					return err
				}
				defer j.Close()
				list, err := j.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "RUN\tHOSTNAME\tVMID\tRESULT\tSTATE\tSTARTED\tDURATION")
				for _, r := range list {
					result := errorColor.Sprint("failed")
					if r.Succeeded {
						result = successColor.Sprint("ok")
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
						shortID(r.ID), r.Hostname, r.VMID, result, r.State,
						formatDate(r.StartedAt), r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
				}
				return tw.Flush()
			}

			entries, err := ws.store.History()
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			fmt.Fprintln(tw, "HOSTNAME\tVMID\tIP\tLOCATION\tTYPE\tDEPLOYED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", e.Hostname, e.VMID, e.IP, e.Location, e.NodeType, formatDate(e.DeployedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "maximum entries to show, 0 for all")
	cmd.Flags().Bool("runs", false, "list journaled runs, including failures")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Replay the output of a run
func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Replay the output of a journaled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			j, err := journal.Open(ws.cfg.Paths.Journal)
			if err != nil {
				return err
			}
			defer j.Close()
			run, err := j.FindRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := j.Events(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, dimColor.Sprintf("run %s  %s (VM %d)  started %s", run.ID, run.Hostname, run.VMID, formatDate(run.StartedAt)))
			if run.Command != "" {
				fmt.Fprintln(out, dimColor.Sprintf("$ %s", run.Command))
			}
			pr := newPrinter(out)
			for _, ev := range events {
				pr.event(ev)
			}
			c := errorColor
			if run.Succeeded {
				c = successColor
			}
			fmt.Fprintln(out, c.Sprintf("%s (exit %d): %s", run.State, run.ExitCode, run.FinalMessage))
			for _, w := range run.Warnings {
				fmt.Fprintln(out, warnColor.Sprintf("warning: %s", w))
			}
			return nil
		},
	}
}

// Export the inventory as CSV
func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export inventory nodes as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			nodes, err := ws.inv.List(inventoryFilter(cmd))
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			if output == "" || output == "-" {
				return inventory.ExportCSV(cmd.OutOrStdout(), nodes)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := inventory.ExportCSV(f, nodes); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			log.Info().Int("nodes", len(nodes)).Str("path", output).Msg("Inventory exported")
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	cmd.Flags().String("location", "", "only nodes at this location")
	cmd.Flags().String("type", "", "only nodes of this node type")
	return cmd
}

// Update packages on a node
func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <hostname>",
		Short: "Upgrade the packages of an inventory node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			node, err := ws.inv.Get(args[0])
			if err != nil {
				return err
			}
			target := api.ConnectionTarget{Host: node.IP, User: ws.cfg.NodeUser, PrivateKeyPath: ws.cfg.SSHKey}
			metrics := telemetry.NewMetrics()
			start := time.Now()
			steps, err := core.UpdateNode(cmd.Context(), ws.remote, target)
			metrics.ObserveCommand("update_node", start, err)
			if werr := metrics.WriteTextfile(ws.cfg.Paths.MetricsTextfile); werr != nil {
				log.Warn().Err(werr).Msg("Failed to write metrics")
			}
			out := cmd.OutOrStdout()
			for _, s := range steps {
				c := successColor
				if s.Result.ExitCode != 0 {
					c = errorColor
				}
				fmt.Fprintln(out, c.Sprintf("$ %s (exit %d)", s.Command, s.Result.ExitCode))
				log.Debug().Str("command", s.Command).Str("stdout", s.Result.Stdout).Str("stderr", s.Result.Stderr).Msg("Update step")
			}
			if err != nil {
				return fmt.Errorf("update %s: %w", node.Hostname, err)
			}
			fmt.Fprintln(out, successColor.Sprintf("✓ %s is up to date", node.Hostname))
			return nil
		},
	}
}
