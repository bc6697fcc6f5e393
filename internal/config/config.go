// Package config loads and persists the deployment configuration: hypervisor
// connection, per-location network defaults, the VMID counter and the
// deployment history.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// MaxHistory is the number of deployments kept in the history.
const MaxHistory = 100

// Location holds the network defaults of one site.
type Location struct {
	Network string   `yaml:"network"`
	Gateway string   `yaml:"gateway"`
	DNS     []string `yaml:"dns"`
}

// Defaults are the VM sizing defaults offered for new deployments.
type Defaults struct {
	Cores      int    `yaml:"cores"`
	RAMGB      int    `yaml:"ram_gb"`
	DiskGB     int    `yaml:"disk_gb"`
	LonghornGB int    `yaml:"longhorn_gb"`
	NodeType   string `yaml:"node_type"`
	Storage    string `yaml:"storage"`
}

// Paths are local files used by the CLI.
type Paths struct {
	Script          string `yaml:"script"`
	Inventory       string `yaml:"inventory"`
	Journal         string `yaml:"journal"`
	KnownHosts      string `yaml:"known_hosts"`
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`
}

// Config is the on-disk configuration. Secrets are resolved at load time and
// never written back.
type Config struct {
	LastVMID    int                 `yaml:"last_vmid"`
	SSHKey      string              `yaml:"ssh_key"`
	ProxmoxHost string              `yaml:"proxmox_host"`
	ProxmoxUser string              `yaml:"proxmox_user"`
	ProxmoxPort int                 `yaml:"proxmox_port,omitempty"`
	NodeUser    string              `yaml:"node_user"`
	K3sMaster   string              `yaml:"k3s_master"`
	Locations   map[string]Location `yaml:"locations"`
	Defaults    Defaults            `yaml:"defaults"`
	Paths       Paths               `yaml:"paths"`
	History     []api.HistoryEntry  `yaml:"deployment_history"`

	TailscaleKey string `yaml:"-"`
	K3sToken     string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dns := func(gw string) []string { return []string{gw, "8.8.8.8"} }
	return &Config{
		LastVMID:    205,
		SSHKey:      "~/.ssh/homelab_rsa",
		ProxmoxHost: "kapmox",
		ProxmoxUser: "root",
		NodeUser:    "ubuntu",
		K3sMaster:   "https://minikapserver:6443",
		Locations: map[string]Location{
			"brooklyn":      {Network: "192.168.86.0/24", Gateway: "192.168.86.1", DNS: dns("192.168.86.1")},
			"manhattan":     {Network: "192.168.50.0/24", Gateway: "192.168.50.1", DNS: dns("192.168.50.1")},
			"staten_island": {Network: "192.168.70.0/24", Gateway: "192.168.70.1", DNS: dns("192.168.70.1")},
			"forest_hills":  {Network: "192.168.50.0/24", Gateway: "192.168.50.1", DNS: dns("192.168.50.1")},
		},
		Defaults: Defaults{
			Cores:    4,
			RAMGB:    16,
			DiskGB:   200,
			NodeType: api.NodeTypeK3sWorker,
			Storage:  "local-lvm",
		},
		Paths: Paths{
			Script:     "scripts/deploy-ubuntu-vm.sh",
			Inventory:  "~/.homelab/inventory.yml",
			Journal:    "~/.homelab/kapnode.db",
			KnownHosts: "~/.homelab/known_hosts",
		},
	}
}

// DefaultPath resolves $XDG_CONFIG_HOME/kapnode/config.yaml or
// ~/.config/kapnode/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "kapnode", "config.yaml")
}

// Store reads and writes one config file. It assumes a single writer.
type Store struct {
	path    string
	secrets *Secrets
}

// NewStore returns a store for path, or DefaultPath when path is empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path, secrets: NewSecrets(filepath.Join(filepath.Dir(path), "secrets.env"))}
}

// Path of the config file.
func (s *Store) Path() string { return s.path }

// Secrets used to resolve the tailscale key and k3s token.
func (s *Store) Secrets() *Secrets { return s.secrets }

// Load reads the config. A missing file yields the defaults and keys absent
// from the file are filled from the defaults.
func (s *Store) Load() (*Config, error) {
	cfg, err := s.read()
	if err != nil {
		return nil, err
	}
	cfg.TailscaleKey = s.secrets.Get(SecretTailscaleKey)
	cfg.K3sToken = s.secrets.Get(SecretK3sToken)
	return cfg, nil
}

func (s *Store) read() (*Config, error) {
	cfg := Default()
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	locations := cfg.Locations
	cfg.Locations = nil
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Locations == nil {
		cfg.Locations = locations
	}
	return cfg, nil
}

// Save writes cfg as a whole.
func (s *Store) Save(cfg *Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := WriteFileAtomic(s.path, out, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Update loads the config, applies fn and writes the result. Nothing is
// written when fn fails.
func (s *Store) Update(fn func(*Config) error) error {
	cfg, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return s.Save(cfg)
}

// NextVMID is the VMID the next deployment should use.
func (s *Store) NextVMID() (int, error) {
	cfg, err := s.read()
	if err != nil {
		return 0, err
	}
	return cfg.LastVMID + 1, nil
}

// AdvanceVMID increments the counter and returns the new last VMID.
func (s *Store) AdvanceVMID() (int, error) {
	var vmid int
	err := s.Update(func(c *Config) error {
		c.LastVMID++
		vmid = c.LastVMID
		return nil
	})
	return vmid, err
}

// AppendHistory records a deployment, keeping the last MaxHistory entries.
func (s *Store) AppendHistory(e api.HistoryEntry) error {
	return s.Update(func(c *Config) error {
		c.History = append(c.History, e)
		if n := len(c.History); n > MaxHistory {
			c.History = append([]api.HistoryEntry(nil), c.History[n-MaxHistory:]...)
		}
		return nil
	})
}

// History returns the recorded deployments, most recent first.
func (s *Store) History() ([]api.HistoryEntry, error) {
	cfg, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]api.HistoryEntry, len(cfg.History))
	for i, e := range cfg.History {
		out[len(out)-1-i] = e
	}
	return out, nil
}

// LocationNames returns the configured locations in sorted order.
func (c *Config) LocationNames() []string {
	names := make([]string, 0, len(c.Locations))
	for name := range c.Locations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var fallbackLocation = Location{Network: "192.168.1.0/24", Gateway: "192.168.1.1", DNS: []string{"192.168.1.1", "8.8.8.8"}}

// LocationDefaults looks up a location case-insensitively, treating spaces
// as underscores. Unknown locations get a generic 192.168.1.0/24 network.
func (c *Config) LocationDefaults(name string) (Location, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	if loc, ok := c.Locations[key]; ok {
		return loc, true
	}
	return fallbackLocation, false
}

// Target is the hypervisor connection described by the config.
func (c *Config) Target() api.ConnectionTarget {
	return api.ConnectionTarget{
		Host:           c.ProxmoxHost,
		User:           c.ProxmoxUser,
		PrivateKeyPath: c.SSHKey,
		Port:           c.ProxmoxPort,
	}
}
