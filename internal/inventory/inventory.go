// Package inventory keeps provisioned nodes in an Ansible YAML inventory.
package inventory

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/kapnode/internal/config"
	"github.com/3cpo-dev/kapnode/pkg/api"
)

var (
	ErrNotFound      = errors.New("node not found")
	ErrAlreadyExists = errors.New("node already exists")
	ErrVMIDInUse     = errors.New("vmid already in use")
)

// Ansible groups.
const (
	GroupProxmoxHosts = "proxmox_hosts"
	GroupK3sMasters   = "k3s_masters"
	GroupK3sWorkers   = "k3s_workers"
	GroupBackupNodes  = "backup_nodes"
)

// MinVMID is the lowest VMID handed out by NextVMID.
const MinVMID = 200

// GroupFor maps a node type to its inventory group.
func GroupFor(nodeType string) string {
	switch nodeType {
	case api.NodeTypeK3sMaster:
		return GroupK3sMasters
	case api.NodeTypeBackup:
		return GroupBackupNodes
	default:
		return GroupK3sWorkers
	}
}

type hostVars struct {
	AnsibleHost   string         `yaml:"ansible_host,omitempty"`
	VMID          int            `yaml:"vmid,omitempty"`
	Location      string         `yaml:"location,omitempty"`
	Deployed      time.Time      `yaml:"deployed,omitempty"`
	NodeType      string         `yaml:"node_type,omitempty"`
	InitialIP     string         `yaml:"initial_ip,omitempty"`
	TailscaleName string         `yaml:"tailscale_name,omitempty"`
	Resources     *api.Resources `yaml:"resources,omitempty"`
	// Other host variables are kept as they are.
	Extra map[string]any `yaml:",inline"`
}

type group struct {
	Hosts map[string]*hostVars `yaml:"hosts"`
	Vars  map[string]any       `yaml:"vars,omitempty"`
}

type document struct {
	All struct {
		Children map[string]*group `yaml:"children"`
		Vars     map[string]any    `yaml:"vars,omitempty"`
	} `yaml:"all"`
}

func emptyDocument() *document {
	doc := &document{}
	doc.All.Children = map[string]*group{}
	for _, g := range []string{GroupProxmoxHosts, GroupK3sMasters, GroupK3sWorkers, GroupBackupNodes} {
		doc.All.Children[g] = &group{Hosts: map[string]*hostVars{}}
	}
	return doc
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Location string
	NodeType string
}

// Store is a file-backed inventory. Every mutation rewrites the whole file;
// a single writer is assumed.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a store for the inventory file at path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path of the inventory file.
func (s *Store) Path() string { return s.path }

func (s *Store) load() (*document, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	doc := &document{}
	if err := yaml.Unmarshal(content, doc); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if doc.All.Children == nil {
		doc.All.Children = map[string]*group{}
	}
	return doc, nil
}

func (s *Store) save(doc *document) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, out, 0644); err != nil {
		return fmt.Errorf("write inventory: %w", err)
	}
	return nil
}

func (s *Store) mutate(fn func(*document) error) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

// find returns the group name and vars of hostname.
func (d *document) find(hostname string) (string, *hostVars) {
	for _, name := range d.groupNames() {
		g := d.All.Children[name]
		if g == nil {
			continue
		}
		if hv, ok := g.Hosts[hostname]; ok && hv != nil {
			return name, hv
		}
	}
	return "", nil
}

func (d *document) groupNames() []string {
	names := make([]string, 0, len(d.All.Children))
	for name := range d.All.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *document) put(groupName, hostname string, hv *hostVars) {
	g := d.All.Children[groupName]
	if g == nil {
		g = &group{}
		d.All.Children[groupName] = g
	}
	if g.Hosts == nil {
		g.Hosts = map[string]*hostVars{}
	}
	g.Hosts[hostname] = hv
}

func (d *document) nodes() []api.InventoryNode {
	var out []api.InventoryNode
	for _, name := range d.groupNames() {
		g := d.All.Children[name]
		if g == nil {
			continue
		}
		hosts := make([]string, 0, len(g.Hosts))
		for h := range g.Hosts {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		for _, h := range hosts {
			if hv := g.Hosts[h]; hv != nil {
				out = append(out, toNode(name, h, hv))
			}
		}
	}
	return out
}

func toNode(groupName, hostname string, hv *hostVars) api.InventoryNode {
	n := api.InventoryNode{
		Hostname:      hostname,
		IP:            hv.AnsibleHost,
		VMID:          hv.VMID,
		Location:      hv.Location,
		NodeType:      hv.NodeType,
		DeployedAt:    hv.Deployed,
		TailscaleName: hv.TailscaleName,
		Group:         groupName,
	}
	if hv.Resources != nil {
		n.Resources = *hv.Resources
	}
	return n
}

func fromNode(n api.InventoryNode, prev *hostVars) *hostVars {
	hv := &hostVars{}
	if prev != nil {
		*hv = *prev
	}
	hv.AnsibleHost = n.IP
	hv.VMID = n.VMID
	hv.Location = n.Location
	hv.Deployed = n.DeployedAt
	hv.NodeType = n.NodeType
	hv.TailscaleName = n.TailscaleName
	res := n.Resources
	hv.Resources = &res
	return hv
}

// Add registers a new node. Hostname and VMID must both be unused.
func (s *Store) Add(n api.InventoryNode) error {
	if n.Hostname == "" {
		return fmt.Errorf("add node: empty hostname")
	}
	if n.NodeType == "" {
		n.NodeType = api.NodeTypeK3sWorker
	}
	if n.DeployedAt.IsZero() {
		n.DeployedAt = s.now().UTC()
	}
	return s.mutate(func(d *document) error {
		if _, hv := d.find(n.Hostname); hv != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, n.Hostname)
		}
		for _, other := range d.nodes() {
			if other.VMID == n.VMID {
				return fmt.Errorf("%w: %d is used by %s", ErrVMIDInUse, n.VMID, other.Hostname)
			}
		}
		hv := fromNode(n, nil)
		hv.InitialIP = n.IP
		d.put(GroupFor(n.NodeType), n.Hostname, hv)
		return nil
	})
}

// Get returns one node.
func (s *Store) Get(hostname string) (api.InventoryNode, error) {
	doc, err := s.load()
	if err != nil {
		return api.InventoryNode{}, err
	}
	g, hv := doc.find(hostname)
	if hv == nil {
		return api.InventoryNode{}, fmt.Errorf("%w: %s", ErrNotFound, hostname)
	}
	return toNode(g, hostname, hv), nil
}

// List returns nodes ordered by group then hostname.
func (s *Store) List(f Filter) ([]api.InventoryNode, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []api.InventoryNode
	for _, n := range doc.nodes() {
		if f.Location != "" && n.Location != f.Location {
			continue
		}
		if f.NodeType != "" && n.NodeType != f.NodeType {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Update applies fn to an existing node. The hostname cannot change; a
// changed node type moves the node to its new group.
func (s *Store) Update(hostname string, fn func(*api.InventoryNode) error) error {
	return s.mutate(func(d *document) error {
		g, hv := d.find(hostname)
		if hv == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, hostname)
		}
		n := toNode(g, hostname, hv)
		if err := fn(&n); err != nil {
			return err
		}
		n.Hostname = hostname
		for _, other := range d.nodes() {
			if other.Hostname != hostname && other.VMID == n.VMID {
				return fmt.Errorf("%w: %d is used by %s", ErrVMIDInUse, n.VMID, other.Hostname)
			}
		}
		updated := fromNode(n, hv)
		target := g
		if n.NodeType != hv.NodeType {
			target = GroupFor(n.NodeType)
		}
		delete(d.All.Children[g].Hosts, hostname)
		d.put(target, hostname, updated)
		return nil
	})
}

// Delete removes a node.
func (s *Store) Delete(hostname string) error {
	return s.mutate(func(d *document) error {
		g, hv := d.find(hostname)
		if hv == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, hostname)
		}
		delete(d.All.Children[g].Hosts, hostname)
		return nil
	})
}

// Locations returns the distinct locations in use, sorted.
func (s *Store) Locations() ([]string, error) {
	nodes, err := s.List(Filter{})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, n := range nodes {
		if n.Location != "" && !seen[n.Location] {
			seen[n.Location] = true
			out = append(out, n.Location)
		}
	}
	sort.Strings(out)
	return out, nil
}

// NextVMID returns the lowest VMID at or above from (and never below
// MinVMID) that no node in the inventory uses.
func (s *Store) NextVMID(from int) (int, error) {
	nodes, err := s.List(Filter{})
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		used[n.VMID] = true
	}
	vmid := max(from, MinVMID)
	for used[vmid] {
		vmid++
	}
	return vmid, nil
}
