package api

import (
	"net"
	"strconv"
	"time"
)

// Node types accepted by the deployment script.
const (
	NodeTypeK3sWorker = "k3s-worker"
	NodeTypeK3sMaster = "k3s-master"
	NodeTypeBackup    = "backup"
)

// DeploymentParameters describe one VM to provision. Zero LonghornGB or
// BackupGB disables that disk; empty optional strings omit their flag.
type DeploymentParameters struct {
	Hostname     string   `json:"hostname" yaml:"hostname"`
	VMID         int      `json:"vmid" yaml:"vmid"`
	IP           string   `json:"ip" yaml:"ip"`
	Gateway      string   `json:"gateway" yaml:"gateway"`
	DNS          []string `json:"dns" yaml:"dns"`
	Network      string   `json:"network,omitempty" yaml:"network,omitempty"`
	Cores        int      `json:"cores" yaml:"cores"`
	MemoryGB     int      `json:"memory_gb" yaml:"memory_gb"`
	DiskGB       int      `json:"disk_gb" yaml:"disk_gb"`
	Storage      string   `json:"storage,omitempty" yaml:"storage,omitempty"`
	LonghornGB   int      `json:"longhorn_gb" yaml:"longhorn_gb"`
	BackupGB     int      `json:"backup_gb" yaml:"backup_gb"`
	Location     string   `json:"location" yaml:"location"`
	NodeType     string   `json:"node_type" yaml:"node_type"`
	K3sMasterURL string   `json:"k3s_master_url,omitempty" yaml:"k3s_master_url,omitempty"`
	K3sToken     string   `json:"-" yaml:"-"`
	SSHPublicKey string   `json:"ssh_public_key,omitempty" yaml:"ssh_public_key,omitempty"`
	TailscaleKey string   `json:"-" yaml:"-"`
}

// Resources returns the sizing portion of the parameters as recorded in inventory.
func (p DeploymentParameters) Resources() Resources {
	return Resources{
		Cores:      p.Cores,
		RAMGB:      p.MemoryGB,
		DiskGB:     p.DiskGB,
		LonghornGB: p.LonghornGB,
		BackupGB:   p.BackupGB,
	}
}

// ConnectionTarget identifies the hypervisor host the script runs on.
// The private key is referenced by path and never embedded.
type ConnectionTarget struct {
	Host           string `json:"host" yaml:"host"`
	User           string `json:"user" yaml:"user"`
	PrivateKeyPath string `json:"private_key_path" yaml:"private_key_path"`
	Port           int    `json:"port" yaml:"port"`
}

// DefaultSSHPort is used when ConnectionTarget.Port is zero.
const DefaultSSHPort = 22

// Addr returns host:port, defaulting the port to 22.
func (t ConnectionTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Resources is the VM sizing stored with an inventory node.
type Resources struct {
	Cores      int `json:"cores" yaml:"cores"`
	RAMGB      int `json:"ram_gb" yaml:"ram_gb"`
	DiskGB     int `json:"disk_gb" yaml:"disk_gb"`
	LonghornGB int `json:"longhorn_gb" yaml:"longhorn_gb"`
	BackupGB   int `json:"backup_gb,omitempty" yaml:"backup_gb,omitempty"`
}

// InventoryNode is a provisioned VM. Hostname is the unique key.
type InventoryNode struct {
	Hostname      string    `json:"hostname"`
	IP            string    `json:"ip"`
	VMID          int       `json:"vmid"`
	Location      string    `json:"location"`
	NodeType      string    `json:"node_type"`
	DeployedAt    time.Time `json:"deployed_at"`
	Resources     Resources `json:"resources"`
	TailscaleName string    `json:"tailscale_name,omitempty"`
	Group         string    `json:"group,omitempty"`
}

// HistoryEntry is one successful deployment kept in the config history.
type HistoryEntry struct {
	Hostname   string    `json:"hostname" yaml:"hostname"`
	VMID       int       `json:"vmid" yaml:"vmid"`
	Location   string    `json:"location" yaml:"location"`
	IP         string    `json:"ip" yaml:"ip"`
	NodeType   string    `json:"node_type" yaml:"node_type"`
	DeployedAt time.Time `json:"deployed_at" yaml:"deployed_at"`
}

// CommandResult is the outcome of a blocking remote command.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// RunState is the orchestrator state a run ended in.
type RunState string

const (
	StateIdle            RunState = "idle"
	StateCopyingScript   RunState = "copying_script"
	StateBuildingCommand RunState = "building_command"
	StateExecuting       RunState = "executing"
	StateCompleted       RunState = "completed"
	StateAborted         RunState = "aborted"
)

// DeploymentOutcome is the terminal value of one orchestrator run.
type DeploymentOutcome struct {
	RunID        string        `json:"run_id"`
	Hostname     string        `json:"hostname"`
	VMID         int           `json:"vmid"`
	NodeType     string        `json:"node_type"`
	Succeeded    bool          `json:"succeeded"`
	State        RunState      `json:"state"`
	Events       []OutputEvent `json:"events"`
	FinalMessage string        `json:"final_message"`
	// Command is the redacted command line that was executed.
	Command string `json:"command,omitempty"`
	// ExitCode of the remote script, -1 when unknown. Informational only.
	ExitCode   int       `json:"exit_code"`
	Err        error     `json:"-"`
	Warnings   []error   `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration of the run.
func (o *DeploymentOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// ErrorEvents returns the events classified as errors, in order.
func (o *DeploymentOutcome) ErrorEvents() []OutputEvent {
	var out []OutputEvent
	for _, ev := range o.Events {
		if ev.Kind == KindError {
			out = append(out, ev)
		}
	}
	return out
}
