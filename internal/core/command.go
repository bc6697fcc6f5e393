package core

import (
	"strconv"
	"strings"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// RemoteScriptPath is where the deployment script is copied on the hypervisor.
const RemoteScriptPath = "/tmp/deploy-ubuntu-vm.sh"

const redacted = "'***'"

// BuildCommand renders the remote invocation of the deployment script.
// The flag order is fixed: identity, network, resources, storage disks,
// secrets and keys, location and type, cluster join, confirmation.
func BuildCommand(scriptPath string, p api.DeploymentParameters) string {
	return buildCommand(scriptPath, p, false)
}

// RedactedCommand is BuildCommand with the tailscale key and k3s token
// masked, for logs and the run journal.
func RedactedCommand(scriptPath string, p api.DeploymentParameters) string {
	return buildCommand(scriptPath, p, true)
}

func buildCommand(scriptPath string, p api.DeploymentParameters, redact bool) string {
	if scriptPath == "" {
		scriptPath = RemoteScriptPath
	}
	secret := func(v string) string {
		if redact {
			return redacted
		}
		return shellQuote(v)
	}

	parts := []string{"bash", scriptPath}
	flag := func(name, value string) { parts = append(parts, "--"+name, value) }

	flag("name", p.Hostname)
	flag("vmid", strconv.Itoa(p.VMID))
	flag("ip", p.IP)

	if p.Gateway != "" {
		flag("gateway", p.Gateway)
	}
	if len(p.DNS) > 0 {
		flag("dns", shellQuote(strings.Join(p.DNS, ",")))
	}

	if p.MemoryGB > 0 {
		flag("memory", strconv.Itoa(p.MemoryGB))
	}
	if p.Cores > 0 {
		flag("cores", strconv.Itoa(p.Cores))
	}
	if p.DiskGB > 0 {
		flag("disk-size", strconv.Itoa(p.DiskGB))
	}
	if p.Storage != "" {
		flag("storage", shellQuote(p.Storage))
	}

	if p.LonghornGB > 0 {
		flag("longhorn-size", strconv.Itoa(p.LonghornGB))
	}
	if p.BackupGB > 0 {
		flag("backup-size", strconv.Itoa(p.BackupGB))
	}

	if p.TailscaleKey != "" {
		flag("tailscale-key", secret(p.TailscaleKey))
	}
	if key := strings.TrimSpace(p.SSHPublicKey); key != "" {
		flag("ssh-pubkey", shellQuote(key))
	}

	if p.Location != "" {
		flag("location", shellQuote(p.Location))
	}
	if p.NodeType != "" {
		flag("node-type", p.NodeType)
	}

	if p.K3sMasterURL != "" {
		flag("k3s-master", shellQuote(p.K3sMasterURL))
	}
	if p.K3sToken != "" {
		flag("k3s-token", secret(p.K3sToken))
	}

	parts = append(parts, "--yes")
	return strings.Join(parts, " ")
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
