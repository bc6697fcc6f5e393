package core

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// ValidationError describes one invalid deployment parameter.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%s: %s", e.Field, e.Value, e.Message)
}

var (
	hostnamePattern = regexp.MustCompile(`(?i)^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	urlPattern      = regexp.MustCompile(`^https?://[^\s/:]+(:\d+)?(/\S*)?$`)
)

// ValidateParams checks a parameter set before it is handed to the
// orchestrator. All problems are reported together via errors.Join. When
// locations is non-empty the location must be one of them.
func ValidateParams(p api.DeploymentParameters, locations []string) error {
	var errs []error
	add := func(field, value, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	switch {
	case p.Hostname == "":
		add("hostname", "", "hostname cannot be empty")
	case len(p.Hostname) > 63:
		add("hostname", p.Hostname, "hostname must be 63 characters or less")
	case !hostnamePattern.MatchString(p.Hostname):
		add("hostname", p.Hostname, "must contain only letters, numbers and hyphens and start and end with a letter or digit")
	}

	if p.VMID < 100 || p.VMID > 999 {
		add("vmid", strconv.Itoa(p.VMID), "must be between 100 and 999")
	}

	ip := parseIPv4(p.IP)
	if ip == nil {
		add("ip", p.IP, "invalid IPv4 address")
	}
	gw := parseIPv4(p.Gateway)
	if gw == nil {
		add("gateway", p.Gateway, "invalid IPv4 address")
	}
	if p.Network != "" {
		_, network, err := net.ParseCIDR(p.Network)
		switch {
		case err != nil:
			add("network", p.Network, "invalid CIDR")
		default:
			if ip != nil && !network.Contains(ip) {
				add("ip", p.IP, "not in network "+p.Network)
			}
			if gw != nil && !network.Contains(gw) {
				add("gateway", p.Gateway, "not in network "+p.Network)
			}
		}
	}
	if len(p.DNS) == 0 {
		add("dns", "", "at least one DNS server is required")
	}
	for _, s := range p.DNS {
		if parseIPv4(s) == nil {
			add("dns", s, "invalid IPv4 address")
		}
	}

	if p.Cores < 1 || p.Cores > 64 {
		add("cores", strconv.Itoa(p.Cores), "must be between 1 and 64")
	}
	if p.MemoryGB < 1 || p.MemoryGB > 512 {
		add("memory_gb", strconv.Itoa(p.MemoryGB), "must be between 1 and 512")
	}
	if p.DiskGB < 10 || p.DiskGB > 10000 {
		add("disk_gb", strconv.Itoa(p.DiskGB), "must be between 10 and 10000")
	}
	if p.LonghornGB < 0 {
		add("longhorn_gb", strconv.Itoa(p.LonghornGB), "must not be negative")
	}
	if p.BackupGB < 0 {
		add("backup_gb", strconv.Itoa(p.BackupGB), "must not be negative")
	}

	if p.TailscaleKey != "" {
		if !strings.HasPrefix(p.TailscaleKey, "tskey-auth-") && !strings.HasPrefix(p.TailscaleKey, "tskey-api-") {
			add("tailscale_key", "***", "must start with tskey-auth- or tskey-api-")
		} else if len(p.TailscaleKey) < 40 {
			add("tailscale_key", "***", "key appears too short")
		}
	}
	if p.SSHPublicKey != "" {
		if _, _, _, _, err := xssh.ParseAuthorizedKey([]byte(p.SSHPublicKey)); err != nil {
			add("ssh_public_key", truncate(p.SSHPublicKey, 24), "not a valid public key")
		}
	}

	switch p.NodeType {
	case api.NodeTypeK3sWorker, api.NodeTypeK3sMaster, api.NodeTypeBackup:
	default:
		add("node_type", p.NodeType, "must be one of k3s-worker, k3s-master, backup")
	}
	if p.K3sMasterURL != "" && !urlPattern.MatchString(p.K3sMasterURL) {
		add("k3s_master_url", p.K3sMasterURL, "expected an http:// or https:// URL")
	}

	if p.Location == "" {
		add("location", "", "location cannot be empty")
	} else if len(locations) > 0 && !containsFold(locations, p.Location) {
		add("location", p.Location, "must be one of "+strings.Join(locations, ", "))
	}

	return errors.Join(errs...)
}

func parseIPv4(s string) net.IP {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil
	}
	return ip.To4()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
