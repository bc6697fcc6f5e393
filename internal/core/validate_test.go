package core

import (
	"errors"
	"testing"
)

func fields(err error) map[string]bool {
	out := map[string]bool{}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		var ve ValidationError
		if errors.As(err, &ve) {
			out[ve.Field] = true
		}
		return out
	}
	for _, e := range joined.Unwrap() {
		var ve ValidationError
		if errors.As(e, &ve) {
			out[ve.Field] = true
		}
	}
	return out
}

func TestValidateParamsValid(t *testing.T) {
	p := testParams()
	p.SSHPublicKey = ""
	if err := ValidateParams(p, []string{"brooklyn", "manhattan"}); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}
}

func TestValidateParamsReportsAll(t *testing.T) {
	p := testParams()
	p.SSHPublicKey = ""
	p.Hostname = "-bad-"
	p.VMID = 42
	p.IP = "192.168.50.10"
	p.DNS = []string{"8.8.8.8", "dns.google"}
	p.Cores = 0
	p.TailscaleKey = "tskey-short"
	p.NodeType = "k8s-worker"
	p.K3sMasterURL = "minikapserver:6443"
	p.Location = "queens"

	err := ValidateParams(p, []string{"brooklyn", "manhattan"})
	if err == nil {
		t.Fatal("expected validation errors")
	}
	got := fields(err)
	for _, f := range []string{"hostname", "vmid", "ip", "dns", "cores", "tailscale_key", "node_type", "k3s_master_url", "location"} {
		if !got[f] {
			t.Errorf("missing error for %s in %v", f, err)
		}
	}
	if got["gateway"] || got["memory_gb"] || got["disk_gb"] {
		t.Errorf("unexpected errors: %v", err)
	}
}

func TestValidateParamsLocationCaseInsensitive(t *testing.T) {
	p := testParams()
	p.SSHPublicKey = ""
	p.Location = "Brooklyn"
	if err := ValidateParams(p, []string{"brooklyn"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateParamsBadPublicKey(t *testing.T) {
	p := testParams()
	p.SSHPublicKey = "ssh-rsa notbase64"
	if !fields(ValidateParams(p, nil))["ssh_public_key"] {
		t.Fatal("expected ssh_public_key error")
	}
}
