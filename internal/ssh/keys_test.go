package ssh

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateEd25519Keypair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv, "homelab-deployments")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(priv); err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if !strings.HasPrefix(pub, "ssh-ed25519 ") || !strings.HasSuffix(pub, " homelab-deployments") {
		t.Fatalf("unexpected public key %q", pub)
	}
	if _, err := LoadPrivateKeySigner(priv); err != nil {
		t.Fatalf("generated key does not parse: %v", err)
	}
	got, err := PublicKeyFor(priv)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if got != pub {
		t.Fatalf("PublicKeyFor = %q, want %q", got, pub)
	}
}

func TestPublicKeyForDerivesWithoutPubFile(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "homelab_ed25519")
	pub, err := GenerateEd25519Keypair(priv, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := os.Remove(priv + ".pub"); err != nil {
		t.Fatalf("remove pub: %v", err)
	}
	got, err := PublicKeyFor(priv)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if got != pub {
		t.Fatalf("derived %q, want %q", got, pub)
	}
}

func TestDetectPrivateKeyPriority(t *testing.T) {
	dir := t.TempDir()
	if _, err := DetectPrivateKey(dir); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := GenerateEd25519Keypair(filepath.Join(dir, "id_rsa"), ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "homelab_rsa"), []byte("not a key"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := GenerateEd25519Keypair(filepath.Join(dir, "homelab_ed25519"), ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	got, err := DetectPrivateKey(dir)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if filepath.Base(got) != "homelab_ed25519" {
		t.Fatalf("detected %s, want homelab_ed25519", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.ssh/homelab_rsa"); got != filepath.Join(home, ".ssh", "homelab_rsa") {
		t.Fatalf("ExpandHome = %s", got)
	}
	if got := ExpandHome("/etc/ssh"); got != "/etc/ssh" {
		t.Fatalf("absolute path changed: %s", got)
	}
}
