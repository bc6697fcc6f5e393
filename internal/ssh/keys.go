package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xssh "golang.org/x/crypto/ssh"
)

// ErrNoKey is returned when no usable private key is found.
var ErrNoKey = errors.New("no ssh private key found")

// KeyPriority is the order in which keys under ~/.ssh are tried.
var KeyPriority = []string{
	"homelab_rsa",
	"homelab_ed25519",
	"id_ed25519",
	"id_rsa",
}

// GenerateEd25519Keypair creates an ed25519 keypair in OpenSSH format, writing
// the private key to privateKeyPath and the public key to privateKeyPath.pub.
func GenerateEd25519Keypair(privateKeyPath, comment string) (publicAuthorized string, err error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	signer, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		return "", fmt.Errorf("signer: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return "", fmt.Errorf("mkdir key dir: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}

	pub := strings.TrimSpace(string(xssh.MarshalAuthorizedKey(signer.PublicKey())))
	if comment != "" {
		pub += " " + comment
	}
	if err := os.WriteFile(privateKeyPath+".pub", []byte(pub+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write public key: %w", err)
	}
	return pub, nil
}

// LoadPrivateKeySigner reads an OpenSSH/PEM private key file and returns an ssh.Signer.
func LoadPrivateKeySigner(privateKeyPath string) (xssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// DetectPrivateKey returns the first key from KeyPriority present in sshDir
// that looks like a private key.
func DetectPrivateKey(sshDir string) (string, error) {
	for _, name := range KeyPriority {
		p := filepath.Join(sshDir, name)
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if strings.Contains(string(data), "PRIVATE KEY") {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoKey, sshDir)
}

// PublicKeyFor returns the authorized_keys line for a private key, preferring
// the .pub sibling and falling back to deriving it from the private key.
func PublicKeyFor(privateKeyPath string) (string, error) {
	if data, err := os.ReadFile(privateKeyPath + ".pub"); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	signer, err := LoadPrivateKeySigner(privateKeyPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(xssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
