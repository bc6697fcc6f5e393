package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

// KeyringService is the service name secrets are stored under.
const KeyringService = "kapnode"

// Secret names, shared by the environment, secrets.env and the keyring.
const (
	SecretTailscaleKey = "TAILSCALE_AUTH_KEY"
	SecretK3sToken     = "K3S_TOKEN"
)

// Secrets resolves secrets from the process environment, then a dotenv
// file, then the OS keyring.
type Secrets struct {
	envFile string
}

// NewSecrets reads the dotenv file at envFile when present.
func NewSecrets(envFile string) *Secrets {
	return &Secrets{envFile: envFile}
}

// Get returns the secret or "" when no source has it.
func (s *Secrets) Get(name string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if s.envFile != "" {
		vals, err := godotenv.Read(s.envFile)
		if err == nil && vals[name] != "" {
			return vals[name]
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.envFile).Msg("Failed to read secrets file")
		}
	}
	v, err := keyring.Get(KeyringService, name)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			log.Debug().Err(err).Str("secret", name).Msg("Keyring lookup failed")
		}
		return ""
	}
	return v
}

// Store saves a secret in the OS keyring.
func (s *Secrets) Store(name, value string) error {
	return keyring.Set(KeyringService, name, value)
}
