package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain.
	KeyringService = "RepoSage"

	// KeyringGraphPasswordItem is the key for the graph backend password.
	KeyringGraphPasswordItem = "graph-password"

	// KeyringGitHubTokenItem is the key for the platform API token.
	KeyringGitHubTokenItem = "github-token"
)

// KeyringManager handles secure credential storage in the OS keychain.
// Used by the admin CLI so operators don't keep graph passwords in .env.
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager.
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveGraphPassword stores the graph password in the OS keychain.
func (km *KeyringManager) SaveGraphPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if err := keyring.Set(KeyringService, KeyringGraphPasswordItem, password); err != nil {
		km.logger.Error("failed to save graph password to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.Info("graph password saved to keychain", "service", KeyringService)
	return nil
}

// GetGraphPassword retrieves the graph password. Not-found is not an
// error; callers fall back to GRAPH_PASSWORD.
func (km *KeyringManager) GetGraphPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringGraphPasswordItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return password, nil
}

// DeleteGraphPassword removes the stored graph password. Idempotent.
func (km *KeyringManager) DeleteGraphPassword() error {
	err := keyring.Delete(KeyringService, KeyringGraphPasswordItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}

// SaveGitHubToken stores the platform token in the OS keychain.
func (km *KeyringManager) SaveGitHubToken(token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := keyring.Set(KeyringService, KeyringGitHubTokenItem, token); err != nil {
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	return nil
}

// GetGitHubToken retrieves the platform token; not-found returns "".
func (km *KeyringManager) GetGitHubToken() (string, error) {
	token, err := keyring.Get(KeyringService, KeyringGitHubTokenItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return token, nil
}
