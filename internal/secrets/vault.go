package secrets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// vaultKeys maps field names stored in Vault to config keys
var vaultKeys = map[string]string{
	"xero_client_secret":  "xero.client_secret",
	"encryption_password": "encryption.password",
	"database_password":   "database.password",
}

// VaultClient reads service secrets from HashiCorp Vault
type VaultClient struct {
	client *api.Client
	logger *zap.Logger
}

// NewVaultClient creates a new Vault client
func NewVaultClient(addr, token string, logger *zap.Logger) (*VaultClient, error) {
	config := &api.Config{
		Address: addr,
		HttpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultClient{client: client, logger: logger}, nil
}

// GetSecret returns the string fields of the secret at path. KV version 2
// responses nest the fields under "data"; both layouts are accepted.
func (v *VaultClient) GetSecret(ctx context.Context, path string) (map[string]string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret data found at %s", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	values := make(map[string]string, len(data))
	for key, value := range data {
		if s, ok := value.(string); ok {
			values[key] = s
		}
	}
	return values, nil
}

// LoadConfigSecrets reads the secret at path and returns the values keyed the
// way config.ApplySecrets expects.
func (v *VaultClient) LoadConfigSecrets(ctx context.Context, path string) (map[string]string, error) {
	raw, err := v.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}

	secrets := make(map[string]string)
	for vaultKey, configKey := range vaultKeys {
		if value, ok := raw[vaultKey]; ok && value != "" {
			secrets[configKey] = value
		}
	}

	v.logger.Info("Loaded secrets from Vault",
		zap.String("path", path),
		zap.Int("count", len(secrets)))
	return secrets, nil
}

// HealthCheck checks if Vault is accessible
func (v *VaultClient) HealthCheck(ctx context.Context) error {
	if _, err := v.client.Sys().HealthWithContext(ctx); err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	return nil
}
