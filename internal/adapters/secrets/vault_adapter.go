package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"go.uber.org/zap"
)

// VaultConfig configures the HashiCorp Vault backend. AuthMethod is "token"
// or "approle"; KVVersion is "v1" or "v2".
type VaultConfig struct {
	Address    string
	Namespace  string
	AuthMethod string
	Token      string
	RoleID     string
	SecretID   string
	MountPath  string
	KVVersion  string
	CacheTTL   time.Duration
}

// DefaultVaultConfig returns token auth against a KV v2 mount at "secret"
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:    address,
		AuthMethod: "token",
		MountPath:  "secret",
		KVVersion:  "v2",
		CacheTTL:   5 * time.Minute,
	}
}

// logicalReader is the part of the Vault logical client used for reads
type logicalReader interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

type vaultAdapter struct {
	logical logicalReader
	mount   string
	kvV2    bool
	logger  *zap.Logger
	cache   *secretCache
}

// NewVaultAdapter logs in to Vault and returns a KV-backed secret store
func NewVaultAdapter(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	token, err := vaultLogin(ctx, client, cfg)
	if err != nil {
		return nil, fmt.Errorf("vault %s login: %w", cfg.AuthMethod, err)
	}
	client.SetToken(token)

	logger.Info("Vault secret backend ready",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount", cfg.MountPath),
	)
	return newVaultAdapter(client.Logical(), cfg, logger), nil
}

func newVaultAdapter(logical logicalReader, cfg *VaultConfig, logger *zap.Logger) *vaultAdapter {
	return &vaultAdapter{
		logical: logical,
		mount:   cfg.MountPath,
		kvV2:    cfg.KVVersion == "v2",
		logger:  logger,
		cache:   newSecretCache(cfg.CacheTTL),
	}
}

// vaultLogin returns the client token for the configured auth method
func vaultLogin(ctx context.Context, client *vault.Client, cfg *VaultConfig) (string, error) {
	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return "", fmt.Errorf("VAULT_TOKEN is empty")
		}
		return cfg.Token, nil
	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return "", fmt.Errorf("role id and secret id are both required")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return "", err
		}
		if resp == nil || resp.Auth == nil {
			return "", fmt.Errorf("login response carried no token")
		}
		return resp.Auth.ClientToken, nil
	default:
		return "", fmt.Errorf("unsupported auth method %q", cfg.AuthMethod)
	}
}

// kvPath maps a secret name onto the mount, adding the data/ segment KV v2 reads need
func (a *vaultAdapter) kvPath(name string) string {
	if a.kvV2 {
		return path.Join(a.mount, "data", name)
	}
	return path.Join(a.mount, name)
}

// GetSecret reads name from the KV mount. The value is the "value" field, or
// the only string field when the secret holds exactly one.
func (a *vaultAdapter) GetSecret(ctx context.Context, name string) (*ports.Secret, error) {
	if cached := a.cache.get(name); cached != nil {
		return cached, nil
	}

	full := a.kvPath(name)
	raw, err := a.logical.ReadWithContext(ctx, full)
	if err != nil {
		a.logger.Error("Vault read failed", zap.String("path", full), zap.Error(err))
		return nil, fmt.Errorf("vault read %s: %w", name, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("secret not found: %s", name)
	}

	secret := &ports.Secret{Version: "1", Metadata: map[string]string{"path": full}}
	fields := raw.Data
	if a.kvV2 {
		if fields, err = unwrapKVv2(raw.Data, secret); err != nil {
			return nil, fmt.Errorf("secret %s: %w", name, err)
		}
	}

	if secret.Value, err = singleValue(fields); err != nil {
		return nil, fmt.Errorf("secret %s: %w", name, err)
	}
	a.logger.Debug("Secret read from Vault", zap.String("path", full), zap.String("version", secret.Version))

	a.cache.set(name, secret)
	return secret, nil
}

// unwrapKVv2 returns the inner data map and copies version metadata onto secret
func unwrapKVv2(data map[string]interface{}, secret *ports.Secret) (map[string]interface{}, error) {
	inner, ok := data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("KV v2 response has no data map")
	}
	if meta, ok := data["metadata"].(map[string]interface{}); ok {
		if v, ok := meta["version"].(json.Number); ok {
			secret.Version = v.String()
		}
		if created, ok := meta["created_time"].(string); ok {
			secret.CreatedAt = created
		}
	}
	return inner, nil
}

func singleValue(fields map[string]interface{}) (string, error) {
	if v, ok := fields["value"].(string); ok && v != "" {
		return v, nil
	}

	var only string
	count := 0
	for _, v := range fields {
		if s, ok := v.(string); ok {
			only = s
			count++
		}
	}
	if count != 1 {
		return "", fmt.Errorf("expected a \"value\" field or exactly one string field")
	}
	return only, nil
}
