package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"time"
	"unicode/utf8"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"go.uber.org/zap"
)

// GCPSecretManagerConfig configures the Google Secret Manager backend.
// Credentials come from the application default chain.
type GCPSecretManagerConfig struct {
	ProjectID string
	CacheTTL  time.Duration
}

// DefaultGCPSecretManagerConfig returns the project with a five minute cache
func DefaultGCPSecretManagerConfig(projectID string) *GCPSecretManagerConfig {
	return &GCPSecretManagerConfig{ProjectID: projectID, CacheTTL: 5 * time.Minute}
}

type versionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// GCPSecretManager reads the latest version of each secret. It holds a gRPC
// connection, so callers Close it on shutdown.
type GCPSecretManager struct {
	client  versionAccessor
	close   func() error
	project string
	logger  *zap.Logger
	cache   *secretCache
}

// NewGCPSecretManager dials Secret Manager for cfg.ProjectID
func NewGCPSecretManager(ctx context.Context, cfg *GCPSecretManagerConfig, logger *zap.Logger) (*GCPSecretManager, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP project ID is required")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret manager client: %w", err)
	}

	logger.Info("GCP Secret Manager backend ready", zap.String("project_id", cfg.ProjectID))
	sm := newGCPSecretManager(client, cfg, logger)
	sm.close = client.Close
	return sm, nil
}

func newGCPSecretManager(client versionAccessor, cfg *GCPSecretManagerConfig, logger *zap.Logger) *GCPSecretManager {
	return &GCPSecretManager{
		client:  client,
		close:   func() error { return nil },
		project: cfg.ProjectID,
		logger:  logger,
		cache:   newSecretCache(cfg.CacheTTL),
	}
}

// Close releases the client connection
func (sm *GCPSecretManager) Close() error {
	return sm.close()
}

// GetSecret resolves name to projects/{project}/secrets/{name}/versions/latest.
// Payloads that are not UTF-8 come back base64 encoded.
func (sm *GCPSecretManager) GetSecret(ctx context.Context, name string) (*ports.Secret, error) {
	if cached := sm.cache.get(name); cached != nil {
		return cached, nil
	}

	resource := path.Join("projects", sm.project, "secrets", name, "versions", "latest")
	resp, err := sm.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		sm.logger.Error("Secret Manager access failed", zap.String("resource", resource), zap.Error(err))
		return nil, fmt.Errorf("secret %s: %w", name, err)
	}

	payload := resp.GetPayload().GetData()
	if len(payload) == 0 {
		return nil, fmt.Errorf("secret %s has no value", name)
	}

	secret := &ports.Secret{
		Value:    string(payload),
		Version:  versionFromName(resp.GetName()),
		Metadata: map[string]string{"gcp_project_id": sm.project, "gcp_secret": name},
	}
	if !utf8.Valid(payload) {
		secret.Value = base64.StdEncoding.EncodeToString(payload)
	}
	sm.logger.Debug("Secret read from Secret Manager", zap.String("name", name), zap.String("version", secret.Version))

	sm.cache.set(name, secret)
	return secret, nil
}

// versionFromName returns {v} from projects/{p}/secrets/{s}/versions/{v}
func versionFromName(resource string) string {
	if v := path.Base(resource); v != "." && v != "/" && v != "versions" && v != resource {
		return v
	}
	return "unknown"
}
