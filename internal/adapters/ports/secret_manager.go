package ports

import (
	"context"
)

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string            // The secret value (signing key, base64 certificate store)
	Version   string            // Secret version identifier
	Metadata  map[string]string // Additional secret metadata
	CreatedAt string            // When this version was created
}

// SecretManagerAdapter defines the port for reading gateway credentials from a
// secret management service (local files, AWS Secrets Manager, Vault, GCP Secret Manager).
// Implementations authenticate with their backend and cache values with a TTL.
type SecretManagerAdapter interface {
	// GetSecret retrieves the latest version of a secret by its path/name
	// Path format depends on implementation:
	//   - Local: file path under the secrets root
	//   - AWS: secret name or ARN
	//   - GCP: secret id, resolved to projects/{project}/secrets/{id}/versions/latest
	//   - Vault: path under the KV mount
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
