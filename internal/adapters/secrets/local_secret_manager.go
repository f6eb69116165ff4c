package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"go.uber.org/zap"
)

// fileSecretStore reads secrets from files below a root directory. Local
// development only.
type fileSecretStore struct {
	root   string
	logger *zap.Logger
}

// NewLocalSecretManager returns a secret store rooted at basePath. Names can
// never resolve outside the root.
func NewLocalSecretManager(basePath string, logger *zap.Logger) ports.SecretManagerAdapter {
	return &fileSecretStore{root: basePath, logger: logger}
}

// fileEnvelope is the optional JSON form of a secret file
type fileEnvelope struct {
	Value     string            `json:"value"`
	Version   string            `json:"version"`
	Tags      map[string]string `json:"tags"`
	CreatedAt string            `json:"created_at"`
}

// GetSecret reads name as either a raw value or a fileEnvelope document
func (s *fileSecretStore) GetSecret(_ context.Context, name string) (*ports.Secret, error) {
	file := filepath.Join(s.root, filepath.Clean("/"+name))
	s.logger.Debug("Reading secret file", zap.String("name", name))

	raw, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("secret not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	return parseSecretFile(name, raw)
}

func parseSecretFile(name string, raw []byte) (*ports.Secret, error) {
	var env fileEnvelope
	if json.Unmarshal(raw, &env) == nil && env.Value != "" {
		if env.Version == "" {
			env.Version = "v1"
		}
		return &ports.Secret{Value: env.Value, Version: env.Version, Metadata: env.Tags, CreatedAt: env.CreatedAt}, nil
	}

	value := strings.TrimSpace(string(raw))
	if value == "" {
		return nil, fmt.Errorf("empty secret value in %s", name)
	}
	return &ports.Secret{Value: value, Version: "v1"}, nil
}
