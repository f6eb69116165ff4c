package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"github.com/kevin07696/cashier-settlement/internal/adapters/wxpay"
	"github.com/kevin07696/cashier-settlement/internal/config"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"go.uber.org/zap"
)

// New builds the secret store selected by cfg.Backend. GCP stores implement io.Closer.
func New(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	switch cfg.Backend {
	case "", "local":
		logger.Warn("Using local secret files - NOT for production use",
			zap.String("path", cfg.LocalPath),
		)
		return NewLocalSecretManager(cfg.LocalPath, logger), nil

	case "aws":
		awsCfg := DefaultAWSSecretsManagerConfig(cfg.AWSRegion)
		awsCfg.Profile = cfg.AWSProfile
		awsCfg.Endpoint = cfg.AWSEndpoint
		awsCfg.CacheTTL = cfg.CacheTTL
		return NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)

	case "vault":
		vaultCfg := DefaultVaultConfig(cfg.VaultAddress)
		vaultCfg.Token = cfg.VaultToken
		if cfg.VaultRoleID != "" {
			vaultCfg.AuthMethod = "approle"
			vaultCfg.RoleID = cfg.VaultRoleID
			vaultCfg.SecretID = cfg.VaultSecretID
		}
		vaultCfg.MountPath = cfg.VaultMountPath
		vaultCfg.KVVersion = cfg.VaultKVVersion
		vaultCfg.CacheTTL = cfg.CacheTTL
		return NewVaultAdapter(ctx, vaultCfg, logger)

	case "gcp":
		gcpCfg := DefaultGCPSecretManagerConfig(cfg.GCPProjectID)
		gcpCfg.CacheTTL = cfg.CacheTTL
		return NewGCPSecretManager(ctx, gcpCfg, logger)

	default:
		return nil, fmt.Errorf("unsupported secret manager backend: %s", cfg.Backend)
	}
}

// Close releases the store's client when it holds one
func Close(store ports.SecretManagerAdapter) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// LoadGatewayCredentials resolves the signing key and certificate store for the
// gateway. An inline key wins over a key secret path and a certificate file wins
// over a certificate secret path. Certificates kept in a secret store are base64.
// A missing certificate is only tolerated in sandbox mode or when CertOptional is
// set. Every failure is a configuration fault.
func LoadGatewayCredentials(ctx context.Context, store ports.SecretManagerAdapter, cfg config.GatewayConfig, logger *zap.Logger) (wxpay.Credentials, error) {
	signType, err := wxpay.ParseSignType(cfg.SignType)
	if err != nil {
		return wxpay.Credentials{}, domain.WrapError(domain.ErrorCodeConfigMissingCredentials, "invalid sign type", err)
	}

	creds := wxpay.Credentials{
		AppID:    cfg.AppID,
		MchID:    cfg.MchID,
		Key:      cfg.Key,
		SignType: signType,
	}

	if creds.Key == "" && cfg.KeySecret != "" {
		secret, err := store.GetSecret(ctx, cfg.KeySecret)
		if err != nil {
			return wxpay.Credentials{}, domain.WrapError(domain.ErrorCodeConfigMissingCredentials, "failed to load signing key", err)
		}
		creds.Key = strings.TrimSpace(secret.Value)
		logger.Info("Signing key loaded from secret store",
			zap.String("path", cfg.KeySecret),
			zap.String("version", secret.Version),
		)
	}

	switch {
	case cfg.CertFile != "":
		blob, err := os.ReadFile(cfg.CertFile)
		if err != nil {
			return wxpay.Credentials{}, domain.WrapError(domain.ErrorCodeConfigCertificateInvalid, "failed to read certificate file", err)
		}
		creds.Certificate = blob
	case cfg.CertSecret != "":
		secret, err := store.GetSecret(ctx, cfg.CertSecret)
		if err != nil {
			return wxpay.Credentials{}, domain.WrapError(domain.ErrorCodeConfigCertificateInvalid, "failed to load certificate", err)
		}
		blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret.Value))
		if err != nil {
			return wxpay.Credentials{}, domain.WrapError(domain.ErrorCodeConfigCertificateInvalid, "certificate secret is not base64", err)
		}
		creds.Certificate = blob
		logger.Info("Certificate store loaded from secret store",
			zap.String("path", cfg.CertSecret),
			zap.String("version", secret.Version),
		)
	case cfg.Sandbox || cfg.CertOptional:
		logger.Warn("Gateway client certificate not configured, certificate-bound operations are disabled",
			zap.Bool("sandbox", cfg.Sandbox),
		)
	default:
		return wxpay.Credentials{}, domain.NewDomainError(domain.ErrorCodeConfigCertificateInvalid,
			"client certificate is required: set WXPAY_CERT_FILE or WXPAY_CERT_SECRET")
	}

	if err := creds.Validate(); err != nil {
		return wxpay.Credentials{}, err
	}
	return creds, nil
}
