package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"go.uber.org/zap"
)

// AWSSecretsManagerConfig configures the AWS Secrets Manager backend.
// Profile is for local runs; Endpoint points at LocalStack in integration setups.
type AWSSecretsManagerConfig struct {
	Region   string
	Profile  string
	Endpoint string
	CacheTTL time.Duration
}

// DefaultAWSSecretsManagerConfig returns the region with a five minute cache
func DefaultAWSSecretsManagerConfig(region string) *AWSSecretsManagerConfig {
	return &AWSSecretsManagerConfig{Region: region, CacheTTL: 5 * time.Minute}
}

// secretValueGetter is the Secrets Manager call the adapter needs
type secretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type awsSecretsManagerAdapter struct {
	client secretValueGetter
	logger *zap.Logger
	cache  *secretCache
}

// NewAWSSecretsManagerAdapter loads the default AWS credential chain for the region
func NewAWSSecretsManagerAdapter(ctx context.Context, cfg *AWSSecretsManagerConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("AWS Secrets Manager backend ready", zap.String("region", cfg.Region))
	return newAWSAdapter(client, cfg.CacheTTL, logger), nil
}

func newAWSAdapter(client secretValueGetter, ttl time.Duration, logger *zap.Logger) *awsSecretsManagerAdapter {
	return &awsSecretsManagerAdapter{client: client, logger: logger, cache: newSecretCache(ttl)}
}

// GetSecret reads the current version of a secret name or ARN
func (a *awsSecretsManagerAdapter) GetSecret(ctx context.Context, name string) (*ports.Secret, error) {
	if cached := a.cache.get(name); cached != nil {
		return cached, nil
	}

	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		a.logger.Error("Secrets Manager read failed", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}

	secret, err := fromSecretValue(out)
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", name, err)
	}
	a.logger.Debug("Secret read from Secrets Manager", zap.String("name", name), zap.String("version", secret.Version))

	a.cache.set(name, secret)
	return secret, nil
}

// fromSecretValue converts a response; binary payloads come back base64 encoded,
// the same form certificate stores use as string secrets
func fromSecretValue(out *secretsmanager.GetSecretValueOutput) (*ports.Secret, error) {
	value := aws.ToString(out.SecretString)
	if out.SecretString == nil && len(out.SecretBinary) > 0 {
		value = base64.StdEncoding.EncodeToString(out.SecretBinary)
	}
	if value == "" {
		return nil, fmt.Errorf("has no value")
	}

	secret := &ports.Secret{
		Value:    value,
		Version:  aws.ToString(out.VersionId),
		Metadata: map[string]string{},
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = out.CreatedDate.UTC().Format(time.RFC3339)
	}
	if out.ARN != nil {
		secret.Metadata["arn"] = *out.ARN
	}
	if out.Name != nil {
		secret.Metadata["name"] = *out.Name
	}
	return secret, nil
}
