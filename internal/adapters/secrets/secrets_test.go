package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/googleapis/gax-go/v2"
	vault "github.com/hashicorp/vault/api"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeSecret(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLocalSecretManager_GetSecret(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "wxpay/key", "192006250b4c09247ec02edce69f6a2d\n")
	writeSecret(t, dir, "wxpay/key.json", `{"value":"abc","version":"3","tags":{"env":"dev"}}`)
	writeSecret(t, dir, "wxpay/empty", "  \n")

	store := NewLocalSecretManager(dir, zap.NewNop())
	ctx := context.Background()

	secret, err := store.GetSecret(ctx, "wxpay/key")
	require.NoError(t, err)
	assert.Equal(t, "192006250b4c09247ec02edce69f6a2d", secret.Value)
	assert.Equal(t, "v1", secret.Version)

	secret, err = store.GetSecret(ctx, "wxpay/key.json")
	require.NoError(t, err)
	assert.Equal(t, "abc", secret.Value)
	assert.Equal(t, "3", secret.Version)
	assert.Equal(t, "dev", secret.Metadata["env"])

	_, err = store.GetSecret(ctx, "wxpay/missing")
	assert.ErrorContains(t, err, "secret not found")

	_, err = store.GetSecret(ctx, "wxpay/empty")
	assert.ErrorContains(t, err, "empty secret value")
}

func TestLocalSecretManager_StaysUnderBasePath(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "secrets")
	writeSecret(t, root, "outside", "leaked")
	writeSecret(t, base, "outside", "inside")

	store := NewLocalSecretManager(base, zap.NewNop())
	secret, err := store.GetSecret(context.Background(), "../outside")
	require.NoError(t, err)
	assert.Equal(t, "inside", secret.Value)
}

func TestSecretCache_Expiry(t *testing.T) {
	cache := newSecretCache(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.set("k", nil)
	assert.Nil(t, cache.get("k"))

	secret := &ports.Secret{Value: "x"}
	cache.set("k", secret)
	assert.Same(t, secret, cache.get("k"))

	now = now.Add(2 * time.Minute)
	assert.Nil(t, cache.get("k"))

	disabled := newSecretCache(0)
	disabled.set("k", secret)
	assert.Nil(t, disabled.get("k"))
}

type fakeAWS struct {
	calls int
	out   *secretsmanager.GetSecretValueOutput
	err   error
}

func (f *fakeAWS) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	return f.out, f.err
}

func TestAWSAdapter_GetSecret(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	client := &fakeAWS{out: &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String("signing-key"),
		VersionId:    aws.String("v-7"),
		ARN:          aws.String("arn:aws:secretsmanager:ap-east-1:1:secret:wxpay"),
		Name:         aws.String("wxpay"),
		CreatedDate:  &created,
	}}
	adapter := newAWSAdapter(client, time.Minute, zap.NewNop())

	secret, err := adapter.GetSecret(context.Background(), "wxpay")
	require.NoError(t, err)
	assert.Equal(t, "signing-key", secret.Value)
	assert.Equal(t, "v-7", secret.Version)
	assert.Equal(t, "wxpay", secret.Metadata["name"])
	assert.Equal(t, "2024-03-01T08:00:00Z", secret.CreatedAt)

	_, err = adapter.GetSecret(context.Background(), "wxpay")
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls, "second read is served from cache")
}

func TestAWSAdapter_BinaryAndErrors(t *testing.T) {
	adapter := newAWSAdapter(&fakeAWS{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{0x30, 0x82}}}, 0, zap.NewNop())
	secret, err := adapter.GetSecret(context.Background(), "cert")
	require.NoError(t, err)
	assert.Equal(t, "MII=", secret.Value)

	adapter = newAWSAdapter(&fakeAWS{err: errors.New("access denied")}, 0, zap.NewNop())
	_, err = adapter.GetSecret(context.Background(), "cert")
	assert.ErrorContains(t, err, "access denied")

	adapter = newAWSAdapter(&fakeAWS{out: &secretsmanager.GetSecretValueOutput{}}, 0, zap.NewNop())
	_, err = adapter.GetSecret(context.Background(), "cert")
	assert.ErrorContains(t, err, "has no value")
}

type fakeVault struct {
	paths  []string
	secret *vault.Secret
}

func (f *fakeVault) ReadWithContext(_ context.Context, path string) (*vault.Secret, error) {
	f.paths = append(f.paths, path)
	return f.secret, nil
}

func TestVaultAdapter_KVv2(t *testing.T) {
	fake := &fakeVault{secret: &vault.Secret{Data: map[string]interface{}{
		"data": map[string]interface{}{"value": "signing-key"},
		"metadata": map[string]interface{}{
			"version":      json.Number("4"),
			"created_time": "2024-03-01T08:00:00Z",
		},
	}}}
	adapter := newVaultAdapter(fake, DefaultVaultConfig("https://vault.local"), zap.NewNop())

	secret, err := adapter.GetSecret(context.Background(), "cashier/wxpay")
	require.NoError(t, err)
	assert.Equal(t, "signing-key", secret.Value)
	assert.Equal(t, "4", secret.Version)
	assert.Equal(t, []string{"secret/data/cashier/wxpay"}, fake.paths)
}

func TestVaultAdapter_KVv1AndShapes(t *testing.T) {
	cfg := DefaultVaultConfig("https://vault.local")
	cfg.KVVersion = "v1"
	cfg.CacheTTL = 0

	fake := &fakeVault{secret: &vault.Secret{Data: map[string]interface{}{"key": "only-field"}}}
	adapter := newVaultAdapter(fake, cfg, zap.NewNop())

	secret, err := adapter.GetSecret(context.Background(), "cashier/wxpay")
	require.NoError(t, err)
	assert.Equal(t, "only-field", secret.Value)
	assert.Equal(t, []string{"secret/cashier/wxpay"}, fake.paths)

	fake.secret = &vault.Secret{Data: map[string]interface{}{"a": "1", "b": "2"}}
	_, err = adapter.GetSecret(context.Background(), "cashier/wxpay")
	assert.ErrorContains(t, err, "value")

	fake.secret = nil
	_, err = adapter.GetSecret(context.Background(), "cashier/wxpay")
	assert.ErrorContains(t, err, "secret not found")
}

type fakeGCP struct {
	names []string
	data  []byte
}

func (f *fakeGCP) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.names = append(f.names, req.GetName())
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    "projects/cashier/secrets/wxpay-key/versions/12",
		Payload: &secretmanagerpb.SecretPayload{Data: f.data},
	}, nil
}

func TestGCPSecretManager_GetSecret(t *testing.T) {
	fake := &fakeGCP{data: []byte("signing-key")}
	sm := newGCPSecretManager(fake, DefaultGCPSecretManagerConfig("cashier"), zap.NewNop())

	secret, err := sm.GetSecret(context.Background(), "wxpay-key")
	require.NoError(t, err)
	assert.Equal(t, "signing-key", secret.Value)
	assert.Equal(t, "12", secret.Version)
	assert.Equal(t, []string{"projects/cashier/secrets/wxpay-key/versions/latest"}, fake.names)
	assert.NoError(t, sm.Close())

	fake.data = []byte{0xff, 0xfe}
	sm = newGCPSecretManager(fake, &GCPSecretManagerConfig{ProjectID: "cashier"}, zap.NewNop())
	secret, err = sm.GetSecret(context.Background(), "wxpay-cert")
	require.NoError(t, err)
	assert.Equal(t, "//4=", secret.Value, "binary payloads are base64 encoded")
}

func TestVersionFromName(t *testing.T) {
	assert.Equal(t, "3", versionFromName("projects/p/secrets/s/versions/3"))
	assert.Equal(t, "unknown", versionFromName("projects/p/secrets/s/versions/"))
	assert.Equal(t, "unknown", versionFromName("bare"))
}
