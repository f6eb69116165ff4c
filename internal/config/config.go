package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Gateway     GatewayConfig
	Polling     PollingConfig
	Statement   StatementConfig
	Secrets     SecretsConfig
	Logger      LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
	CronSecret  string  // shared secret expected in X-Cron-Secret
	RateLimit   float64 // dispatcher requests per second per client
	RateBurst   int
}

// DatabaseConfig holds ledger database configuration
type DatabaseConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Path     string // sqlite file
	MaxConns int
	MinConns int
	Migrate  bool
}

// GatewayConfig holds the WeChat Pay channel configuration
type GatewayConfig struct {
	AppID      string
	MchID      string
	SubMchID   string // service-provider mode only
	Key        string // signing key, inline
	KeySecret  string // or a secret store path holding it
	CertFile   string // PKCS#12 file
	CertSecret string // or a secret store path holding it base64 encoded
	SignType   string
	Sandbox    bool

	// CertOptional starts without a client certificate; refund and reverse
	// then fail with a configuration fault
	CertOptional bool

	PrimaryDomain   string
	AlternateDomain string
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	PosBudget       time.Duration
	NotifyURL       string
	ChannelCode     string
}

// PollingConfig holds the settlement polling budget
type PollingConfig struct {
	Attempts int
	Interval time.Duration
	Workers  int
}

// StatementConfig holds statement ingestion configuration
type StatementConfig struct {
	KeyColumn    int
	StatusColumn int
	AmountColumn int
	TimeColumn   int
	HeaderRows   int
	FooterRows   int
	ArchiveDir   string
	BillType     string
	URLTemplate  string // when set, statements are downloaded from here instead of the channel
}

// SecretsConfig selects and configures the credential store
type SecretsConfig struct {
	Backend  string // local, aws, vault or gcp
	CacheTTL time.Duration

	LocalPath string

	AWSRegion   string
	AWSProfile  string
	AWSEndpoint string

	VaultAddress   string
	VaultToken     string
	VaultRoleID    string
	VaultSecretID  string
	VaultMountPath string
	VaultKVVersion string

	GCPProjectID string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
			CronSecret:  getEnv("CRON_SECRET", ""),
			RateLimit:   getEnvAsFloat("RATE_LIMIT_RPS", 50),
			RateBurst:   getEnvAsInt("RATE_LIMIT_BURST", 100),
		},
		Database: DatabaseFromEnv(),
		Gateway: GatewayConfig{
			AppID:           getEnv("WXPAY_APP_ID", ""),
			MchID:           getEnv("WXPAY_MCH_ID", ""),
			SubMchID:        getEnv("WXPAY_SUB_MCH_ID", ""),
			Key:             getEnv("WXPAY_KEY", ""),
			KeySecret:       getEnv("WXPAY_KEY_SECRET", ""),
			CertFile:        getEnv("WXPAY_CERT_FILE", ""),
			CertSecret:      getEnv("WXPAY_CERT_SECRET", ""),
			CertOptional:    getEnvAsBool("WXPAY_CERT_OPTIONAL", false),
			SignType:        getEnv("WXPAY_SIGN_TYPE", "HMAC-SHA256"),
			Sandbox:         getEnvAsBool("WXPAY_SANDBOX", false),
			PrimaryDomain:   getEnv("WXPAY_PRIMARY_DOMAIN", "api.mch.weixin.qq.com"),
			AlternateDomain: getEnv("WXPAY_ALTERNATE_DOMAIN", "api2.mch.weixin.qq.com"),
			ConnectTimeout:  getEnvAsDuration("WXPAY_CONNECT_TIMEOUT", 8*time.Second),
			ReadTimeout:     getEnvAsDuration("WXPAY_READ_TIMEOUT", 10*time.Second),
			PosBudget:       getEnvAsDuration("WXPAY_POS_BUDGET", 60*time.Second),
			NotifyURL:       getEnv("WXPAY_NOTIFY_URL", ""),
			ChannelCode:     getEnv("WXPAY_CHANNEL_CODE", "wxpay"),
		},
		Polling: PollingConfig{
			Attempts: getEnvAsInt("POLL_ATTEMPTS", 10),
			Interval: getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			Workers:  getEnvAsInt("POLL_WORKERS", 5),
		},
		Statement: StatementConfig{
			KeyColumn:    getEnvAsInt("STATEMENT_KEY_COLUMN", 6),
			StatusColumn: getEnvAsInt("STATEMENT_STATUS_COLUMN", 9),
			AmountColumn: getEnvAsInt("STATEMENT_AMOUNT_COLUMN", 12),
			TimeColumn:   getEnvAsInt("STATEMENT_TIME_COLUMN", 0),
			HeaderRows:   getEnvAsInt("STATEMENT_HEADER_ROWS", 1),
			FooterRows:   getEnvAsInt("STATEMENT_FOOTER_ROWS", 2),
			ArchiveDir:   getEnv("STATEMENT_ARCHIVE_DIR", ""),
			BillType:     getEnv("STATEMENT_BILL_TYPE", "ALL"),
			URLTemplate:  getEnv("STATEMENT_URL_TEMPLATE", ""),
		},
		Secrets: SecretsConfig{
			Backend:        getEnv("SECRET_MANAGER", "local"),
			CacheTTL:       getEnvAsDuration("SECRET_CACHE_TTL", 5*time.Minute),
			LocalPath:      getEnv("SECRETS_PATH", "./secrets"),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			AWSProfile:     getEnv("AWS_PROFILE", ""),
			AWSEndpoint:    getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress:   getEnv("VAULT_ADDR", ""),
			VaultToken:     getEnv("VAULT_TOKEN", ""),
			VaultRoleID:    getEnv("VAULT_ROLE_ID", ""),
			VaultSecretID:  getEnv("VAULT_SECRET_ID", ""),
			VaultMountPath: getEnv("VAULT_MOUNT_PATH", "secret"),
			VaultKVVersion: getEnv("VAULT_KV_VERSION", "v2"),
			GCPProjectID:   getEnv("GCP_PROJECT_ID", ""),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabaseFromEnv reads only the DB_* variables. The migrate command uses it
// without requiring gateway settings.
func DatabaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "postgres"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "cashier"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		Path:     getEnv("DB_PATH", "cashier.db"),
		MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
		MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		Migrate:  getEnvAsBool("DB_AUTO_MIGRATE", false),
	}
}

// Validate checks required fields and enumerations
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.Database.Driver)
	}

	if c.Gateway.AppID == "" {
		return fmt.Errorf("WXPAY_APP_ID is required")
	}
	if c.Gateway.MchID == "" {
		return fmt.Errorf("WXPAY_MCH_ID is required")
	}
	if c.Gateway.Key == "" && c.Gateway.KeySecret == "" {
		return fmt.Errorf("WXPAY_KEY or WXPAY_KEY_SECRET is required")
	}
	if c.Gateway.PrimaryDomain == "" {
		return fmt.Errorf("WXPAY_PRIMARY_DOMAIN is required")
	}
	if c.Gateway.PosBudget <= c.Gateway.ConnectTimeout {
		return fmt.Errorf("WXPAY_POS_BUDGET must exceed WXPAY_CONNECT_TIMEOUT")
	}

	if c.Polling.Attempts < 1 {
		return fmt.Errorf("POLL_ATTEMPTS must be at least 1")
	}
	if c.Polling.Workers < 1 {
		return fmt.Errorf("POLL_WORKERS must be at least 1")
	}

	switch c.Secrets.Backend {
	case "local":
	case "aws":
		if c.Secrets.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when SECRET_MANAGER=aws")
		}
	case "vault":
		if c.Secrets.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required when SECRET_MANAGER=vault")
		}
	case "gcp":
		if c.Secrets.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when SECRET_MANAGER=gcp")
		}
	default:
		return fmt.Errorf("unsupported SECRET_MANAGER: %s", c.Secrets.Backend)
	}

	return nil
}

// IsProduction reports whether the process runs with production logging
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DSN returns the connection string for the configured driver
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return "file:" + c.Path
	}
	return c.ConnectionString()
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("5s") or bare milliseconds ("5000")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
