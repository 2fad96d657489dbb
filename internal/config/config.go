package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

const envPrefix = "BATCHFLEET_"

// Modes select the gateway the server drives.
const (
	ModeAzure = "azure"
	ModeLocal = "local"
)

// Config holds all configuration for the batchfleet server and CLI.
type Config struct {
	Port       int
	APIKey     string
	Mode       string // "azure" or "local"
	LogLevel   string
	InstanceID string // Lease owner identity, defaults to the hostname

	// Azure Batch
	BatchEndpoint      string // e.g. "https://myaccount.westeurope.batch.azure.com"
	BatchAPIVersion    string
	ManagementEndpoint string
	SubscriptionID     string
	ResourceGroup      string
	AccountName        string
	Location           string // used by the size catalog

	// Stores and buses, all optional
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// Control loop
	ReconcileInterval  time.Duration
	ReconcileTimeout   time.Duration
	SteadyPollInterval time.Duration
	SteadyTimeout      time.Duration
	PoolTargets        string // "pool=nodes[:policy],..." used when no database is configured
	LeaseTTL           time.Duration

	// S3-compatible source for application package binaries
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool // true for MinIO/R2

	// Secret backends. Values fetched from either are applied only to env
	// vars that are not already set.
	SecretsARN  string
	KeyVaultURL string

	// SecretsLoaded counts env vars populated from secret backends.
	SecretsLoaded int
}

// Load reads configuration from environment variables with sensible defaults.
// Secrets from AWS Secrets Manager and Azure Key Vault are fetched first when
// configured; explicit env vars take precedence over both.
func Load() (*Config, error) {
	loaded := 0
	if arn := os.Getenv(envPrefix + "SECRETS_ARN"); arn != "" {
		n, err := loadSecretsManager(arn)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
		loaded += n
	}
	if vault := os.Getenv(envPrefix + "KEYVAULT_URL"); vault != "" {
		n, err := loadKeyVault(vault)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", vault, err)
		}
		loaded += n
	}

	hostname, _ := os.Hostname()
	cfg := &Config{
		Port:       8080,
		APIKey:     os.Getenv(envPrefix + "API_KEY"),
		Mode:       envOrDefault(envPrefix+"MODE", ModeLocal),
		LogLevel:   envOrDefault(envPrefix+"LOG_LEVEL", "info"),
		InstanceID: envOrDefault(envPrefix+"INSTANCE_ID", hostname),

		BatchEndpoint:      os.Getenv(envPrefix + "BATCH_ENDPOINT"),
		BatchAPIVersion:    envOrDefault(envPrefix+"BATCH_API_VERSION", "2024-07-01.20.0"),
		ManagementEndpoint: envOrDefault(envPrefix+"MANAGEMENT_ENDPOINT", "https://management.azure.com"),
		SubscriptionID:     os.Getenv(envPrefix + "SUBSCRIPTION_ID"),
		ResourceGroup:      os.Getenv(envPrefix + "RESOURCE_GROUP"),
		AccountName:        os.Getenv(envPrefix + "ACCOUNT_NAME"),
		Location:           os.Getenv(envPrefix + "LOCATION"),

		DatabaseURL: envOrDefault(envPrefix+"DATABASE_URL", os.Getenv("DATABASE_URL")),
		RedisURL:    os.Getenv(envPrefix + "REDIS_URL"),
		NATSURL:     os.Getenv(envPrefix + "NATS_URL"),

		PoolTargets: os.Getenv(envPrefix + "POOL_TARGETS"),

		S3Endpoint:        os.Getenv(envPrefix + "S3_ENDPOINT"),
		S3Bucket:          os.Getenv(envPrefix + "S3_BUCKET"),
		S3Region:          envOrDefault(envPrefix+"S3_REGION", "us-east-1"),
		S3AccessKeyID:     os.Getenv(envPrefix + "S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv(envPrefix + "S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:  os.Getenv(envPrefix+"S3_FORCE_PATH_STYLE") == "true",

		SecretsARN:    os.Getenv(envPrefix + "SECRETS_ARN"),
		KeyVaultURL:   os.Getenv(envPrefix + "KEYVAULT_URL"),
		SecretsLoaded: loaded,
	}

	if portStr := os.Getenv(envPrefix + "PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid %sPORT %q: %w", envPrefix, portStr, err)
		}
		cfg.Port = port
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"RECONCILE_INTERVAL", 30 * time.Second, &cfg.ReconcileInterval},
		{"RECONCILE_TIMEOUT", 2 * time.Minute, &cfg.ReconcileTimeout},
		{"STEADY_POLL_INTERVAL", time.Second, &cfg.SteadyPollInterval},
		{"STEADY_TIMEOUT", 5 * time.Minute, &cfg.SteadyTimeout},
		{"LEASE_TTL", time.Minute, &cfg.LeaseTTL},
	}
	for _, d := range durations {
		v, err := envOrDefaultDuration(envPrefix+d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
	case ModeAzure:
		if c.BatchEndpoint == "" {
			return fmt.Errorf("%sBATCH_ENDPOINT is required in %s mode", envPrefix, ModeAzure)
		}
	default:
		return fmt.Errorf("invalid %sMODE %q (want %s or %s)", envPrefix, c.Mode, ModeAzure, ModeLocal)
	}
	if c.SteadyPollInterval <= 0 || c.SteadyTimeout <= 0 {
		return fmt.Errorf("steady poll interval and timeout must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	return nil
}

// HasARMAccount reports whether the management-plane coordinates needed for
// application packages are set.
func (c *Config) HasARMAccount() bool {
	return c.SubscriptionID != "" && c.ResourceGroup != "" && c.AccountName != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

// applySecrets sets each value as an environment variable unless the
// variable is already set, and returns how many were applied.
func applySecrets(secrets map[string]string) int {
	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}
	return applied
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager whose
// keys are env var names. Uses the default AWS credential chain.
func loadSecretsManager(arn string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return 0, fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return 0, fmt.Errorf("GetSecretValue: %w", err)
	}
	if result.SecretString == nil {
		return 0, fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return 0, fmt.Errorf("parse secret JSON: %w", err)
	}
	return applySecrets(secrets), nil
}

// secretEnvKey maps a Key Vault secret name such as "batchfleet-api-key"
// to its env var. Vault names cannot contain underscores.
func secretEnvKey(name string) (string, bool) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if !strings.HasPrefix(key, envPrefix) || key == envPrefix {
		return "", false
	}
	return key, true
}

// loadKeyVault reads every "batchfleet-*" secret from an Azure Key Vault
// using the default Azure credential chain.
func loadKeyVault(vaultURL string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return 0, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return 0, fmt.Errorf("key vault client: %w", err)
	}

	secrets := make(map[string]string)
	pager := client.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list secrets: %w", err)
		}
		for _, props := range page.Value {
			if props == nil || props.ID == nil {
				continue
			}
			if props.Attributes != nil && props.Attributes.Enabled != nil && !*props.Attributes.Enabled {
				continue
			}
			name := props.ID.Name()
			key, ok := secretEnvKey(name)
			if !ok {
				continue
			}
			resp, err := client.GetSecret(ctx, name, "", nil)
			if err != nil {
				return 0, fmt.Errorf("get secret %s: %w", name, err)
			}
			if resp.Value != nil {
				secrets[key] = *resp.Value
			}
		}
	}
	return applySecrets(secrets), nil
}
