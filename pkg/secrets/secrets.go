// Package secrets resolves named secrets from Vault KV, AWS Secrets Manager
// or the process environment, in that order.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
)

var (
	ErrNotFound            = errors.New("secret not found")
	ErrProviderUnavailable = errors.New("no secret provider available")
)

type Provider interface {
	Name() string
	GetSecret(ctx context.Context, key string) (string, error)
}

// Chain asks each provider in turn and returns the first non-empty value.
// With requirePrimary set, a failing first provider is final.
type Chain struct {
	providers      []Provider
	requirePrimary bool
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// FromEnv assembles the chain from VAULT_ADDR, AWS_REGION and the
// environment fallback. Unreachable remote providers are skipped.
func FromEnv(ctx context.Context) (*Chain, error) {
	c := &Chain{requirePrimary: strings.ToLower(os.Getenv("SECRETS_REQUIRE_PRIMARY")) == "true"}
	if os.Getenv("VAULT_ADDR") != "" {
		vp, err := newVaultProvider(ctx)
		if err != nil && c.requirePrimary {
			return nil, fmt.Errorf("vault unavailable (SECRETS_REQUIRE_PRIMARY=true): %w", err)
		}
		if err == nil {
			c.providers = append(c.providers, vp)
		}
	}
	if os.Getenv("AWS_REGION") != "" {
		ap, err := newAWSProvider(ctx)
		if err == nil {
			c.providers = append(c.providers, ap)
		}
	}
	if c.requirePrimary && len(c.providers) == 0 {
		return nil, fmt.Errorf("SECRETS_REQUIRE_PRIMARY=true but no primary provider available (checked Vault, AWS)")
	}
	if !c.requirePrimary {
		c.providers = append(c.providers, envProvider{})
	}
	return c, nil
}
func (c *Chain) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if len(c.providers) == 0 {
		return "", ErrProviderUnavailable
	}
	var errs []error
	for i, p := range c.providers {
		val, err := p.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if err == nil {
			err = ErrNotFound
		}
		if i == 0 && c.requirePrimary {
			return "", fmt.Errorf("primary provider %s failed (SECRETS_REQUIRE_PRIMARY=true): %w", p.Name(), err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return "", errors.Join(errs...)
}
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	return &vaultProvider{
		client:     client,
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/ctrlv"),
	}, nil
}
func (v *vaultProvider) Name() string { return "vault" }

// GetSecret reads a KV v2 entry and returns its "value" field.
func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	path := fmt.Sprintf("%s/%s", v.secretPath, key)
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}

type awsProvider struct {
	sm     *secretsmanager.Client
	prefix string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(os.Getenv("AWS_REGION")),
	)
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		sm:     secretsmanager.NewFromConfig(cfg),
		prefix: getEnvOrDefault("AWS_SECRET_PREFIX", "ctrlv/"),
	}, nil
}
func (a *awsProvider) Name() string { return "aws-secretsmanager" }
func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	id := a.prefix + key
	result, err := a.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &id,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}

// envProvider maps "ip-hash-pepper" to CTRLV_SECRET_IP_HASH_PEPPER.
type envProvider struct{}

func (envProvider) Name() string { return "env" }
func (envProvider) GetSecret(ctx context.Context, key string) (string, error) {
	name := "CTRLV_SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(key))
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}
func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
