// Package creds resolves short-lived image-registry credentials for the
// Converter Runner's pull step, the way atc/creds resolves pipeline
// secrets: try Vault first when configured, otherwise fall back to AWS
// Secrets Manager / SSM.
package creds

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	vaultapi "github.com/hashicorp/vault/api"
)

// RegistryCredentials is the short-lived (user, password) pair the runner
// presents to the image registry before pulling.
type RegistryCredentials struct {
	Username string
	Password string
}

// VaultConfig is present only when the operator opts into Vault-backed
// secret injection (spec §6: "optional vault configuration for secret
// injection").
type VaultConfig struct {
	Address string `long:"vault-address"  description:"Vault server address"`
	Token   string `long:"vault-token"    description:"Vault token"`
	Path    string `long:"vault-registry-credentials-path" description:"Vault KV path holding {username,password} for the converter registry" default:"secret/data/arxiv-compiler/registry"`
}

// SecretsManagerConfig names the AWS Secrets Manager secret used when Vault
// is not configured.
type SecretsManagerConfig struct {
	SecretID string `long:"secretsmanager-registry-secret-id" description:"Secrets Manager secret id holding registry credentials JSON"`
}

// SSMConfig names the AWS SSM parameters used as a last resort.
type SSMConfig struct {
	UsernameParam string `long:"ssm-registry-username-param" description:"SSM parameter name holding the registry username"`
	PasswordParam string `long:"ssm-registry-password-param" description:"SSM parameter name holding the registry password"`
}

// Config aggregates the three credential sources. Managers are tried in
// order: Vault, Secrets Manager, SSM. An empty Config is valid — the
// Converter Runner then skips registry credential resolution.
type Config struct {
	Vault          VaultConfig
	SecretsManager SecretsManagerConfig
	SSM            SSMConfig
}

// Provider resolves RegistryCredentials on demand; it never caches beyond
// the lifetime of a single pull, since the spec calls the pair short-lived.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Enabled reports whether any credential source is configured.
func (p *Provider) Enabled() bool {
	return p.cfg.Vault.Address != "" || p.cfg.SecretsManager.SecretID != "" ||
		(p.cfg.SSM.UsernameParam != "" && p.cfg.SSM.PasswordParam != "")
}

// Resolve fetches registry credentials from the first configured source.
func (p *Provider) Resolve(ctx context.Context) (RegistryCredentials, error) {
	if p.cfg.Vault.Address != "" {
		return p.fromVault()
	}
	if p.cfg.SecretsManager.SecretID != "" {
		return p.fromSecretsManager(ctx)
	}
	if p.cfg.SSM.UsernameParam != "" && p.cfg.SSM.PasswordParam != "" {
		return p.fromSSM(ctx)
	}
	return RegistryCredentials{}, fmt.Errorf("creds: no registry credential source configured")
}

func (p *Provider) fromVault() (RegistryCredentials, error) {
	client, err := vaultapi.NewClient(&vaultapi.Config{Address: p.cfg.Vault.Address})
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: building vault client: %w", err)
	}
	client.SetToken(p.cfg.Vault.Token)

	secret, err := client.Logical().Read(p.cfg.Vault.Path)
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: reading vault secret %s: %w", p.cfg.Vault.Path, err)
	}
	if secret == nil || secret.Data == nil {
		return RegistryCredentials{}, fmt.Errorf("creds: vault secret %s not found", p.cfg.Vault.Path)
	}

	data := secret.Data
	if inner, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = inner
	}

	username, _ := data["username"].(string)
	password, _ := data["password"].(string)
	if username == "" || password == "" {
		return RegistryCredentials{}, fmt.Errorf("creds: vault secret %s missing username/password", p.cfg.Vault.Path)
	}
	return RegistryCredentials{Username: username, Password: password}, nil
}

func (p *Provider) fromSecretsManager(ctx context.Context) (RegistryCredentials, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: loading aws config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg)

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &p.cfg.SecretsManager.SecretID,
	})
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: reading secret %s: %w", p.cfg.SecretsManager.SecretID, err)
	}
	if out.SecretString == nil {
		return RegistryCredentials{}, fmt.Errorf("creds: secret %s has no string value", p.cfg.SecretsManager.SecretID)
	}

	return parseCredentialsJSON(*out.SecretString)
}

func (p *Provider) fromSSM(ctx context.Context) (RegistryCredentials, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: loading aws config: %w", err)
	}
	client := ssm.NewFromConfig(awsCfg)
	decrypt := true

	userOut, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: &p.cfg.SSM.UsernameParam, WithDecryption: &decrypt,
	})
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: reading ssm param %s: %w", p.cfg.SSM.UsernameParam, err)
	}
	passOut, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: &p.cfg.SSM.PasswordParam, WithDecryption: &decrypt,
	})
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: reading ssm param %s: %w", p.cfg.SSM.PasswordParam, err)
	}

	return RegistryCredentials{
		Username: *userOut.Parameter.Value,
		Password: *passOut.Parameter.Value,
	}, nil
}

func parseCredentialsJSON(raw string) (RegistryCredentials, error) {
	var creds RegistryCredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return RegistryCredentials{}, fmt.Errorf("creds: decoding secret value: %w", err)
	}
	if creds.Username == "" || creds.Password == "" {
		return RegistryCredentials{}, fmt.Errorf("creds: secret value missing username/password")
	}
	return creds, nil
}
