// Package creds resolves the encryption password from a credentials
// document kept in a file or in AWS Secrets Manager.
package creds

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/TheMichaelB/secretsync/internal/models"
)

// Credentials is the JSON credentials document:
//
//	{
//	  "password": "fallback for every repository",
//	  "repositories": {
//	    "git@github.com:team/secrets.git": "per-repository password",
//	    "git@github.com:team/other.git": {"password": "nested form"}
//	  }
//	}
type Credentials struct {
	Password     string          `json:"password"`
	Repositories json.RawMessage `json:"repositories,omitempty"`
}

// ParseCredentials parses JSON bytes into Credentials.
func ParseCredentials(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &models.Error{
			Kind:    models.KindValidation,
			Op:      "parse credentials",
			Message: "invalid credentials document",
			Err:     err,
		}
	}
	return &c, nil
}

// LoadFromFile loads Credentials from a local file path.
func LoadFromFile(path string) (*Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewFileSystemError("read credentials", path, err)
	}
	return ParseCredentials(b)
}

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadFromSecret loads Credentials from Secrets Manager by name or ARN,
// using the default AWS credential chain. An empty region defers to it too.
func LoadFromSecret(ctx context.Context, secretID, region string) (*Credentials, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, models.NewFileSystemError("load aws config", secretID, err)
	}
	return LoadFromSecretAPI(ctx, secretsmanager.NewFromConfig(cfg), secretID)
}

// LoadFromSecretAPI is LoadFromSecret with an explicit client.
func LoadFromSecretAPI(ctx context.Context, api SecretsAPI, secretID string) (*Credentials, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		return nil, models.NewFileSystemError("get secret value", secretID, err)
	}
	if out.SecretString == nil {
		return nil, models.NewValidationError("get secret value", secretID, "secret has no string payload")
	}
	return ParseCredentials([]byte(*out.SecretString))
}

// PasswordFor returns the password for a repository URL, falling back to
// the default password. Supports nested or flat repository maps.
func (c *Credentials) PasswordFor(repoURL string) string {
	if pw := c.repositoryPassword(strings.TrimSpace(repoURL)); pw != "" {
		return pw
	}
	return c.Password
}

func (c *Credentials) repositoryPassword(repoURL string) string {
	if len(c.Repositories) == 0 || repoURL == "" {
		return ""
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(c.Repositories, &entries); err != nil {
		return ""
	}
	raw, ok := entries[repoURL]
	if !ok {
		return ""
	}

	// flat format
	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat
	}
	// nested format
	var nested struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return nested.Password
	}
	return ""
}
