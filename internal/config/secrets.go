package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretFetcher is the subset of the Secrets Manager client used by ApplySecrets.
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretFetcher builds a Secrets Manager client from the default AWS credential chain.
func NewSecretFetcher(ctx context.Context) (SecretFetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: aws: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// ApplySecrets fetches the JSON secret named by AWSSecretID and overrides the matching
// sensitive fields. Unknown keys are ignored. Returns the number of fields applied.
// A no-op when AWSSecretID is empty.
func (c *Config) ApplySecrets(ctx context.Context, sm SecretFetcher) (int, error) {
	if c.AWSSecretID == "" {
		return 0, nil
	}
	if sm == nil {
		return 0, errors.New("config: AWS_SECRET_ID set but no secrets client")
	}
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(c.AWSSecretID),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return 0, fmt.Errorf("config: fetch secret %s: %w", c.AWSSecretID, err)
	}

	var payload string
	switch {
	case out.SecretString != nil:
		payload = *out.SecretString
	case len(out.SecretBinary) > 0:
		payload = string(out.SecretBinary)
	default:
		return 0, fmt.Errorf("config: secret %s has no payload", c.AWSSecretID)
	}

	var kv map[string]any
	if err := json.Unmarshal([]byte(payload), &kv); err != nil {
		return 0, fmt.Errorf("config: secret %s is not a JSON object: %w", c.AWSSecretID, err)
	}

	fields := c.secretFields()
	applied := 0
	for key, val := range kv {
		dst, ok := fields[key]
		if !ok {
			continue
		}
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		*dst = s
		applied++
	}
	return applied, c.Validate()
}

func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"DATABASE_URL":        &c.DatabaseURL,
		"JWT_SECRET":          &c.JWTSecret,
		"JWT_PRIVATE_KEY":     &c.JWTPrivateKey,
		"JWT_PUBLIC_KEY":      &c.JWTPublicKey,
		"REFRESH_HASH_KEY":    &c.RefreshHashKey,
		"GATEWAY_PUBLIC_KEY":  &c.GatewayPublicKey,
		"GATEWAY_PRIVATE_KEY": &c.GatewayPrivateKey,
		"GATEWAY_CUSTOMER_ID": &c.GatewayCustomerID,
		"GATEWAY_WEBHOOK_KEY": &c.GatewayWebhookKey,
		"REDIS_URL":           &c.RedisURL,
	}
}
