package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"thruster/src/lib"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func GetSecretsClient() (*secretsmanager.Client, error) {
	cfg, err := lib.AWSConfig()
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(*cfg), nil
}

// LoadSecrets reads a JSON object secret into a flat key/value map.
func LoadSecrets(ctx context.Context, c SecretsAPI, secretID string) (map[string]string, error) {
	out, err := c.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", secretID, err)
	}
	values := map[string]string{}
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &values); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	return values, nil
}
