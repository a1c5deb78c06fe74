// Package secrets resolves encrypted configuration values once per cold
// start, either by decrypting them with AWS KMS or by reading a JSON map
// from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

const (
	SourceNone           = ""
	SourceKMS            = "kms"
	SourceSecretsManager = "secretsmanager"
)

// contextKey is the KMS encryption context key Lambda console encryption
// helpers use.
const contextKey = "LambdaFunctionName"

type Decrypter interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type SecretGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type Resolver struct {
	kms          Decrypter
	sm           SecretGetter
	functionName string
	logger       *slog.Logger
}

// NewResolver builds AWS clients from the default credential chain.
func NewResolver(ctx context.Context, region string, logger *slog.Logger) (*Resolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewResolverWithClients(kms.NewFromConfig(cfg), secretsmanager.NewFromConfig(cfg),
		os.Getenv("AWS_LAMBDA_FUNCTION_NAME"), logger), nil
}

func NewResolverWithClients(kmsClient Decrypter, smClient SecretGetter, functionName string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{kms: kmsClient, sm: smClient, functionName: functionName, logger: logger}
}

// Apply resolves fields according to source. Fields are keyed by the
// environment variable name they were read from.
func (r *Resolver) Apply(ctx context.Context, source, secretID string, fields map[string]*string) error {
	switch source {
	case SourceNone:
		return nil
	case SourceKMS:
		return r.Decrypt(ctx, fields)
	case SourceSecretsManager:
		return r.Fill(ctx, secretID, fields)
	default:
		return fmt.Errorf("unknown secrets source %q", source)
	}
}

// Decrypt replaces every non-empty field with its KMS plaintext. Values
// are base64 ciphertext bound to the Lambda function name.
func (r *Resolver) Decrypt(ctx context.Context, fields map[string]*string) error {
	for _, name := range sortedNames(fields) {
		field := fields[name]
		if *field == "" {
			continue
		}
		blob, err := base64.StdEncoding.DecodeString(*field)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", name, err)
		}

		in := &kms.DecryptInput{CiphertextBlob: blob}
		if r.functionName != "" {
			in.EncryptionContext = map[string]string{contextKey: r.functionName}
		}
		out, err := r.kms.Decrypt(ctx, in)
		if err != nil {
			return fmt.Errorf("decrypting %s: %w", name, err)
		}
		*field = string(out.Plaintext)
	}
	r.logger.Debug("Decrypted configuration", "fields", len(fields))
	return nil
}

// Fill reads a JSON object secret and sets the fields that are still
// empty. Explicit configuration wins over the secret.
func (r *Resolver) Fill(ctx context.Context, secretID string, fields map[string]*string) error {
	if secretID == "" {
		return fmt.Errorf("secrets.secret_id is required for the secretsmanager source")
	}
	out, err := r.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return fmt.Errorf("fetching secret: %w", err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", secretID)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return fmt.Errorf("parsing secret %s: %w", secretID, err)
	}

	filled := 0
	for name, field := range fields {
		if *field != "" {
			continue
		}
		if v, ok := values[name]; ok {
			*field = v
			filled++
		}
	}
	r.logger.Debug("Loaded configuration from secret", "secret_id", secretID, "filled", filled)
	return nil
}

func sortedNames(fields map[string]*string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
