package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsResolver reads secrets from AWS Secrets Manager:
//
//	awssm:///name                      default region
//	awssm://us-west-2/prod/openai      explicit region
//	awssm://us-west-2/prod/openai?key=api_key&role_arn=arn:aws:iam::123456789012:role/reader
//
// key selects a field of a JSON secret; role_arn assumes a role first.
type AWSSecretsResolver struct {
	// Region and RoleARN apply to references that do not name their own.
	Region  string
	RoleARN string

	// NewClient builds a client for region and roleARN (either may be
	// empty). Override for testing.
	NewClient func(ctx context.Context, region, roleARN string) (SecretsManagerAPI, error)
}

// Scheme returns "awssm".
func (r *AWSSecretsResolver) Scheme() string {
	return "awssm"
}

type awsReference struct {
	region  string
	name    string
	key     string
	roleARN string
}

func parseAWSReference(ref string) (*awsReference, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	if u.Scheme != "awssm" {
		return nil, &InvalidReferenceError{Reference: ref, Reason: "expected awssm:// scheme"}
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return nil, &InvalidReferenceError{Reference: ref, Reason: "secret name is required"}
	}
	q := u.Query()
	return &awsReference{
		region:  u.Host,
		name:    name,
		key:     q.Get("key"),
		roleARN: q.Get("role_arn"),
	}, nil
}

// Resolve fetches the secret value.
func (r *AWSSecretsResolver) Resolve(ctx context.Context, reference string) (string, error) {
	ref, err := parseAWSReference(reference)
	if err != nil {
		return "", err
	}

	newClient := r.NewClient
	if newClient == nil {
		newClient = defaultSecretsClient
	}
	region, roleARN := ref.region, ref.roleARN
	if region == "" {
		region = r.Region
	}
	if roleARN == "" {
		roleARN = r.RoleARN
	}
	client, err := newClient(ctx, region, roleARN)
	if err != nil {
		return "", &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    err.Error(),
			Fix:       "Configure AWS credentials (aws configure, AWS_PROFILE or instance role).",
			Err:       err,
		}
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref.name)})
	if err != nil {
		return "", classifyAWSError(err, reference)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	}
	if ref.key == "" {
		return strings.TrimSpace(value), nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", &InvalidReferenceError{Reference: reference, Reason: "key given but secret is not a JSON object"}
	}
	field, ok := fields[ref.key]
	if !ok {
		return "", &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}
	if s, ok := field.(string); ok {
		return s, nil
	}
	return fmt.Sprint(field), nil
}

func classifyAWSError(err error, reference string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}
	var decrypt *types.DecryptionFailure
	if errors.As(err, &decrypt) {
		return &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "secret cannot be decrypted",
			Fix:       "Grant kms:Decrypt on the secret's KMS key to the calling identity.",
			Err:       err,
		}
	}
	return &BackendError{Backend: "AWS Secrets Manager", Reference: reference, Reason: err.Error(), Err: err}
}

func defaultSecretsClient(ctx context.Context, region, roleARN string) (SecretsManagerAPI, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if roleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "authprofiles"
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}
