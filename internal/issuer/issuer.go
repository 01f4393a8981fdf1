// Package issuer performs the assume-role call that exchanges a role
// specification and source credentials for a time-limited credential set.
package issuer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"

	"credproxy/internal/config"
)

// Credentials is one issued credential set. ExpiresAt is taken verbatim
// from the issuer's response and never recomputed locally.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
}

// Client issues temporary credentials for a role specification using the
// given source credentials.
type Client interface {
	AssumeRole(ctx context.Context, role config.AssumedRole, source config.SourceCredentials) (Credentials, error)
}

// STSAssumeRoler is the slice of the STS API the client uses. Tests
// substitute a fake.
type STSAssumeRoler interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// STSClient implements Client against AWS STS. Source credentials select
// how the assume-role call itself authenticates: a named profile, a
// static key pair, or the SDK's ambient default resolution.
type STSClient struct {
	// newSTS builds the API client for a resolved AWS configuration.
	// Overridable for tests.
	newSTS func(aws.Config) STSAssumeRoler
}

var _ Client = (*STSClient)(nil)

// NewSTSClient creates the production issuer client.
func NewSTSClient() *STSClient {
	return &STSClient{
		newSTS: func(cfg aws.Config) STSAssumeRoler {
			return sts.NewFromConfig(cfg)
		},
	}
}

// NewSTSClientWith creates an issuer client with an injected STS
// constructor, for tests.
func NewSTSClientWith(newSTS func(aws.Config) STSAssumeRoler) *STSClient {
	return &STSClient{newSTS: newSTS}
}

// AssumeRole resolves source credentials, calls STS AssumeRole with every
// configured parameter, and returns the credential set with the exact
// expiry instant from the response.
func (c *STSClient) AssumeRole(ctx context.Context, role config.AssumedRole, source config.SourceCredentials) (Credentials, error) {
	awsCfg, err := c.loadConfig(ctx, source)
	if err != nil {
		return Credentials{}, fmt.Errorf("loading AWS config: %w", err)
	}

	out, err := c.newSTS(awsCfg).AssumeRole(ctx, buildInput(role))
	if err != nil {
		return Credentials{}, fmt.Errorf("assuming role %s: %w", role.RoleArn, err)
	}
	if out.Credentials == nil {
		return Credentials{}, fmt.Errorf("empty credentials in response for role %s", role.RoleArn)
	}

	return Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		ExpiresAt:       aws.ToTime(out.Credentials.Expiration),
	}, nil
}

func (c *STSClient) loadConfig(ctx context.Context, source config.SourceCredentials) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if source.Region != "" {
		opts = append(opts, awsconfig.WithRegion(source.Region))
	}

	switch {
	case source.IAMProfile != nil:
		opts = append(opts, awsconfig.WithSharedConfigProfile(source.IAMProfile.ProfileName))
		if source.IAMProfile.ConfigFile != "" {
			opts = append(opts, awsconfig.WithSharedConfigFiles([]string{source.IAMProfile.ConfigFile}))
		}
	case source.IAMKeys != nil:
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				source.IAMKeys.AccessKeyID,
				source.IAMKeys.SecretAccessKey,
				source.IAMKeys.SessionToken,
			)))
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// buildInput maps the role specification onto the API input, skipping
// unset optional parameters.
func buildInput(role config.AssumedRole) *sts.AssumeRoleInput {
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(role.RoleArn),
		RoleSessionName: aws.String(role.RoleSessionName),
		DurationSeconds: aws.Int32(role.DurationSeconds),
	}
	if role.ExternalID != "" {
		input.ExternalId = aws.String(role.ExternalID)
	}
	if role.Policy != "" {
		input.Policy = aws.String(role.Policy)
	}
	for _, p := range role.PolicyArns {
		input.PolicyArns = append(input.PolicyArns, ststypes.PolicyDescriptorType{
			Arn: aws.String(p.Arn),
		})
	}
	for _, tag := range role.Tags {
		input.Tags = append(input.Tags, ststypes.Tag{
			Key:   aws.String(tag.Key),
			Value: aws.String(tag.Value),
		})
	}
	if len(role.TransitiveTagKeys) > 0 {
		input.TransitiveTagKeys = role.TransitiveTagKeys
	}
	if role.SerialNumber != "" {
		input.SerialNumber = aws.String(role.SerialNumber)
	}
	if role.TokenCode != "" {
		input.TokenCode = aws.String(role.TokenCode)
	}
	if role.SourceIdentity != "" {
		input.SourceIdentity = aws.String(role.SourceIdentity)
	}
	return input
}
