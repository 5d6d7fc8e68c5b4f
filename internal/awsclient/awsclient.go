package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/securityhub"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"

	"github.com/dev-tams/cloudsweep/internal/config"
)

// Load resolves an aws.Config from the AWS section of the CLI config. Static keys
// win over the profile; with neither, the SDK default chain applies.
func Load(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKey != "" || c.SecretKey != "" {
		if c.AccessKey == "" || c.SecretKey == "" {
			return aws.Config{}, fmt.Errorf("aws.access_key and aws.secret_key must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, c.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// Clients holds one SDK client per service the jobs touch. Constructing them is
// cheap; none opens a connection until first use.
type Clients struct {
	S3             *s3.Client
	CloudFormation *cloudformation.Client
	SecretsManager *secretsmanager.Client
	DynamoDB       *dynamodb.Client
	WAFv2          *wafv2.Client
	ConfigService  *configservice.Client
	SecurityHub    *securityhub.Client
}

func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		S3:             s3.NewFromConfig(cfg),
		CloudFormation: cloudformation.NewFromConfig(cfg),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
		DynamoDB:       dynamodb.NewFromConfig(cfg),
		WAFv2:          wafv2.NewFromConfig(cfg),
		ConfigService:  configservice.NewFromConfig(cfg),
		SecurityHub:    securityhub.NewFromConfig(cfg),
	}
}
